package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/killallgit/finsight/pkg/backend"
	"github.com/killallgit/finsight/pkg/config"
	"github.com/killallgit/finsight/pkg/logger"
	"github.com/killallgit/finsight/pkg/stream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "finsight",
	Short: "Ask questions about SEC 10-K filings",
	Long: `finsight is a terminal client for a filing question-answering backend.
Answers stream in token by token and cite the filing sections they draw on.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", userMessage(err))
		os.Exit(1)
	}
}

// userMessage prefers the backend's own explanation of a failure
func userMessage(err error) string {
	var m stream.Messager
	if errors.As(err, &m) {
		return m.UserMessage()
	}
	return err.Error()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.finsight/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("backend-url", "", "backend API base URL")
	viper.BindPFlag("backend.url", rootCmd.PersistentFlags().Lookup("backend-url"))

	rootCmd.PersistentFlags().StringP("ticker", "t", "", "company ticker to analyse")
	viper.BindPFlag("ticker", rootCmd.PersistentFlags().Lookup("ticker"))
}

// initConfig loads settings and starts logging before any subcommand runs
func initConfig(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(cfgFile); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if used := config.GetConfigFileUsed(); used != "" {
		logger.Debug("Using config file: %s", used)
	}
	return nil
}

func newClient(cfg *config.Config) *backend.Client {
	return backend.NewClientWithTimeout(cfg.Backend.URL, cfg.Backend.Timeout)
}

func newCatalog(cfg *config.Config, client *backend.Client) *backend.Catalog {
	return backend.NewCatalog(client, backend.FallbackFromConfig(cfg.Tickers))
}
