package cmd

import (
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/finsight/pkg/config"
	"github.com/killallgit/finsight/pkg/devbackend"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local development backend",
	Long: `Run a self-contained backend that answers from a built-in sample of 10-K
sections. It serves the same API as the production backend, so the other
commands can be pointed at it with --backend-url http://<addr>/api.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		server, err := devbackend.New(ctx, cfg.DevServer, reg)
		if err != nil {
			return err
		}
		return server.ListenAndServe(ctx, cfg.DevServer.Addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8000)")
	viper.BindPFlag("devserver.addr", serveCmd.Flags().Lookup("addr"))

	serveCmd.Flags().Duration("token-delay", 0, "pause between streamed tokens")
	viper.BindPFlag("devserver.token_delay", serveCmd.Flags().Lookup("token-delay"))

	serveCmd.Flags().String("embedder", "", "retrieval embedder: hash or ollama")
	viper.BindPFlag("devserver.embedder", serveCmd.Flags().Lookup("embedder"))

	rootCmd.AddCommand(serveCmd)
}
