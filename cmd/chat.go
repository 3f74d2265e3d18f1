package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/killallgit/finsight/pkg/backend"
	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/citation"
	"github.com/killallgit/finsight/pkg/config"
	"github.com/killallgit/finsight/pkg/logger"
	"github.com/killallgit/finsight/pkg/metrics"
	"github.com/killallgit/finsight/pkg/render"
	"github.com/killallgit/finsight/pkg/stream"
	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const historyFileName = "chat_history"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation about a company's filing",
	Long: `Start an interactive conversation. Answers stream in as they are generated
and list the filing sections they cite. Press Ctrl+C while an answer streams
to stop it; type /help for commands.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	viper.BindPFlag("metrics.addr", chatCmd.Flags().Lookup("metrics-addr"))

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	log := logger.WithComponent("chat_cmd")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reg := prometheus.NewRegistry()
	client := newClient(cfg)
	store := chat.NewStore(cfg.Ticker)
	orch := stream.NewOrchestrator(store, client, stream.WithMetrics(metrics.NewStream(reg)))
	highlighter := citation.NewHighlighter(store, citation.WithDuration(cfg.Citation.HighlightDuration))
	monitor := backend.NewHealthMonitor(client, cfg.Health.Interval, cfg.Health.Timeout)
	r := render.New(os.Stdout, 0)

	sess := newSession(store, orch, newCatalog(cfg, client), highlighter, monitor, r, os.Stdout)
	defer sess.close()

	monitor.OnChange(func(connected bool) {
		if !connected {
			fmt.Fprintln(os.Stderr, r.Warning("Backend unreachable at "+client.BaseURL()))
		}
	})
	// One synchronous probe so the first prompt already knows connectivity.
	monitor.Check(ctx)

	// Ctrl+C outside the prompt stops the answer in flight.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sigs:
				if orch.Cancel() {
					log.Debug("turn cancelled by interrupt")
				}
			}
		}
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	if addr := cfg.Metrics.Addr; addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, addr, reg)
		})
	}
	g.Go(func() error {
		defer cancel()
		return repl(gctx, sess, r)
	})

	return g.Wait()
}

func repl(ctx context.Context, sess *session, r *render.Renderer) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := config.BuildSettingsPath(historyFileName)
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer saveHistory(line, historyFile)

	fmt.Println(r.Status(sess.store.Ticker(), sess.orch.State(), sess.health.Connected()))
	fmt.Println(r.Notice("Ask a question about the filing, or type /help."))

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt(sess.store.Ticker() + "> ")
		if err != nil {
			// Ctrl+C at the prompt (liner.ErrPromptAborted) and Ctrl+D both end the session.
			fmt.Println()
			return nil
		}

		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if sess.handle(ctx, input) {
			return nil
		}
	}
}

func saveHistory(line *liner.State, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := config.WriteFileLocked(ctx, path, 0600, func(f *os.File) error {
		_, err := line.WriteHistory(f)
		return err
	})
	if err != nil {
		logger.WithComponent("chat_cmd").Warn("failed to save prompt history", "path", path, "error", err)
	}
}

// serveMetrics exposes reg on addr until ctx ends
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.WithComponent("metrics").Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
