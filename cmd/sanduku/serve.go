package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/toolserver"
)

var (
	serveConfigPath  string
	serveMode        string
	serveAllowUnsafe bool
	serveVerbose     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sandbox as an MCP tool server over stdio",
	Long: `Expose execute_shell, classify_command, and sandbox_status as MCP tools
over stdin/stdout. One sandbox session spans the whole connection, so
the workspace and environment persist between tool calls.

The server is non-interactive: commands the classifier does not
auto-approve are refused unless --allow-unsafe is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "config file path (or SANDUKU_CONFIG env)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "sandbox mode: auto, container, or subprocess (overrides config)")
	serveCmd.Flags().BoolVar(&serveAllowUnsafe, "allow-unsafe", false, "run confirm-classified commands without approval")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "debug logging")
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger(serveVerbose)

	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	sess, err := sc.newSession(context.Background(), resolveMode(serveMode, cfg))
	if err != nil {
		return err
	}

	// Metrics endpoint, when enabled.
	if m := sc.Obs.MetricsOrNil(); m != nil {
		mcfg := cfg.Observability.Metrics
		mux := http.NewServeMux()
		mux.Handle(mcfg.MetricsPath(), promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

		srv := &http.Server{
			Addr:              mcfg.Addr(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("addr", mcfg.Addr()))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		sc.addCleanup(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	server := toolserver.New(toolserver.Options{
		Session:     sess,
		AllowUnsafe: serveAllowUnsafe,
		Audit:       sc.Audit,
		History:     sc.History,
		Metrics:     sc.Obs.MetricsOrNil(),
		Logger:      logger,
	})

	// Blocks until the MCP client disconnects.
	return server.ServeStdio()
}
