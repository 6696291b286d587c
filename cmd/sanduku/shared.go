package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/sanduku/internal/approval"
	"github.com/jkaninda/sanduku/internal/audit"
	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/history"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/workspace"
)

// SharedComponents holds all initialized subsystems the commands share.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Obs       *observability.Observability
	Audit     *audit.Logger
	History   *history.Store // nil = history disabled.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order. It is
// idempotent: commands call it explicitly before os.Exit, and again via
// defer on the error paths.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
	sc.cleanups = nil
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// newLogger creates the process logger. Verbose drops the level to debug.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadConfig resolves the config path (flag, then SANDUKU_CONFIG env,
// then the default location) and loads it, falling back to defaults
// when no file exists.
func loadConfig(flagPath string) (*config.Config, error) {
	path := goutils.Env("SANDUKU_CONFIG", flagPath)
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.LoadOrDefault(path)
}

// initShared performs all common initialization shared between commands.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := workspace.New(cfg.ResolvedWorkspace())
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Data directory.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})

	// Audit trail.
	auditLog, err := audit.New(cfg.AuditLogPath(), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing audit log: %w", err)
	}
	sc.Audit = auditLog
	sc.addCleanup(func() {
		if err := auditLog.Close(); err != nil {
			logger.Error("closing audit log", slog.String("error", err.Error()))
		}
	})

	// Execution history.
	if cfg.HistoryEnabled() {
		store, err := history.Open(cfg.HistoryPath(), logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("initializing history: %w", err)
		}
		sc.History = store
		sc.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing history store", slog.String("error", err.Error()))
			}
		})
	}

	return sc, nil
}

// safeCommands merges the user's safe prefixes on top of the built-in
// list. DisableAutoApprove empties the list, forcing every command
// through confirmation.
func safeCommands(cfg *config.Config) []string {
	if cfg.Approval.DisableAutoApprove {
		return nil
	}
	return append(approval.DefaultSafeCommands(), cfg.Approval.SafeCommands...)
}

// buildPolicy resolves the sandbox policy from configuration, merging
// user safe commands on top of the built-in list.
func buildPolicy(cfg *config.Config) sandbox.Policy {
	safe := safeCommands(cfg)
	return sandbox.Policy{
		Image:          cfg.Sandbox.Image,
		DefaultTimeout: cfg.Sandbox.DefaultTimeout(),
		MaxTimeout:     cfg.Sandbox.MaxTimeout(),
		NetworkAllowed: cfg.Sandbox.NetworkAllowed,
		MemoryMB:       int(cfg.Sandbox.MaxMemoryMB),
		CPUCores:       cfg.Sandbox.CPUCores,
		PIDsLimit:      cfg.Sandbox.PIDsLimit,
		SafeCommands:   safe,
	}
}

// newSession creates a sandbox session rooted in its own workspace
// directory, wrapped with observability when metrics are enabled. The
// returned cleanup closes the session.
func (sc *SharedComponents) newSession(ctx context.Context, mode sandbox.Mode) (*sandbox.Session, error) {
	id := uuid.NewString()
	dir := sc.Workspace.SessionDir(id)

	opts := []sandbox.SessionOption{sandbox.WithSessionID(id)}
	if m := sc.Obs.MetricsOrNil(); m != nil {
		tracer := sc.Obs.TracerOrNil()
		opts = append(opts, sandbox.WithBackendWrapper(func(b sandbox.Backend) sandbox.Backend {
			return observability.NewInstrumentedBackend(b, m, tracer)
		}))
		m.SessionsActive.Inc()
	}

	sess, err := sandbox.NewSession(ctx, mode, dir, buildPolicy(sc.Config), sc.Logger, opts...)
	if err != nil {
		return nil, err
	}
	sc.addCleanup(func() {
		sess.Close()
		if m := sc.Obs.MetricsOrNil(); m != nil {
			m.SessionsActive.Dec()
		}
	})
	return sess, nil
}

// resolveMode returns the sandbox mode from the flag when set, otherwise
// from configuration.
func resolveMode(flagMode string, cfg *config.Config) sandbox.Mode {
	if flagMode != "" {
		return sandbox.Mode(flagMode)
	}
	return sandbox.Mode(cfg.Sandbox.SandboxMode())
}
