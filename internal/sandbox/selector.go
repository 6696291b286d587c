package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// Mode selects which backend a new session uses.
type Mode string

const (
	// ModeAuto probes the container runtime and falls back to the
	// subprocess backend with a warning when it is unreachable.
	ModeAuto Mode = "auto"
	// ModeContainer requires the container runtime; session creation
	// fails hard when it is unreachable.
	ModeContainer Mode = "container"
	// ModeSubprocess always uses the no-isolation fallback.
	ModeSubprocess Mode = "subprocess"
)

const probeTimeout = 5 * time.Second

// probeRuntime checks whether the Docker daemon is reachable.
// Package variable so tests can substitute an unreachable runtime.
var probeRuntime = func(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if out, err := exec.CommandContext(probeCtx, "docker", "info").CombinedOutput(); err != nil {
		return fmt.Errorf("%w: docker info: %v: %s", ErrRuntimeUnavailable, err, out)
	}
	return nil
}

// ResolveBackend decides which backend kind a session of the given mode
// would get, without creating anything. Used both by NewSession and by
// the status banner.
func ResolveBackend(ctx context.Context, mode Mode) (Kind, Isolation, error) {
	switch mode {
	case ModeContainer:
		if err := probeRuntime(ctx); err != nil {
			return "", "", err
		}
		return KindContainer, IsolationFull, nil
	case ModeSubprocess:
		return KindSubprocess, IsolationNone, nil
	case ModeAuto, "":
		if err := probeRuntime(ctx); err != nil {
			return KindSubprocess, IsolationNone, err
		}
		return KindContainer, IsolationFull, nil
	default:
		return "", "", fmt.Errorf("unknown sandbox mode: %q (supported: auto, container, subprocess)", mode)
	}
}

// SessionOption customizes session construction.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	id          string
	wrapBackend func(Backend) Backend
}

// WithSessionID fixes the session identifier instead of generating one,
// so callers can derive the workspace directory from it up front.
func WithSessionID(id string) SessionOption {
	return func(o *sessionOptions) { o.id = id }
}

// WithBackendWrapper installs a decorator around the resolved backend,
// e.g. for metrics or tracing instrumentation.
func WithBackendWrapper(wrap func(Backend) Backend) SessionOption {
	return func(o *sessionOptions) { o.wrapBackend = wrap }
}

// NewSession resolves a backend for the given mode and binds it to a
// fresh session rooted at workspaceDir. The backend resource itself is
// created lazily, on the first command. In automatic mode an
// unreachable runtime downgrades to the subprocess backend with a
// logged warning; in forced container mode it is fatal.
func NewSession(ctx context.Context, mode Mode, workspaceDir string, policy Policy, logger *slog.Logger, opts ...SessionOption) (*Session, error) {
	policy = policy.WithDefaults()

	var options sessionOptions
	for _, opt := range opts {
		opt(&options)
	}
	id := options.id
	if id == "" {
		id = uuid.NewString()
	}

	kind, isolation, err := ResolveBackend(ctx, mode)
	switch {
	case err != nil && mode == ModeContainer:
		return nil, err
	case err != nil && (mode == ModeAuto || mode == ""):
		logger.Warn("container runtime unreachable, falling back to subprocess backend with no isolation",
			slog.String("error", err.Error()),
		)
	case err != nil:
		return nil, err
	}

	var backend Backend
	switch kind {
	case KindContainer:
		backend = NewContainerBackend(id, workspaceDir, policy, logger)
	default:
		backend = NewSubprocessBackend(workspaceDir, logger)
	}
	if options.wrapBackend != nil {
		backend = options.wrapBackend(backend)
	}

	logger.Info("session created",
		slog.String("session_id", id),
		slog.String("backend", string(kind)),
		slog.String("isolation", string(isolation)),
		slog.String("workspace", workspaceDir),
	)
	return newSession(id, workspaceDir, policy, backend, logger), nil
}
