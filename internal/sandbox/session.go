package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Policy is the resource and security configuration for one session.
// It is resolved once from configuration at session creation and never
// mutated afterwards.
type Policy struct {
	Image          string        // Container image (container backend only).
	DefaultTimeout time.Duration // Applied when a request carries no timeout.
	MaxTimeout     time.Duration // Ceiling no per-call timeout may exceed.
	NetworkAllowed bool          // false = --network=none (container backend only).
	MemoryMB       int           // Hard memory limit (container backend only).
	CPUCores       float64       // CPU rate limit (container backend only).
	PIDsLimit      int           // Fork bomb protection (container backend only).
	SafeCommands   []string      // Auto-approvable command prefixes.
}

// WithDefaults fills zero values with conservative defaults.
func (p Policy) WithDefaults() Policy {
	if p.Image == "" {
		p.Image = defaultImage
	}
	if p.DefaultTimeout <= 0 {
		p.DefaultTimeout = DefaultTimeout
	}
	if p.MaxTimeout <= 0 {
		p.MaxTimeout = MaxTimeout
	}
	if p.MemoryMB <= 0 {
		p.MemoryMB = defaultMemoryMB
	}
	if p.CPUCores <= 0 {
		p.CPUCores = defaultCPUCores
	}
	if p.PIDsLimit <= 0 {
		p.PIDsLimit = defaultPIDsLimit
	}
	return p
}

// Session is one isolated execution context bound to a conversation.
// It owns exactly one backend resource, serializes command execution
// (command N+1 never starts before command N's result is in), and is
// destroyed exactly once via an idempotent Close.
type Session struct {
	id           string
	workspaceDir string
	policy       Policy
	backend      Backend
	logger       *slog.Logger

	mu     sync.Mutex // Serializes Run; a session never executes two commands concurrently.
	closed bool

	closeOnce sync.Once
}

// newSession binds a resolved backend to a session. Callers go through
// the selector (NewSession in selector.go).
func newSession(id, workspaceDir string, policy Policy, backend Backend, logger *slog.Logger) *Session {
	return &Session{
		id:           id,
		workspaceDir: workspaceDir,
		policy:       policy,
		backend:      backend,
		logger:       logger,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// WorkspaceDir returns the host path of the session workspace, captured
// once at creation and immutable for the session's lifetime.
func (s *Session) WorkspaceDir() string { return s.workspaceDir }

// Kind reports the resolved backend kind, for status display.
func (s *Session) Kind() Kind { return s.backend.Kind() }

// Isolation reports the session's isolation level. Running with
// IsolationNone is a materially different risk posture the user should
// see, and it disables safe-command auto-approval.
func (s *Session) Isolation() Isolation { return s.backend.Isolation() }

// SafeCommands returns the session's auto-approvable prefix list.
func (s *Session) SafeCommands() []string { return s.policy.SafeCommands }

// Run executes one command inside the session's isolation boundary.
// The effective timeout is min(requested, policy ceiling), with the
// policy default applied when the request carries none. Non-zero exit
// and timeout come back as a Result; only infrastructure failures
// return an error.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &InfraError{Op: "run", Err: fmt.Errorf("session %s is closed", s.id)}
	}

	effective := clampTimeout(timeout, s.policy.DefaultTimeout, s.policy.MaxTimeout)
	return s.backend.Run(ctx, command, effective)
}

// Close releases the session's backend resources. It is idempotent and
// never fails: calling it twice, or after the underlying resource was
// removed externally, is safe.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), dockerOpTimeout)
		defer cancel()
		s.backend.Cleanup(ctx)

		s.logger.Info("session closed",
			slog.String("session_id", s.id),
			slog.String("backend", string(s.backend.Kind())),
		)
	})
}
