package sandbox

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// SubprocessBackend runs commands as host subprocesses rooted in the
// session workspace. It grants no filesystem, network, or capability
// isolation — sessions of this kind report IsolationNone, which
// disables safe-command auto-approval entirely and makes explicit
// per-command human approval the sole safety boundary.
//
// What it does provide:
//   - Each command runs in its own process group, so the whole tree can
//     be killed atomically on timeout
//   - A sanitized environment with pager/editor/preload hooks stripped
//   - The same dual-layer deadline as the container backend
type SubprocessBackend struct {
	workspaceDir string
	logger       *slog.Logger

	// pgid of the in-flight command, for best-effort Cleanup. The
	// owning Session serializes Run, so there is at most one.
	pgid int
}

// NewSubprocessBackend creates a subprocess backend for one session.
func NewSubprocessBackend(workspaceDir string, logger *slog.Logger) *SubprocessBackend {
	return &SubprocessBackend{
		workspaceDir: workspaceDir,
		logger:       logger,
	}
}

func (b *SubprocessBackend) Kind() Kind           { return KindSubprocess }
func (b *SubprocessBackend) Isolation() Isolation { return IsolationNone }

// Run executes a command in its own process group with the workspace as
// working directory.
func (b *SubprocessBackend) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	argv := deadlineArgv(command, timeout)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = b.workspaceDir
	cmd.Env = sanitizedEnviron()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// A descendant that left the group (setsid) can hold the output
	// pipes open after the kill; without this Wait blocks on it forever.
	cmd.WaitDelay = killGrace

	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, remaining: maxOutputBytes}
	cmd.Stdout = lw
	cmd.Stderr = lw

	b.logger.Info("subprocess executing",
		slog.String("command", command),
		slog.String("dir", b.workspaceDir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &InfraError{Op: "starting process", Err: err}
	}
	b.pgid = cmd.Process.Pid

	kill := func() { killGroup(cmd.Process.Pid) }
	waitErr, supervisorTimedOut := supervise(ctx, cmd, timeout+supervisorGrace, kill, b.logger)
	duration := time.Since(start)
	b.pgid = 0

	result := &Result{
		Output:    buf.String(),
		Truncated: lw.truncated(),
		Duration:  duration,
	}

	switch {
	case supervisorTimedOut:
		result.TimedOut = true
		result.ExitCode = timeoutExitCode
	case waitErr == nil:
		// Exit 0.
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// Exit 0, but a straggler held the pipes past the grace
		// window and its trailing output was abandoned.
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, &InfraError{Op: "waiting for process", Err: waitErr}
		}
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode == timeoutExitCode {
			result.TimedOut = true
		}
	}

	b.logger.Info("subprocess execution completed",
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("timed_out", result.TimedOut),
		slog.Duration("duration", duration),
	)
	return result, nil
}

// Cleanup kills any in-flight process group. There is no persistent
// resource to release; a group that already exited is not an error.
func (b *SubprocessBackend) Cleanup(_ context.Context) {
	if b.pgid != 0 {
		b.logger.Warn("killing in-flight process group during cleanup",
			slog.Int("pgid", b.pgid),
		)
		killGroup(b.pgid)
		b.pgid = 0
	}
}

// killGroup terminates an entire process group: SIGTERM first so
// well-behaved processes can flush and exit, SIGKILL after a short
// grace window for anything that ignored it. Negative pid addresses the
// group, which is what catches children spawned by the shell wrapper.
func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	go func() {
		time.Sleep(killGrace)
		// Signal 0 probes without delivering: if the group is already
		// gone, skip the SIGKILL so a recycled pgid can't catch it.
		if syscall.Kill(-pid, 0) == nil {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		}
	}()
}
