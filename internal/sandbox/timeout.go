package sandbox

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// Timeouts are enforced twice. The command string is wrapped with the
// in-environment timeout(1) utility, which SIGTERMs the command at N
// seconds and SIGKILLs it killGrace later. That alone is not enough: a
// command can swallow signals, or the environment itself can wedge. So
// the blocking Wait also runs under a supervisor deadline of N +
// supervisorGrace on the Go side. Under normal conditions the
// in-environment kill fires first and yields exit code 124; the
// supervisor deadline is the safety net.
const (
	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout = 120 * time.Second

	// MaxTimeout is the default ceiling no per-call timeout may exceed.
	MaxTimeout = 10 * time.Minute

	// supervisorGrace is how long past the in-environment deadline the
	// supervisor waits before killing the dispatch itself.
	supervisorGrace = 5 * time.Second

	// killGrace is the window between SIGTERM and SIGKILL, both for
	// timeout(1) (-k flag) and for process-group teardown.
	killGrace = 2 * time.Second

	// timeoutExitCode is what timeout(1) exits with when the deadline
	// fired and the command had to be terminated.
	timeoutExitCode = 124
)

// deadlineArgv wraps a raw command string in the in-environment kill
// wrapper: timeout -k 2 <N> sh -c <command>. The sh layer is what gives
// the model pipes, redirects, and builtins.
func deadlineArgv(command string, timeout time.Duration) []string {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{
		"timeout",
		"-k", strconv.Itoa(int(killGrace / time.Second)),
		strconv.Itoa(secs),
		"sh", "-c", command,
	}
}

// clampTimeout resolves a caller-requested timeout against defaults and
// the session ceiling: zero means the default, and nothing may exceed max.
func clampTimeout(requested, def, max time.Duration) time.Duration {
	if def <= 0 {
		def = DefaultTimeout
	}
	if max <= 0 {
		max = MaxTimeout
	}
	t := requested
	if t <= 0 {
		t = def
	}
	if t > max {
		t = max
	}
	return t
}

// supervise waits for a started command without blocking the caller's
// event loop on an unbounded Wait: the Wait runs on its own goroutine
// and the supervisor selects on completion, context cancellation, and a
// hard deadline. kill must terminate the command's whole process tree;
// it is invoked at most once. Returns the Wait error and whether the
// supervisor deadline (not the in-environment one) fired.
//
// The post-kill wait is only as bounded as Wait itself: a descendant
// that escaped the process group (setsid) can hold the output pipes
// open long after the kill. Callers must set cmd.WaitDelay before
// Start so Wait abandons the pipes after the grace window instead of
// blocking on the straggler.
func supervise(ctx context.Context, cmd *exec.Cmd, deadline time.Duration, kill func(), logger *slog.Logger) (error, bool) {
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case err := <-done:
		return err, false

	case <-ctx.Done():
		logger.Warn("killing command, context cancelled",
			slog.String("reason", ctx.Err().Error()),
		)
		kill()
		return <-done, false

	case <-timer.C:
		logger.Warn("killing command, supervisor deadline exceeded",
			slog.Duration("deadline", deadline),
		)
		kill()
		return <-done, true
	}
}
