// Package sandbox provides session-scoped isolated execution of shell
// commands. A session owns exactly one backend resource — a hardened
// Docker container or, as a fallback with no OS-level isolation, host
// subprocesses rooted in the session workspace. Commands always run
// through a session; never directly on the host.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Kind identifies the concrete backend implementation.
type Kind string

const (
	KindContainer  Kind = "container"
	KindSubprocess Kind = "subprocess"
)

// Isolation is the level of OS isolation a backend provides. It gates
// whether commands may ever skip explicit human approval: auto-approval
// is only consulted for IsolationFull sessions.
type Isolation string

const (
	IsolationFull Isolation = "full"
	IsolationNone Isolation = "none"
)

// Backend executes commands inside one session's isolation boundary.
// Implementations hold the session's underlying resource (container or
// process group) and assume sequential use — the owning Session
// serializes calls.
type Backend interface {
	// Run executes a shell command string with an effective deadline.
	// Non-zero exit and timeout are ordinary outcomes returned in the
	// Result; an error is returned only for infrastructure failures
	// (runtime unreachable, container/process creation broken).
	Run(ctx context.Context, command string, timeout time.Duration) (*Result, error)

	// Cleanup releases the session's resources. It must succeed even
	// when the underlying resource is already gone: errors are logged,
	// never returned, so end-of-session teardown cannot fail the
	// caller's shutdown path.
	Cleanup(ctx context.Context)

	Kind() Kind
	Isolation() Isolation
}

// Result captures the outcome of one command execution.
// Stdout and stderr are captured merged — the model consuming results
// never needs to distinguish them.
type Result struct {
	Output    string        // Interleaved stdout+stderr, capped at maxOutputBytes.
	ExitCode  int           // Command exit status. 124 when the in-environment deadline fired.
	TimedOut  bool          // Deadline exceeded. Output still holds whatever was captured.
	Truncated bool          // Output hit the byte cap.
	Duration  time.Duration
}

// ErrRuntimeUnavailable indicates the container runtime could not be
// reached. Forced container mode fails hard on it; automatic mode falls
// back to the subprocess backend.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// InfraError is a failure of the execution substrate rather than of the
// command being run. No amount of command-level retrying fixes it.
type InfraError struct {
	Op  string // What the backend was doing ("create container", "start process", ...).
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("sandbox: %s: %v", e.Op, e.Err) }
func (e *InfraError) Unwrap() error { return e.Err }

// maxOutputBytes caps merged output to prevent OOM from chatty commands.
const maxOutputBytes = 1 << 20 // 1 MB

// limitedWriter stops writing after a byte limit. Excess data is
// silently discarded (not an error — just capped).
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	chunk := p
	if len(chunk) > lw.remaining {
		chunk = chunk[:lw.remaining]
	}
	n, err := lw.w.Write(chunk)
	lw.remaining -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}

func (lw *limitedWriter) truncated() bool { return lw.remaining <= 0 }
