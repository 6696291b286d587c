package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultImage     = "sanduku-runtime:latest"
	defaultMemoryMB  = 512
	defaultCPUCores  = 1.0
	defaultPIDsLimit = 64

	// containerWorkdir is the fixed internal mount point for the
	// session workspace.
	containerWorkdir = "/workspace"

	// dockerOpTimeout bounds container lifecycle operations (create,
	// start, inspect, stop, rm) — not command execution.
	dockerOpTimeout = 30 * time.Second
)

// ContainerBackend runs a session's commands inside one long-lived,
// hardened Docker container. The container is created lazily on the
// first command, kept alive between commands by an idle keep-alive
// process, restarted transparently if found stopped, and removed on
// cleanup.
//
// Hardening applied at creation:
//   - ALL Linux capabilities dropped (--cap-drop=ALL)
//   - Privilege escalation blocked (--security-opt=no-new-privileges)
//   - Read-only root filesystem with tmpfs /tmp; only the bind-mounted
//     workspace is persistently writable
//   - Non-root user (65534:65534)
//   - Memory hard limit with swap disabled, CPU rate limit, PIDs limit
//   - Network disabled by default (--network=none)
type ContainerBackend struct {
	name         string
	workspaceDir string
	policy       Policy
	logger       *slog.Logger
	created      bool
}

// NewContainerBackend creates a container backend for one session.
// No container exists until the first Run.
func NewContainerBackend(sessionID, workspaceDir string, policy Policy, logger *slog.Logger) *ContainerBackend {
	return &ContainerBackend{
		name:         containerName(sessionID),
		workspaceDir: workspaceDir,
		policy:       policy.WithDefaults(),
		logger:       logger,
	}
}

func (b *ContainerBackend) Kind() Kind           { return KindContainer }
func (b *ContainerBackend) Isolation() Isolation { return IsolationFull }

// Run dispatches a command into the session container via docker exec,
// wrapped in the dual-layer deadline (timeout(1) inside, supervisor
// outside).
func (b *ContainerBackend) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	if err := b.ensureRunning(ctx); err != nil {
		return nil, err
	}

	args := []string{
		"exec",
		"--workdir", containerWorkdir,
		"--env", "PYTHONUNBUFFERED=1",
		b.name,
	}
	args = append(args, deadlineArgv(command, timeout)...)

	cmd := exec.Command("docker", args...)
	// A process inside the container can outlive the exec session and
	// keep the stream open; without this Wait blocks on it forever.
	cmd.WaitDelay = killGrace
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, remaining: maxOutputBytes}
	cmd.Stdout = lw
	cmd.Stderr = lw

	b.logger.Info("container executing",
		slog.String("container", b.name),
		slog.String("command", command),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &InfraError{Op: "starting docker exec", Err: err}
	}

	kill := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	waitErr, supervisorTimedOut := supervise(ctx, cmd, timeout+supervisorGrace, kill, b.logger)
	duration := time.Since(start)

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
		// Exit 0, but something held the stream past the grace window
		// and its trailing output was abandoned.
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, &InfraError{Op: "docker exec", Err: waitErr}
		}
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode == timeoutExitCode {
			result.TimedOut = true
		}
	}

	b.logger.Info("container execution completed",
		slog.String("container", b.name),
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("timed_out", result.TimedOut),
		slog.Duration("duration", duration),
	)
	return result, nil
}

// ensureRunning walks the container toward the running state: create it
// if absent, start it if stopped, leave it alone if already running.
func (b *ContainerBackend) ensureRunning(ctx context.Context) error {
	if !b.created {
		if err := b.create(ctx); err != nil {
			return err
		}
		b.created = true
		return nil
	}

	running, err := b.inspectRunning(ctx)
	if err != nil {
		// Container was removed externally. Recreate.
		b.logger.Warn("session container missing, recreating",
			slog.String("container", b.name),
		)
		b.created = false
		if err := b.create(ctx); err != nil {
			return err
		}
		b.created = true
		return nil
	}
	if running {
		return nil
	}

	// Stale but present: restart transparently, never recreate.
	b.logger.Info("restarting stopped session container",
		slog.String("container", b.name),
	)
	if out, err := b.docker(ctx, "start", b.name); err != nil {
		return &InfraError{Op: "restarting container", Err: fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

// create runs the container detached with the full hardening policy and
// an idle keep-alive command so it survives between commands.
func (b *ContainerBackend) create(ctx context.Context) error {
	p := b.policy
	args := []string{
		"run", "-d",
		"--name", b.name,

		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=65534:65534",

		"--memory=" + strconv.Itoa(p.MemoryMB) + "m",
		"--memory-swap=" + strconv.Itoa(p.MemoryMB) + "m",
		"--cpus=" + strconv.FormatFloat(p.CPUCores, 'f', 2, 64),
		"--pids-limit=" + strconv.Itoa(p.PIDsLimit),

		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",

		"--volume", b.workspaceDir + ":" + containerWorkdir + ":rw",
		"--workdir", containerWorkdir,

		"--env", "HOME=" + containerWorkdir,
		"--env", "PATH=/usr/local/bin:/usr/bin:/bin",
		"--env", "LANG=en_US.UTF-8",
		"--env", "TERM=dumb",
		"--env", "PYTHONUNBUFFERED=1",
	}
	if p.NetworkAllowed {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}
	args = append(args, p.Image, "sleep", "infinity")

	b.logger.Info("creating session container",
		slog.String("container", b.name),
		slog.String("image", p.Image),
		slog.String("workspace", b.workspaceDir),
		slog.Int("memory_mb", p.MemoryMB),
		slog.Float64("cpu_cores", p.CPUCores),
		slog.Int("pids_limit", p.PIDsLimit),
		slog.Bool("network_allowed", p.NetworkAllowed),
	)

	if out, err := b.docker(ctx, args...); err != nil {
		return &InfraError{Op: "creating container", Err: fmt.Errorf("%w: %s", err, out)}
	}
	return nil
}

// inspectRunning reports whether the container exists and is running.
// An error means the container is gone.
func (b *ContainerBackend) inspectRunning(ctx context.Context) (bool, error) {
	out, err := b.docker(ctx, "inspect", "-f", "{{.State.Running}}", b.name)
	if err != nil {
		return false, fmt.Errorf("inspecting container %s: %w", b.name, err)
	}
	return strings.TrimSpace(out) == "true", nil
}

// Cleanup stops and removes the session container. Best-effort: a
// missing or already-removed container is fine, and any error is logged
// rather than propagated.
func (b *ContainerBackend) Cleanup(ctx context.Context) {
	if !b.created {
		return
	}
	b.created = false

	if out, err := b.docker(ctx, "stop", "-t", "2", b.name); err != nil {
		if !isNoSuchContainer(out) {
			b.logger.Warn("docker stop failed during cleanup",
				slog.String("container", b.name),
				slog.String("output", out),
				slog.String("error", err.Error()),
			)
		}
	}
	if out, err := b.docker(ctx, "rm", "-f", b.name); err != nil {
		if !isNoSuchContainer(out) {
			b.logger.Warn("docker rm failed during cleanup",
				slog.String("container", b.name),
				slog.String("output", out),
				slog.String("error", err.Error()),
			)
		}
	}
	b.logger.Info("session container removed", slog.String("container", b.name))
}

// docker runs a docker CLI lifecycle command with a bounded deadline and
// returns its combined output.
func (b *ContainerBackend) docker(ctx context.Context, args ...string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, dockerOpTimeout)
	defer cancel()
	out, err := exec.CommandContext(opCtx, "docker", args...).CombinedOutput()
	return string(out), err
}

func isNoSuchContainer(out string) bool {
	return strings.Contains(out, "No such container")
}

// containerName derives a stable container name from the session id.
func containerName(sessionID string) string {
	id := strings.ReplaceAll(sessionID, "-", "")
	if len(id) > 16 {
		id = id[:16]
	}
	return "sanduku-sess-" + id
}
