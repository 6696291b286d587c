package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// skipIfNoTimeoutUtil skips when the in-environment deadline utility is
// not installed (e.g. minimal CI images without coreutils).
func skipIfNoTimeoutUtil(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("timeout"); err != nil {
		t.Skip("timeout(1) not available, skipping")
	}
}

func newTestSubprocessBackend(t *testing.T) *SubprocessBackend {
	t.Helper()
	skipIfNoTimeoutUtil(t)
	return NewSubprocessBackend(t.TempDir(), testLogger())
}

func TestSubprocessBackend_BasicExecution(t *testing.T) {
	b := newTestSubprocessBackend(t)

	result, err := b.Run(context.Background(), "echo hello", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if got := strings.TrimSpace(result.Output); got != "hello" {
		t.Errorf("output = %q, want %q", got, "hello")
	}
}

func TestSubprocessBackend_NonZeroExitIsAResult(t *testing.T) {
	b := newTestSubprocessBackend(t)

	result, err := b.Run(context.Background(), "exit 42", 10*time.Second)
	if err != nil {
		t.Fatalf("non-zero exit must not be an error, got: %v", err)
	}
	if result.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", result.ExitCode)
	}
}

func TestSubprocessBackend_MergedOutput(t *testing.T) {
	b := newTestSubprocessBackend(t)

	result, err := b.Run(context.Background(), "echo out; echo err 1>&2", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, "out") || !strings.Contains(result.Output, "err") {
		t.Errorf("merged output missing a stream: %q", result.Output)
	}
}

func TestSubprocessBackend_TimeoutPreservesPartialOutput(t *testing.T) {
	b := newTestSubprocessBackend(t)

	start := time.Now()
	result, err := b.Run(context.Background(), "echo started; sleep 60", 1*time.Second)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("timeout must be a result, not an error, got: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("result not marked as timed out")
	}
	if !strings.Contains(result.Output, "started") {
		t.Errorf("partial output lost on timeout: %q", result.Output)
	}
	// Terminated within T + grace.
	if elapsed > 1*time.Second+supervisorGrace+2*time.Second {
		t.Errorf("termination took %v, want within deadline + grace", elapsed)
	}
}

func TestSubprocessBackend_KillsProcessTree(t *testing.T) {
	b := newTestSubprocessBackend(t)
	marker := filepath.Join(b.workspaceDir, "child-alive")

	// The background child outlives the shell unless the whole group is killed.
	cmd := "(sleep 30 && touch " + marker + ") & sleep 60"
	if _, err := b.Run(context.Background(), cmd, 1*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Give a killed-but-lingering child ample time to prove it survived.
	time.Sleep(killGrace + time.Second)
	if _, err := os.Stat(marker); err == nil {
		t.Error("descendant process survived the group kill")
	}
}

func TestSubprocessBackend_DetachedChildCannotBlockRun(t *testing.T) {
	b := newTestSubprocessBackend(t)
	if _, err := exec.LookPath("setsid"); err != nil {
		t.Skip("setsid(1) not available, skipping")
	}

	// The child leaves the process group entirely, so the group kill
	// never reaches it and it keeps the output pipe open for a minute.
	// Run must still return within the deadline plus grace windows.
	start := time.Now()
	result, err := b.Run(context.Background(), "setsid sleep 60 & echo detached; wait", 1*time.Second)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut {
		t.Error("result not marked as timed out")
	}
	if !strings.Contains(result.Output, "detached") {
		t.Errorf("output before the kill was lost: %q", result.Output)
	}
	if limit := 1*time.Second + supervisorGrace + 2*killGrace; elapsed > limit {
		t.Errorf("Run blocked for %v on a detached child, want return within %v", elapsed, limit)
	}
}

func TestKillGroup_SafeAfterGroupExit(t *testing.T) {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	// The group is gone; the delayed escalation must probe and back off
	// rather than signal whatever now owns the recycled pgid.
	killGroup(pid)
	time.Sleep(killGrace + 500*time.Millisecond)
	if err := syscall.Kill(-pid, 0); err == nil {
		t.Fatalf("process group %d still exists, test setup is broken", pid)
	}
}

func TestSubprocessBackend_WorkspaceSharedAcrossCommands(t *testing.T) {
	b := newTestSubprocessBackend(t)

	if _, err := b.Run(context.Background(), "echo persisted > marker.txt", 10*time.Second); err != nil {
		t.Fatalf("first command: %v", err)
	}
	result, err := b.Run(context.Background(), "cat marker.txt", 10*time.Second)
	if err != nil {
		t.Fatalf("second command: %v", err)
	}
	if got := strings.TrimSpace(result.Output); got != "persisted" {
		t.Errorf("marker from command 1 not visible to command 2: %q", got)
	}
}

func TestSubprocessBackend_SanitizedEnvironment(t *testing.T) {
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")
	b := newTestSubprocessBackend(t)

	result, err := b.Run(context.Background(), `echo "pager=$PAGER preload=$LD_PRELOAD"`, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, "pager=cat") {
		t.Errorf("PAGER not forced to cat: %q", result.Output)
	}
	if strings.Contains(result.Output, "evil.so") {
		t.Errorf("LD_PRELOAD leaked into the command environment: %q", result.Output)
	}
}

func TestSubprocessBackend_ShellFeaturesWork(t *testing.T) {
	b := newTestSubprocessBackend(t)

	result, err := b.Run(context.Background(), "printf 'a\\nb\\nc\\n' | wc -l", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Output); got != "3" {
		t.Errorf("pipe output = %q, want %q", got, "3")
	}
}

func TestSubprocessBackend_CleanupSafeWhenIdle(t *testing.T) {
	b := newTestSubprocessBackend(t)
	// Nothing in flight: cleanup must be a no-op, twice.
	b.Cleanup(context.Background())
	b.Cleanup(context.Background())
}
