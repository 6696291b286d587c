package sandbox

import (
	"context"
	"os/exec"
	"reflect"
	"testing"
	"time"
)

func TestDeadlineArgv(t *testing.T) {
	got := deadlineArgv("echo hi | wc -c", 30*time.Second)
	want := []string{"timeout", "-k", "2", "30", "sh", "-c", "echo hi | wc -c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deadlineArgv = %v, want %v", got, want)
	}
}

func TestDeadlineArgv_SubSecondFloorsToOne(t *testing.T) {
	got := deadlineArgv("true", 100*time.Millisecond)
	if got[3] != "1" {
		t.Errorf("sub-second timeout became %q, want floor of 1s", got[3])
	}
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		name                 string
		requested, def, max  time.Duration
		want                 time.Duration
	}{
		{"zero uses default", 0, 30 * time.Second, 5 * time.Minute, 30 * time.Second},
		{"within bounds passes through", time.Minute, 30 * time.Second, 5 * time.Minute, time.Minute},
		{"exceeds ceiling clamps", time.Hour, 30 * time.Second, 5 * time.Minute, 5 * time.Minute},
		{"zero policy falls back to package defaults", 0, 0, 0, DefaultTimeout},
		{"request above package ceiling clamps", time.Hour, 0, 0, MaxTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampTimeout(tt.requested, tt.def, tt.max); got != tt.want {
				t.Errorf("clampTimeout(%v, %v, %v) = %v, want %v", tt.requested, tt.def, tt.max, got, tt.want)
			}
		})
	}
}

func TestSupervise_NormalCompletion(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	err, timedOut := supervise(context.Background(), cmd, 10*time.Second, func() {}, testLogger())
	if err != nil {
		t.Errorf("unexpected wait error: %v", err)
	}
	if timedOut {
		t.Error("supervisor reported timeout for a completed command")
	}
}

func TestSupervise_DeadlineKills(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	kill := func() { _ = cmd.Process.Kill() }

	start := time.Now()
	_, timedOut := supervise(context.Background(), cmd, 200*time.Millisecond, kill, testLogger())
	elapsed := time.Since(start)

	if !timedOut {
		t.Error("supervisor did not report timeout")
	}
	if elapsed > 5*time.Second {
		t.Errorf("supervise took %v, expected to return promptly after the deadline", elapsed)
	}
}

func TestSupervise_ContextCancellation(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, timedOut := supervise(ctx, cmd, time.Minute, func() { _ = cmd.Process.Kill() }, testLogger())
	if timedOut {
		t.Error("context cancellation must not be reported as a supervisor timeout")
	}
}
