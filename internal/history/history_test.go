package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), testLogger())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, cmd := range []string{"ls", "git status", "make build"} {
		err := s.Record(ctx, Execution{
			SessionID:  "sess-1",
			Backend:    "container",
			Isolation:  "full",
			Command:    cmd,
			Decision:   "confirm",
			ExitCode:   i,
			DurationMs: int64(i * 100),
			CreatedAt:  time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("recording %q: %v", cmd, err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d executions, want 2", len(recent))
	}
	if recent[0].Command != "make build" {
		t.Errorf("newest first: got %q, want %q", recent[0].Command, "make build")
	}
	if recent[0].ID == "" {
		t.Error("ID was not generated on record")
	}
}

func TestStore_BySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Record(ctx, Execution{SessionID: "a", Command: "first", CreatedAt: time.Now()})
	_ = s.Record(ctx, Execution{SessionID: "b", Command: "other", CreatedAt: time.Now()})
	_ = s.Record(ctx, Execution{SessionID: "a", Command: "second", CreatedAt: time.Now().Add(time.Second)})

	got, err := s.BySession(ctx, "a")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d executions for session a, want 2", len(got))
	}
	if got[0].Command != "first" || got[1].Command != "second" {
		t.Errorf("expected oldest-first ordering, got %q then %q", got[0].Command, got[1].Command)
	}
}

func TestStore_RecentDefaultLimit(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Recent(context.Background(), 0); err != nil {
		t.Fatalf("zero limit must fall back to a default: %v", err)
	}
}
