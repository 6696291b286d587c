package audit

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLogger_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := New(path, testLogger())
	if err != nil {
		t.Fatalf("opening: %v", err)
	}
	defer l.Close()

	events := []Event{
		{SessionID: "s1", Backend: "container", Command: "ls", Decision: "auto-approve"},
		{SessionID: "s1", Backend: "container", Command: "rm -rf build", Decision: "confirm", ExitCode: 1},
	}
	for _, e := range events {
		if err := l.Log(e); err != nil {
			t.Fatalf("logging: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	defer f.Close()

	var got []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Command != "ls" || got[1].ExitCode != 1 {
		t.Errorf("round-tripped events do not match: %+v", got)
	}
	if got[0].Time.IsZero() {
		t.Error("timestamp was not stamped on write")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
