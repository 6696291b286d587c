// Package audit writes an append-only JSONL trail of command
// executions: what ran, how it was approved, and how it ended. Command
// output is deliberately not recorded — results are transient.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Event is one executed (or refused) command.
type Event struct {
	Time       time.Time `json:"time"`
	SessionID  string    `json:"session_id"`
	Backend    string    `json:"backend"`
	Isolation  string    `json:"isolation"`
	Command    string    `json:"command"`
	Decision   string    `json:"decision"` // auto-approve, confirm, denied.
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Logger writes events as append-only JSONL, one JSON object per line.
// Thread-safe: multiple goroutines can log concurrently.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// New opens (or creates) the audit log file in append-only mode with
// 0600 permissions.
func New(path string, logger *slog.Logger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &Logger{file: f, logger: logger}, nil
}

// Log serializes the event and appends it. Marshal happens outside the
// lock; only the file write is serialized.
func (l *Logger) Log(event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, writeErr := l.file.Write(data)
	l.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit event: %w", writeErr)
	}

	l.logger.Debug("audit event logged",
		slog.String("session_id", event.SessionID),
		slog.String("decision", event.Decision),
		slog.Int("exit_code", event.ExitCode),
	)
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
