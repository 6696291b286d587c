package toolserver

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/sanduku/internal/approval"
	"github.com/jkaninda/sanduku/internal/sandbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sess, err := sandbox.NewSession(context.Background(), sandbox.ModeSubprocess, t.TempDir(), sandbox.Policy{
		SafeCommands: approval.DefaultSafeCommands(),
	}, testLogger())
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	t.Cleanup(sess.Close)
	return New(Options{Session: sess, Logger: testLogger()})
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is not text: %T", res.Content[0])
	}
	return tc.Text
}

func TestHandleClassify(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleClassify(context.Background(), callReq(map[string]any{"command": "git status"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A subprocess session has no isolation, so nothing auto-approves.
	if got := textContent(t, res); !strings.Contains(got, "decision: confirm") {
		t.Errorf("unexpected classification: %s", got)
	}
}

func TestHandleClassify_MissingCommand(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleClassify(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result for a missing command argument")
	}
}

func TestHandleExecute_RefusesWithoutApproval(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleExecute(context.Background(), callReq(map[string]any{"command": "rm -rf /tmp/x"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatal("unapproved command must be refused, not executed")
	}
	if got := textContent(t, res); !strings.Contains(got, "command refused") {
		t.Errorf("unexpected refusal message: %s", got)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleStatus(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := textContent(t, res)
	if !strings.Contains(got, "backend: subprocess") || !strings.Contains(got, "isolation: none") {
		t.Errorf("status missing backend details: %s", got)
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name   string
		result sandbox.Result
		want   string
	}{
		{
			name:   "success",
			result: sandbox.Result{Output: "hello\n", ExitCode: 0},
			want:   "hello\n[exit code 0]",
		},
		{
			name:   "non-zero exit",
			result: sandbox.Result{Output: "boom", ExitCode: 3},
			want:   "boom\n[exit code 3]",
		},
		{
			name:   "timeout keeps partial output",
			result: sandbox.Result{Output: "partial\n", ExitCode: 124, TimedOut: true, Duration: 2 * time.Second},
			want:   "partial\n[command timed out after 2s, exit code 124]",
		},
		{
			name:   "truncated",
			result: sandbox.Result{Output: "big\n", ExitCode: 0, Truncated: true},
			want:   "big\n[exit code 0]\n[output truncated at 1 MB]",
		},
		{
			name:   "no output",
			result: sandbox.Result{ExitCode: 0},
			want:   "[exit code 0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatResult(&tt.result); got != tt.want {
				t.Errorf("FormatResult() = %q, want %q", got, tt.want)
			}
		})
	}
}
