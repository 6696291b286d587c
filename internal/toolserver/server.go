// Package toolserver exposes the sandbox over MCP (Model Context
// Protocol) via stdio, so an LLM client can call execute_shell the way
// it calls any other tool. The server is non-interactive: commands the
// classifier does not auto-approve are refused unless the operator
// started the server with unsafe execution explicitly allowed.
package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/sanduku/internal/approval"
	"github.com/jkaninda/sanduku/internal/audit"
	"github.com/jkaninda/sanduku/internal/history"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/sandbox"
)

const serverVersion = "0.1.0"

// Options configures the tool server. Audit, History, and Metrics are
// optional; nil disables the corresponding recording.
type Options struct {
	Session     *sandbox.Session
	AllowUnsafe bool // Run confirm-classified commands without a human in the loop.
	Audit       *audit.Logger
	History     *history.Store
	Metrics     *observability.MetricsCollector
	Logger      *slog.Logger
}

// Server bridges MCP tool calls into a sandbox session.
type Server struct {
	mcp         *server.MCPServer
	session     *sandbox.Session
	allowUnsafe bool
	audit       *audit.Logger
	history     *history.Store
	metrics     *observability.MetricsCollector
	logger      *slog.Logger
}

// New creates the MCP server and registers the sandbox tools.
func New(opts Options) *Server {
	s := &Server{
		session:     opts.Session,
		allowUnsafe: opts.AllowUnsafe,
		audit:       opts.Audit,
		history:     opts.History,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}

	s.mcp = server.NewMCPServer("sanduku", serverVersion,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("execute_shell",
		mcp.WithDescription("Execute a shell command inside the sandbox session. Returns merged stdout+stderr and the exit code. The session workspace persists between calls."),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The shell command to execute."),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Per-command timeout in seconds. Clamped to the session ceiling; omit for the session default."),
		),
	), s.handleExecute)

	s.mcp.AddTool(mcp.NewTool("classify_command",
		mcp.WithDescription("Classify a command without running it: reports whether it would auto-approve or require confirmation, and why."),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The shell command to classify."),
		),
	), s.handleClassify)

	s.mcp.AddTool(mcp.NewTool("sandbox_status",
		mcp.WithDescription("Report the session's backend kind, isolation level, and workspace path."),
	), s.handleStatus)

	return s
}

// ServeStdio blocks serving MCP over stdin/stdout until the client
// disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp server listening on stdio",
		slog.String("session_id", s.session.ID()),
		slog.String("backend", string(s.session.Kind())),
		slog.Bool("allow_unsafe", s.allowUnsafe),
	)
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	timeout := time.Duration(req.GetFloat("timeout_seconds", 0) * float64(time.Second))

	cls := approval.Classify(command, s.session.SafeCommands(), s.session.Isolation())
	s.metrics.RecordDecision(cls.Decision.String())

	if cls.Decision != approval.AutoApprove && !s.allowUnsafe {
		s.logger.Warn("command refused",
			slog.String("command", command),
			slog.String("reason", cls.Reason),
		)
		s.record(ctx, command, "denied", nil, 0, "")
		return mcp.NewToolResultError(fmt.Sprintf(
			"command refused: %s. Only auto-approvable commands run in this mode; restart the server with --allow-unsafe to lift the restriction.",
			cls.Reason,
		)), nil
	}

	start := time.Now()
	result, err := s.session.Run(ctx, command, timeout)
	if err != nil {
		s.record(ctx, command, cls.Decision.String(), nil, time.Since(start), err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("execution failed: %v", err)), nil
	}

	s.record(ctx, command, cls.Decision.String(), result, result.Duration, "")
	return mcp.NewToolResultText(FormatResult(result)), nil
}

func (s *Server) handleClassify(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cls := approval.Classify(command, s.session.SafeCommands(), s.session.Isolation())

	var sb strings.Builder
	fmt.Fprintf(&sb, "decision: %s\n", cls.Decision)
	if cls.Rule != "" {
		fmt.Fprintf(&sb, "rule: %s\n", cls.Rule)
	}
	fmt.Fprintf(&sb, "reason: %s", cls.Reason)
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf(
		"session: %s\nbackend: %s\nisolation: %s\nworkspace: %s",
		s.session.ID(), s.session.Kind(), s.session.Isolation(), s.session.WorkspaceDir(),
	)), nil
}

// record persists the execution to the audit trail and history store.
// Both are best-effort: recording failures are logged, never surfaced
// to the MCP client.
func (s *Server) record(ctx context.Context, command, decision string, result *sandbox.Result, duration time.Duration, errMsg string) {
	exitCode := 0
	timedOut := false
	if result != nil {
		exitCode = result.ExitCode
		timedOut = result.TimedOut
	}

	if s.audit != nil {
		err := s.audit.Log(audit.Event{
			SessionID:  s.session.ID(),
			Backend:    string(s.session.Kind()),
			Isolation:  string(s.session.Isolation()),
			Command:    command,
			Decision:   decision,
			ExitCode:   exitCode,
			TimedOut:   timedOut,
			DurationMs: duration.Milliseconds(),
			Error:      errMsg,
		})
		if err != nil {
			s.logger.Error("audit log failed", slog.String("error", err.Error()))
		}
	}

	if s.history != nil {
		err := s.history.Record(ctx, history.Execution{
			SessionID:  s.session.ID(),
			Backend:    string(s.session.Kind()),
			Isolation:  string(s.session.Isolation()),
			Command:    command,
			Decision:   decision,
			ExitCode:   exitCode,
			TimedOut:   timedOut,
			DurationMs: duration.Milliseconds(),
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			s.logger.Error("history record failed", slog.String("error", err.Error()))
		}
	}
}

// FormatResult renders an execution result as the text payload an LLM
// consumes: output first, then a status line.
func FormatResult(r *sandbox.Result) string {
	var sb strings.Builder
	if r.Output != "" {
		sb.WriteString(r.Output)
		if !strings.HasSuffix(r.Output, "\n") {
			sb.WriteString("\n")
		}
	}
	switch {
	case r.TimedOut:
		fmt.Fprintf(&sb, "[command timed out after %s, exit code %d]", r.Duration.Round(time.Millisecond), r.ExitCode)
	case r.ExitCode != 0:
		fmt.Fprintf(&sb, "[exit code %d]", r.ExitCode)
	default:
		sb.WriteString("[exit code 0]")
	}
	if r.Truncated {
		sb.WriteString("\n[output truncated at 1 MB]")
	}
	return sb.String()
}
