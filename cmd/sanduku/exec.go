package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/approval"
	"github.com/jkaninda/sanduku/internal/audit"
	"github.com/jkaninda/sanduku/internal/history"
	"github.com/jkaninda/sanduku/internal/sandbox"
)

// Exit codes for the exec command. The command's own exit code is
// passed through; these cover everything that failed before (or
// instead of) running it.
const (
	ExitSuccess            = 0
	ExitFailure            = 1
	ExitDenied             = 2
	ExitRuntimeUnavailable = 3
)

var (
	execConfigPath string
	execMode       string
	execTimeout    int
	execYes        bool
	execVerbose    bool
)

var execCmd = &cobra.Command{
	Use:   "exec -- <command>",
	Short: "Run one command inside a sandbox session",
	Long: `Run a single shell command inside a fresh sandbox session and print
its merged output. The process exits with the command's own exit code
(124 on timeout).

Commands the classifier does not auto-approve prompt for confirmation
on stderr; --yes skips the prompt.

Examples:
  sanduku exec -- ls -la
  sanduku exec --timeout 30 -- "make test"
  sanduku exec --mode subprocess --yes -- "pip install requests"

Exit codes:
  N  the command's exit code (124 on timeout)
  1  infrastructure failure
  2  approval denied
  3  container runtime unavailable in container mode`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execConfigPath, "config", "", "config file path (or SANDUKU_CONFIG env)")
	execCmd.Flags().StringVar(&execMode, "mode", "", "sandbox mode: auto, container, or subprocess (overrides config)")
	execCmd.Flags().IntVar(&execTimeout, "timeout", 0, "timeout in seconds (0 = session default)")
	execCmd.Flags().BoolVarP(&execYes, "yes", "y", false, "run without confirmation prompts")
	execCmd.Flags().BoolVarP(&execVerbose, "verbose", "v", false, "debug logging")
}

func runExec(_ *cobra.Command, args []string) error {
	command := strings.Join(args, " ")
	logger := newLogger(execVerbose)

	cfg, err := loadConfig(execConfigPath)
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx := context.Background()
	sess, err := sc.newSession(ctx, resolveMode(execMode, cfg))
	if err != nil {
		if errors.Is(err, sandbox.ErrRuntimeUnavailable) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			sc.Cleanup()
			os.Exit(ExitRuntimeUnavailable)
		}
		return err
	}

	cls := approval.Classify(command, sess.SafeCommands(), sess.Isolation())
	sc.Obs.MetricsOrNil().RecordDecision(cls.Decision.String())

	if cls.Decision != approval.AutoApprove && !execYes {
		if !confirm(command, cls.Reason, sess) {
			recordExecution(ctx, sc, sess, command, "denied", nil, 0, "")
			fmt.Fprintln(os.Stderr, "aborted")
			sc.Cleanup()
			os.Exit(ExitDenied)
		}
	}

	start := time.Now()
	result, err := sess.Run(ctx, command, time.Duration(execTimeout)*time.Second)
	if err != nil {
		recordExecution(ctx, sc, sess, command, cls.Decision.String(), nil, time.Since(start), err.Error())
		return err
	}

	recordExecution(ctx, sc, sess, command, cls.Decision.String(), result, result.Duration, "")

	fmt.Print(result.Output)
	if result.Truncated {
		fmt.Fprintln(os.Stderr, "warning: output truncated at 1 MB")
	}
	if result.TimedOut {
		fmt.Fprintf(os.Stderr, "error: command timed out after %s\n", result.Duration.Round(time.Millisecond))
	}

	sc.Cleanup()
	os.Exit(result.ExitCode)
	return nil
}

// confirm prompts on stderr and reads a y/N answer from stdin.
func confirm(command, reason string, sess *sandbox.Session) bool {
	fmt.Fprintf(os.Stderr, "command: %s\n", command)
	fmt.Fprintf(os.Stderr, "backend: %s (isolation: %s)\n", sess.Kind(), sess.Isolation())
	fmt.Fprintf(os.Stderr, "not auto-approved: %s\n", reason)
	fmt.Fprint(os.Stderr, "run it? [y/N] ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// recordExecution writes the outcome to the audit trail and history
// store. Best-effort: failures are logged, never fatal.
func recordExecution(ctx context.Context, sc *SharedComponents, sess *sandbox.Session, command, decision string, result *sandbox.Result, duration time.Duration, errMsg string) {
	exitCode := 0
	timedOut := false
	if result != nil {
		exitCode = result.ExitCode
		timedOut = result.TimedOut
	}

	if err := sc.Audit.Log(audit.Event{
		SessionID:  sess.ID(),
		Backend:    string(sess.Kind()),
		Isolation:  string(sess.Isolation()),
		Command:    command,
		Decision:   decision,
		ExitCode:   exitCode,
		TimedOut:   timedOut,
		DurationMs: duration.Milliseconds(),
		Error:      errMsg,
	}); err != nil {
		sc.Logger.Error("audit log failed", slog.String("error", err.Error()))
	}

	if sc.History != nil {
		if err := sc.History.Record(ctx, history.Execution{
			SessionID:  sess.ID(),
			Backend:    string(sess.Kind()),
			Isolation:  string(sess.Isolation()),
			Command:    command,
			Decision:   decision,
			ExitCode:   exitCode,
			TimedOut:   timedOut,
			DurationMs: duration.Milliseconds(),
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			sc.Logger.Error("history record failed", slog.String("error", err.Error()))
		}
	}
}
