// Package approval decides whether a command string may skip the
// per-command human confirmation step. The classification is purely
// syntactic — prefix matching plus an operator blocklist. It is a UX
// convenience, not a security boundary: the isolation boundary (or, in
// its absence, the human approval step itself) is the real control. In
// particular the classifier does not understand flags that turn a
// nominally read-only command into a write (e.g. sed -i), so the safe
// list defaults to a conservative set and is user-extensible, not
// exhaustive.
package approval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/sanduku/internal/sandbox"
)

// Decision is the classification outcome for a command.
type Decision int

const (
	// Confirm requires explicit human approval before execution. It is
	// the zero value, so an uninitialized Result defaults to the
	// safest decision.
	Confirm Decision = iota

	// AutoApprove lets the command run without a confirmation step.
	AutoApprove
)

// String returns the string representation of a Decision.
func (d Decision) String() string {
	switch d {
	case Confirm:
		return "confirm"
	case AutoApprove:
		return "auto-approve"
	default:
		return "unknown"
	}
}

// Result holds the outcome of command classification.
type Result struct {
	Decision Decision
	Rule     string // The safe prefix that matched, if any.
	Reason   string // Human-readable explanation.
}

// unsafeOperators reject a command outright: chaining, backgrounding,
// redirection, and substitution all let a safe-listed prefix smuggle in
// an arbitrary second command. Checking the single-character form also
// catches its doubled variant (& catches &&, | catches ||, > catches >>).
var unsafeOperators = []string{";", "&", "|", ">", "<", "`", "$(", "\n"}

// Classify decides whether command may skip human confirmation for a
// session at the given isolation level. Pure function: the external
// approval gate calls it, and the execution core itself never blocks on
// user input.
func Classify(command string, safePrefixes []string, isolation sandbox.Isolation) Result {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{Reason: "empty command"}
	}

	// Sessions with no OS-level isolation never auto-approve: the
	// explicit human approval is their sole safety boundary.
	if isolation != sandbox.IsolationFull {
		return Result{Reason: fmt.Sprintf("session isolation is %q, auto-approval disabled", isolation)}
	}

	for _, op := range unsafeOperators {
		if strings.Contains(command, op) {
			return Result{Reason: fmt.Sprintf("command contains shell operator %q", op)}
		}
	}

	// Longest prefix wins, so "git status" beats "git" for
	// "git status --short".
	prefixes := make([]string, len(safePrefixes))
	copy(prefixes, safePrefixes)
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if command == p || strings.HasPrefix(command, p+" ") {
			return Result{
				Decision: AutoApprove,
				Rule:     p,
				Reason:   fmt.Sprintf("matches safe prefix %q", p),
			}
		}
	}

	return Result{Reason: "no safe prefix matched"}
}

// DefaultSafeCommands is the conservative built-in prefix list: read-only
// inspection commands only. Users extend it in configuration.
func DefaultSafeCommands() []string {
	return []string{
		"ls", "pwd", "cat", "head", "tail", "wc",
		"echo", "date", "whoami", "uname", "id",
		"which", "file", "stat", "du", "df",
		"git status", "git log", "git diff", "git branch", "git show",
	}
}
