package sandbox

import (
	"os"
	"strings"
)

// The subprocess backend inherits the host environment, which is full of
// variables that turn benign commands into code execution: pagers and
// man viewers run whatever PAGER points at, git spawns EDITOR, the
// dynamic linker honors LD_PRELOAD, and some shells source files named
// by ENV/BASH_ENV on startup. Those are stripped before every
// invocation. The container backend needs none of this — a fresh
// container has no inherited host environment.

// strippedEnvVars are removed from the inherited environment.
var strippedEnvVars = []string{
	// Pager / man-page viewer hooks.
	"PAGER", "GIT_PAGER", "MANPAGER", "MANOPT",
	"LESS", "LESSOPEN", "LESSCLOSE", "LESSSECURE",
	// Version-control editor hooks.
	"EDITOR", "VISUAL", "GIT_EDITOR", "GIT_SEQUENCE_EDITOR",
	"GIT_SSH", "GIT_SSH_COMMAND",
	// Dynamic-linker preload.
	"LD_PRELOAD", "LD_LIBRARY_PATH", "LD_AUDIT",
	"DYLD_INSERT_LIBRARIES", "DYLD_LIBRARY_PATH",
	// Shell startup-file injection.
	"ENV", "BASH_ENV", "ZDOTDIR",
	// Interpreter startup hooks.
	"PYTHONSTARTUP", "PERL5OPT", "RUBYOPT", "NODE_OPTIONS",
}

// forcedEnvVars override or add entries after stripping. Pagers get a
// non-interactive pass-through so commands that invoke one never hang
// waiting for terminal input, and PYTHONUNBUFFERED keeps output written
// just before a kill from being lost in an interpreter buffer.
var forcedEnvVars = map[string]string{
	"PAGER":               "cat",
	"GIT_PAGER":           "cat",
	"MANPAGER":            "cat",
	"TERM":                "dumb",
	"PYTHONUNBUFFERED":    "1",
	"GIT_TERMINAL_PROMPT": "0",
}

// sanitizedEnviron returns the host environment with the blocklist
// stripped and safe defaults forced.
func sanitizedEnviron() []string {
	stripped := make(map[string]bool, len(strippedEnvVars))
	for _, k := range strippedEnvVars {
		stripped[k] = true
	}

	env := make([]string, 0, len(os.Environ())+len(forcedEnvVars))
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || stripped[key] {
			continue
		}
		if _, forced := forcedEnvVars[key]; forced {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range forcedEnvVars {
		env = append(env, k+"="+v)
	}
	return env
}
