// Sanduku — sandboxed shell execution for LLM assistants.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sanduku",
	Short: "Sanduku — sandboxed shell execution for LLM assistants.",
	Long: `Sanduku runs shell commands inside a session-scoped sandbox: a hardened
Docker container when a runtime is available, or host subprocesses as an
explicit no-isolation fallback. A syntactic classifier decides which
commands may skip per-command confirmation; everything else needs a
human (or --allow-unsafe) in the loop.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(execCmd, serveCmd, statusCmd, historyCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
