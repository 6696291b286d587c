package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/history"
)

var (
	historyConfigPath string
	historyLimit      int
	historySession    string
	historyVerbose    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently executed commands",
	Long: `List the execution history recorded in the local SQLite database:
what ran, how it was approved, and how it ended. Command output is
never stored.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyConfigPath, "config", "", "config file path (or SANDUKU_CONFIG env)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of executions to show")
	historyCmd.Flags().StringVar(&historySession, "session", "", "show all executions of one session")
	historyCmd.Flags().BoolVarP(&historyVerbose, "verbose", "v", false, "debug logging")
}

func runHistory(_ *cobra.Command, _ []string) error {
	logger := newLogger(historyVerbose)

	cfg, err := loadConfig(historyConfigPath)
	if err != nil {
		return err
	}
	if !cfg.HistoryEnabled() {
		return fmt.Errorf("history is disabled in configuration")
	}

	store, err := history.Open(cfg.HistoryPath(), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	var executions []history.Execution
	if historySession != "" {
		executions, err = store.BySession(ctx, historySession)
	} else {
		executions, err = store.Recent(ctx, historyLimit)
	}
	if err != nil {
		return err
	}

	if len(executions) == 0 {
		fmt.Println("no executions recorded")
		return nil
	}

	for _, e := range executions {
		fmt.Printf("%s  %-10s  %-12s  exit=%-3d  %s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.Backend,
			e.Decision,
			e.ExitCode,
			e.Command,
		)
		if e.TimedOut {
			fmt.Printf("%21s(timed out after %dms)\n", "", e.DurationMs)
		}
	}
	return nil
}
