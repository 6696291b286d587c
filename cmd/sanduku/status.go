package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sanduku/internal/sandbox"
)

var (
	statusConfigPath string
	statusMode       string
	statusVerbose    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which backend a new session would get",
	Long: `Probe the container runtime and report the backend, isolation level,
and resource policy a new session would resolve to under the current
configuration. No session is created.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "", "config file path (or SANDUKU_CONFIG env)")
	statusCmd.Flags().StringVar(&statusMode, "mode", "", "sandbox mode: auto, container, or subprocess (overrides config)")
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "debug logging")
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(statusConfigPath)
	if err != nil {
		return err
	}

	mode := resolveMode(statusMode, cfg)
	kind, isolation, probeErr := sandbox.ResolveBackend(context.Background(), mode)

	fmt.Printf("mode:       %s\n", mode)
	if probeErr != nil && kind == "" {
		fmt.Printf("backend:    unavailable (%v)\n", probeErr)
		return fmt.Errorf("no backend available in %s mode", mode)
	}
	fmt.Printf("backend:    %s\n", kind)
	fmt.Printf("isolation:  %s\n", isolation)
	if probeErr != nil {
		fmt.Printf("warning:    %v\n", probeErr)
	}

	policy := buildPolicy(cfg).WithDefaults()
	if kind == sandbox.KindContainer {
		fmt.Printf("image:      %s\n", policy.Image)
		fmt.Printf("network:    %s\n", networkLabel(policy.NetworkAllowed))
		fmt.Printf("memory:     %d MB\n", policy.MemoryMB)
		fmt.Printf("cpus:       %.1f\n", policy.CPUCores)
		fmt.Printf("pids:       %d\n", policy.PIDsLimit)
	} else {
		fmt.Println("warning:    subprocess backend has NO isolation; auto-approval is disabled")
	}
	fmt.Printf("timeout:    default %s, max %s\n", policy.DefaultTimeout, policy.MaxTimeout)
	fmt.Printf("workspace:  %s\n", cfg.ResolvedWorkspace())
	fmt.Printf("safe cmds:  %d prefixes\n", len(policy.SafeCommands))

	return nil
}

func networkLabel(allowed bool) string {
	if allowed {
		return "bridge"
	}
	return "none"
}
