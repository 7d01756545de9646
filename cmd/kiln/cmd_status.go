package main

import (
	"fmt"
	"path/filepath"

	"kiln/internal/engine"
	"kiln/internal/store"
	"kiln/internal/types"

	"github.com/spf13/cobra"
)

var historyLimit int

// statusCmd reports the latest run's phase and task progress
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest run's phase and progress",
	RunE:  runStatus,
}

// historyCmd lists archived builds
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent builds from the archive",
	RunE:  runHistory,
}

// initCmd writes the default config to the workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .kiln/config.yaml to the workspace",
	RunE:  runInit,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of builds to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ckpt := engine.NewCheckpointStore(filepath.Join(workspace, ".kiln"))
	st, err := ckpt.Latest()
	if err != nil {
		fmt.Println("No runs found in this workspace.")
		return nil
	}

	fmt.Printf("Run:   %s\n", st.RunID)
	fmt.Printf("Goal:  %s\n", st.Goal)
	fmt.Printf("Phase: %s\n", st.Phase)

	var total, done, failed, blocked int
	for _, sp := range st.Sprints {
		for _, t := range sp.Tasks {
			total++
			switch t.Status {
			case types.TaskDone:
				done++
			case types.TaskFailed:
				failed++
			case types.TaskBlocked:
				blocked++
			}
		}
	}
	if total > 0 {
		fmt.Printf("Tasks: %d/%d done", done, total)
		if failed > 0 {
			fmt.Printf(", %d failed", failed)
		}
		if blocked > 0 {
			fmt.Printf(", %d blocked", blocked)
		}
		fmt.Println()
	}
	if st.Build != nil {
		printBuildSummary(st.Build)
	}
	if st.Phase == engine.PhasePaused {
		fmt.Println("\nRun is paused. Continue with 'kiln resume'.")
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	arch, err := store.Open(filepath.Join(workspace, cfg.Store.Path))
	if err != nil {
		return fmt.Errorf("failed to open build archive: %w", err)
	}
	defer arch.Close()

	builds, err := arch.RecentBuilds(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	if len(builds) == 0 {
		fmt.Println("No archived builds.")
		return nil
	}

	fmt.Printf("%-36s  %-7s  %6s  %s\n", "BUILD", "RESULT", "TESTS", "STARTED")
	for _, b := range builds {
		result := "failed"
		if b.Success {
			result = "ok"
		}
		fmt.Printf("%-36s  %-7s  %6d  %s\n", b.BuildID, result, b.TotalTests, b.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := cfg.Save(workspace); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", filepath.Join(workspace, ".kiln", "config.yaml"))
	return nil
}
