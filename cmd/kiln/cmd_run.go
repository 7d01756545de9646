package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"kiln/internal/chat"
	"kiln/internal/collab"
	"kiln/internal/engine"
	"kiln/internal/store"
	"kiln/internal/types"

	"github.com/spf13/cobra"
)

// runCmd starts a fresh build run
var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Run a build for the given goal",
	Long: `Plans the goal into sprints, drives each task through its quality
convergence loop, and writes the final build report to .kiln/output/.

Example:
  kiln run "Build a rate limiter package with token bucket and tests"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

// resumeCmd continues a paused or interrupted run
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the most recent run from its latest checkpoint",
	RunE:  runResume,
}

// pauseCmd requests a pause at the next phase boundary
var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause a running build",
	Long: `Drops a pause control file in .kiln/control/. The running engine picks
it up and checkpoints at the next phase boundary. Resume with 'kiln resume'.`,
	RunE: runPause,
}

func runBuild(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	eng, events, err := buildEngine(goal)
	if err != nil {
		return err
	}
	return driveRun(cmd.Context(), eng, events, func(ctx context.Context) error {
		return eng.Run(ctx)
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	eng, events, err := buildEngine("")
	if err != nil {
		return err
	}
	return driveRun(cmd.Context(), eng, events, func(ctx context.Context) error {
		return eng.Resume(ctx)
	})
}

func runPause(cmd *cobra.Command, args []string) error {
	controlDir := filepath.Join(workspace, ".kiln", "control")
	if err := os.MkdirAll(controlDir, 0755); err != nil {
		return fmt.Errorf("failed to create control dir: %w", err)
	}
	path := filepath.Join(controlDir, "pause")
	if err := os.WriteFile(path, []byte("pause requested\n"), 0644); err != nil {
		return fmt.Errorf("failed to write pause file: %w", err)
	}
	fmt.Println("Pause requested. The engine will checkpoint at the next phase boundary.")
	return nil
}

// buildEngine assembles the collaborators and the engine from config.
func buildEngine(goal string) (*engine.Engine, chan types.Event, error) {
	client, err := chat.NewClient(cfg.Chat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chat client: %w", err)
	}

	events := make(chan types.Event, 256)
	eng, err := engine.New(engine.Config{
		Workspace: workspace,
		Goal:      goal,
		Planner:   collab.NewChatPlanner(client),
		Generator: collab.NewChatGenerator(client, workspace),
		Tests:     collab.NewGoTestRunner(),
		Reviewer:  collab.NewChatReviewer(client),
		Engine:    cfg,
		Events:    events,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, events, nil
}

// driveRun handles signals and event printing around a run, then archives
// and summarizes the result.
func driveRun(ctx context.Context, eng *engine.Engine, events chan types.Event, run func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// First interrupt pauses gracefully; second aborts the run.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nPausing at next phase boundary (interrupt again to abort)...")
		eng.Pause()
		<-sigCh
		fmt.Println("\nAborting...")
		eng.Stop()
	}()

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for ev := range events {
			printEvent(ev)
		}
	}()

	runErr := run(ctx)
	close(events)
	<-printerDone

	st := eng.State()
	if st.Build != nil {
		archiveBuild(st.RunID, st.Build)
		printBuildSummary(st.Build)
	}
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	if st.Phase == engine.PhasePaused {
		fmt.Println("Run paused. Continue with 'kiln resume'.")
	}
	return nil
}

func printEvent(ev types.Event) {
	switch ev.Type {
	case types.EventPhaseStarted:
		fmt.Printf("==> phase %s\n", ev.Message)
	case types.EventSprintStarted:
		fmt.Printf("--> sprint %s: %s\n", ev.SprintID, ev.Message)
	case types.EventSprintCompleted:
		fmt.Printf("<-- sprint %s: %s\n", ev.SprintID, ev.Message)
	case types.EventTaskFailed, types.EventTaskBlocked:
		fmt.Printf("    task %s %s: %s\n", ev.TaskID, strings.TrimPrefix(string(ev.Type), "task_"), ev.Message)
	case types.EventFixInjected, types.EventImproveInjected:
		fmt.Printf("    injected %s: %s\n", ev.TaskID, ev.Message)
	case types.EventPaused:
		fmt.Println("==> paused")
	case types.EventResumed:
		fmt.Printf("==> resumed at %s\n", ev.Message)
	}
}

// archiveBuild writes the build into the SQLite history. Archive failures
// are reported but never fail the run; the JSON output already exists.
func archiveBuild(runID string, build *types.BuildResult) {
	arch, err := store.Open(filepath.Join(workspace, cfg.Store.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: build archive unavailable: %v\n", err)
		return
	}
	defer arch.Close()
	if err := arch.SaveBuild(runID, build); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to archive build: %v\n", err)
		return
	}

	saveScores := func(sr types.SprintResult) {
		for taskID, scores := range sr.Scores {
			if err := arch.SaveScores(build.BuildID, taskID, scores); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to archive scores for task %s: %v\n", taskID, err)
			}
		}
	}
	for _, sr := range build.Sprints {
		saveScores(sr)
	}
	if build.Integration != nil {
		saveScores(*build.Integration)
	}
}

func printBuildSummary(build *types.BuildResult) {
	status := "FAILED"
	if build.Success {
		status = "SUCCESS"
	}
	fmt.Printf("\nBuild %s: %s\n", build.BuildID, status)
	fmt.Printf("  Sprints:  %d\n", len(build.Sprints))
	fmt.Printf("  Tests:    %d\n", build.TotalTests)
	fmt.Printf("  Duration: %s\n", build.Duration.Round(time.Second))
	for _, sr := range build.Sprints {
		mark := "ok"
		if !sr.Passed {
			mark = "FAIL"
		}
		fmt.Printf("  - %s [%s] quality=%.1f iterations=%d\n", sr.Name, mark, sr.QualityScore, sr.Iterations)
	}
	if build.Integration != nil {
		mark := "ok"
		if !build.Integration.Passed {
			mark = "FAIL"
		}
		fmt.Printf("  - integration [%s] quality=%.1f\n", mark, build.Integration.QualityScore)
	}
}
