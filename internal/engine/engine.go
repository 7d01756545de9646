// Package engine implements the outermost phase lifecycle of a kiln run:
// idle -> converging -> orchestrating -> complete -> output, with a
// checkpoint written at every phase boundary and on pause. All run state
// is session-scoped on the Engine; concurrent builds never share state.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"kiln/internal/config"
	"kiln/internal/executor"
	"kiln/internal/governor"
	"kiln/internal/logging"
	"kiln/internal/sprint"
	"kiln/internal/types"
)

// Phase represents the lifecycle phase of a run.
type Phase string

const (
	PhaseIdle          Phase = "/idle"
	PhaseConverging    Phase = "/converging"    // Discovery and planning
	PhaseOrchestrating Phase = "/orchestrating" // Sprint execution
	PhaseComplete      Phase = "/complete"      // Build finished, results gathered
	PhaseOutput        Phase = "/output"        // Results written for the host
	PhasePaused        Phase = "/paused"
	PhaseFailed        Phase = "/failed"
)

// Planner turns a goal into sprints. External collaborator: the engine
// does not understand natural language itself.
type Planner interface {
	Plan(ctx context.Context, goal string) ([]*types.Sprint, error)
}

// State is the project state owned by the lifecycle and serialized into
// checkpoints.
type State struct {
	RunID   string             `json:"run_id"`
	Goal    string             `json:"goal"`
	Phase   Phase              `json:"phase"`
	Sprints []*types.Sprint    `json:"sprints,omitempty"`
	Build   *types.BuildResult `json:"build,omitempty"`
}

// Config wires an Engine.
type Config struct {
	Workspace string
	Goal      string
	Planner   Planner
	Generator types.Generator
	Tests     types.TestRunner
	Reviewer  types.Reviewer
	Engine    *config.Config
	Events    chan types.Event // Optional; non-blocking sends
}

// Engine owns one run's lifecycle.
type Engine struct {
	mu sync.RWMutex

	workspace string
	kilnDir   string
	cfg       *config.Config
	planner   Planner
	runner    *sprint.Runner
	ckpt      *CheckpointStore
	events    chan types.Event

	state     State
	isRunning bool
	isPaused  bool
	cancel    context.CancelFunc
}

// New creates an engine for the given workspace.
func New(cfg Config) (*Engine, error) {
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace required")
	}
	if cfg.Planner == nil || cfg.Generator == nil || cfg.Tests == nil || cfg.Reviewer == nil {
		return nil, fmt.Errorf("planner, generator, test runner, and reviewer are all required")
	}
	if cfg.Engine == nil {
		cfg.Engine = config.Default()
	}

	kilnDir := filepath.Join(cfg.Workspace, ".kiln")

	e := &Engine{
		workspace: cfg.Workspace,
		kilnDir:   kilnDir,
		cfg:       cfg.Engine,
		planner:   cfg.Planner,
		events:    cfg.Events,
		ckpt:      NewCheckpointStore(kilnDir),
		state: State{
			RunID: uuid.NewString(),
			Goal:  cfg.Goal,
			Phase: PhaseIdle,
		},
	}

	gov := governor.New(cfg.Engine.Governor.MemThresholdPct, cfg.Engine.Governor.CPUThresholdMultiplier)
	exec := executor.New(gov)
	e.runner = sprint.NewRunner(exec, cfg.Generator, cfg.Tests, cfg.Reviewer, cfg.Engine, cfg.Workspace, e.emit)

	return e, nil
}

// emit publishes an event without ever blocking the lifecycle.
func (e *Engine) emit(ev types.Event) {
	if e.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.events <- ev:
	default:
		// Channel full, drop.
	}
}

// Run drives the lifecycle from the current phase to output. It returns
// nil on a completed run (even a failed build: the BuildResult carries
// the diagnostics) and an error only for engine-level failures.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("run already in progress")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.isRunning = true
	e.isPaused = false
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isRunning = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	// Watch for the pause control file for the duration of the run.
	watcher, err := NewControlWatcher(e.workspace, e.Pause)
	if err == nil {
		watcher.Start()
		defer watcher.Stop()
	} else {
		logging.Lifecycle("control watcher unavailable: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.pauseAndCheckpoint()
			return ctx.Err()
		default:
		}

		e.mu.RLock()
		paused := e.isPaused
		phase := e.state.Phase
		e.mu.RUnlock()

		if paused {
			e.pauseAndCheckpoint()
			return nil
		}

		logging.Lifecycle("phase %s", phase)

		switch phase {
		case PhaseIdle:
			e.transition(PhaseConverging)

		case PhaseConverging:
			sprints, err := e.planner.Plan(ctx, e.state.Goal)
			if err != nil {
				return e.fail(fmt.Errorf("planning failed: %w", err))
			}
			if len(sprints) == 0 {
				return e.fail(fmt.Errorf("planning produced no sprints"))
			}
			e.mu.Lock()
			e.state.Sprints = sprints
			e.mu.Unlock()
			e.transition(PhaseOrchestrating)

		case PhaseOrchestrating:
			build := e.runner.RunBuild(ctx, e.state.Sprints)
			e.mu.Lock()
			e.state.Build = build
			e.mu.Unlock()
			e.transition(PhaseComplete)

		case PhaseComplete:
			// Results are gathered; nothing to compute beyond the build
			// aggregate itself.
			e.transition(PhaseOutput)

		case PhaseOutput:
			if err := e.writeOutput(); err != nil {
				return e.fail(fmt.Errorf("writing output: %w", err))
			}
			e.checkpoint()
			logging.Lifecycle("run %s finished: success=%v", e.state.RunID, e.state.Build.Success)
			return nil

		default:
			return e.fail(fmt.Errorf("unexpected phase %s", phase))
		}
	}
}

// transition moves to the next phase, emits, and checkpoints.
func (e *Engine) transition(next Phase) {
	e.mu.Lock()
	prev := e.state.Phase
	e.state.Phase = next
	e.mu.Unlock()

	logging.Lifecycle("transition %s -> %s", prev, next)
	e.emit(types.Event{Type: types.EventPhaseStarted, Message: string(next)})
	e.checkpoint()
}

// fail marks the run failed, checkpoints, and returns the error.
func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.state.Phase = PhaseFailed
	e.mu.Unlock()
	e.checkpoint()
	logging.Lifecycle("run failed: %v", err)
	return err
}

// checkpoint persists the current state. Checkpoint write failures are
// logged, not fatal: the run itself is healthy.
func (e *Engine) checkpoint() {
	e.mu.RLock()
	st := e.state
	e.mu.RUnlock()

	if err := e.ckpt.Write(&st); err != nil {
		logging.Lifecycle("checkpoint write failed: %v", err)
		return
	}
	e.emit(types.Event{Type: types.EventCheckpoint, Message: string(st.Phase)})
}

func (e *Engine) pauseAndCheckpoint() {
	e.mu.Lock()
	e.isPaused = true
	e.state.Phase = PhasePaused
	e.mu.Unlock()
	e.checkpoint()
	e.emit(types.Event{Type: types.EventPaused, Message: "run paused"})
}

// Pause requests a pause at the next phase boundary.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isPaused = true
	logging.Lifecycle("pause requested")
}

// Stop cancels the run immediately. A checkpoint is written on the way
// out so the run can be resumed.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Resume restores state from the latest checkpoint and continues the
// run. The checkpoint is the sole input: no deltas, no merging.
func (e *Engine) Resume(ctx context.Context) error {
	st, err := e.ckpt.Latest()
	if err != nil {
		return fmt.Errorf("no checkpoint to resume from: %w", err)
	}

	e.mu.Lock()
	e.state = *st
	if e.state.Phase == PhasePaused {
		// Resume re-enters the phase the pause interrupted; a pause is
		// only taken at phase boundaries, so re-planning is safe.
		e.state.Phase = e.resumePhase()
	}
	e.mu.Unlock()

	e.emit(types.Event{Type: types.EventResumed, Message: string(e.state.Phase)})
	logging.Lifecycle("resuming run %s at phase %s", e.state.RunID, e.state.Phase)
	return e.Run(ctx)
}

// resumePhase picks the phase to re-enter after a pause based on what
// state the checkpoint carries.
func (e *Engine) resumePhase() Phase {
	switch {
	case e.state.Build != nil:
		return PhaseComplete
	case len(e.state.Sprints) > 0:
		return PhaseOrchestrating
	default:
		return PhaseConverging
	}
}

// Progress is a point-in-time snapshot for the host.
type Progress struct {
	RunID        string  `json:"run_id"`
	Phase        string  `json:"phase"`
	TotalSprints int     `json:"total_sprints"`
	DoneSprints  int     `json:"done_sprints"`
	TotalTasks   int     `json:"total_tasks"`
	DoneTasks    int     `json:"done_tasks"`
	Overall      float64 `json:"overall"` // 0.0-1.0
}

// GetProgress reports current run progress.
func (e *Engine) GetProgress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := Progress{
		RunID:        e.state.RunID,
		Phase:        string(e.state.Phase),
		TotalSprints: len(e.state.Sprints),
	}
	if e.state.Build != nil {
		p.DoneSprints = len(e.state.Build.Sprints)
	}
	for _, sp := range e.state.Sprints {
		for _, t := range sp.Tasks {
			p.TotalTasks++
			if t.Status == types.TaskDone {
				p.DoneTasks++
			}
		}
	}
	if p.TotalTasks > 0 {
		p.Overall = float64(p.DoneTasks) / float64(p.TotalTasks)
	}
	return p
}

// State returns a copy of the current run state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// writeOutput writes the final BuildResult where the host can read it.
func (e *Engine) writeOutput() error {
	outDir := filepath.Join(e.kilnDir, "output")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(e.state.Build, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "build.json"), data, 0644)
}
