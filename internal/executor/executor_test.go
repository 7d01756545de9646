package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"kiln/internal/governor"
	"kiln/internal/graph"
	"kiln/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func task(id string, deps ...string) *types.Task {
	return &types.Task{ID: id, Title: id, Status: types.TaskPending, DependsOn: deps}
}

// fixedGovernor pins the budget for deterministic tests.
func fixedGovernor(t *testing.T) *governor.Governor {
	t.Helper()
	return governor.New(85, 0.8)
}

func TestRunLevel_BudgetBound(t *testing.T) {
	exec := New(fixedGovernor(t))

	const budget = 2
	var inFlight, peak int64
	var mu sync.Mutex

	level := []*types.Task{task("a"), task("b"), task("c"), task("d"), task("e")}
	run := func(ctx context.Context, tk *types.Task) error {
		cur := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	}

	outcomes := exec.RunLevel(context.Background(), level, run, budget)

	if len(outcomes) != len(level) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(level))
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > budget {
		t.Errorf("peak concurrency %d exceeded budget %d", peak, budget)
	}
}

func TestRunLevel_FailureDoesNotAbortSiblings(t *testing.T) {
	exec := New(fixedGovernor(t))

	level := []*types.Task{task("ok1"), task("boom"), task("ok2")}
	run := func(ctx context.Context, tk *types.Task) error {
		if tk.ID == "boom" {
			return errors.New("exploded")
		}
		return nil
	}

	outcomes := exec.RunLevel(context.Background(), level, run, 4)

	if outcomes["boom"].Status != types.TaskFailed {
		t.Errorf("boom status = %s, want failed", outcomes["boom"].Status)
	}
	if outcomes["boom"].Error != "exploded" {
		t.Errorf("boom error = %q", outcomes["boom"].Error)
	}
	for _, id := range []string{"ok1", "ok2"} {
		if outcomes[id].Status != types.TaskDone {
			t.Errorf("%s status = %s, want done", id, outcomes[id].Status)
		}
	}
}

func TestRun_BlocksDependentsOfFailedTask(t *testing.T) {
	exec := New(fixedGovernor(t))

	g, err := graph.New([]*types.Task{
		task("root"),
		task("child", "root"),
		task("grandchild", "child"),
		task("bystander"),
	})
	if err != nil {
		t.Fatalf("graph.New() error = %v", err)
	}

	var ran sync.Map
	run := func(ctx context.Context, tk *types.Task) error {
		ran.Store(tk.ID, true)
		if tk.ID == "root" {
			return errors.New("root failed")
		}
		return nil
	}

	outcomes, err := exec.Run(context.Background(), g, run)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcomes["root"].Status != types.TaskFailed {
		t.Errorf("root = %s, want failed", outcomes["root"].Status)
	}
	for _, id := range []string{"child", "grandchild"} {
		if outcomes[id].Status != types.TaskBlocked {
			t.Errorf("%s = %s, want blocked", id, outcomes[id].Status)
		}
		if _, executed := ran.Load(id); executed {
			t.Errorf("%s executed despite failed dependency", id)
		}
	}
	if outcomes["bystander"].Status != types.TaskDone {
		t.Errorf("bystander = %s, want done", outcomes["bystander"].Status)
	}
	if g.Task("child").LastError != "blocked by root" {
		t.Errorf("child LastError = %q", g.Task("child").LastError)
	}
}

func TestRun_SkipsAlreadyDoneTasks(t *testing.T) {
	exec := New(fixedGovernor(t))

	done := task("done")
	done.Status = types.TaskDone
	g, err := graph.New([]*types.Task{done, task("next", "done")})
	if err != nil {
		t.Fatalf("graph.New() error = %v", err)
	}

	var reran atomic.Bool
	run := func(ctx context.Context, tk *types.Task) error {
		if tk.ID == "done" {
			reran.Store(true)
		}
		return nil
	}

	outcomes, err := exec.Run(context.Background(), g, run)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reran.Load() {
		t.Errorf("already-done task was re-executed")
	}
	if outcomes["next"].Status != types.TaskDone {
		t.Errorf("next = %s, want done", outcomes["next"].Status)
	}
}

func TestRun_CyclicGraphFailsFast(t *testing.T) {
	exec := New(fixedGovernor(t))

	g, err := graph.New([]*types.Task{task("a", "b"), task("b", "a")})
	if err != nil {
		t.Fatalf("graph.New() error = %v", err)
	}

	var executed atomic.Bool
	run := func(ctx context.Context, tk *types.Task) error {
		executed.Store(true)
		return nil
	}

	if _, err := exec.Run(context.Background(), g, run); !errors.Is(err, graph.ErrCycle) {
		t.Fatalf("Run() error = %v, want ErrCycle", err)
	}
	if executed.Load() {
		t.Errorf("tasks ran despite cyclic graph")
	}
}

func TestRunLevel_CancelledContext(t *testing.T) {
	exec := New(fixedGovernor(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Budget 1 with an immediate cancel: tasks waiting on a slot must be
	// recorded as failed, never left pending.
	level := []*types.Task{task("a"), task("b")}
	started := make(chan struct{}, 2)
	run := func(ctx context.Context, tk *types.Task) error {
		started <- struct{}{}
		return ctx.Err()
	}

	outcomes := exec.RunLevel(ctx, level, run, 1)
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for id, o := range outcomes {
		if o.Status != types.TaskFailed {
			t.Errorf("%s = %s, want failed", id, o.Status)
		}
	}
}
