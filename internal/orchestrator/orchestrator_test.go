package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/go-steward/internal/coordinator"
	"github.com/basket/go-steward/internal/maintainer"
	"github.com/basket/go-steward/internal/state"
)

type fakePlanner struct {
	plan    coordinator.Plan
	err     error
	panics  bool
	calls   int
	onBuild func()
}

func (f *fakePlanner) BuildPlan(ctx context.Context) (coordinator.Plan, error) {
	f.calls++
	if f.onBuild != nil {
		f.onBuild()
	}
	if f.panics {
		panic("planner exploded")
	}
	return f.plan, f.err
}

type fakeExecutor struct {
	res   coordinator.Result
	calls int
	got   coordinator.Plan
}

func (f *fakeExecutor) ExecutePlan(ctx context.Context, plan coordinator.Plan) coordinator.Result {
	f.calls++
	f.got = plan
	return f.res
}

type fakeSweeper struct {
	sum   maintainer.Summary
	err   error
	calls int
}

func (f *fakeSweeper) Sweep(ctx context.Context) (maintainer.Summary, error) {
	f.calls++
	return f.sum, f.err
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return state.NewStore(filepath.Join(t.TempDir(), "state.json"), logger)
}

func newOrch(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.Store == nil {
		cfg.Store = newStore(t)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestRunCycleOrder(t *testing.T) {
	planner := &fakePlanner{plan: coordinator.Plan{CycleID: "c1", Date: "2026-08-29"}}
	executor := &fakeExecutor{}
	sweeper := &fakeSweeper{}
	reported := false

	o := newOrch(t, Config{
		Planner:  planner,
		Executor: executor,
		Sweeper:  sweeper,
		SendDailyReport: func(ctx context.Context) error {
			reported = true
			return nil
		},
		PlansDir:  t.TempDir(),
		KeepPlans: 5,
	})

	o.RunCycle(context.Background())

	if planner.calls != 1 || executor.calls != 1 || sweeper.calls != 1 || !reported {
		t.Errorf("calls: planner=%d executor=%d sweeper=%d reported=%v",
			planner.calls, executor.calls, sweeper.calls, reported)
	}
	if executor.got.CycleID != "c1" {
		t.Errorf("executor got plan %+v", executor.got)
	}
	if o.Phase() != PhaseIdle {
		t.Errorf("phase = %q after cycle", o.Phase())
	}
	if o.LastCycle().IsZero() {
		t.Error("LastCycle not recorded")
	}
}

func TestPlanFailureSkipsExecuteButMaintains(t *testing.T) {
	planner := &fakePlanner{err: errors.New("model down")}
	executor := &fakeExecutor{}
	sweeper := &fakeSweeper{}

	o := newOrch(t, Config{Planner: planner, Executor: executor, Sweeper: sweeper})
	o.RunCycle(context.Background())

	if executor.calls != 0 {
		t.Error("executor must not run without a plan")
	}
	if sweeper.calls != 1 {
		t.Error("maintenance must still run after a planning failure")
	}
}

func TestStagePanicContained(t *testing.T) {
	planner := &fakePlanner{panics: true}
	sweeper := &fakeSweeper{}

	o := newOrch(t, Config{Planner: planner, Executor: &fakeExecutor{}, Sweeper: sweeper})
	o.RunCycle(context.Background())

	if sweeper.calls != 1 {
		t.Error("panic in planning must not abort the cycle")
	}
	if o.Phase() != PhaseIdle {
		t.Errorf("phase = %q", o.Phase())
	}
}

func TestStatsCollectedBeforePlanning(t *testing.T) {
	store := newStore(t)
	planner := &fakePlanner{}
	var statsAtPlan state.OrgStats
	planner.onBuild = func() { statsAtPlan = store.Load().Stats }

	o := newOrch(t, Config{
		Planner:  planner,
		Executor: &fakeExecutor{},
		Sweeper:  &fakeSweeper{},
		Store:    store,
		CollectStats: func(ctx context.Context) (state.OrgStats, error) {
			return state.OrgStats{RepoCount: 4, StarsTotal: 12}, nil
		},
	})
	o.RunCycle(context.Background())

	// The snapshot must already be in the store when planning starts.
	if statsAtPlan.RepoCount != 4 || statsAtPlan.StarsTotal != 12 {
		t.Errorf("stats at plan time = %+v", statsAtPlan)
	}
	doc := store.Load()
	if doc.Stats.RepoCount != 4 || doc.Stats.StarsTotal != 12 {
		t.Errorf("stats = %+v", doc.Stats)
	}
}

func TestNextFireFixedHour(t *testing.T) {
	o := newOrch(t, Config{
		Planner: &fakePlanner{}, Executor: &fakeExecutor{}, Sweeper: &fakeSweeper{},
		DailyHour: 2,
	})

	now := time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC)
	next := o.nextFireTime(now)
	want := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// Past today's hour rolls to tomorrow.
	now = time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	next = o.nextFireTime(now)
	want = time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextFireCron(t *testing.T) {
	o := newOrch(t, Config{
		Planner: &fakePlanner{}, Executor: &fakeExecutor{}, Sweeper: &fakeSweeper{},
		CronExpr: "30 4 * * *",
	})

	now := time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC)
	next := o.nextFireTime(now)
	if next.Hour() != 4 || next.Minute() != 30 {
		t.Errorf("next = %v", next)
	}
}

func TestNextFireFloor(t *testing.T) {
	o := newOrch(t, Config{
		Planner: &fakePlanner{}, Executor: &fakeExecutor{}, Sweeper: &fakeSweeper{},
		DailyHour: 2,
	})

	// Seconds before the scheduled hour, the floor pushes the fire out.
	now := time.Date(2026, 8, 29, 1, 59, 50, 0, time.UTC)
	next := o.nextFireTime(now)
	if next.Sub(now) < minSleep {
		t.Errorf("wait = %v, want >= %v", next.Sub(now), minSleep)
	}
}

func TestInvalidCronFallsBack(t *testing.T) {
	o := newOrch(t, Config{
		Planner: &fakePlanner{}, Executor: &fakeExecutor{}, Sweeper: &fakeSweeper{},
		CronExpr: "not a cron expr", DailyHour: 6,
	})
	if o.cronSched != nil {
		t.Error("invalid cron should not compile")
	}
	now := time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC)
	next := o.nextFireTime(now)
	if next.Hour() != 6 {
		t.Errorf("next = %v, want hour 6", next)
	}
}

func TestRunFiresAndStops(t *testing.T) {
	planner := &fakePlanner{}
	o := newOrch(t, Config{
		Planner: planner, Executor: &fakeExecutor{}, Sweeper: &fakeSweeper{},
		DailyHour: 2,
	})

	var waits int
	o.sleep = func(ctx context.Context, d time.Duration) error {
		waits++
		if waits > 2 {
			return context.Canceled
		}
		return nil
	}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if planner.calls != 2 {
		t.Errorf("cycles = %d, want 2", planner.calls)
	}
	if o.NextFire().IsZero() {
		t.Error("NextFire not recorded")
	}
}
