package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/basket/go-steward/internal/audit"
	"github.com/basket/go-steward/internal/coordinator"
	"github.com/basket/go-steward/internal/maintainer"
	"github.com/basket/go-steward/internal/shared"
	"github.com/basket/go-steward/internal/state"
)

// Phase names the orchestrator's current stage, exposed for status
// reporting.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePlanning    Phase = "planning"
	PhaseExecuting   Phase = "executing"
	PhaseMaintaining Phase = "maintaining"
	PhaseReporting   Phase = "reporting"
)

// minSleep is the floor on any scheduler wait so a misconfigured
// schedule cannot spin the loop.
const minSleep = 60 * time.Second

// Planner builds the daily plan.
type Planner interface {
	BuildPlan(ctx context.Context) (coordinator.Plan, error)
}

// Executor carries a plan out.
type Executor interface {
	ExecutePlan(ctx context.Context, plan coordinator.Plan) coordinator.Result
}

// Sweeper runs the maintenance pass.
type Sweeper interface {
	Sweep(ctx context.Context) (maintainer.Summary, error)
}

// Gatherer refreshes the idea batch. Optional.
type Gatherer interface {
	Gather(ctx context.Context) (state.IdeaBatch, error)
}

// Config wires the orchestrator's collaborators and schedule.
type Config struct {
	Planner  Planner
	Executor Executor
	Sweeper  Sweeper
	Gatherer Gatherer

	// CollectStats snapshots organization counters. Optional.
	CollectStats func(ctx context.Context) (state.OrgStats, error)

	// SendDailyReport dispatches the daily digest. Optional.
	SendDailyReport func(ctx context.Context) error

	Store *state.Store
	Audit *audit.Log

	PlansDir  string
	KeepPlans int

	// CronExpr takes precedence; DailyHour is the UTC fallback.
	CronExpr  string
	DailyHour int

	Logger *slog.Logger

	// OnCycleDone fires with the cycle duration, for metrics.
	OnCycleDone func(d time.Duration)
}

// Orchestrator drives the daily cycle: plan, execute, maintain, report.
// Every stage is contained; a failing or panicking stage logs and the
// cycle moves on.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	phase     atomic.Value // Phase
	lastCycle atomic.Value // time.Time
	nextFire  atomic.Value // time.Time

	cronSched cron.Schedule

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Planner == nil || cfg.Executor == nil || cfg.Sweeper == nil || cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator requires planner, executor, sweeper, and store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	o.phase.Store(PhaseIdle)

	if cfg.CronExpr != "" {
		sched, err := cron.ParseStandard(cfg.CronExpr)
		if err != nil {
			logger.Warn("invalid cron expression, using daily hour",
				"expr", cfg.CronExpr, "hour", cfg.DailyHour, "error", err)
		} else {
			o.cronSched = sched
		}
	}
	return o, nil
}

// Phase returns the current stage.
func (o *Orchestrator) Phase() Phase {
	return o.phase.Load().(Phase)
}

// LastCycle returns when the last cycle finished, zero if none has.
func (o *Orchestrator) LastCycle() time.Time {
	if v := o.lastCycle.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// NextFire returns the next scheduled cycle time, zero before Run.
func (o *Orchestrator) NextFire() time.Time {
	if v := o.nextFire.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run blocks, firing a cycle at each scheduled time until the context
// is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scheduler started",
		"cron", o.cfg.CronExpr, "daily_hour", o.cfg.DailyHour)
	for {
		next := o.nextFireTime(o.now())
		o.nextFire.Store(next)
		wait := next.Sub(o.now())
		o.logger.Info("sleeping until next cycle", "next", next.Format(time.RFC3339), "wait", wait.String())
		if err := o.sleep(ctx, wait); err != nil {
			o.logger.Info("scheduler stopped")
			return nil
		}
		o.RunCycle(ctx)
	}
}

// nextFireTime computes the next cycle time after now, never sooner
// than the minimum sleep floor.
func (o *Orchestrator) nextFireTime(now time.Time) time.Time {
	var next time.Time
	if o.cronSched != nil {
		next = o.cronSched.Next(now)
	} else {
		next = time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(),
			o.cfg.DailyHour, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
	}
	if floor := now.Add(minSleep); next.Before(floor) {
		next = floor
	}
	return next
}

// RunCycle executes one full cycle immediately.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	started := o.now()
	o.logger.Info("cycle started")
	o.auditRecord("cycle_start", "", state.OutcomeSuccess, "", "")

	var plan coordinator.Plan

	if o.cfg.Gatherer != nil {
		o.stage(ctx, PhasePlanning, "gather_ideas", func(ctx context.Context) error {
			_, err := o.cfg.Gatherer.Gather(ctx)
			return err
		})
	}

	// A fresh stats snapshot lands in the store before planning so the
	// planning prompt and the end-of-cycle report both see it.
	if o.cfg.CollectStats != nil {
		o.stage(ctx, PhasePlanning, "collect_stats", func(ctx context.Context) error {
			stats, err := o.cfg.CollectStats(ctx)
			if err != nil {
				return err
			}
			return o.cfg.Store.Mutate(func(doc *state.Document) {
				doc.Stats = stats
			})
		})
	}

	planned := o.stage(ctx, PhasePlanning, "plan", func(ctx context.Context) error {
		p, err := o.cfg.Planner.BuildPlan(ctx)
		if err != nil {
			return err
		}
		plan = p
		if o.cfg.PlansDir != "" {
			if _, err := coordinator.WritePlanArtifact(o.cfg.PlansDir, plan, o.cfg.KeepPlans); err != nil {
				o.logger.Warn("plan artifact write failed", "error", err)
			}
		}
		return nil
	})

	if planned {
		o.stage(ctx, PhaseExecuting, "execute", func(ctx context.Context) error {
			res := o.cfg.Executor.ExecutePlan(ctx, plan)
			o.auditRecord("plan_executed", plan.CycleID, state.OutcomeSuccess,
				fmt.Sprintf("executed=%d skipped=%d failed=%d dry_run=%d",
					res.Executed, res.Skipped, res.Failed, res.DryRun), plan.CycleID)
			return nil
		})
	}

	o.stage(ctx, PhaseMaintaining, "maintain", func(ctx context.Context) error {
		_, err := o.cfg.Sweeper.Sweep(ctx)
		return err
	})

	o.stage(ctx, PhaseReporting, "report", func(ctx context.Context) error {
		if o.cfg.SendDailyReport != nil {
			return o.cfg.SendDailyReport(ctx)
		}
		return nil
	})

	o.phase.Store(PhaseIdle)
	finished := o.now()
	o.lastCycle.Store(finished)
	elapsed := finished.Sub(started)
	if o.cfg.OnCycleDone != nil {
		o.cfg.OnCycleDone(elapsed)
	}
	o.auditRecord("cycle_end", "", state.OutcomeSuccess, elapsed.String(), "")
	o.logger.Info("cycle finished", "elapsed", elapsed.String())
}

// stage runs one cycle stage with panic and error containment. The
// return value reports whether the stage succeeded.
func (o *Orchestrator) stage(ctx context.Context, phase Phase, name string, fn func(ctx context.Context) error) (ok bool) {
	o.phase.Store(phase)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("stage panicked", "stage", name, "panic", r)
			o.auditRecord("stage_panic", name, state.OutcomeFailure, fmt.Sprintf("%v", r), "")
			ok = false
		}
	}()
	if err := fn(ctx); err != nil {
		o.logger.Error("stage failed", "stage", name, "error", shared.Redact(err.Error()))
		o.auditRecord("stage_failed", name, state.OutcomeFailure, err.Error(), "")
		return false
	}
	return true
}

func (o *Orchestrator) auditRecord(event, target, outcome, detail, cycleID string) {
	if o.cfg.Audit != nil {
		o.cfg.Audit.Record(event, target, outcome, detail, cycleID)
	}
}
