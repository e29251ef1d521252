package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/config"
	"github.com/castmatch/outreach-cli/internal/journal"
	"github.com/castmatch/outreach-cli/internal/store"
)

// Engine builds the pipeline runners from configuration and exposes them
// as schedulable tasks. The serve command registers Tasks() on a Scheduler;
// the sweep command resolves a single Task by name.
type Engine struct {
	cfg config.PipelineConfig

	enrichment  *EnrichmentRunner
	description *DescriptionRunner
	vetting     *VettingRunner
	limited     *LimitedRunner
	reconciler  *Reconciler
}

// Deps carries the collaborators an Engine wires together. Board and
// Journal may be nil; the affected steps are skipped.
type Deps struct {
	Store     *store.Store
	Locks     *store.LockManager
	Journal   journal.Journal
	Enricher  Enricher
	Describer Describer
	Scorer    Scorer
	Board     *ReviewMirror
	Config    config.PipelineConfig
}

// NewEngine assembles the runners. Per-stage timeouts and worker limits
// come from the pipeline configuration.
func NewEngine(d Deps) *Engine {
	cfg := d.Config

	// A typed nil assigned straight to the interface field would not
	// compare equal to nil inside the runners.
	var board reviewBoard
	if d.Board != nil {
		board = d.Board
	}

	matcher := NewMatchCreator(d.Store, board, cfg.QualifyThreshold)

	return &Engine{
		cfg: cfg,
		enrichment: NewEnrichmentRunner(
			d.Locks, d.Enricher, cfg.WorkerLimit, cfg.Enrichment.Timeout()),
		description: NewDescriptionRunner(
			d.Store, d.Describer, cfg.WorkerLimit, cfg.Description.Timeout(),
			cfg.MaxAttempts, cfg.BackoffBase()),
		vetting: NewVettingRunner(
			d.Locks, d.Store, d.Scorer, matcher, cfg.WorkerLimit,
			cfg.Vetting.Timeout(), cfg.QualifyThreshold),
		limited:    NewLimitedRunner(d.Store, matcher, cfg.QualifyThreshold),
		reconciler: NewReconciler(d.Store, d.Locks, board, d.Journal, cfg.Cooldown()),
	}
}

// Task resolves a runner by name into a one-shot task. A batch of zero or
// less falls back to the configured batch size; reconcile has no batch.
func (e *Engine) Task(name string, batch int) (Task, error) {
	switch name {
	case "enrichment":
		if batch <= 0 {
			batch = e.cfg.Enrichment.Batch
		}
		return e.task(name, e.cfg.Enrichment, batch, e.enrichment.Run), nil
	case "description":
		if batch <= 0 {
			batch = e.cfg.Description.Batch
		}
		return e.task(name, e.cfg.Description, batch, e.description.Run), nil
	case "vetting":
		if batch <= 0 {
			batch = e.cfg.Vetting.Batch
		}
		return e.task(name, e.cfg.Vetting, batch, e.vetting.Run), nil
	case "limited":
		if batch <= 0 {
			batch = e.cfg.LimitedBatch
		}
		return e.task(name, e.cfg.Vetting, batch, e.limited.Run), nil
	case "reconcile":
		return Task{
			Name:     name,
			Interval: e.cfg.ReconcileEvery(),
			Run: func(ctx context.Context) (Result, error) {
				return e.reconciler.Run(ctx)
			},
		}, nil
	default:
		return Task{}, eris.Errorf("pipeline: unknown task %q", name)
	}
}

// Tasks returns the recurring task set for the scheduler: the three stage
// sweeps, the limited retry sweep on the vetting cadence, and
// reconciliation.
func (e *Engine) Tasks() []Task {
	return []Task{
		e.task("enrichment", e.cfg.Enrichment, e.cfg.Enrichment.Batch, e.enrichment.Run),
		e.task("description", e.cfg.Description, e.cfg.Description.Batch, e.description.Run),
		e.task("vetting", e.cfg.Vetting, e.cfg.Vetting.Batch, e.vetting.Run),
		e.task("limited", e.cfg.Vetting, e.cfg.LimitedBatch, e.limited.Run),
		{
			Name:     "reconcile",
			Interval: e.cfg.ReconcileEvery(),
			Run: func(ctx context.Context) (Result, error) {
				return e.reconciler.Run(ctx)
			},
		},
	}
}

func (e *Engine) task(name string, sweep config.SweepConfig, batch int, run func(context.Context, int) (Result, error)) Task {
	return Task{
		Name:     name,
		Interval: sweep.Interval(),
		Run: func(ctx context.Context) (Result, error) {
			return run(ctx, batch)
		},
	}
}
