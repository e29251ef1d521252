package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/journal"
	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/store"
)

const (
	qualityRepairBatch = 100
	cardRepostBatch    = 50
	journalRetention   = 30 * 24 * time.Hour
)

// reconcileStore is the store slice the reconciler repairs through.
type reconcileStore interface {
	AdvanceEnrichedPending(ctx context.Context) (int64, error)
	ResetCooledFailures(ctx context.Context, stage model.Stage, cooledBefore time.Time) (int64, error)
	MediaMissingQuality(ctx context.Context, limit int) ([]model.Media, error)
	SetMediaQuality(ctx context.Context, mediaID string, score float64, ready bool) error
	ReviewTasksWithoutPage(ctx context.Context, limit int) ([]store.MatchCardContext, error)
	SetReviewTaskNotionPage(ctx context.Context, taskID, pageID string) error
	SetReviewStatusByNotionPage(ctx context.Context, pageID string, status model.ReviewTaskStatus) (bool, error)
}

// Reconciler is the pipeline's repair sweep: it reclaims stale stage claims,
// revives cooled transient failures, completes enrichment for records whose
// media was filled in through another campaign, backfills missing quality
// aggregates, settles the review board (decisions in, missed cards out), and
// prunes old journal entries. Every step is independent; one failing step
// never blocks the rest.
type Reconciler struct {
	store    reconcileStore
	locks    locker
	board    reviewBoard
	journal  journal.Journal
	cooldown time.Duration
}

// NewReconciler creates the repair sweep. A nil board skips board sync; a
// nil journal skips pruning.
func NewReconciler(st reconcileStore, locks locker, board reviewBoard, j journal.Journal, cooldown time.Duration) *Reconciler {
	return &Reconciler{store: st, locks: locks, board: board, journal: j, cooldown: cooldown}
}

// Run executes one repair pass. Processed counts repaired rows across all
// steps; Failed counts steps that errored.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	log := zap.L().With(zap.String("component", "pipeline.reconciler"))

	var res Result
	step := func(name string, fn func() (int64, error)) {
		n, err := fn()
		if err != nil {
			log.Error("reconcile step failed", zap.String("step", name), zap.Error(err))
			res.Failed++
			return
		}
		if n > 0 {
			log.Info("reconcile step repaired", zap.String("step", name), zap.Int64("rows", n))
		}
		res.Processed += int(n)
	}

	step("stale_enrichment_claims", func() (int64, error) {
		return r.locks.CleanupStale(ctx, model.StageEnrichment)
	})
	step("stale_vetting_claims", func() (int64, error) {
		return r.locks.CleanupStale(ctx, model.StageVetting)
	})

	cooledBefore := time.Now().UTC().Add(-r.cooldown)
	step("cooled_enrichment_failures", func() (int64, error) {
		return r.store.ResetCooledFailures(ctx, model.StageEnrichment, cooledBefore)
	})
	step("cooled_vetting_failures", func() (int64, error) {
		return r.store.ResetCooledFailures(ctx, model.StageVetting, cooledBefore)
	})

	step("enriched_pending_records", func() (int64, error) {
		return r.store.AdvanceEnrichedPending(ctx)
	})
	step("media_quality_backfill", func() (int64, error) {
		return r.backfillQuality(ctx, log)
	})

	if r.board != nil {
		step("review_decisions", func() (int64, error) {
			return r.syncDecisions(ctx, log)
		})
		step("unmirrored_review_cards", func() (int64, error) {
			return r.repostCards(ctx, log)
		})
	}

	if r.journal != nil {
		step("journal_pruning", func() (int64, error) {
			return r.journal.PruneBefore(ctx, time.Now().UTC().Add(-journalRetention))
		})
	}

	return res, nil
}

// backfillQuality recomputes the quality aggregate for media whose raw
// signals are complete but whose aggregate was never derived.
func (r *Reconciler) backfillQuality(ctx context.Context, log *zap.Logger) (int64, error) {
	media, err := r.store.MediaMissingQuality(ctx, qualityRepairBatch)
	if err != nil {
		return 0, err
	}

	var repaired int64
	for i := range media {
		m := &media[i]
		sig := model.MediaSignals{
			AudienceReach:   m.AudienceReach,
			EpisodeCount:    m.EpisodeCount,
			SocialFollowers: m.SocialFollowers,
			EngagementScore: m.EngagementScore,
		}
		if err := r.store.SetMediaQuality(ctx, m.ID, sig.QualityScore(), true); err != nil {
			log.Warn("quality backfill write failed", zap.String("media_id", m.ID), zap.Error(err))
			continue
		}
		repaired++
	}
	return repaired, nil
}

// syncDecisions pulls decided board cards, records the verdicts locally, and
// flips consumed cards to synced. A card that fails to record stays in the
// decided queue for the next pass.
func (r *Reconciler) syncDecisions(ctx context.Context, log *zap.Logger) (int64, error) {
	decisions, err := r.board.PullDecisions(ctx)
	if err != nil {
		return 0, err
	}

	var synced int64
	for _, d := range decisions {
		status := model.ReviewRejected
		if d.Approved {
			status = model.ReviewApproved
		}

		found, err := r.store.SetReviewStatusByNotionPage(ctx, d.PageID, status)
		if err != nil {
			log.Warn("review decision write failed", zap.String("page_id", d.PageID), zap.Error(err))
			continue
		}
		if !found {
			// Hand-created card; sync it out of the queue anyway.
			log.Warn("decided card matches no review task", zap.String("page_id", d.PageID))
		}

		if err := r.board.MarkSynced(ctx, d.PageID); err != nil {
			log.Warn("card sync mark failed", zap.String("page_id", d.PageID), zap.Error(err))
			continue
		}
		if found {
			synced++
		}
	}
	return synced, nil
}

// repostCards mirrors review tasks whose card never made it to the board.
func (r *Reconciler) repostCards(ctx context.Context, log *zap.Logger) (int64, error) {
	tasks, err := r.store.ReviewTasksWithoutPage(ctx, cardRepostBatch)
	if err != nil {
		return 0, err
	}

	var reposted int64
	for _, mc := range tasks {
		pageID, err := r.board.PostCard(ctx, mc)
		if err != nil {
			log.Warn("card repost failed", zap.String("task_id", mc.TaskID), zap.Error(err))
			continue
		}
		if err := r.store.SetReviewTaskNotionPage(ctx, mc.TaskID, pageID); err != nil {
			log.Warn("reposted card page id write failed", zap.String("task_id", mc.TaskID), zap.Error(err))
			continue
		}
		reposted++
	}
	return reposted, nil
}
