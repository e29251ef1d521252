package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/internal/store"
)

// vetStore is the store slice the vetting runner needs.
type vetStore interface {
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetMedia(ctx context.Context, id string) (*model.Media, error)
}

// matchCreator is the post-vetting match step. *MatchCreator satisfies it.
type matchCreator interface {
	Create(ctx context.Context, discoveryID int64) error
}

// VettingRunner sweeps records ready for vetting. Claims are grouped by
// campaign: each campaign's criteria block is primed into the prompt cache
// once, then the campaign's candidates fan out over the worker pool.
// Qualified scores flow straight into match creation.
type VettingRunner struct {
	locks            locker
	store            vetStore
	scorer           Scorer
	matcher          matchCreator
	workers          int
	timeout          time.Duration
	defaultThreshold int
}

// NewVettingRunner creates the vetting stage runner.
func NewVettingRunner(locks locker, st vetStore, scorer Scorer, matcher matchCreator, workers int, timeout time.Duration, defaultThreshold int) *VettingRunner {
	return &VettingRunner{
		locks:            locks,
		store:            st,
		scorer:           scorer,
		matcher:          matcher,
		workers:          workers,
		timeout:          timeout,
		defaultThreshold: defaultThreshold,
	}
}

// Run executes one vetting sweep over at most batch records.
func (r *VettingRunner) Run(ctx context.Context, batch int) (Result, error) {
	log := zap.L().With(zap.String("component", "pipeline.vetting"))

	claims, err := r.locks.TryClaim(ctx, model.StageVetting, batch)
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: claim vetting batch")
	}
	if len(claims) == 0 {
		log.Debug("no vetting work")
		return Result{}, nil
	}
	log.Info("vetting sweep started", zap.Int("claimed", len(claims)))

	byCampaign := make(map[string][]store.Claim)
	for _, c := range claims {
		byCampaign[c.CampaignID] = append(byCampaign[c.CampaignID], c)
	}

	var res Result
	for campaignID, campClaims := range byCampaign {
		res = res.add(r.runCampaign(ctx, log, campaignID, campClaims))
	}

	log.Info("vetting sweep finished",
		zap.Int("processed", res.Processed), zap.Int("failed", res.Failed))
	return res, nil
}

func (r *VettingRunner) runCampaign(ctx context.Context, log *zap.Logger, campaignID string, claims []store.Claim) Result {
	log = log.With(zap.String("campaign_id", campaignID))

	camp, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		loadErr := resilience.NewTransientError(eris.Wrap(err, "pipeline: load campaign"), 0)
		for _, claim := range claims {
			if relErr := r.locks.Release(ctx, claim, model.StageVetting, store.Outcome{Err: loadErr}); relErr != nil {
				log.Error("vetting release failed", zap.Int64("discovery_id", claim.RecordID), zap.Error(relErr))
			}
		}
		log.Error("campaign load failed", zap.Error(err))
		return Result{Failed: len(claims)}
	}

	// One primer writes the cached criteria block before the pool fans out;
	// scoring still works unprimed, it just pays concurrent cache writes.
	primerCtx, cancel := context.WithTimeout(ctx, r.timeout)
	if err := r.scorer.PrimeCriteria(primerCtx, camp.Criteria); err != nil {
		log.Warn("criteria primer failed", zap.Error(err))
	}
	cancel()

	var processed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, claim := range claims {
		g.Go(func() error {
			if scored := r.vetOne(gctx, ctx, log, camp, claim); scored {
				processed.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Result{Processed: int(processed.Load()), Failed: int(failed.Load())}
}

// vetOne scores one claimed record and settles its claim. The pool context
// bounds the scoring call; the sweep context settles the claim so a timed-out
// call still releases. Reports whether the record scored.
func (r *VettingRunner) vetOne(ctx, sweepCtx context.Context, log *zap.Logger, camp *model.Campaign, claim store.Claim) bool {
	log = log.With(zap.Int64("discovery_id", claim.RecordID))

	release := func(outcome store.Outcome) bool {
		if err := r.locks.Release(sweepCtx, claim, model.StageVetting, outcome); err != nil {
			if errors.Is(err, store.ErrClaimLost) {
				log.Warn("vetting claim lost")
			} else {
				log.Error("vetting release failed", zap.Error(err))
			}
			return false
		}
		return true
	}

	media, err := r.store.GetMedia(ctx, claim.MediaID)
	if err != nil {
		release(store.Outcome{Err: resilience.NewTransientError(eris.Wrap(err, "pipeline: load media"), 0)})
		log.Warn("media load failed", zap.String("media_id", claim.MediaID), zap.Error(err))
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	verdict, err := r.scorer.ScoreCandidate(callCtx, camp.Criteria, media.Profile())
	cancel()
	if err != nil {
		release(store.Outcome{Err: err})
		log.Warn("vetting attempt failed",
			zap.Int("attempts", claim.Attempts+1), zap.Error(err))
		return false
	}

	if !release(store.Outcome{Score: &verdict.Score, Reasoning: verdict.Reasoning}) {
		// Whoever reclaimed the record owns its result now.
		return false
	}
	log.Info("candidate vetted", zap.Int("score", verdict.Score))

	if verdict.Score < camp.Threshold(r.defaultThreshold) {
		return true
	}

	switch err := r.matcher.Create(sweepCtx, claim.RecordID); {
	case err == nil:
	case errors.Is(err, store.ErrQuotaLimited):
		log.Info("match deferred, weekly quota exhausted")
	case errors.Is(err, store.ErrAlreadyMatched):
		log.Debug("match already exists")
	default:
		// The limited sweep retries from the stored score.
		log.Warn("match creation failed", zap.Error(err))
	}
	return true
}
