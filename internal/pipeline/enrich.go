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
	"github.com/castmatch/outreach-cli/internal/store"
)

// EnrichmentRunner sweeps records whose enrichment stage is due: claims a
// batch, enriches each record's media under a per-call timeout, and releases
// every claim with the attempt's outcome.
type EnrichmentRunner struct {
	locks    locker
	enricher Enricher
	workers  int
	timeout  time.Duration
}

// NewEnrichmentRunner creates the enrichment stage runner.
func NewEnrichmentRunner(locks locker, enricher Enricher, workers int, timeout time.Duration) *EnrichmentRunner {
	return &EnrichmentRunner{locks: locks, enricher: enricher, workers: workers, timeout: timeout}
}

// Run executes one enrichment sweep over at most batch records.
func (r *EnrichmentRunner) Run(ctx context.Context, batch int) (Result, error) {
	log := zap.L().With(zap.String("component", "pipeline.enrichment"))

	claims, err := r.locks.TryClaim(ctx, model.StageEnrichment, batch)
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: claim enrichment batch")
	}
	if len(claims) == 0 {
		log.Debug("no enrichment work")
		return Result{}, nil
	}
	log.Info("enrichment sweep started", zap.Int("claimed", len(claims)))

	var processed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, claim := range claims {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, r.timeout)
			enrichErr := r.enricher.EnrichMedia(callCtx, claim.MediaID)
			cancel()

			// Release on the sweep context: the claim must be settled even
			// when the call itself timed out.
			relErr := r.locks.Release(ctx, claim, model.StageEnrichment, store.Outcome{Err: enrichErr})
			if relErr != nil {
				if errors.Is(relErr, store.ErrClaimLost) {
					log.Warn("enrichment claim lost", zap.Int64("discovery_id", claim.RecordID))
					return nil
				}
				// Unreleased claims go back through stale cleanup.
				log.Error("enrichment release failed",
					zap.Int64("discovery_id", claim.RecordID), zap.Error(relErr))
				failed.Add(1)
				return nil
			}

			if enrichErr != nil {
				log.Warn("enrichment attempt failed",
					zap.Int64("discovery_id", claim.RecordID),
					zap.String("media_id", claim.MediaID),
					zap.Int("attempts", claim.Attempts+1),
					zap.Error(enrichErr),
				)
				failed.Add(1)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Processed: int(processed.Load()), Failed: int(failed.Load())}
	log.Info("enrichment sweep finished",
		zap.Int("processed", res.Processed), zap.Int("failed", res.Failed))
	return res, nil
}
