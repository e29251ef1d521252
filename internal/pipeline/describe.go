package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/castmatch/outreach-cli/internal/model"
)

// descriptionStore is the store slice the description runner needs.
type descriptionStore interface {
	ClaimDescriptionBatch(ctx context.Context, batchSize, maxAttempts int, retryAfter time.Duration) ([]model.Media, error)
	SetMediaDescription(ctx context.Context, mediaID, description string) error
}

// DescriptionRunner sweeps media rows still missing an AI description.
// Descriptions live on media, not discovery records, so the claim is the
// attempt stamp bumped inside the batch query; there is no release step.
type DescriptionRunner struct {
	store       descriptionStore
	describer   Describer
	workers     int
	timeout     time.Duration
	maxAttempts int
	retryAfter  time.Duration
}

// NewDescriptionRunner creates the description stage runner. retryAfter is
// the wait between attempts on the same media row.
func NewDescriptionRunner(st descriptionStore, describer Describer, workers int, timeout time.Duration, maxAttempts int, retryAfter time.Duration) *DescriptionRunner {
	return &DescriptionRunner{
		store:       st,
		describer:   describer,
		workers:     workers,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		retryAfter:  retryAfter,
	}
}

// Run executes one description sweep over at most batch media rows.
func (r *DescriptionRunner) Run(ctx context.Context, batch int) (Result, error) {
	log := zap.L().With(zap.String("component", "pipeline.description"))

	media, err := r.store.ClaimDescriptionBatch(ctx, batch, r.maxAttempts, r.retryAfter)
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: claim description batch")
	}
	if len(media) == 0 {
		log.Debug("no description work")
		return Result{}, nil
	}
	log.Info("description sweep started", zap.Int("claimed", len(media)))

	var processed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range media {
		m := &media[i]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, r.timeout)
			desc, genErr := r.describer.GenerateDescription(callCtx, m)
			cancel()
			if genErr != nil {
				// The attempt stamp was already bumped at claim time; the
				// next sweep retries after the window regardless of class.
				log.Warn("description attempt failed",
					zap.String("media_id", m.ID),
					zap.String("title", m.Title),
					zap.Error(genErr),
				)
				failed.Add(1)
				return nil
			}

			if err := r.store.SetMediaDescription(gctx, m.ID, desc); err != nil {
				log.Error("description write failed",
					zap.String("media_id", m.ID), zap.Error(err))
				failed.Add(1)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Processed: int(processed.Load()), Failed: int(failed.Load())}
	log.Info("description sweep finished",
		zap.Int("processed", res.Processed), zap.Int("failed", res.Failed))
	return res, nil
}
