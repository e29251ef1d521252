package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/store"
)

// limitedStore lists records eligible for a quota-aware match retry.
type limitedStore interface {
	LimitedCandidates(ctx context.Context, campaignID string, defaultThreshold, limit int) ([]int64, error)
}

// LimitedRunner retries match creation for quota-limited records, plus
// qualified completed records a crash left unmatched. Stored scores are
// reused; nothing is re-scored. Operators trigger this after raising an
// allowance or at the weekly reset.
type LimitedRunner struct {
	store            limitedStore
	matcher          matchCreator
	defaultThreshold int
}

// NewLimitedRunner creates the limited-retry runner.
func NewLimitedRunner(st limitedStore, matcher matchCreator, defaultThreshold int) *LimitedRunner {
	return &LimitedRunner{store: st, matcher: matcher, defaultThreshold: defaultThreshold}
}

// Run retries at most batch candidates, oldest vetted first. Quota denials
// are not failures: candidates span clients, so one client's exhausted
// allowance never stops another's retries.
func (r *LimitedRunner) Run(ctx context.Context, batch int) (Result, error) {
	log := zap.L().With(zap.String("component", "pipeline.limited"))

	ids, err := r.store.LimitedCandidates(ctx, "", r.defaultThreshold, batch)
	if err != nil {
		return Result{}, eris.Wrap(err, "pipeline: list limited candidates")
	}
	if len(ids) == 0 {
		log.Debug("no limited candidates")
		return Result{}, nil
	}
	log.Info("limited sweep started", zap.Int("candidates", len(ids)))

	var res Result
	for _, id := range ids {
		switch err := r.matcher.Create(ctx, id); {
		case err == nil:
			res.Processed++
		case errors.Is(err, store.ErrQuotaLimited):
			log.Info("candidate still quota-limited", zap.Int64("discovery_id", id))
		case errors.Is(err, store.ErrAlreadyMatched):
			log.Debug("candidate already matched", zap.Int64("discovery_id", id))
		default:
			log.Warn("limited retry failed", zap.Int64("discovery_id", id), zap.Error(err))
			res.Failed++
		}
	}

	log.Info("limited sweep finished",
		zap.Int("processed", res.Processed), zap.Int("failed", res.Failed))
	return res, nil
}
