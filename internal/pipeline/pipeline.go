// Package pipeline advances discovery records through enrichment, AI
// description, vetting, and match creation, and keeps the whole funnel
// healthy with a periodic reconciler. Runners claim work through the store's
// lock manager, fan out over bounded worker pools, and release every claim
// with a classified outcome.
package pipeline

import (
	"context"

	"github.com/castmatch/outreach-cli/internal/aigen"
	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/store"
)

// Result summarizes one sweep: records that completed their stage and
// records whose attempt failed. Both feed the sweep journal.
type Result struct {
	Processed int
	Failed    int
}

func (r Result) add(other Result) Result {
	return Result{Processed: r.Processed + other.Processed, Failed: r.Failed + other.Failed}
}

// locker is the claim surface the stage runners drive. *store.LockManager
// satisfies it.
type locker interface {
	TryClaim(ctx context.Context, stage model.Stage, batchSize int) ([]store.Claim, error)
	Release(ctx context.Context, claim store.Claim, stage model.Stage, outcome store.Outcome) error
	CleanupStale(ctx context.Context, stage model.Stage) (int64, error)
}

// Enricher is the enrichment collaborator adapter.
type Enricher interface {
	EnrichMedia(ctx context.Context, mediaID string) error
}

// Describer is the AI description collaborator adapter.
type Describer interface {
	GenerateDescription(ctx context.Context, m *model.Media) (string, error)
}

// Scorer is the AI vetting collaborator adapter.
type Scorer interface {
	PrimeCriteria(ctx context.Context, criteria model.Criteria) error
	ScoreCandidate(ctx context.Context, criteria model.Criteria, profile model.MediaProfile) (*aigen.Verdict, error)
}
