package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/store"
)

func enrichClaims(n int) []store.Claim {
	claims := make([]store.Claim, 0, n)
	for i := 1; i <= n; i++ {
		claims = append(claims, store.Claim{
			RecordID:   int64(i),
			CampaignID: "camp-1",
			MediaID:    fmt.Sprintf("media-%d", i),
			Token:      fmt.Sprintf("tok-%d", i),
		})
	}
	return claims
}

func TestEnrichmentRun_SweepsWholeBatch(t *testing.T) {
	locks := &mockLocker{claims: enrichClaims(3)}
	enricher := &mockEnricher{}
	runner := NewEnrichmentRunner(locks, enricher, 2, time.Second)

	res, err := runner.Run(context.Background(), 25)
	require.NoError(t, err)

	assert.Equal(t, Result{Processed: 3}, res)
	assert.Equal(t, model.StageEnrichment, locks.claimedStage)
	assert.Equal(t, 25, locks.claimedBatch)
	assert.Len(t, enricher.calls, 3)
	require.Len(t, locks.released, 3)
	for _, rel := range locks.released {
		assert.Equal(t, model.StageEnrichment, rel.stage)
		assert.NoError(t, rel.outcome.Err)
	}
}

func TestEnrichmentRun_FailedAttemptReleasesWithError(t *testing.T) {
	enrichErr := eris.New("provider down")
	locks := &mockLocker{claims: enrichClaims(3)}
	enricher := &mockEnricher{errFor: map[string]error{"media-2": enrichErr}}
	runner := NewEnrichmentRunner(locks, enricher, 2, time.Second)

	res, err := runner.Run(context.Background(), 25)
	require.NoError(t, err)

	assert.Equal(t, Result{Processed: 2, Failed: 1}, res)
	rel, ok := locks.releasedFor(2)
	require.True(t, ok)
	assert.ErrorIs(t, rel.outcome.Err, enrichErr)
}

func TestEnrichmentRun_ClaimError(t *testing.T) {
	locks := &mockLocker{claimErr: eris.New("pool exhausted")}
	runner := NewEnrichmentRunner(locks, &mockEnricher{}, 2, time.Second)

	_, err := runner.Run(context.Background(), 25)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim enrichment batch")
}

func TestEnrichmentRun_NoWork(t *testing.T) {
	locks := &mockLocker{}
	enricher := &mockEnricher{}
	runner := NewEnrichmentRunner(locks, enricher, 2, time.Second)

	res, err := runner.Run(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, enricher.calls)
}

func TestEnrichmentRun_LostClaimIsNotCounted(t *testing.T) {
	locks := &mockLocker{
		claims:        enrichClaims(2),
		releaseErrFor: map[int64]error{1: store.ErrClaimLost},
	}
	runner := NewEnrichmentRunner(locks, &mockEnricher{}, 2, time.Second)

	res, err := runner.Run(context.Background(), 25)
	require.NoError(t, err)

	// The reclaiming sweeper owns record 1's outcome now.
	assert.Equal(t, Result{Processed: 1}, res)
}

func TestEnrichmentRun_ReleaseFailureCountsAsFailed(t *testing.T) {
	locks := &mockLocker{
		claims:        enrichClaims(2),
		releaseErrFor: map[int64]error{2: eris.New("conn reset")},
	}
	runner := NewEnrichmentRunner(locks, &mockEnricher{}, 2, time.Second)

	res, err := runner.Run(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, Result{Processed: 1, Failed: 1}, res)
}
