package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/outreach-cli/internal/model"
)

func claimedMedia(ids ...string) []model.Media {
	media := make([]model.Media, 0, len(ids))
	for _, id := range ids {
		media = append(media, model.Media{ID: id, Title: "Show " + id})
	}
	return media
}

func TestDescriptionRun_WritesGeneratedText(t *testing.T) {
	st := &mockDescriptionStore{media: claimedMedia("m-1", "m-2")}
	describer := &mockDescriber{descFor: map[string]string{
		"m-1": "Weekly interviews with SaaS founders.",
		"m-2": "Growth tactics for bootstrapped teams.",
	}}
	runner := NewDescriptionRunner(st, describer, 2, time.Second, 5, 45*time.Second)

	res, err := runner.Run(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, Result{Processed: 2}, res)
	assert.Equal(t, 10, st.claimedBatch)
	assert.Equal(t, 5, st.claimedAttempts)
	assert.Equal(t, 45*time.Second, st.claimedRetry)
	assert.Equal(t, "Weekly interviews with SaaS founders.", st.written["m-1"])
	assert.Equal(t, "Growth tactics for bootstrapped teams.", st.written["m-2"])
}

func TestDescriptionRun_GenerationFailureLeavesAttemptStamp(t *testing.T) {
	st := &mockDescriptionStore{media: claimedMedia("m-1", "m-2")}
	describer := &mockDescriber{
		descFor: map[string]string{"m-1": "Interviews."},
		errFor:  map[string]error{"m-2": eris.New("model overloaded")},
	}
	runner := NewDescriptionRunner(st, describer, 2, time.Second, 5, 45*time.Second)

	res, err := runner.Run(context.Background(), 10)
	require.NoError(t, err)

	// No release step: the claim query already bumped m-2's attempt stamp.
	assert.Equal(t, Result{Processed: 1, Failed: 1}, res)
	assert.NotContains(t, st.written, "m-2")
}

func TestDescriptionRun_WriteFailure(t *testing.T) {
	st := &mockDescriptionStore{
		media:    claimedMedia("m-1"),
		writeErr: map[string]error{"m-1": eris.New("conn reset")},
	}
	describer := &mockDescriber{descFor: map[string]string{"m-1": "Interviews."}}
	runner := NewDescriptionRunner(st, describer, 2, time.Second, 5, 45*time.Second)

	res, err := runner.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, res)
}

func TestDescriptionRun_ClaimError(t *testing.T) {
	st := &mockDescriptionStore{claimErr: eris.New("pool exhausted")}
	runner := NewDescriptionRunner(st, &mockDescriber{}, 2, time.Second, 5, time.Minute)

	_, err := runner.Run(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim description batch")
}

func TestDescriptionRun_NoWork(t *testing.T) {
	st := &mockDescriptionStore{}
	describer := &mockDescriber{}
	runner := NewDescriptionRunner(st, describer, 2, time.Second, 5, time.Minute)

	res, err := runner.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, describer.calls)
}
