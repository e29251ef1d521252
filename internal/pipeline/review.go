package pipeline

import (
	"context"
	"errors"

	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/internal/store"
	"github.com/castmatch/outreach-cli/pkg/notion"
)

// reviewBoard abstracts the review board for the match mirror and the
// reconciler's decision sync. *ReviewMirror satisfies it; a nil board
// disables mirroring entirely.
type reviewBoard interface {
	PostCard(ctx context.Context, mc store.MatchCardContext) (string, error)
	PullDecisions(ctx context.Context) ([]notion.Decision, error)
	MarkSynced(ctx context.Context, pageID string) error
}

// ReviewMirror connects review tasks to the Notion board: cards out,
// reviewer decisions back. Board calls retry in place under the configured
// retry budget; what still fails is left for the reconciler to repair.
type ReviewMirror struct {
	client notion.Client
	dbID   string
	retry  resilience.RetryConfig
}

// NewReviewMirror creates a mirror posting to the given review database.
func NewReviewMirror(client notion.Client, dbID string, retry resilience.RetryConfig) *ReviewMirror {
	return &ReviewMirror{client: client, dbID: dbID, retry: retry}
}

// PostCard creates the board card for one review task and returns its page id.
func (m *ReviewMirror) PostCard(ctx context.Context, mc store.MatchCardContext) (string, error) {
	cfg := m.retry
	cfg.OnRetry = resilience.RetryLogger("notion", "post_card")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		pageID, err := notion.CreateReviewCard(ctx, m.client, m.dbID, notion.ReviewCard{
			DiscoveryID:  mc.DiscoveryID,
			MediaTitle:   mc.MediaTitle,
			CampaignName: mc.CampaignName,
			ClientName:   mc.ClientName,
			Score:        mc.Score,
			MediaURL:     mc.MediaURL,
			Reasoning:    mc.Reasoning,
		})
		if err != nil {
			return "", classifyBoardError(err)
		}
		return pageID, nil
	})
}

// PullDecisions lists cards reviewers have moved to Approved or Rejected.
func (m *ReviewMirror) PullDecisions(ctx context.Context) ([]notion.Decision, error) {
	cfg := m.retry
	cfg.OnRetry = resilience.RetryLogger("notion", "pull_decisions")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]notion.Decision, error) {
		decisions, err := notion.QueryDecidedCards(ctx, m.client, m.dbID)
		if err != nil {
			return nil, classifyBoardError(err)
		}
		return decisions, nil
	})
}

// MarkSynced flips a consumed card to Synced so it leaves the decision queue.
func (m *ReviewMirror) MarkSynced(ctx context.Context, pageID string) error {
	cfg := m.retry
	cfg.OnRetry = resilience.RetryLogger("notion", "mark_synced")
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		if err := notion.MarkCardSynced(ctx, m.client, pageID); err != nil {
			return classifyBoardError(err)
		}
		return nil
	})
}

// classifyBoardError tags a Notion failure for the retry loop. Rate limits
// and 5xx retry; a rejected request (bad schema, archived page) will not
// improve on its own.
func classifyBoardError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return resilience.NewTransientError(err, 0)
	}
	if status, ok := notion.APIStatus(err); ok {
		if resilience.IsTransientHTTPStatus(status) {
			return resilience.NewTransientError(err, status)
		}
		return resilience.NewPermanentError(err)
	}
	return resilience.NewTransientError(err, 0)
}
