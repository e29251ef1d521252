package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/store"
)

// matchStore is the store slice match creation needs.
type matchStore interface {
	CreateMatch(ctx context.Context, discoveryID int64, defaultThreshold int) (*model.MatchSuggestion, *model.ReviewTask, error)
	MatchCardContextByTask(ctx context.Context, taskID string) (*store.MatchCardContext, error)
	SetReviewTaskNotionPage(ctx context.Context, taskID, pageID string) error
}

// MatchCreator turns qualified vetted records into match suggestions and
// mirrors the resulting review task to the board. The store transaction is
// the source of truth; the mirror is best effort after commit and the
// reconciler reposts anything it misses.
type MatchCreator struct {
	store            matchStore
	board            reviewBoard
	defaultThreshold int
}

// NewMatchCreator creates a match creator. A nil board disables mirroring.
func NewMatchCreator(st matchStore, board reviewBoard, defaultThreshold int) *MatchCreator {
	return &MatchCreator{store: st, board: board, defaultThreshold: defaultThreshold}
}

// Create attempts match creation for one discovery. Quota denial surfaces as
// store.ErrQuotaLimited with the record already parked as limited.
func (c *MatchCreator) Create(ctx context.Context, discoveryID int64) error {
	log := zap.L().With(zap.String("component", "pipeline.match"), zap.Int64("discovery_id", discoveryID))

	match, task, err := c.store.CreateMatch(ctx, discoveryID, c.defaultThreshold)
	if err != nil {
		return err
	}
	log.Info("match created",
		zap.String("match_id", match.ID),
		zap.String("campaign_id", match.CampaignID),
		zap.Int("score", match.Score),
	)

	c.mirror(ctx, log, task.ID)
	return nil
}

// mirror posts the review card and records its page id. Failures only log:
// the match already committed, and ReviewTasksWithoutPage catches strays.
func (c *MatchCreator) mirror(ctx context.Context, log *zap.Logger, taskID string) {
	if c.board == nil {
		return
	}

	mc, err := c.store.MatchCardContextByTask(ctx, taskID)
	if err != nil {
		log.Warn("review card context load failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	pageID, err := c.board.PostCard(ctx, *mc)
	if err != nil {
		log.Warn("review card post failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	// A lost page id means the reconciler reposts and reviewers may see a
	// duplicate card; the task itself stays consistent.
	if err := c.store.SetReviewTaskNotionPage(ctx, taskID, pageID); err != nil {
		log.Warn("review card page id write failed",
			zap.String("task_id", taskID), zap.String("page_id", pageID), zap.Error(err))
		return
	}

	log.Debug("review card mirrored", zap.String("task_id", taskID), zap.String("page_id", pageID))
}
