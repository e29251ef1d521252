package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/model"
)

// quotaWindow is the rolling week the client allowance covers.
const quotaWindow = 7 * 24 * time.Hour

var (
	// ErrAlreadyMatched means the record already produced a match.
	ErrAlreadyMatched = eris.New("match already created")
	// ErrNotVetted means the record has no completed vetting result to act on.
	ErrNotVetted = eris.New("vetting not completed")
	// ErrNotQualified means the stored score sits below the threshold.
	ErrNotQualified = eris.New("score below qualification threshold")
	// ErrQuotaLimited means the client's weekly allowance is exhausted. The
	// record is parked as limited, not failed.
	ErrQuotaLimited = eris.New("weekly quota exhausted")
)

// CreateMatch turns a qualified vetted discovery into a match suggestion plus
// a review task. The record lock, the quota check-and-increment, both inserts,
// and the record update run in one transaction: a concurrent duplicate aborts
// on the match table's unique discovery constraint and rolls its quota
// increment back with it. On quota denial the record is parked as limited
// (score kept) and ErrQuotaLimited is returned.
func (s *Store) CreateMatch(ctx context.Context, discoveryID int64, defaultThreshold int) (*model.MatchSuggestion, *model.ReviewTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: begin create match")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		campaignID    string
		mediaID       string
		clientID      string
		vettingStatus model.StageStatus
		score         *int
		matchCreated  bool
		threshold     *int
	)
	err = tx.QueryRow(ctx,
		`SELECT d.campaign_id, d.media_id, d.vetting_status, d.vetting_score, d.match_created,
		        c.client_id, c.qualify_threshold
		 FROM discoveries d
		 JOIN campaigns c ON c.id = d.campaign_id
		 WHERE d.id = $1
		 FOR UPDATE OF d`,
		discoveryID,
	).Scan(&campaignID, &mediaID, &vettingStatus, &score, &matchCreated, &clientID, &threshold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, eris.Errorf("discovery not found: %d", discoveryID)
		}
		return nil, nil, eris.Wrapf(err, "store: load discovery %d for match", discoveryID)
	}

	if matchCreated {
		return nil, nil, eris.Wrapf(ErrAlreadyMatched, "store: discovery %d", discoveryID)
	}
	if vettingStatus != model.StageCompleted && vettingStatus != model.StageLimited {
		return nil, nil, eris.Wrapf(ErrNotVetted, "store: discovery %d is %s", discoveryID, vettingStatus)
	}
	cut := defaultThreshold
	if threshold != nil && *threshold > 0 {
		cut = *threshold
	}
	if score == nil || *score < cut {
		return nil, nil, eris.Wrapf(ErrNotQualified, "store: discovery %d", discoveryID)
	}

	allowed, err := checkAndIncrementQuota(ctx, tx, clientID, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	if !allowed {
		_, err = tx.Exec(ctx,
			`UPDATE discoveries SET vetting_status = 'limited', updated_at = now() WHERE id = $1`,
			discoveryID,
		)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "store: mark discovery %d limited", discoveryID)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, eris.Wrap(err, "store: commit limited mark")
		}
		return nil, nil, eris.Wrapf(ErrQuotaLimited, "store: discovery %d", discoveryID)
	}

	now := time.Now().UTC()
	matchID := uuid.New().String()
	_, err = tx.Exec(ctx,
		`INSERT INTO match_suggestions (id, discovery_id, campaign_id, media_id, score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		matchID, discoveryID, campaignID, mediaID, *score, now,
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "store: insert match for discovery %d", discoveryID)
	}

	taskID := uuid.New().String()
	_, err = tx.Exec(ctx,
		`INSERT INTO review_tasks (id, match_id, status, created_at) VALUES ($1, $2, $3, $4)`,
		taskID, matchID, string(model.ReviewPending), now,
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "store: insert review task for match %s", matchID)
	}

	// Restoring completed covers the limited-sweep path, where the record
	// arrives here as limited.
	_, err = tx.Exec(ctx,
		`UPDATE discoveries SET match_created = true, vetting_status = 'completed', updated_at = now() WHERE id = $1`,
		discoveryID,
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "store: mark discovery %d matched", discoveryID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "store: commit create match")
	}

	match := &model.MatchSuggestion{
		ID:          matchID,
		DiscoveryID: discoveryID,
		CampaignID:  campaignID,
		MediaID:     mediaID,
		Score:       *score,
		CreatedAt:   now,
	}
	task := &model.ReviewTask{
		ID:        taskID,
		MatchID:   matchID,
		Status:    model.ReviewPending,
		CreatedAt: now,
	}
	return match, task, nil
}

// checkAndIncrementQuota is the atomic weekly quota gate. The quota row is
// read FOR UPDATE so concurrent callers serialize on it; the counter resets
// once a full week has passed since last_reset_at; a denial writes nothing.
func checkAndIncrementQuota(ctx context.Context, tx pgx.Tx, clientID string, now time.Time) (bool, error) {
	var allowance, count int
	var lastReset time.Time
	err := tx.QueryRow(ctx,
		`SELECT weekly_allowance, current_count, last_reset_at
		 FROM client_quotas WHERE client_id = $1 FOR UPDATE`,
		clientID,
	).Scan(&allowance, &count, &lastReset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, eris.Errorf("quota not found for client: %s", clientID)
		}
		return false, eris.Wrapf(err, "store: lock quota %s", clientID)
	}

	if now.Sub(lastReset) >= quotaWindow {
		count = 0
		lastReset = now
	}
	if count >= allowance {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE client_quotas SET current_count = $2, last_reset_at = $3, updated_at = $4 WHERE client_id = $1`,
		clientID, count+1, lastReset, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "store: increment quota %s", clientID)
	}
	return true, nil
}

// SetReviewTaskNotionPage records the Notion page mirroring a review task.
func (s *Store) SetReviewTaskNotionPage(ctx context.Context, taskID, pageID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks SET notion_page_id = $2 WHERE id = $1`,
		taskID, pageID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: set notion page for task %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review task not found: %s", taskID)
	}
	return nil
}

// MatchCardContext carries the display fields the review mirror posts to the
// board: everything a reviewer needs to decide without opening the CLI.
type MatchCardContext struct {
	TaskID       string
	DiscoveryID  int64
	Score        int
	Reasoning    string
	MediaTitle   string
	MediaURL     string
	CampaignName string
	ClientName   string
}

const cardContextColumns = `SELECT rt.id, d.id, ms.score, COALESCE(d.vetting_reasoning, ''),
	m.title, COALESCE(m.website, ''), c.name, cl.name
 FROM review_tasks rt
 JOIN match_suggestions ms ON ms.id = rt.match_id
 JOIN discoveries d ON d.id = ms.discovery_id
 JOIN media m ON m.id = ms.media_id
 JOIN campaigns c ON c.id = ms.campaign_id
 JOIN clients cl ON cl.id = c.client_id`

func scanCardContext(row pgx.Row) (*MatchCardContext, error) {
	var mc MatchCardContext
	err := row.Scan(&mc.TaskID, &mc.DiscoveryID, &mc.Score, &mc.Reasoning,
		&mc.MediaTitle, &mc.MediaURL, &mc.CampaignName, &mc.ClientName)
	if err != nil {
		return nil, err
	}
	return &mc, nil
}

// MatchCardContextByTask loads the card context for one review task.
func (s *Store) MatchCardContextByTask(ctx context.Context, taskID string) (*MatchCardContext, error) {
	mc, err := scanCardContext(s.pool.QueryRow(ctx,
		cardContextColumns+` WHERE rt.id = $1`, taskID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("review task not found: %s", taskID)
		}
		return nil, eris.Wrapf(err, "store: card context for task %s", taskID)
	}
	return mc, nil
}

// ReviewTasksWithoutPage lists pending review tasks that were never mirrored
// to the board, oldest first. A crash between the match commit and the mirror
// call leaves these behind; the reconciler reposts them.
func (s *Store) ReviewTasksWithoutPage(ctx context.Context, limit int) ([]MatchCardContext, error) {
	rows, err := s.pool.Query(ctx,
		cardContextColumns+`
		 WHERE rt.notion_page_id IS NULL AND rt.status = 'pending_review'
		 ORDER BY rt.created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: review tasks without page")
	}
	defer rows.Close()

	var out []MatchCardContext
	for rows.Next() {
		mc, err := scanCardContext(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan review task without page")
		}
		out = append(out, *mc)
	}
	return out, eris.Wrap(rows.Err(), "store: review tasks without page iterate")
}

// SetReviewStatusByNotionPage records a reviewer's board decision on the task
// mirrored by the page. Returns false when no task carries the page id, which
// means the card was created outside this system.
func (s *Store) SetReviewStatusByNotionPage(ctx context.Context, pageID string, status model.ReviewTaskStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_tasks SET status = $2 WHERE notion_page_id = $1`,
		pageID, string(status),
	)
	if err != nil {
		return false, eris.Wrapf(err, "store: set review status for page %s", pageID)
	}
	return tag.RowsAffected() > 0, nil
}
