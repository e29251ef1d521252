package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/db"
	"github.com/castmatch/outreach-cli/internal/model"
)

// ErrDiscoveryNotFound marks lookups of discovery ids that do not exist.
var ErrDiscoveryNotFound = eris.New("discovery not found")

// recordColumns is the scan list shared by every full-record select.
const recordColumns = `id, campaign_id, media_id,
	enrichment_status, enrichment_claim_token, enrichment_claimed_at, enrichment_error, enrichment_error_class, enrichment_attempts, enrichment_next_retry_at,
	vetting_status, vetting_claim_token, vetting_claimed_at, vetting_error, vetting_error_class, vetting_attempts, vetting_next_retry_at,
	vetting_score, vetting_reasoning, match_created, discovered_at, updated_at, vetted_at`

func scanRecord(row pgx.Row) (*model.DiscoveryRecord, error) {
	var r model.DiscoveryRecord
	err := row.Scan(
		&r.ID, &r.CampaignID, &r.MediaID,
		&r.Enrichment.Status, &r.Enrichment.ClaimToken, &r.Enrichment.ClaimedAt,
		&r.Enrichment.Error, &r.Enrichment.ErrorClass, &r.Enrichment.Attempts, &r.Enrichment.NextRetryAt,
		&r.Vetting.Status, &r.Vetting.ClaimToken, &r.Vetting.ClaimedAt,
		&r.Vetting.Error, &r.Vetting.ErrorClass, &r.Vetting.Attempts, &r.Vetting.NextRetryAt,
		&r.VettingScore, &r.VettingReasoning, &r.MatchCreated, &r.DiscoveredAt, &r.UpdatedAt, &r.VettedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertDiscoveries bulk-inserts (campaign, media) pairings from a discovery
// feed, skipping pairings already present. Returns the number of new records.
func (s *Store) InsertDiscoveries(ctx context.Context, campaignID string, mediaIDs []string) (int64, error) {
	rows := make([][]any, 0, len(mediaIDs))
	for _, mediaID := range mediaIDs {
		rows = append(rows, []any{campaignID, mediaID})
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, db.UpsertConfig{
		Table:        "discoveries",
		Columns:      []string{"campaign_id", "media_id"},
		ConflictKeys: []string{"campaign_id", "media_id"},
	}, rows)
	return n, eris.Wrapf(err, "store: insert discoveries for campaign %s", campaignID)
}

// GetRecord loads one discovery record.
func (s *Store) GetRecord(ctx context.Context, id int64) (*model.DiscoveryRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM discoveries WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrDiscoveryNotFound, "store: get discovery %d", id)
		}
		return nil, eris.Wrapf(err, "store: get discovery %d", id)
	}
	return r, nil
}

// StatusCounts groups a campaign's records by their
// (enrichment_status, vetting_status, match_created) combination.
func (s *Store) StatusCounts(ctx context.Context, campaignID string) ([]model.StatusCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT enrichment_status, vetting_status, match_created, COUNT(*)
		 FROM discoveries WHERE campaign_id = $1
		 GROUP BY enrichment_status, vetting_status, match_created
		 ORDER BY enrichment_status, vetting_status, match_created`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: status counts for campaign %s", campaignID)
	}
	defer rows.Close()

	var counts []model.StatusCount
	for rows.Next() {
		var c model.StatusCount
		if err := rows.Scan(&c.Enrichment, &c.Vetting, &c.MatchCreated, &c.Count); err != nil {
			return nil, eris.Wrap(err, "store: scan status count")
		}
		counts = append(counts, c)
	}
	return counts, eris.Wrap(rows.Err(), "store: status counts iterate")
}

// CountMissingDescriptions counts enriched records still blocked on an AI
// description, the usual bottleneck ahead of vetting.
func (s *Store) CountMissingDescriptions(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM discoveries d
		 JOIN media m ON m.id = d.media_id
		 WHERE d.campaign_id = $1
		   AND d.enrichment_status = 'completed'
		   AND (m.ai_description IS NULL OR m.ai_description = '')`,
		campaignID,
	).Scan(&n)
	return n, eris.Wrapf(err, "store: count missing descriptions for campaign %s", campaignID)
}

// FunnelRow is one line of the campaign export: a record's pipeline position
// joined with its media identity.
type FunnelRow struct {
	DiscoveryID        int64
	MediaTitle         string
	CanonicalKey       string
	Enrichment         model.StageStatus
	DescriptionPresent bool
	Vetting            model.StageStatus
	Score              *int
	MatchCreated       bool
	DiscoveredAt       time.Time
	VettedAt           *time.Time
}

// FunnelRows lists a campaign's records for the export report, oldest first.
func (s *Store) FunnelRows(ctx context.Context, campaignID string) ([]FunnelRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id, m.title, m.canonical_key, d.enrichment_status,
		        (m.ai_description IS NOT NULL AND m.ai_description <> ''),
		        d.vetting_status, d.vetting_score, d.match_created,
		        d.discovered_at, d.vetted_at
		 FROM discoveries d
		 JOIN media m ON m.id = d.media_id
		 WHERE d.campaign_id = $1
		 ORDER BY d.discovered_at`,
		campaignID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: funnel rows for campaign %s", campaignID)
	}
	defer rows.Close()

	var out []FunnelRow
	for rows.Next() {
		var fr FunnelRow
		if err := rows.Scan(&fr.DiscoveryID, &fr.MediaTitle, &fr.CanonicalKey, &fr.Enrichment,
			&fr.DescriptionPresent, &fr.Vetting, &fr.Score, &fr.MatchCreated,
			&fr.DiscoveredAt, &fr.VettedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan funnel row")
		}
		out = append(out, fr)
	}
	return out, eris.Wrap(rows.Err(), "store: funnel rows iterate")
}

// LimitedCandidates returns discovery ids eligible for a quota-aware match
// retry: quota-limited records, plus qualified completed records that never
// got a match (a crash between vetting release and match creation leaves
// those behind). Stored scores are reused; nothing is re-scored.
func (s *Store) LimitedCandidates(ctx context.Context, campaignID string, defaultThreshold, limit int) ([]int64, error) {
	query := `SELECT d.id FROM discoveries d
		JOIN campaigns c ON c.id = d.campaign_id
		WHERE d.match_created = false
		  AND d.vetting_status IN ('limited', 'completed')
		  AND d.vetting_score IS NOT NULL
		  AND d.vetting_score >= COALESCE(c.qualify_threshold, $1)`
	args := []any{defaultThreshold}
	argIdx := 2

	if campaignID != "" {
		query += fmt.Sprintf(` AND d.campaign_id = $%d`, argIdx)
		args = append(args, campaignID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY d.vetted_at LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: limited candidates")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "store: scan limited candidate")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "store: limited candidates iterate")
}

// AdvanceEnrichedPending completes the enrichment stage for records whose
// media already carries a full signal set, e.g. enriched through another
// campaign's record while this one sat pending. Returns rows repaired.
func (s *Store) AdvanceEnrichedPending(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discoveries d SET
			enrichment_status = 'completed',
			enrichment_error = NULL,
			enrichment_error_class = NULL,
			enrichment_next_retry_at = NULL,
			updated_at = now()
		 FROM media m
		 WHERE m.id = d.media_id
		   AND d.enrichment_status = 'pending'
		   AND m.audience_reach IS NOT NULL
		   AND m.episode_count IS NOT NULL
		   AND m.social_followers IS NOT NULL
		   AND m.engagement_score IS NOT NULL`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: advance enriched pending")
	}
	return tag.RowsAffected(), nil
}

// ResetCooledFailures re-queues transient stage failures last touched before
// the cutoff. Attempts are zeroed so the next cycle starts a fresh backoff
// ladder. Permanent failures are left alone.
func (s *Store) ResetCooledFailures(ctx context.Context, stage model.Stage, cooledBefore time.Time) (int64, error) {
	prefix, err := stagePrefix(stage)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(
		`UPDATE discoveries SET
			%[1]s_status = 'pending',
			%[1]s_error = NULL,
			%[1]s_error_class = NULL,
			%[1]s_attempts = 0,
			%[1]s_next_retry_at = NULL,
			updated_at = now()
		 WHERE %[1]s_status = 'failed'
		   AND %[1]s_error_class = 'transient'
		   AND updated_at < $1`, prefix)

	tag, err := s.pool.Exec(ctx, query, cooledBefore)
	if err != nil {
		return 0, eris.Wrapf(err, "store: reset cooled %s failures", stage)
	}
	return tag.RowsAffected(), nil
}

// ForceRevet archives the current vetting result to history and resets the
// stage to pending so changed campaign criteria take effect on the next
// sweep. Refused once a match exists.
func (s *Store) ForceRevet(ctx context.Context, discoveryID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin revet")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		score        *int
		reasoning    *string
		vettedAt     *time.Time
		matchCreated bool
	)
	err = tx.QueryRow(ctx,
		`SELECT vetting_score, vetting_reasoning, vetted_at, match_created
		 FROM discoveries WHERE id = $1 FOR UPDATE`,
		discoveryID,
	).Scan(&score, &reasoning, &vettedAt, &matchCreated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrDiscoveryNotFound, "store: revet discovery %d", discoveryID)
		}
		return eris.Wrapf(err, "store: load discovery %d for revet", discoveryID)
	}
	if matchCreated {
		return eris.Wrapf(ErrAlreadyMatched, "store: revet discovery %d", discoveryID)
	}

	if score != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO vetting_history (discovery_id, score, reasoning, vetted_at)
			 VALUES ($1, $2, $3, $4)`,
			discoveryID, *score, reasoning, vettedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "store: archive vetting history %d", discoveryID)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE discoveries SET
			vetting_status = 'pending',
			vetting_claim_token = NULL,
			vetting_claimed_at = NULL,
			vetting_error = NULL,
			vetting_error_class = NULL,
			vetting_attempts = 0,
			vetting_next_retry_at = NULL,
			vetting_score = NULL,
			vetting_reasoning = NULL,
			vetted_at = NULL,
			updated_at = now()
		 WHERE id = $1`,
		discoveryID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: reset vetting %d", discoveryID)
	}

	return eris.Wrap(tx.Commit(ctx), "store: commit revet")
}

// VettingHistory lists archived vetting results for a record, newest first.
func (s *Store) VettingHistory(ctx context.Context, discoveryID int64) ([]model.VettingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, discovery_id, score, reasoning, vetted_at, archived_at
		 FROM vetting_history WHERE discovery_id = $1
		 ORDER BY archived_at DESC`,
		discoveryID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: vetting history %d", discoveryID)
	}
	defer rows.Close()

	var out []model.VettingRecord
	for rows.Next() {
		var (
			vr        model.VettingRecord
			reasoning *string
			vettedAt  *time.Time
		)
		if err := rows.Scan(&vr.ID, &vr.DiscoveryID, &vr.Score, &reasoning, &vettedAt, &vr.ArchivedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan vetting history")
		}
		if reasoning != nil {
			vr.Reasoning = *reasoning
		}
		if vettedAt != nil {
			vr.VettedAt = *vettedAt
		}
		out = append(out, vr)
	}
	return out, eris.Wrap(rows.Err(), "store: vetting history iterate")
}

// BacklogCounts is the current funnel depth across all campaigns.
type BacklogCounts struct {
	EnrichmentPending    int `json:"enrichment_pending"`
	EnrichmentInProgress int `json:"enrichment_in_progress"`
	EnrichmentFailed     int `json:"enrichment_failed"`
	DescriptionMissing   int `json:"description_missing"`
	VettingPending       int `json:"vetting_pending"`
	VettingInProgress    int `json:"vetting_in_progress"`
	VettingFailed        int `json:"vetting_failed"`
	Limited              int `json:"limited"`
	PendingReview        int `json:"pending_review"`
}

// Outstanding is the work still ahead of the pipeline: records waiting for a
// stage sweep plus media waiting for a description.
func (b BacklogCounts) Outstanding() int {
	return b.EnrichmentPending + b.DescriptionMissing + b.VettingPending
}

// StageBacklog reports outstanding work per stage across all campaigns.
// Vetting pending only counts records whose enrichment finished.
func (s *Store) StageBacklog(ctx context.Context) (BacklogCounts, error) {
	var b BacklogCounts
	err := s.pool.QueryRow(ctx,
		`SELECT
		    COUNT(*) FILTER (WHERE enrichment_status = 'pending'),
		    COUNT(*) FILTER (WHERE enrichment_status = 'in_progress'),
		    COUNT(*) FILTER (WHERE enrichment_status = 'failed'),
		    COUNT(*) FILTER (WHERE enrichment_status = 'completed' AND vetting_status = 'pending'),
		    COUNT(*) FILTER (WHERE vetting_status = 'in_progress'),
		    COUNT(*) FILTER (WHERE vetting_status = 'failed'),
		    COUNT(*) FILTER (WHERE vetting_status = 'limited')
		 FROM discoveries`,
	).Scan(&b.EnrichmentPending, &b.EnrichmentInProgress, &b.EnrichmentFailed,
		&b.VettingPending, &b.VettingInProgress, &b.VettingFailed, &b.Limited)
	if err != nil {
		return BacklogCounts{}, eris.Wrap(err, "store: stage backlog")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT m.id)
		 FROM discoveries d
		 JOIN media m ON m.id = d.media_id
		 WHERE d.enrichment_status = 'completed'
		   AND (m.ai_description IS NULL OR m.ai_description = '')`,
	).Scan(&b.DescriptionMissing)
	if err != nil {
		return BacklogCounts{}, eris.Wrap(err, "store: description backlog")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_tasks WHERE status = 'pending_review'`,
	).Scan(&b.PendingReview)
	if err != nil {
		return BacklogCounts{}, eris.Wrap(err, "store: review backlog")
	}
	return b, nil
}
