package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/db"
	"github.com/castmatch/outreach-cli/internal/model"
)

const mediaColumns = `id, canonical_key, title, website, rss_url, category,
	audience_reach, episode_count, social_followers, engagement_score,
	quality_score, quality_ready, ai_description, description_attempts,
	description_attempted_at, last_enriched_at, created_at, updated_at`

func scanMedia(row pgx.Row) (*model.Media, error) {
	var m model.Media
	var website, rssURL, category *string
	err := row.Scan(
		&m.ID, &m.CanonicalKey, &m.Title, &website, &rssURL, &category,
		&m.AudienceReach, &m.EpisodeCount, &m.SocialFollowers, &m.EngagementScore,
		&m.QualityScore, &m.QualityReady, &m.AIDescription, &m.DescriptionAttempts,
		&m.DescriptionAttemptedAt, &m.LastEnrichedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if website != nil {
		m.Website = *website
	}
	if rssURL != nil {
		m.RSSURL = *rssURL
	}
	if category != nil {
		m.Category = *category
	}
	return &m, nil
}

// GetMedia loads one media row.
func (s *Store) GetMedia(ctx context.Context, id string) (*model.Media, error) {
	m, err := scanMedia(s.pool.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("media not found: %s", id)
		}
		return nil, eris.Wrapf(err, "store: get media %s", id)
	}
	return m, nil
}

// MediaIDsByCanonicalKeys resolves canonical keys to media ids. Keys with no
// media row are absent from the result map.
func (s *Store) MediaIDsByCanonicalKeys(ctx context.Context, keys []string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT canonical_key, id FROM media WHERE canonical_key = ANY($1)`, keys,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: media ids by canonical keys")
	}
	defer rows.Close()

	out := make(map[string]string, len(keys))
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, eris.Wrap(err, "store: scan media id")
		}
		out[key] = id
	}
	return out, eris.Wrap(rows.Err(), "store: media ids iterate")
}

// UpsertMediaBatch bulk-upserts media rows keyed by canonical_key, used by
// feed ingest. Identity fields are refreshed; enrichment output columns are
// left untouched so re-ingesting a feed never clobbers pipeline work.
func (s *Store) UpsertMediaBatch(ctx context.Context, media []model.Media) (int64, error) {
	rows := make([][]any, 0, len(media))
	for _, m := range media {
		rows = append(rows, []any{m.CanonicalKey, m.Title, m.Website, m.RSSURL, m.Category})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "media",
		Columns:      []string{"canonical_key", "title", "website", "rss_url", "category"},
		ConflictKeys: []string{"canonical_key"},
		UpdateCols:   []string{"title", "website", "rss_url", "category"},
	}, rows)
	return n, eris.Wrap(err, "store: upsert media batch")
}

// UpdateMediaSignals writes enrichment output onto a media row. Nil signal
// fields keep their stored values, so repeating an enrichment is a no-op
// apart from the timestamps.
func (s *Store) UpdateMediaSignals(ctx context.Context, mediaID string, sig model.MediaSignals, qualityScore float64, qualityReady bool) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE media SET
			audience_reach = COALESCE($2, audience_reach),
			episode_count = COALESCE($3, episode_count),
			social_followers = COALESCE($4, social_followers),
			engagement_score = COALESCE($5, engagement_score),
			quality_score = $6,
			quality_ready = $7,
			last_enriched_at = $8,
			updated_at = $8
		 WHERE id = $1`,
		mediaID, sig.AudienceReach, sig.EpisodeCount, sig.SocialFollowers, sig.EngagementScore,
		qualityScore, qualityReady, now,
	)
	if err != nil {
		return eris.Wrapf(err, "store: update media signals %s", mediaID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("media not found: %s", mediaID)
	}
	return nil
}

// ClaimDescriptionBatch claims media rows needing an AI description: no
// description yet, at least one enriched discovery referencing them, below
// the attempt bound, and not attempted within the retry window. Claimed rows
// get their attempt stamp bumped in the same transaction, so a crashed
// worker costs one attempt rather than a stuck row.
func (s *Store) ClaimDescriptionBatch(ctx context.Context, batchSize, maxAttempts int, retryAfter time.Duration) ([]model.Media, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "store: begin description claim")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	attemptedBefore := time.Now().UTC().Add(-retryAfter)
	rows, err := tx.Query(ctx,
		`SELECT `+mediaColumns+` FROM media
		 WHERE (ai_description IS NULL OR ai_description = '')
		   AND description_attempts < $2
		   AND (description_attempted_at IS NULL OR description_attempted_at < $3)
		   AND EXISTS (
		       SELECT 1 FROM discoveries d
		       WHERE d.media_id = media.id AND d.enrichment_status = 'completed')
		 ORDER BY created_at
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		batchSize, maxAttempts, attemptedBefore,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: claim description rows")
	}

	var claimed []model.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "store: scan description claim")
		}
		claimed = append(claimed, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate description claim")
	}

	if len(claimed) == 0 {
		_ = tx.Commit(ctx)
		return nil, nil
	}

	ids := make([]string, len(claimed))
	for i, m := range claimed {
		ids[i] = m.ID
	}
	_, err = tx.Exec(ctx,
		`UPDATE media SET
			description_attempts = description_attempts + 1,
			description_attempted_at = now(),
			updated_at = now()
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: mark description attempts")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "store: commit description claim")
	}
	return claimed, nil
}

// SetMediaDescription writes the generated description. Safe to repeat.
func (s *Store) SetMediaDescription(ctx context.Context, mediaID, description string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE media SET ai_description = $2, updated_at = $3 WHERE id = $1`,
		mediaID, description, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: set media description %s", mediaID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("media not found: %s", mediaID)
	}
	return nil
}

// MediaMissingQuality lists media whose raw signals are complete but whose
// quality aggregate was never derived, for the reconciler to recompute.
func (s *Store) MediaMissingQuality(ctx context.Context, limit int) ([]model.Media, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mediaColumns+` FROM media
		 WHERE quality_score IS NULL
		   AND audience_reach IS NOT NULL
		   AND episode_count IS NOT NULL
		   AND social_followers IS NOT NULL
		   AND engagement_score IS NOT NULL
		 ORDER BY updated_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: media missing quality")
	}
	defer rows.Close()

	var out []model.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan media missing quality")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "store: media missing quality iterate")
}

// SetMediaQuality writes the derived quality aggregate.
func (s *Store) SetMediaQuality(ctx context.Context, mediaID string, score float64, ready bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE media SET quality_score = $2, quality_ready = $3, updated_at = $4 WHERE id = $1`,
		mediaID, score, ready, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: set media quality %s", mediaID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("media not found: %s", mediaID)
	}
	return nil
}
