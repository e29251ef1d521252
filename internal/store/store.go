package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/db"
)

// Store persists the discovery pipeline state: clients, campaigns, media,
// discovery records, matches, review tasks, and vetting history. All stage
// status mutation goes through the LockManager; everything else is plain
// reads and writes against the same pool.
type Store struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig sizes the connection pool. Zero fields keep the built-in sizing.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

func (c *PoolConfig) sizing() (maxConns, minConns int32) {
	maxConns, minConns = 10, 2
	if c == nil {
		return maxConns, minConns
	}
	if c.MaxConns > 0 {
		maxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		minConns = c.MinConns
	}
	return maxConns, minConns
}

// preparedStatements holds the queries the sweep loops run on every pass,
// prepared once per connection.
var preparedStatements = map[string]string{
	"get_media":             `SELECT id, canonical_key, title, website, rss_url, category, audience_reach, episode_count, social_followers, engagement_score, quality_score, quality_ready, ai_description, description_attempts, description_attempted_at, last_enriched_at, created_at, updated_at FROM media WHERE id = $1`,
	"get_campaign":          `SELECT id, client_id, name, criteria, qualify_threshold, active, created_at FROM campaigns WHERE id = $1`,
	"update_media_signals":  `UPDATE media SET audience_reach = COALESCE($2, audience_reach), episode_count = COALESCE($3, episode_count), social_followers = COALESCE($4, social_followers), engagement_score = COALESCE($5, engagement_score), quality_score = $6, quality_ready = $7, last_enriched_at = $8, updated_at = $8 WHERE id = $1`,
	"set_media_description": `UPDATE media SET ai_description = $2, updated_at = $3 WHERE id = $1`,
	"status_counts":         `SELECT enrichment_status, vetting_status, match_created, COUNT(*) FROM discoveries WHERE campaign_id = $1 GROUP BY enrichment_status, vetting_status, match_created ORDER BY enrichment_status, vetting_status, match_created`,
}

// NewPostgres creates a Store backed by a pgx connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*Store, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse config")
	}

	pgxCfg.MaxConns, pgxCfg.MinConns = poolCfg.sizing()
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "store: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}
	return &Store{pool: pool, closeFn: pool.Close}, nil
}

// New wraps an existing pool. Used by subsystems that share the pool and by
// tests that substitute a mock.
func New(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (bulk ingest, journal).
func (s *Store) Pool() db.Pool {
	return s.pool
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "store: ping")
}

func (s *Store) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
