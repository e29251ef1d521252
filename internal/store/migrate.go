package store

import (
	"context"

	"github.com/rotisserie/eris"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS clients (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS client_quotas (
	client_id        TEXT PRIMARY KEY REFERENCES clients(id),
	weekly_allowance INTEGER NOT NULL DEFAULT 10,
	current_count    INTEGER NOT NULL DEFAULT 0,
	last_reset_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	client_id         TEXT NOT NULL REFERENCES clients(id),
	name              TEXT NOT NULL,
	criteria          JSONB NOT NULL DEFAULT '{}'::jsonb,
	qualify_threshold INTEGER,
	active            BOOLEAN NOT NULL DEFAULT true,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_campaigns_client ON campaigns(client_id);

CREATE TABLE IF NOT EXISTS media (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	canonical_key            TEXT NOT NULL UNIQUE,
	title                    TEXT NOT NULL,
	website                  TEXT,
	rss_url                  TEXT,
	category                 TEXT,
	audience_reach           BIGINT,
	episode_count            INTEGER,
	social_followers         BIGINT,
	engagement_score         DOUBLE PRECISION,
	quality_score            DOUBLE PRECISION,
	quality_ready            BOOLEAN NOT NULL DEFAULT false,
	ai_description           TEXT,
	description_attempts     INTEGER NOT NULL DEFAULT 0,
	description_attempted_at TIMESTAMPTZ,
	last_enriched_at         TIMESTAMPTZ,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS discoveries (
	id                       BIGSERIAL PRIMARY KEY,
	campaign_id              TEXT NOT NULL REFERENCES campaigns(id),
	media_id                 TEXT NOT NULL REFERENCES media(id),
	enrichment_status        TEXT NOT NULL DEFAULT 'pending',
	enrichment_claim_token   TEXT,
	enrichment_claimed_at    TIMESTAMPTZ,
	enrichment_error         TEXT,
	enrichment_error_class   TEXT,
	enrichment_attempts      INTEGER NOT NULL DEFAULT 0,
	enrichment_next_retry_at TIMESTAMPTZ,
	vetting_status           TEXT NOT NULL DEFAULT 'pending',
	vetting_claim_token      TEXT,
	vetting_claimed_at       TIMESTAMPTZ,
	vetting_error            TEXT,
	vetting_error_class      TEXT,
	vetting_attempts         INTEGER NOT NULL DEFAULT 0,
	vetting_next_retry_at    TIMESTAMPTZ,
	vetting_score            INTEGER,
	vetting_reasoning        TEXT,
	match_created            BOOLEAN NOT NULL DEFAULT false,
	discovered_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	vetted_at                TIMESTAMPTZ,
	UNIQUE (campaign_id, media_id)
);

CREATE INDEX IF NOT EXISTS idx_discoveries_enrichment_ready ON discoveries(enrichment_status, enrichment_next_retry_at);
CREATE INDEX IF NOT EXISTS idx_discoveries_vetting_ready ON discoveries(vetting_status, vetting_next_retry_at);
CREATE INDEX IF NOT EXISTS idx_discoveries_campaign ON discoveries(campaign_id);
CREATE INDEX IF NOT EXISTS idx_discoveries_media ON discoveries(media_id);

CREATE TABLE IF NOT EXISTS match_suggestions (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	discovery_id BIGINT NOT NULL UNIQUE REFERENCES discoveries(id),
	campaign_id  TEXT NOT NULL REFERENCES campaigns(id),
	media_id     TEXT NOT NULL REFERENCES media(id),
	score        INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_match_suggestions_campaign ON match_suggestions(campaign_id);

CREATE TABLE IF NOT EXISTS review_tasks (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	match_id       TEXT NOT NULL REFERENCES match_suggestions(id),
	status         TEXT NOT NULL DEFAULT 'pending_review',
	notion_page_id TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vetting_history (
	id           BIGSERIAL PRIMARY KEY,
	discovery_id BIGINT NOT NULL REFERENCES discoveries(id),
	score        INTEGER NOT NULL,
	reasoning    TEXT,
	vetted_at    TIMESTAMPTZ,
	archived_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vetting_history_discovery ON vetting_history(discovery_id);

CREATE TABLE IF NOT EXISTS sweep_log (
	id           BIGSERIAL PRIMARY KEY,
	task         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	processed    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_sweep_log_task ON sweep_log(task, started_at DESC);
`

// Migrate applies the embedded schema. Statements are idempotent so the
// command is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "store: migrate")
}
