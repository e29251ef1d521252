package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/db"
	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/resilience"
)

// ErrClaimLost is returned by Release when the claim token no longer matches,
// meaning the claim went stale and was reclaimed while the worker ran. The
// worker's result is discarded; whoever holds the claim now owns the record.
var ErrClaimLost = eris.New("claim no longer held")

// LockConfig tunes claim lifetime and retry bookkeeping.
type LockConfig struct {
	// StaleAfter is how long a claim may sit before anyone can reclaim it.
	StaleAfter time.Duration
	// MaxAttempts bounds consecutive transient failures; at the bound the
	// record parks as failed until the reconciler cooldown revives it.
	MaxAttempts int
	// BackoffBase and BackoffCap bound the exponential retry delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Claim is the handle a worker holds while processing one record's stage.
type Claim struct {
	RecordID   int64
	CampaignID string
	MediaID    string
	Token      string
	// Attempts is the consecutive-failure count at claim time.
	Attempts int
}

// Outcome describes how a claimed attempt ended. A nil Err is success;
// otherwise the error's class decides between retry-with-backoff and
// permanent parking. Score and Reasoning are written on vetting success,
// in the same statement as the status transition.
type Outcome struct {
	Err       error
	Score     *int
	Reasoning string
}

// LockManager hands out exclusive per-stage claims over discovery records.
// Claims are plain columns (token + claimed-at) flipped inside a
// skip-locked transaction, so concurrent sweepers, in-process or not,
// never receive the same record.
type LockManager struct {
	pool db.Pool
	cfg  LockConfig
}

// NewLockManager creates a LockManager with the given pool and config.
func NewLockManager(pool db.Pool, cfg LockConfig) *LockManager {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	return &LockManager{pool: pool, cfg: cfg}
}

func stagePrefix(stage model.Stage) (string, error) {
	switch stage {
	case model.StageEnrichment:
		return "enrichment", nil
	case model.StageVetting:
		return "vetting", nil
	default:
		return "", eris.Errorf("store: unknown stage: %s", stage)
	}
}

// TryClaim atomically claims up to batchSize records ready for the stage:
// pending with no future retry scheduled, or in progress under a claim old
// enough to count as abandoned. Vetting additionally requires completed
// enrichment and a present description. Fewer rows than requested simply
// means the rest of the backlog is claimed elsewhere.
func (l *LockManager) TryClaim(ctx context.Context, stage model.Stage, batchSize int) ([]Claim, error) {
	prefix, err := stagePrefix(stage)
	if err != nil {
		return nil, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "store: begin claim tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	staleBefore := now.Add(-l.cfg.StaleAfter)

	query := fmt.Sprintf(
		`SELECT id, campaign_id, media_id, %[1]s_attempts
		 FROM discoveries
		 WHERE ((%[1]s_status = 'pending' AND (%[1]s_next_retry_at IS NULL OR %[1]s_next_retry_at <= $2))
		     OR (%[1]s_status = 'in_progress' AND %[1]s_claimed_at < $3))`, prefix)
	if stage == model.StageVetting {
		query += `
		   AND enrichment_status = 'completed'
		   AND EXISTS (
		       SELECT 1 FROM media m
		       WHERE m.id = discoveries.media_id
		         AND m.ai_description IS NOT NULL AND m.ai_description <> '')`
	}
	query += `
		 ORDER BY discovered_at
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, batchSize, now, staleBefore)
	if err != nil {
		return nil, eris.Wrapf(err, "store: claim %s rows", stage)
	}

	var claims []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.RecordID, &c.CampaignID, &c.MediaID, &c.Attempts); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "store: scan claim row")
		}
		claims = append(claims, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate claim rows")
	}

	if len(claims) == 0 {
		_ = tx.Commit(ctx)
		return nil, nil
	}

	token := uuid.New().String()
	ids := make([]int64, len(claims))
	for i := range claims {
		ids[i] = claims[i].RecordID
		claims[i].Token = token
	}

	markQuery := fmt.Sprintf(
		`UPDATE discoveries SET
			%[1]s_status = 'in_progress',
			%[1]s_claim_token = $1,
			%[1]s_claimed_at = $2,
			updated_at = $2
		 WHERE id = ANY($3)`, prefix)
	if _, err := tx.Exec(ctx, markQuery, token, now, ids); err != nil {
		return nil, eris.Wrapf(err, "store: mark %s claims", stage)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "store: commit claim")
	}
	return claims, nil
}

// Release ends a claimed attempt. Success completes the stage and clears the
// marker; a transient failure re-queues the record with exponential backoff
// until the attempt bound parks it as failed; a permanent failure parks it
// immediately. Returns ErrClaimLost when the claim was reclaimed in the
// meantime, in which case nothing was written.
func (l *LockManager) Release(ctx context.Context, claim Claim, stage model.Stage, outcome Outcome) error {
	prefix, err := stagePrefix(stage)
	if err != nil {
		return err
	}
	if outcome.Err == nil {
		return l.releaseSuccess(ctx, claim, stage, prefix, outcome)
	}
	if resilience.ClassifyError(outcome.Err) == model.ErrorPermanent {
		return l.releasePermanent(ctx, claim, stage, prefix, outcome.Err.Error())
	}
	return l.releaseTransient(ctx, claim, stage, prefix, outcome.Err.Error())
}

func (l *LockManager) releaseSuccess(ctx context.Context, claim Claim, stage model.Stage, prefix string, outcome Outcome) error {
	now := time.Now().UTC()

	query := fmt.Sprintf(
		`UPDATE discoveries SET
			%[1]s_status = 'completed',
			%[1]s_claim_token = NULL,
			%[1]s_claimed_at = NULL,
			%[1]s_error = NULL,
			%[1]s_error_class = NULL,
			%[1]s_attempts = 0,
			%[1]s_next_retry_at = NULL,
			updated_at = $1
		 WHERE id = $2 AND %[1]s_claim_token = $3`, prefix)
	args := []any{now, claim.RecordID, claim.Token}

	if stage == model.StageVetting && outcome.Score != nil {
		query = `UPDATE discoveries SET
			vetting_status = 'completed',
			vetting_claim_token = NULL,
			vetting_claimed_at = NULL,
			vetting_error = NULL,
			vetting_error_class = NULL,
			vetting_attempts = 0,
			vetting_next_retry_at = NULL,
			vetting_score = $4,
			vetting_reasoning = $5,
			vetted_at = $1,
			updated_at = $1
		 WHERE id = $2 AND vetting_claim_token = $3`
		args = append(args, *outcome.Score, outcome.Reasoning)
	}

	tag, err := l.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "store: release %s success %d", stage, claim.RecordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrClaimLost, "store: %s release of discovery %d", stage, claim.RecordID)
	}
	return nil
}

func (l *LockManager) releaseTransient(ctx context.Context, claim Claim, stage model.Stage, prefix, errMsg string) error {
	now := time.Now().UTC()
	attempts := claim.Attempts + 1

	status := model.StagePending
	var nextRetryAt *time.Time
	if attempts >= l.cfg.MaxAttempts {
		status = model.StageFailed
	} else {
		at := now.Add(l.backoff(attempts))
		nextRetryAt = &at
	}

	query := fmt.Sprintf(
		`UPDATE discoveries SET
			%[1]s_status = $1,
			%[1]s_error = $2,
			%[1]s_error_class = 'transient',
			%[1]s_attempts = $3,
			%[1]s_next_retry_at = $4,
			%[1]s_claim_token = NULL,
			%[1]s_claimed_at = NULL,
			updated_at = $5
		 WHERE id = $6 AND %[1]s_claim_token = $7`, prefix)

	tag, err := l.pool.Exec(ctx, query,
		string(status), errMsg, attempts, nextRetryAt, now, claim.RecordID, claim.Token,
	)
	if err != nil {
		return eris.Wrapf(err, "store: release %s transient %d", stage, claim.RecordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrClaimLost, "store: %s release of discovery %d", stage, claim.RecordID)
	}
	return nil
}

func (l *LockManager) releasePermanent(ctx context.Context, claim Claim, stage model.Stage, prefix, errMsg string) error {
	now := time.Now().UTC()

	query := fmt.Sprintf(
		`UPDATE discoveries SET
			%[1]s_status = 'failed',
			%[1]s_error = $1,
			%[1]s_error_class = 'permanent',
			%[1]s_attempts = $2,
			%[1]s_next_retry_at = NULL,
			%[1]s_claim_token = NULL,
			%[1]s_claimed_at = NULL,
			updated_at = $3
		 WHERE id = $4 AND %[1]s_claim_token = $5`, prefix)

	tag, err := l.pool.Exec(ctx, query,
		errMsg, claim.Attempts+1, now, claim.RecordID, claim.Token,
	)
	if err != nil {
		return eris.Wrapf(err, "store: release %s permanent %d", stage, claim.RecordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrClaimLost, "store: %s release of discovery %d", stage, claim.RecordID)
	}
	return nil
}

// backoff returns the delay before the nth retry, n counted from 1.
func (l *LockManager) backoff(failures int) time.Duration {
	d := l.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= l.cfg.BackoffCap {
			return l.cfg.BackoffCap
		}
	}
	if d > l.cfg.BackoffCap {
		d = l.cfg.BackoffCap
	}
	return d
}

// CleanupStale force-releases claims older than the stale threshold, counting
// each as one transient failure so the backoff ladder still applies. This is
// what keeps a crashed worker from starving a record. Returns rows released.
func (l *LockManager) CleanupStale(ctx context.Context, stage model.Stage) (int64, error) {
	prefix, err := stagePrefix(stage)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	staleBefore := now.Add(-l.cfg.StaleAfter)

	query := fmt.Sprintf(
		`UPDATE discoveries SET
			%[1]s_status = CASE WHEN %[1]s_attempts + 1 >= $1 THEN 'failed' ELSE 'pending' END,
			%[1]s_error = 'stale claim reclaimed',
			%[1]s_error_class = 'transient',
			%[1]s_attempts = %[1]s_attempts + 1,
			%[1]s_next_retry_at = CASE WHEN %[1]s_attempts + 1 >= $1 THEN NULL
				ELSE $2::timestamptz + make_interval(secs => LEAST($3 * power(2, %[1]s_attempts), $4)) END,
			%[1]s_claim_token = NULL,
			%[1]s_claimed_at = NULL,
			updated_at = $2
		 WHERE %[1]s_status = 'in_progress' AND %[1]s_claimed_at < $5`, prefix)

	tag, err := l.pool.Exec(ctx, query,
		l.cfg.MaxAttempts, now, l.cfg.BackoffBase.Seconds(), l.cfg.BackoffCap.Seconds(), staleBefore,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "store: cleanup stale %s claims", stage)
	}
	return tag.RowsAffected(), nil
}
