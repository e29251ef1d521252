package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/model"
)

// CreateClient inserts a client and its quota row in one transaction so a
// client can never exist without a quota counter.
func (s *Store) CreateClient(ctx context.Context, name string, weeklyAllowance int) (*model.Client, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "store: begin create client")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO clients (id, name, created_at) VALUES ($1, $2, $3)`,
		id, name, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: insert client %s", name)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO client_quotas (client_id, weekly_allowance, current_count, last_reset_at, updated_at)
		 VALUES ($1, $2, 0, $3, $3)`,
		id, weeklyAllowance, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: insert quota for client %s", name)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "store: commit create client")
	}

	return &model.Client{ID: id, Name: name, CreatedAt: now}, nil
}

// GetClientByName looks up a client by its unique name. Returns nil when
// absent so seed loads can upsert.
func (s *Store) GetClientByName(ctx context.Context, name string) (*model.Client, error) {
	var c model.Client
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM clients WHERE name = $1`, name,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get client %s", name)
	}
	return &c, nil
}

// GetQuota loads a client's quota counter.
func (s *Store) GetQuota(ctx context.Context, clientID string) (*model.QuotaState, error) {
	var q model.QuotaState
	err := s.pool.QueryRow(ctx,
		`SELECT client_id, weekly_allowance, current_count, last_reset_at, updated_at
		 FROM client_quotas WHERE client_id = $1`,
		clientID,
	).Scan(&q.ClientID, &q.WeeklyAllowance, &q.CurrentCount, &q.LastResetAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("quota not found for client: %s", clientID)
		}
		return nil, eris.Wrapf(err, "store: get quota %s", clientID)
	}
	return &q, nil
}

// SetQuotaAllowance adjusts a client's weekly allowance. The counter and
// reset clock are untouched; the new cap applies from the next increment.
func (s *Store) SetQuotaAllowance(ctx context.Context, clientID string, allowance int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE client_quotas SET weekly_allowance = $2, updated_at = now() WHERE client_id = $1`,
		clientID, allowance,
	)
	if err != nil {
		return eris.Wrapf(err, "store: set quota allowance %s", clientID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("quota not found for client: %s", clientID)
	}
	return nil
}

// CreateCampaign inserts a campaign with its criteria document.
func (s *Store) CreateCampaign(ctx context.Context, clientID, name string, criteria model.Criteria, qualifyThreshold *int) (*model.Campaign, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal criteria")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, client_id, name, criteria, qualify_threshold, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, true, $6)`,
		id, clientID, name, criteriaJSON, qualifyThreshold, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: insert campaign %s", name)
	}

	return &model.Campaign{
		ID:               id,
		ClientID:         clientID,
		Name:             name,
		Criteria:         criteria,
		QualifyThreshold: qualifyThreshold,
		Active:           true,
		CreatedAt:        now,
	}, nil
}

// GetCampaign loads one campaign with its criteria.
func (s *Store) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	var criteriaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, name, criteria, qualify_threshold, active, created_at
		 FROM campaigns WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.ClientID, &c.Name, &criteriaJSON, &c.QualifyThreshold, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("campaign not found: %s", id)
		}
		return nil, eris.Wrapf(err, "store: get campaign %s", id)
	}
	if err := json.Unmarshal(criteriaJSON, &c.Criteria); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal criteria")
	}
	return &c, nil
}

// GetCampaignByName looks up a client's campaign by name. Returns nil when
// absent so seed loads can skip campaigns that already exist.
func (s *Store) GetCampaignByName(ctx context.Context, clientID, name string) (*model.Campaign, error) {
	var c model.Campaign
	var criteriaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, name, criteria, qualify_threshold, active, created_at
		 FROM campaigns WHERE client_id = $1 AND name = $2`,
		clientID, name,
	).Scan(&c.ID, &c.ClientID, &c.Name, &criteriaJSON, &c.QualifyThreshold, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get campaign %s for client %s", name, clientID)
	}
	if err := json.Unmarshal(criteriaJSON, &c.Criteria); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal criteria")
	}
	return &c, nil
}

// ListActiveCampaigns returns campaigns still running sweeps.
func (s *Store) ListActiveCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, client_id, name, criteria, qualify_threshold, active, created_at
		 FROM campaigns WHERE active = true ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list active campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var c model.Campaign
		var criteriaJSON []byte
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Name, &criteriaJSON, &c.QualifyThreshold, &c.Active, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan campaign")
		}
		if err := json.Unmarshal(criteriaJSON, &c.Criteria); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal criteria")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "store: list campaigns iterate")
}
