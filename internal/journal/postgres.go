package journal

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/db"
)

// PostgresJournal writes the sweep_log table. The table is part of the main
// store migration; the journal shares the store's pool.
type PostgresJournal struct {
	pool db.Pool
}

// NewPostgres creates a journal over an existing pool.
func NewPostgres(pool db.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

func (j *PostgresJournal) Start(ctx context.Context, task string) (int64, error) {
	var id int64
	err := j.pool.QueryRow(ctx,
		`INSERT INTO sweep_log (task, status, started_at) VALUES ($1, 'running', $2) RETURNING id`,
		task, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "journal: start %s", task)
	}
	return id, nil
}

func (j *PostgresJournal) Finish(ctx context.Context, entryID int64, result Result) error {
	status := StatusCompleted
	var errMsg *string
	if result.Err != nil {
		status = StatusFailed
		msg := result.Err.Error()
		errMsg = &msg
	}

	tag, err := j.pool.Exec(ctx,
		`UPDATE sweep_log SET status = $2, completed_at = $3, processed = $4, failed = $5, error = $6
		 WHERE id = $1`,
		entryID, string(status), time.Now().UTC(), result.Processed, result.Failed, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "journal: finish entry %d", entryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("journal: entry not found: %d", entryID)
	}
	return nil
}

func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id, task, status, started_at, completed_at, processed, failed, error
		 FROM sweep_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "journal: recent entries")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanPGEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "journal: recent entries iterate")
}

func (j *PostgresJournal) LastPerTask(ctx context.Context) (map[string]Entry, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id, task, status, started_at, completed_at, processed, failed, error
		 FROM sweep_log WHERE id IN (SELECT MAX(id) FROM sweep_log GROUP BY task)`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "journal: last per task")
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		e, err := scanPGEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.Task] = e
	}
	return out, eris.Wrap(rows.Err(), "journal: last per task iterate")
}

func (j *PostgresJournal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx,
		`DELETE FROM sweep_log WHERE started_at < $1`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "journal: prune")
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the store.
func (j *PostgresJournal) Close() error {
	return nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanPGEntry(row pgRow) (Entry, error) {
	var (
		e      Entry
		errMsg *string
	)
	if err := row.Scan(&e.ID, &e.Task, &e.Status, &e.StartedAt, &e.CompletedAt,
		&e.Processed, &e.Failed, &errMsg); err != nil {
		return Entry{}, eris.Wrap(err, "journal: scan entry")
	}
	if errMsg != nil {
		e.Error = *errMsg
	}
	return e, nil
}
