package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteJournal implements Journal over a local file using modernc.org/sqlite,
// for one-shot sweeps run without a Postgres server.
type SQLiteJournal struct {
	db *sql.DB
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sweep_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	task         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	processed    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_sweep_log_task ON sweep_log(task, started_at DESC);
`

// NewSQLite opens (or creates) the journal database at path, configures WAL
// mode, and applies the schema.
func NewSQLite(path string) (*SQLiteJournal, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "journal: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "journal: exec %s", pragma)
		}
	}
	if _, err := sdb.Exec(sqliteMigration); err != nil {
		sdb.Close()
		return nil, eris.Wrap(err, "journal: migrate sqlite")
	}
	return &SQLiteJournal{db: sdb}, nil
}

func (j *SQLiteJournal) Start(ctx context.Context, task string) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO sweep_log (task, status, started_at) VALUES (?, 'running', ?)`,
		task, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "journal: start %s", task)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "journal: last insert id")
}

func (j *SQLiteJournal) Finish(ctx context.Context, entryID int64, result Result) error {
	status := StatusCompleted
	var errMsg sql.NullString
	if result.Err != nil {
		status = StatusFailed
		errMsg = sql.NullString{String: result.Err.Error(), Valid: true}
	}

	res, err := j.db.ExecContext(ctx,
		`UPDATE sweep_log SET status = ?, completed_at = ?, processed = ?, failed = ?, error = ?
		 WHERE id = ?`,
		string(status), time.Now().UTC(), result.Processed, result.Failed, errMsg, entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "journal: finish entry %d", entryID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "journal: rows affected")
	}
	if n == 0 {
		return eris.Errorf("journal: entry not found: %d", entryID)
	}
	return nil
}

func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, task, status, started_at, completed_at, processed, failed, error
		 FROM sweep_log ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "journal: recent entries")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "journal: recent entries iterate")
}

func (j *SQLiteJournal) LastPerTask(ctx context.Context) (map[string]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, task, status, started_at, completed_at, processed, failed, error
		 FROM sweep_log WHERE id IN (SELECT MAX(id) FROM sweep_log GROUP BY task)`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "journal: last per task")
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.Task] = e
	}
	return out, eris.Wrap(rows.Err(), "journal: last per task iterate")
}

func (j *SQLiteJournal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM sweep_log WHERE started_at < ?`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "journal: prune")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "journal: rows affected")
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func scanSQLiteEntry(rows *sql.Rows) (Entry, error) {
	var (
		e           Entry
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.Task, &e.Status, &e.StartedAt, &completedAt,
		&e.Processed, &e.Failed, &errMsg); err != nil {
		return Entry{}, eris.Wrap(err, "journal: scan entry")
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if errMsg.Valid {
		e.Error = errMsg.String
	}
	return e, nil
}
