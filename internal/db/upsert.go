package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig names the target of a bulk write.
type UpsertConfig struct {
	Table        string   // target table (e.g., "media")
	Columns      []string // all columns being written
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns rewritten on conflict; nil = all non-key columns
}

// BulkUpsert COPYs rows into a temp table and folds them into the target
// with INSERT ... ON CONFLICT DO UPDATE. One transaction per call; the
// temp table drops on commit. Returns the number of rows written.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	return bulkWrite(ctx, pool, cfg, rows, false)
}

// BulkInsertIgnore is BulkUpsert with ON CONFLICT DO NOTHING: rows that
// collide on the conflict keys are left untouched. Returns the number of
// rows actually inserted.
func BulkInsertIgnore(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	return bulkWrite(ctx, pool, cfg, rows, true)
}

func bulkWrite(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any, ignoreConflicts bool) (int64, error) {
	switch {
	case len(rows) == 0:
		return 0, nil
	case len(cfg.Columns) == 0:
		return 0, eris.New("db: upsert: no columns specified")
	case len(cfg.ConflictKeys) == 0:
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	temp := "_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")
	create := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{temp}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{temp}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	cols := quoteAndJoin(cfg.Columns)
	fold := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		cols,
		cols,
		pgx.Identifier{temp}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		conflictAction(cfg, ignoreConflicts),
	)
	tag, err := tx.Exec(ctx, fold)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// conflictAction renders the ON CONFLICT arm.
func conflictAction(cfg UpsertConfig, ignoreConflicts bool) string {
	if ignoreConflicts {
		return "DO NOTHING"
	}
	cols := cfg.UpdateCols
	if cols == nil {
		cols = nonKeyColumns(cfg)
	}
	set := make([]string, len(cols))
	for i, c := range cols {
		q := pgx.Identifier{c}.Sanitize()
		set[i] = q + " = EXCLUDED." + q
	}
	return "DO UPDATE SET " + strings.Join(set, ", ")
}

// nonKeyColumns returns cfg.Columns minus the conflict keys, order kept.
func nonKeyColumns(cfg UpsertConfig) []string {
	keys := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		keys[k] = true
	}
	out := make([]string, 0, len(cfg.Columns))
	for _, c := range cfg.Columns {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}

// sanitizeTable quotes a table name, schema-qualified or not.
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes column names and joins them with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
