package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"log-ingest/internal/domain"
)

// DistinctValueRepo persists distinct field values observed during ingestion.
type DistinctValueRepo struct {
	writeDB *sql.DB
	readDB  *sql.DB
	now     func() time.Time
}

// NewDistinctValueRepo creates a repository over a write/read pool pair.
func NewDistinctValueRepo(writeDB, readDB *sql.DB) *DistinctValueRepo {
	return &DistinctValueRepo{writeDB: writeDB, readDB: readDB, now: time.Now}
}

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const upsertDistinctValue = `
INSERT INTO distinct_values (org, stream_type, stream, field, value, filter_name, filter_value, count, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (org, stream_type, stream, field, value, filter_name, filter_value)
DO UPDATE SET count = count + 1, last_seen = excluded.last_seen`

// Write upserts items in one transaction, incrementing the count of values
// already seen.
func (r *DistinctValueRepo) Write(ctx context.Context, orgID string, items []domain.DvItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := r.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin distinct values tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, upsertDistinctValue)
	if err != nil {
		return fmt.Errorf("prepare distinct values upsert: %w", err)
	}
	defer stmt.Close()

	seen := r.now().UTC().Format(timeLayout)
	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, orgID, it.StreamType.String(), it.StreamName, it.FieldName,
			it.FieldValue, it.FilterName, it.FilterValue, seen); err != nil {
			return fmt.Errorf("upsert distinct value %s.%s: %w", it.StreamName, it.FieldName, mapDBError(err))
		}
	}
	return tx.Commit()
}

// List returns the distinct values of one field ordered by descending count.
func (r *DistinctValueRepo) List(ctx context.Context, orgID string, streamType domain.StreamType, stream, field string) ([]domain.DistinctValue, error) {
	rows, err := r.readDB.QueryContext(ctx, `
SELECT value, SUM(count), MAX(last_seen)
FROM distinct_values
WHERE org = ? AND stream_type = ? AND stream = ? AND field = ?
GROUP BY value
ORDER BY SUM(count) DESC, value ASC`, orgID, streamType.String(), stream, field)
	if err != nil {
		return nil, fmt.Errorf("list distinct values: %w", err)
	}
	defer rows.Close()

	var out []domain.DistinctValue
	for rows.Next() {
		var (
			dv       domain.DistinctValue
			lastSeen string
		)
		if err := rows.Scan(&dv.Value, &dv.Count, &lastSeen); err != nil {
			return nil, err
		}
		dv.LastSeen, err = time.Parse(timeLayout, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("parse last_seen %q: %w", lastSeen, err)
		}
		out = append(out, dv)
	}
	return out, rows.Err()
}

var _ domain.DistinctValueRepository = (*DistinctValueRepo)(nil)
