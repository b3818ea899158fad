package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"log-ingest/internal/domain"
)

// UsageRepo persists per-request usage reports.
type UsageRepo struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewUsageRepo creates a repository over a write/read pool pair.
func NewUsageRepo(writeDB, readDB *sql.DB) *UsageRepo {
	return &UsageRepo{writeDB: writeDB, readDB: readDB}
}

// Report stores records.
func (r *UsageRepo) Report(ctx context.Context, records []domain.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO usage_stats (org, stream, stream_type, usage_type, records, size_mb, response_time, num_functions, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Org, rec.Stream, rec.StreamType.String(), string(rec.UsageType), rec.Records,
			rec.SizeMB, rec.ResponseTime, rec.NumFunctions, createdAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert usage: %w", mapDBError(err))
		}
	}
	return tx.Commit()
}

// Summary aggregates usage per stream of orgID since the given time.
func (r *UsageRepo) Summary(ctx context.Context, orgID string, since time.Time) ([]domain.UsageSummary, error) {
	rows, err := r.readDB.QueryContext(ctx, `
SELECT stream, COUNT(*), SUM(records), SUM(size_mb)
FROM usage_stats
WHERE org = ? AND created_at >= ?
GROUP BY stream
ORDER BY stream`, orgID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	var out []domain.UsageSummary
	for rows.Next() {
		var s domain.UsageSummary
		if err := rows.Scan(&s.Stream, &s.Requests, &s.Records, &s.SizeMB); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ domain.UsageRepository = (*UsageRepo)(nil)
