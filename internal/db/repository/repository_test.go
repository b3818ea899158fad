package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "log-ingest/internal/db"
	"log-ingest/internal/domain"
)

func TestDistinctValueRepo_WriteAndList(t *testing.T) {
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	repo := NewDistinctValueRepo(writeDB, readDB)
	ctx := context.Background()

	item := func(value string) domain.DvItem {
		return domain.DvItem{StreamType: domain.StreamTypeLogs, StreamName: "app", FieldName: "level", FieldValue: value}
	}
	require.NoError(t, repo.Write(ctx, "o", []domain.DvItem{item("info"), item("error"), item("info")}))
	require.NoError(t, repo.Write(ctx, "o", []domain.DvItem{item("info")}))
	require.NoError(t, repo.Write(ctx, "other", []domain.DvItem{item("debug")}))
	require.NoError(t, repo.Write(ctx, "o", nil))

	got, err := repo.List(ctx, "o", domain.StreamTypeLogs, "app", "level")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0].Value)
	assert.Equal(t, int64(3), got[0].Count)
	assert.Equal(t, "error", got[1].Value)
	assert.Equal(t, int64(1), got[1].Count)
	assert.False(t, got[0].LastSeen.IsZero())
}

func TestUsageRepo_ReportAndSummary(t *testing.T) {
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	repo := NewUsageRepo(writeDB, readDB)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.Report(ctx, []domain.UsageRecord{
		{Org: "o", Stream: "app", StreamType: domain.StreamTypeLogs, UsageType: domain.UsageTypeJSON, Records: 10, SizeMB: 0.5, CreatedAt: now},
		{Org: "o", Stream: "app", StreamType: domain.StreamTypeLogs, UsageType: domain.UsageTypeOTLP, Records: 5, SizeMB: 0.25, NumFunctions: 2, CreatedAt: now},
		{Org: "o", Stream: "edge", StreamType: domain.StreamTypeLogs, UsageType: domain.UsageTypeJSON, Records: 1, CreatedAt: now.Add(-48 * time.Hour)},
	}))

	got, err := repo.Summary(ctx, "o", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.UsageSummary{Stream: "app", Requests: 2, Records: 15, SizeMB: 0.75}, got[0])

	got, err = repo.Summary(ctx, "o", now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
