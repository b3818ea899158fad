package domain

import (
	"context"
	"time"
)

// CoordinationStore is the shared, watchable key-value store every node reads
// transform, schema and alert definitions from.
// Implemented by coord.BadgerStore.
type CoordinationStore interface {
	// Put stores value under key. When notify is false no watch event is emitted.
	Put(ctx context.Context, key string, value []byte, notify bool) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key and notifies watchers.
	Delete(ctx context.Context, key string) error
	// List returns every key/value pair under prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// DeletePrefix removes every key under prefix without notification.
	DeletePrefix(ctx context.Context, prefix string) error
	// Watch streams change events under prefix until ctx is cancelled or the
	// store closes, at which point the channel is closed.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
}

// WriteStage persists a partitioned buffer of serialised records.
// Implemented by wal.Manager.
type WriteStage interface {
	Write(ctx context.Context, buf map[string][]string, workerID int, params StreamParams, minTS int64) (RequestStats, error)
}

// DistinctValueRepository records distinct field values seen during ingestion.
// Implemented by repository.DistinctValueRepo.
type DistinctValueRepository interface {
	Write(ctx context.Context, orgID string, items []DvItem) error
	List(ctx context.Context, orgID string, streamType StreamType, stream, field string) ([]DistinctValue, error)
}

// UsageRepository records per-request usage accounting.
// Implemented by repository.UsageRepo.
type UsageRepository interface {
	Report(ctx context.Context, records []UsageRecord) error
	Summary(ctx context.Context, orgID string, since time.Time) ([]UsageSummary, error)
}
