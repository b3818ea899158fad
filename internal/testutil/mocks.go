// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"log-ingest/internal/domain"
)

// === Coordination Store Mock ===

// MockCoordinationStore implements domain.CoordinationStore for testing.
type MockCoordinationStore struct {
	PutFn          func(ctx context.Context, key string, value []byte, notify bool) error
	GetFn          func(ctx context.Context, key string) ([]byte, error)
	DeleteFn       func(ctx context.Context, key string) error
	ListFn         func(ctx context.Context, prefix string) (map[string][]byte, error)
	DeletePrefixFn func(ctx context.Context, prefix string) error
	WatchFn        func(ctx context.Context, prefix string) (<-chan domain.Event, error)
}

// Put implements the interface method for testing.
func (m *MockCoordinationStore) Put(ctx context.Context, key string, value []byte, notify bool) error {
	if m.PutFn != nil {
		return m.PutFn(ctx, key, value, notify)
	}
	panic("unexpected call to MockCoordinationStore.Put")
}

// Get implements the interface method for testing.
func (m *MockCoordinationStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, key)
	}
	panic("unexpected call to MockCoordinationStore.Get")
}

// Delete implements the interface method for testing.
func (m *MockCoordinationStore) Delete(ctx context.Context, key string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, key)
	}
	panic("unexpected call to MockCoordinationStore.Delete")
}

// List implements the interface method for testing.
func (m *MockCoordinationStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, prefix)
	}
	panic("unexpected call to MockCoordinationStore.List")
}

// DeletePrefix implements the interface method for testing.
func (m *MockCoordinationStore) DeletePrefix(ctx context.Context, prefix string) error {
	if m.DeletePrefixFn != nil {
		return m.DeletePrefixFn(ctx, prefix)
	}
	panic("unexpected call to MockCoordinationStore.DeletePrefix")
}

// Watch implements the interface method for testing.
func (m *MockCoordinationStore) Watch(ctx context.Context, prefix string) (<-chan domain.Event, error) {
	if m.WatchFn != nil {
		return m.WatchFn(ctx, prefix)
	}
	panic("unexpected call to MockCoordinationStore.Watch")
}

// === Write Stage Mock ===

// WriteCall records one call to MockWriteStage.Write.
type WriteCall struct {
	Buf      map[string][]string
	WorkerID int
	Params   domain.StreamParams
	MinTS    int64
}

// MockWriteStage implements domain.WriteStage for testing.
type MockWriteStage struct {
	WriteFn func(ctx context.Context, buf map[string][]string, workerID int, params domain.StreamParams, minTS int64) (domain.RequestStats, error)

	mu    sync.Mutex
	Calls []WriteCall
}

// Write implements the interface method for testing.
func (m *MockWriteStage) Write(ctx context.Context, buf map[string][]string, workerID int, params domain.StreamParams, minTS int64) (domain.RequestStats, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, WriteCall{Buf: buf, WorkerID: workerID, Params: params, MinTS: minTS})
	m.mu.Unlock()
	if m.WriteFn != nil {
		return m.WriteFn(ctx, buf, workerID, params, minTS)
	}
	var records int64
	for _, lines := range buf {
		records += int64(len(lines))
	}
	return domain.RequestStats{Records: records}, nil
}

// Records returns every serialised record handed to the write stage.
func (m *MockWriteStage) Records() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.Calls {
		for _, lines := range c.Buf {
			out = append(out, lines...)
		}
	}
	return out
}

// === Distinct Value Repository Mock ===

// MockDistinctValueRepo implements domain.DistinctValueRepository for testing.
type MockDistinctValueRepo struct {
	WriteFn func(ctx context.Context, orgID string, items []domain.DvItem) error
	ListFn  func(ctx context.Context, orgID string, streamType domain.StreamType, stream, field string) ([]domain.DistinctValue, error)
	Items   []domain.DvItem // collected items for assertions
}

// Write implements the interface method for testing.
func (m *MockDistinctValueRepo) Write(ctx context.Context, orgID string, items []domain.DvItem) error {
	if m.WriteFn != nil {
		if err := m.WriteFn(ctx, orgID, items); err != nil {
			return err
		}
	}
	m.Items = append(m.Items, items...)
	return nil
}

// List implements the interface method for testing.
func (m *MockDistinctValueRepo) List(ctx context.Context, orgID string, streamType domain.StreamType, stream, field string) ([]domain.DistinctValue, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, orgID, streamType, stream, field)
	}
	panic("unexpected call to MockDistinctValueRepo.List")
}

// === Usage Repository Mock ===

// MockUsageRepo implements domain.UsageRepository for testing.
type MockUsageRepo struct {
	ReportFn  func(ctx context.Context, records []domain.UsageRecord) error
	SummaryFn func(ctx context.Context, orgID string, since time.Time) ([]domain.UsageSummary, error)
	Records   []domain.UsageRecord // collected records for assertions
}

// Report implements the interface method for testing.
func (m *MockUsageRepo) Report(ctx context.Context, records []domain.UsageRecord) error {
	if m.ReportFn != nil {
		if err := m.ReportFn(ctx, records); err != nil {
			return err
		}
	}
	m.Records = append(m.Records, records...)
	return nil
}

// Summary implements the interface method for testing.
func (m *MockUsageRepo) Summary(ctx context.Context, orgID string, since time.Time) ([]domain.UsageSummary, error) {
	if m.SummaryFn != nil {
		return m.SummaryFn(ctx, orgID, since)
	}
	panic("unexpected call to MockUsageRepo.Summary")
}

// Compile-time interface checks.
var (
	_ domain.CoordinationStore       = (*MockCoordinationStore)(nil)
	_ domain.WriteStage              = (*MockWriteStage)(nil)
	_ domain.DistinctValueRepository = (*MockDistinctValueRepo)(nil)
	_ domain.UsageRepository         = (*MockUsageRepo)(nil)
)
