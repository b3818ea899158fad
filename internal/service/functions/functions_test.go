package functions

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-ingest/internal/cache"
	"log-ingest/internal/coord"
	"log-ingest/internal/domain"
	"log-ingest/internal/service/transform"
	"log-ingest/internal/testutil"
)

type testEnv struct {
	coord *coord.BadgerStore
	store *Store
	sync  *Synchronizer
	cache *cache.FunctionCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cs, err := coord.OpenInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	fc := cache.NewFunctionCache()
	return &testEnv{
		coord: cs,
		store: NewStore(cs, transform.NewRuntime(transform.Config{}, logger), logger),
		sync:  NewSynchronizer(cs, fc, logger),
		cache: fc,
	}
}

func upper() domain.Transform {
	return domain.Transform{
		Name:      "upper",
		Function:  "function upper(row) { row.msg = row.msg.toUpperCase(); return row; }",
		Params:    "row",
		NumArgs:   1,
		TransType: domain.EngineScript,
	}
}

func bound(t domain.Transform, streams ...domain.StreamOrder) domain.Transform {
	t.Streams = streams
	return t
}

func TestStore_SetGetListDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.Set(ctx, "org1", "upper", upper()))
	require.NoError(t, env.store.Set(ctx, "org1", "id", domain.Transform{Name: "id", Function: "row"}))
	require.NoError(t, env.store.Set(ctx, "org2", "id", domain.Transform{Name: "id", Function: "row"}))

	got, err := env.store.Get(ctx, "org1", "upper")
	require.NoError(t, err)
	assert.Equal(t, upper(), got)

	list, err := env.store.List(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "id", list[0].Name)
	assert.Equal(t, "upper", list[1].Name)

	require.NoError(t, env.store.Delete(ctx, "org1", "upper"))
	_, err = env.store.Get(ctx, "org1", "upper")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	require.NoError(t, env.store.Reset(ctx))
	list, err = env.store.List(ctx, "org2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_SetRejectsInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	tests := []struct {
		name string
		org  string
		key  string
		tr   domain.Transform
	}{
		{"missing function", "o", "f", domain.Transform{Name: "f"}},
		{"missing name", "o", "f", domain.Transform{Function: "row"}},
		{"bad engine", "o", "f", domain.Transform{Name: "f", Function: "row", TransType: 4}},
		{"binding without stream", "o", "f", bound(domain.Transform{Name: "f", Function: "row"}, domain.StreamOrder{Order: 1})},
		{"slash in name", "o", "a/b", domain.Transform{Name: "f", Function: "row"}},
		{"empty org", "", "f", domain.Transform{Name: "f", Function: "row"}},
		{"does not compile", "o", "f", domain.Transform{Name: "f", Function: "return ((("}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := env.store.Set(ctx, tc.org, tc.key, tc.tr)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestStore_SetUsesNotification(t *testing.T) {
	t.Parallel()
	var notified []bool
	var deletedPrefixes []string
	mock := &testutil.MockCoordinationStore{
		PutFn: func(_ context.Context, key string, _ []byte, notify bool) error {
			assert.Equal(t, "/function/o/f", key)
			notified = append(notified, notify)
			return nil
		},
		DeletePrefixFn: func(_ context.Context, prefix string) error {
			deletedPrefixes = append(deletedPrefixes, prefix)
			return nil
		},
	}
	s := NewStore(mock, nil, slog.New(slog.DiscardHandler))

	require.NoError(t, s.Set(context.Background(), "o", "f", domain.Transform{Name: "f", Function: "row"}))
	require.NoError(t, s.Reset(context.Background()))
	assert.Equal(t, []bool{true}, notified)
	assert.Equal(t, []string{"/function/", "/transform/"}, deletedPrefixes)
}

func TestSynchronizer_Cache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.Set(ctx, "org1", "id", domain.Transform{Name: "id", Function: "row"}))
	require.NoError(t, env.store.Set(ctx, "org1", "upper", bound(upper(),
		domain.StreamOrder{Stream: "app", Order: 2, StreamType: domain.StreamTypeLogs},
		domain.StreamOrder{Stream: "edge", Order: 1, StreamType: domain.StreamTypeLogs},
	)))

	require.NoError(t, env.sync.Cache(ctx))

	_, ok := env.cache.QueryFunction("org1/id")
	assert.True(t, ok)
	_, ok = env.cache.QueryFunction("org1/upper")
	assert.False(t, ok, "stream-bound transforms stay out of the query cache")

	app := env.cache.StreamTransforms("org1/logs/app")
	require.Len(t, app, 1)
	assert.Equal(t, uint8(2), app[0].Order)
	assert.Nil(t, app[0].Transform.Streams)
	assert.Len(t, env.cache.StreamTransforms("org1/logs/edge"), 1)
}

func TestSynchronizer_CacheRejectsMalformedKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.coord.Put(ctx, "/function/orgonly", []byte(`{"function":"row","name":"x"}`), false))
	err := env.sync.Cache(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/function/orgonly")
}

func TestSynchronizer_CacheRejectsUndecodable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.coord.Put(ctx, "/function/o/x", []byte(`not json`), false))
	err := env.sync.Cache(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/function/o/x")
}

func startConsume(t *testing.T, env *testEnv) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	events, err := env.coord.Watch(ctx, FunctionPrefix)
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- env.sync.consume(ctx, events) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestSynchronizer_WatchUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	startConsume(t, env)

	tr := bound(upper(), domain.StreamOrder{Stream: "app", Order: 1, StreamType: domain.StreamTypeLogs})
	require.NoError(t, env.store.Set(ctx, "org1", "upper", tr))
	require.NoError(t, env.store.Set(ctx, "org1", "upper", tr))

	tr.Streams[0].Order = 7
	require.NoError(t, env.store.Set(ctx, "org1", "upper", tr))

	require.Eventually(t, func() bool {
		chain := env.cache.StreamTransforms("org1/logs/app")
		return len(chain) == 1 && chain[0].Order == 7
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, env.cache.StreamTransforms("org1/logs/app"), 1)
}

func TestSynchronizer_WatchDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	startConsume(t, env)

	require.NoError(t, env.store.Set(ctx, "org1", "id", domain.Transform{Name: "id", Function: "row"}))
	require.NoError(t, env.store.Set(ctx, "org1", "upper", bound(upper(), domain.StreamOrder{Stream: "app", StreamType: domain.StreamTypeLogs})))
	require.Eventually(t, func() bool {
		_, ok := env.cache.QueryFunction("org1/id")
		return ok && len(env.cache.StreamTransforms("org1/logs/app")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, env.store.Delete(ctx, "org1", "id"))
	require.NoError(t, env.store.Delete(ctx, "org1", "upper"))
	require.Eventually(t, func() bool {
		_, ok := env.cache.QueryFunction("org1/id")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	// Deleting a stream-bound transform leaves its chain entries in place.
	assert.Len(t, env.cache.StreamTransforms("org1/logs/app"), 1)
}

func TestSynchronizer_WatchSkipsMalformedEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	startConsume(t, env)

	require.NoError(t, env.coord.Put(ctx, "/function/bad", []byte(`{}`), true))
	require.NoError(t, env.coord.Put(ctx, "/function/o/garbage", []byte(`{`), true))
	require.NoError(t, env.store.Set(ctx, "o", "id", domain.Transform{Name: "id", Function: "row"}))

	require.Eventually(t, func() bool {
		_, ok := env.cache.QueryFunction("o/id")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, env.cache.QueryFunctions(), 1)
}

func TestSynchronizer_WatchStopsOnCancel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	cancel, errCh := startConsume(t, env)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestSynchronizer_WatchReportsClosedChannel(t *testing.T) {
	t.Parallel()
	events := make(chan domain.Event)
	mock := &testutil.MockCoordinationStore{
		WatchFn: func(context.Context, string) (<-chan domain.Event, error) {
			return events, nil
		},
	}
	s := NewSynchronizer(mock, cache.NewFunctionCache(), slog.New(slog.DiscardHandler))
	close(events)

	err := s.Watch(context.Background())
	require.ErrorIs(t, err, ErrWatchClosed)
}

func TestSynchronizer_HandleEmptyEvent(t *testing.T) {
	t.Parallel()
	fc := cache.NewFunctionCache()
	s := NewSynchronizer(&testutil.MockCoordinationStore{}, fc, slog.New(slog.DiscardHandler))
	s.handle(domain.Event{Kind: domain.EventEmpty})
	assert.Empty(t, fc.QueryFunctions())
	assert.Empty(t, fc.StreamKeys())
}

func TestSynchronizer_RunLoadsThenFollows(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t)

	require.NoError(t, env.store.Set(ctx, "org1", "upper", bound(upper(), domain.StreamOrder{Stream: "app", StreamType: domain.StreamTypeLogs})))

	errCh := make(chan error, 1)
	go func() { errCh <- env.sync.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(env.cache.StreamTransforms("org1/logs/app")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, env.store.Set(ctx, "org1", "id", domain.Transform{Name: "id", Function: "row"}))
	require.Eventually(t, func() bool {
		_, ok := env.cache.QueryFunction("org1/id")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Len(t, env.cache.StreamTransforms("org1/logs/app"), 1)
}

func TestSynchronizer_RunRestartsAfterClose(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := bound(domain.Transform{Name: "f", Function: "row"}, domain.StreamOrder{Stream: "app", StreamType: domain.StreamTypeLogs})
	value, err := domain.EncodeTransform(tr)
	require.NoError(t, err)

	watches := make(chan chan domain.Event, 4)
	mock := &testutil.MockCoordinationStore{
		ListFn: func(context.Context, string) (map[string][]byte, error) {
			return map[string][]byte{"/function/o/f": value}, nil
		},
		WatchFn: func(context.Context, string) (<-chan domain.Event, error) {
			ch := make(chan domain.Event)
			watches <- ch
			return ch, nil
		},
	}
	fc := cache.NewFunctionCache()
	s := NewSynchronizer(mock, fc, slog.New(slog.DiscardHandler))
	s.initialBackoff = time.Millisecond
	s.maxBackoff = time.Millisecond

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	first := <-watches
	close(first)
	second := <-watches
	second <- domain.PutEvent("/function/o/g", []byte(`{"function":"row","name":"g"}`))

	require.Eventually(t, func() bool {
		_, ok := fc.QueryFunction("o/g")
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Len(t, fc.StreamTransforms("o/logs/app"), 1, "reload after restart does not duplicate chains")

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}
