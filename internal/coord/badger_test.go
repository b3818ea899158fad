package coord

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log-ingest/internal/domain"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenInMemory(slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nextEvent(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestBadgerStore_CRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "/function/o/a", []byte("1"), true))
	require.NoError(t, s.Put(ctx, "/function/o/b", []byte("2"), false))
	require.NoError(t, s.Put(ctx, "/other/x", []byte("3"), true))

	got, err := s.Get(ctx, "/function/o/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	list, err := s.List(ctx, "/function/")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"/function/o/a": []byte("1"), "/function/o/b": []byte("2")}, list)

	require.NoError(t, s.Delete(ctx, "/function/o/a"))
	_, err = s.Get(ctx, "/function/o/a")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	require.NoError(t, s.DeletePrefix(ctx, "/function/"))
	list, err = s.List(ctx, "/function/")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Get(ctx, "/other/x")
	require.NoError(t, err)
}

func TestBadgerStore_Watch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "/function/")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "/other/ignored", []byte("x"), true))
	require.NoError(t, s.Put(ctx, "/function/o/silent", []byte("s"), false))
	require.NoError(t, s.Put(ctx, "/function/o/a", []byte("v1"), true))
	require.NoError(t, s.Delete(ctx, "/function/o/a"))

	ev := nextEvent(t, ch)
	assert.Equal(t, domain.EventPut, ev.Kind)
	assert.Equal(t, "/function/o/a", ev.Key)
	assert.Equal(t, []byte("v1"), ev.Value)

	ev = nextEvent(t, ch)
	assert.Equal(t, domain.EventDelete, ev.Kind)
	assert.Equal(t, "/function/o/a", ev.Key)

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestBadgerStore_WatchClosedOnStoreClose(t *testing.T) {
	t.Parallel()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)

	ch, err := s.Watch(context.Background(), "/function/")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel not closed after store close")
	}
}

func TestToEvent(t *testing.T) {
	ev, ok := toEvent("k", &pb.KV{Value: []byte("v"), Meta: []byte{metaNotify}})
	require.True(t, ok)
	assert.Equal(t, domain.EventPut, ev.Kind)

	_, ok = toEvent("k", &pb.KV{Value: []byte("v"), Meta: []byte{metaSilent}})
	assert.False(t, ok)

	ev, ok = toEvent("k", &pb.KV{Meta: []byte{0}})
	require.True(t, ok)
	assert.Equal(t, domain.EventDelete, ev.Kind)
}
