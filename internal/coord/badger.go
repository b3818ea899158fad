// Package coord implements the coordination store on top of an embedded
// BadgerDB instance, using its prefix subscriptions as the watch mechanism.
package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/google/uuid"

	"log-ingest/internal/domain"
)

// User meta markers carried on every write so subscribers can tell notified
// puts apart from silent ones and from deletes (which carry no user meta).
const (
	metaNotify byte = 1
	metaSilent byte = 2
)

// readyPrefix namespaces the probe keys used to confirm a subscription is live.
const readyPrefix = "\x00watch/"

var errClosed = errors.New("coordination store closed")

// Config holds configuration for the badger-backed store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites enables synchronous writes.
	SyncWrites bool
	Logger     *slog.Logger
	// WatchBuffer is the capacity of each watch channel.
	WatchBuffer int
}

// BadgerStore is a domain.CoordinationStore backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	buffer int

	closing   chan struct{}
	closeOnce sync.Once
}

var _ domain.CoordinationStore = (*BadgerStore)(nil)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Open opens the store described by cfg.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent coordination store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create coordination store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open coordination store: %w", err)
	}

	buffer := cfg.WatchBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &BadgerStore{
		db:      db,
		logger:  logger.With("component", "coord"),
		buffer:  buffer,
		closing: make(chan struct{}),
	}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory(logger *slog.Logger) (*BadgerStore, error) {
	return Open(Config{InMemory: true, Logger: logger})
}

// Close closes the database. Active watches observe a closed channel.
func (s *BadgerStore) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.db.Close()
}

// Put stores value under key.
func (s *BadgerStore) Put(_ context.Context, key string, value []byte, notify bool) error {
	meta := metaSilent
	if notify {
		meta = metaNotify
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithMeta(meta))
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound("key %q not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out, nil
}

// Delete removes key and notifies watchers.
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns every key/value pair under prefix.
func (s *BadgerStore) List(_ context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.KeyCopy(nil))] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

// DeletePrefix removes every key under prefix. Watchers are not notified.
func (s *BadgerStore) DeletePrefix(_ context.Context, prefix string) error {
	if err := s.db.DropPrefix([]byte(prefix)); err != nil {
		return fmt.Errorf("delete prefix %s: %w", prefix, err)
	}
	return nil
}

// Watch subscribes to changes under prefix. The returned channel is live when
// Watch returns: any write committed afterwards is delivered. It is closed when
// ctx is cancelled or the store is closed.
func (s *BadgerStore) Watch(ctx context.Context, prefix string) (<-chan domain.Event, error) {
	events := make(chan domain.Event, s.buffer)
	probe := readyPrefix + uuid.NewString()
	ready := make(chan struct{})
	done := make(chan error, 1)

	var readyOnce sync.Once
	cb := func(list *badger.KVList) error {
		for _, kv := range list.GetKv() {
			key := string(kv.GetKey())
			if strings.HasPrefix(key, readyPrefix) {
				if key == probe {
					readyOnce.Do(func() { close(ready) })
				}
				continue
			}
			ev, ok := toEvent(key, kv)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			case <-s.closing:
				return errClosed
			}
		}
		return nil
	}

	go func() {
		defer close(events)
		err := s.db.Subscribe(ctx, cb, []pb.Match{{Prefix: []byte(prefix)}, {Prefix: []byte(probe)}})
		if err != nil && !errors.Is(err, errClosed) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("watch ended", "prefix", prefix, "error", err)
		}
		done <- err
	}()

	if err := s.awaitSubscription(ctx, probe, ready, done); err != nil {
		return nil, fmt.Errorf("watch %s: %w", prefix, err)
	}
	return events, nil
}

// awaitSubscription writes the probe key until the subscriber reports it.
func (s *BadgerStore) awaitSubscription(ctx context.Context, probe string, ready <-chan struct{}, done <-chan error) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	defer func() {
		_ = s.Delete(context.WithoutCancel(ctx), probe)
	}()

	for {
		if err := s.Put(ctx, probe, nil, false); err != nil {
			return err
		}
		select {
		case <-ready:
			return nil
		case err := <-done:
			if err == nil {
				err = errors.New("subscription ended")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func toEvent(key string, kv *pb.KV) (domain.Event, bool) {
	var meta byte
	if m := kv.GetMeta(); len(m) > 0 {
		meta = m[0]
	}
	switch {
	case meta == metaSilent:
		return domain.Event{}, false
	case meta == metaNotify:
		return domain.PutEvent(key, kv.GetValue()), true
	case len(kv.GetValue()) == 0:
		return domain.DeleteEvent(key), true
	default:
		return domain.PutEvent(key, kv.GetValue()), true
	}
}
