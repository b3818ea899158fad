package functions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"log-ingest/internal/cache"
	"log-ingest/internal/domain"
)

// ErrWatchClosed is returned by Watch when the coordination store closes the
// subscription.
var ErrWatchClosed = errors.New("function watch channel closed")

// Synchronizer mirrors the transform registry into a FunctionCache. It is the
// only steady-state writer of that cache.
type Synchronizer struct {
	coord  domain.CoordinationStore
	cache  *cache.FunctionCache
	logger *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSynchronizer creates a Synchronizer feeding c.
func NewSynchronizer(coord domain.CoordinationStore, c *cache.FunctionCache, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		coord:          coord,
		cache:          c,
		logger:         logger.With("component", "function-sync"),
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
	}
}

// splitKey extracts (org, name) from a /function/{org}/{name} key.
func splitKey(key string) (org, name string, err error) {
	rest, ok := strings.CutPrefix(key, FunctionPrefix)
	if !ok {
		return "", "", fmt.Errorf("key %q is outside %s", key, FunctionPrefix)
	}
	org, name, ok = strings.Cut(rest, "/")
	if !ok || org == "" || name == "" {
		return "", "", fmt.Errorf("malformed function key %q", key)
	}
	return org, name, nil
}

// Cache bulk-loads every stored transform. Stream-bound transforms are
// appended to their chains; query-time transforms overwrite their entry.
// A malformed key or undecodable value aborts the load.
func (s *Synchronizer) Cache(ctx context.Context) error {
	return s.load(ctx, s.cache.AppendStreamTransform)
}

func (s *Synchronizer) load(ctx context.Context, bind func(string, domain.StreamTransform)) error {
	items, err := s.coord.List(ctx, FunctionPrefix)
	if err != nil {
		return fmt.Errorf("list functions: %w", err)
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		org, name, err := splitKey(key)
		if err != nil {
			return err
		}
		t, err := domain.DecodeTransform(items[key])
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		s.apply(org, name, t, bind)
	}
	s.logger.Info("functions cached", "count", len(keys))
	return nil
}

func (s *Synchronizer) apply(org, name string, t domain.Transform, bind func(string, domain.StreamTransform)) {
	if !t.IsStreamBound() {
		s.cache.PutQueryFunction(domain.FunctionKey(org, name), t)
		return
	}
	for _, st := range t.ToStreamTransforms() {
		bind(st.CacheKey(org), st)
	}
}

// Watch subscribes to the registry and applies changes until ctx is cancelled
// (returning ctx.Err()) or the subscription closes (returning ErrWatchClosed).
func (s *Synchronizer) Watch(ctx context.Context) error {
	events, err := s.coord.Watch(ctx, FunctionPrefix)
	if err != nil {
		return fmt.Errorf("watch functions: %w", err)
	}
	return s.consume(ctx, events)
}

func (s *Synchronizer) consume(ctx context.Context, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("watch channel closed")
				return ErrWatchClosed
			}
			s.handle(ev)
		}
	}
}

func (s *Synchronizer) handle(ev domain.Event) {
	switch ev.Kind {
	case domain.EventPut:
		org, name, err := splitKey(ev.Key)
		if err != nil {
			s.logger.Error("skipping function event", "key", ev.Key, "error", err)
			return
		}
		t, err := domain.DecodeTransform(ev.Value)
		if err != nil {
			s.logger.Error("skipping function event", "key", ev.Key, "error", err)
			return
		}
		s.apply(org, name, t, s.cache.UpsertStreamTransform)
	case domain.EventDelete:
		org, name, err := splitKey(ev.Key)
		if err != nil {
			s.logger.Error("skipping function event", "key", ev.Key, "error", err)
			return
		}
		// Stream chains are not pruned here; a deleted stream-bound transform
		// stays applied until the process reloads.
		s.cache.RemoveQueryFunction(domain.FunctionKey(org, name))
	case domain.EventEmpty:
	}
}

// Run owns the synchronizer lifecycle: subscribe, bulk load, then consume.
// When the subscription closes it resubscribes with exponential backoff and
// reloads with upsert semantics so existing chains are not duplicated. It
// returns when ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.MaxInterval = s.maxBackoff

	first := true
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		events, err := s.coord.Watch(attemptCtx, FunctionPrefix)
		if err != nil {
			return struct{}{}, s.permanentOnDone(ctx, fmt.Errorf("watch functions: %w", err))
		}

		bind := s.cache.UpsertStreamTransform
		if first {
			bind = s.cache.AppendStreamTransform
			first = false
		}
		if err := s.load(attemptCtx, bind); err != nil {
			return struct{}{}, s.permanentOnDone(ctx, err)
		}
		b.Reset()

		return struct{}{}, s.permanentOnDone(ctx, s.consume(attemptCtx, events))
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("function sync restarting", "error", err, "retry_in", next)
		}),
	)
	return err
}

func (s *Synchronizer) permanentOnDone(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	return err
}
