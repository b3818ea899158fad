package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"log-ingest/internal/cache"
	"log-ingest/internal/domain"
)

// ErrWatchClosed is returned by Watch when the subscription closes.
var ErrWatchClosed = errors.New("alert watch channel closed")

// Synchronizer mirrors alert definitions into an AlertCache.
type Synchronizer struct {
	coord  domain.CoordinationStore
	cache  *cache.AlertCache
	logger *slog.Logger
}

// NewSynchronizer creates a Synchronizer feeding c.
func NewSynchronizer(coord domain.CoordinationStore, c *cache.AlertCache, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{coord: coord, cache: c, logger: logger.With("component", "alert-sync")}
}

// Cache bulk-loads every stored alert.
func (s *Synchronizer) Cache(ctx context.Context) error {
	items, err := s.coord.List(ctx, AlertPrefix)
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}
	for key, b := range items {
		parts, err := parseAlertKey(key)
		if err != nil {
			return err
		}
		var a domain.Alert
		if err := json.Unmarshal(b, &a); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		s.cache.Upsert(domain.StreamKey(parts.org, parts.streamType, parts.stream), a)
	}
	s.logger.Info("alerts cached", "count", len(items))
	return nil
}

// Run subscribes, bulk-loads and then applies changes until ctx is done or
// the subscription closes.
func (s *Synchronizer) Run(ctx context.Context) error {
	events, err := s.coord.Watch(ctx, AlertPrefix)
	if err != nil {
		return fmt.Errorf("watch alerts: %w", err)
	}
	if err := s.Cache(ctx); err != nil {
		return err
	}
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
	if ev.Kind == domain.EventEmpty {
		return
	}
	parts, err := parseAlertKey(ev.Key)
	if err != nil {
		s.logger.Error("skipping alert event", "key", ev.Key, "error", err)
		return
	}
	key := domain.StreamKey(parts.org, parts.streamType, parts.stream)
	if ev.Kind == domain.EventDelete {
		s.cache.Remove(key, parts.name)
		return
	}
	var a domain.Alert
	if err := json.Unmarshal(ev.Value, &a); err != nil {
		s.logger.Error("skipping alert event", "key", ev.Key, "error", err)
		return
	}
	s.cache.Upsert(key, a)
}
