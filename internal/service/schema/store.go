// Package schema keeps per-stream schemas in the coordination store and
// validates, types and partitions ingested records against them.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/goccy/go-json"

	"log-ingest/internal/domain"
)

var invalidStreamChars = regexp.MustCompile(`[^a-zA-Z0-9_:]+`)

// Store reads and evolves stream schemas. Schemas are cached in process and
// updates are serialised per stream.
type Store struct {
	coord  domain.CoordinationStore
	logger *slog.Logger

	mu      sync.RWMutex
	schemas map[string]domain.StreamSchema
	locks   sync.Map // schema key -> *sync.Mutex
}

// NewStore creates a schema Store.
func NewStore(coord domain.CoordinationStore, logger *slog.Logger) *Store {
	return &Store{
		coord:   coord,
		logger:  logger.With("component", "schema-store"),
		schemas: make(map[string]domain.StreamSchema),
	}
}

// Get returns the schema of a stream. A stream never written to has an empty
// schema.
func (s *Store) Get(ctx context.Context, org string, streamType domain.StreamType, stream string) (domain.StreamSchema, error) {
	key := domain.SchemaKey(org, streamType, stream)
	s.mu.RLock()
	cached, ok := s.schemas[key]
	s.mu.RUnlock()
	if ok {
		return cloneSchema(cached), nil
	}

	b, err := s.coord.Get(ctx, key)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return domain.StreamSchema{}, nil
		}
		return domain.StreamSchema{}, fmt.Errorf("get schema %s: %w", key, err)
	}
	var sc domain.StreamSchema
	if err := json.Unmarshal(b, &sc); err != nil {
		return domain.StreamSchema{}, fmt.Errorf("decode schema %s: %w", key, err)
	}

	s.mu.Lock()
	s.schemas[key] = sc
	s.mu.Unlock()
	return cloneSchema(sc), nil
}

// Settings returns the partitioning settings of a stream, defaulting to
// hourly partitions without partition keys.
func (s *Store) Settings(ctx context.Context, org string, streamType domain.StreamType, stream string) (domain.StreamSettings, error) {
	sc, err := s.Get(ctx, org, streamType, stream)
	if err != nil {
		return domain.StreamSettings{}, err
	}
	settings := sc.Settings
	if settings.PartitionTimeLevel == "" {
		settings.PartitionTimeLevel = domain.PartitionTimeLevelHourly
	}
	return settings, nil
}

// SetSettings replaces the partitioning settings of a stream.
func (s *Store) SetSettings(ctx context.Context, org string, streamType domain.StreamType, stream string, settings domain.StreamSettings) error {
	switch settings.PartitionTimeLevel {
	case "", domain.PartitionTimeLevelHourly, domain.PartitionTimeLevelDaily:
	default:
		return domain.ErrValidation("unknown partition time level %q", settings.PartitionTimeLevel)
	}
	_, err := s.update(ctx, org, streamType, stream, func(sc *domain.StreamSchema) bool {
		sc.Settings = settings
		return true
	})
	return err
}

// FormatStreamName returns the name records for stream are stored under.
// Names of streams that do not exist yet are sanitised.
func (s *Store) FormatStreamName(ctx context.Context, org string, streamType domain.StreamType, stream string) (string, error) {
	sc, err := s.Get(ctx, org, streamType, stream)
	if err != nil {
		return "", err
	}
	if len(sc.Fields) > 0 {
		return stream, nil
	}
	return invalidStreamChars.ReplaceAllString(stream, "_"), nil
}

// update applies fn to the current schema under the stream lock and persists
// the result when fn reports a change.
func (s *Store) update(ctx context.Context, org string, streamType domain.StreamType, stream string, fn func(*domain.StreamSchema) bool) (domain.StreamSchema, error) {
	key := domain.SchemaKey(org, streamType, stream)
	lock, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	sc, err := s.Get(ctx, org, streamType, stream)
	if err != nil {
		return domain.StreamSchema{}, err
	}
	if !fn(&sc) {
		return sc, nil
	}

	b, err := json.Marshal(sc)
	if err != nil {
		return domain.StreamSchema{}, fmt.Errorf("encode schema %s: %w", key, err)
	}
	if err := s.coord.Put(ctx, key, b, true); err != nil {
		s.logger.Error("error saving schema", "key", key, "error", err)
		return domain.StreamSchema{}, fmt.Errorf("save schema %s: %w", key, err)
	}

	s.mu.Lock()
	s.schemas[key] = sc
	s.mu.Unlock()
	return cloneSchema(sc), nil
}

func cloneSchema(sc domain.StreamSchema) domain.StreamSchema {
	out := sc
	out.Fields = append([]domain.SchemaField(nil), sc.Fields...)
	out.Settings.PartitionKeys = append([]string(nil), sc.Settings.PartitionKeys...)
	return out
}
