// Package alerts stores alert definitions, mirrors them into the alert cache
// and records triggers raised during ingestion.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"log-ingest/internal/domain"
)

// AlertPrefix is the coordination-store prefix of alert definitions.
const AlertPrefix = "/alerts/"

// Store persists alert definitions.
type Store struct {
	coord    domain.CoordinationStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewStore creates an alert Store.
func NewStore(coord domain.CoordinationStore, logger *slog.Logger) *Store {
	return &Store{coord: coord, validate: validator.New(), logger: logger.With("component", "alert-store")}
}

// Set stores a and notifies watchers.
func (s *Store) Set(ctx context.Context, org string, a domain.Alert) error {
	if a.StreamType == "" {
		a.StreamType = domain.StreamTypeLogs
	}
	if err := s.validate.Struct(a); err != nil {
		return domain.ErrValidation("invalid alert: %v", err)
	}
	if org == "" || strings.ContainsRune(org+a.Stream+a.Name, '/') {
		return domain.ErrValidation("alert identifiers must be non-empty and must not contain '/'")
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	key := domain.AlertKey(org, a.StreamType, a.Stream, a.Name)
	if err := s.coord.Put(ctx, key, b, true); err != nil {
		s.logger.Error("error saving alert", "key", key, "error", err)
		return fmt.Errorf("save alert %s: %w", key, err)
	}
	return nil
}

// Delete removes an alert and notifies watchers.
func (s *Store) Delete(ctx context.Context, org string, streamType domain.StreamType, stream, name string) error {
	key := domain.AlertKey(org, streamType, stream, name)
	if err := s.coord.Delete(ctx, key); err != nil {
		s.logger.Error("error deleting alert", "key", key, "error", err)
		return fmt.Errorf("delete alert %s: %w", key, err)
	}
	return nil
}

// List returns the alerts of org ordered by stream and name.
func (s *Store) List(ctx context.Context, org string) ([]domain.Alert, error) {
	items, err := s.coord.List(ctx, AlertPrefix+org+"/")
	if err != nil {
		return nil, fmt.Errorf("list alerts %s: %w", org, err)
	}
	out := make([]domain.Alert, 0, len(items))
	for key, b := range items {
		var a domain.Alert
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stream != out[j].Stream {
			return out[i].Stream < out[j].Stream
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// alertKeyParts holds the components of an /alerts/ key.
type alertKeyParts struct {
	org        string
	streamType domain.StreamType
	stream     string
	name       string
}

func parseAlertKey(key string) (alertKeyParts, error) {
	rest, ok := strings.CutPrefix(key, AlertPrefix)
	if !ok {
		return alertKeyParts{}, fmt.Errorf("key %q is outside %s", key, AlertPrefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		return alertKeyParts{}, fmt.Errorf("malformed alert key %q", key)
	}
	st, err := domain.ParseStreamType(parts[1])
	if err != nil {
		return alertKeyParts{}, errors.Join(fmt.Errorf("malformed alert key %q", key), err)
	}
	return alertKeyParts{org: parts[0], streamType: st, stream: parts[2], name: parts[3]}, nil
}
