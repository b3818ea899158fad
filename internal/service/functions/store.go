// Package functions manages user-defined transforms: the persistent registry
// in the coordination store and the synchronizer that mirrors it into the
// process-local cache.
package functions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"log-ingest/internal/domain"
	"log-ingest/internal/service/transform"
)

const (
	// FunctionPrefix is the coordination-store prefix of transform definitions.
	FunctionPrefix = "/function/"
	// legacyTransformPrefix held stream bindings in an older layout and is
	// only cleared by Reset.
	legacyTransformPrefix = "/transform/"
)

// Compiler checks that a transform's source compiles.
type Compiler interface {
	Compile(t domain.Transform) (transform.Program, error)
}

// Store persists transforms in the coordination store.
type Store struct {
	coord    domain.CoordinationStore
	compiler Compiler
	validate *validator.Validate
	logger   *slog.Logger
}

// NewStore creates a Store. compiler may be nil, in which case transforms are
// only validated structurally.
func NewStore(coord domain.CoordinationStore, compiler Compiler, logger *slog.Logger) *Store {
	return &Store{
		coord:    coord,
		compiler: compiler,
		validate: validator.New(),
		logger:   logger.With("component", "function-store"),
	}
}

// Key returns the coordination-store key of a transform.
func Key(org, name string) string {
	return FunctionPrefix + org + "/" + name
}

// Set stores t under (org, name) and notifies watchers.
func (s *Store) Set(ctx context.Context, org, name string, t domain.Transform) error {
	if org == "" || strings.Contains(org, "/") {
		return domain.ErrValidation("invalid organization %q", org)
	}
	if name == "" || strings.Contains(name, "/") {
		return domain.ErrValidation("invalid function name %q", name)
	}
	if err := s.check(t); err != nil {
		return err
	}

	b, err := domain.EncodeTransform(t)
	if err != nil {
		return fmt.Errorf("encode function %s/%s: %w", org, name, err)
	}
	if err := s.coord.Put(ctx, Key(org, name), b, true); err != nil {
		s.logger.Error("error saving function", "org", org, "name", name, "error", err)
		return fmt.Errorf("save function %s/%s: %w", org, name, err)
	}
	return nil
}

func (s *Store) check(t domain.Transform) error {
	if err := s.validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.ErrValidation("function field %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return domain.ErrValidation("invalid function: %v", err)
	}
	for _, so := range t.Streams {
		if strings.Contains(so.Stream, "/") {
			return domain.ErrValidation("invalid stream name %q", so.Stream)
		}
	}
	if s.compiler != nil {
		if _, err := s.compiler.Compile(t); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return err
			}
			return domain.ErrValidation("function %q does not compile: %v", t.Name, err)
		}
	}
	return nil
}

// Get returns the transform stored under (org, name).
func (s *Store) Get(ctx context.Context, org, name string) (domain.Transform, error) {
	b, err := s.coord.Get(ctx, Key(org, name))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return domain.Transform{}, domain.ErrNotFound("function %q not found", name)
		}
		s.logger.Error("error getting function", "org", org, "name", name, "error", err)
		return domain.Transform{}, fmt.Errorf("get function %s/%s: %w", org, name, err)
	}
	t, err := domain.DecodeTransform(b)
	if err != nil {
		s.logger.Error("error decoding function", "org", org, "name", name, "error", err)
		return domain.Transform{}, fmt.Errorf("decode function %s/%s: %w", org, name, err)
	}
	return t, nil
}

// Delete removes the transform stored under (org, name) and notifies watchers.
func (s *Store) Delete(ctx context.Context, org, name string) error {
	if err := s.coord.Delete(ctx, Key(org, name)); err != nil {
		s.logger.Error("error deleting function", "org", org, "name", name, "error", err)
		return fmt.Errorf("delete function %s/%s: %w", org, name, err)
	}
	return nil
}

// List returns every transform of org ordered by name.
func (s *Store) List(ctx context.Context, org string) ([]domain.Transform, error) {
	items, err := s.coord.List(ctx, FunctionPrefix+org+"/")
	if err != nil {
		s.logger.Error("error listing functions", "org", org, "error", err)
		return nil, fmt.Errorf("list functions %s: %w", org, err)
	}

	out := make([]domain.Transform, 0, len(items))
	for key, b := range items {
		t, err := domain.DecodeTransform(b)
		if err != nil {
			s.logger.Error("error decoding function", "key", key, "error", err)
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Reset removes every stored transform without notifying watchers.
func (s *Store) Reset(ctx context.Context) error {
	for _, prefix := range []string{FunctionPrefix, legacyTransformPrefix} {
		if err := s.coord.DeletePrefix(ctx, prefix); err != nil {
			s.logger.Error("error resetting functions", "prefix", prefix, "error", err)
			return fmt.Errorf("reset %s: %w", prefix, err)
		}
	}
	return nil
}
