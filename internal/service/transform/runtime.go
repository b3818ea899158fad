// Package transform compiles user-defined transforms into executable programs.
//
// Expression-engine transforms run on Starlark; script-engine transforms run
// on goja. Both are bounded by a wall-clock timeout, and Starlark additionally
// by an execution step budget.
package transform

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"log-ingest/internal/domain"
)

const (
	defaultMaxSteps = uint64(100_000)
	defaultTimeout  = 2 * time.Second
	maxSourceBytes  = 256 * 1024
	defaultParam    = "row"
)

// Program is a compiled transform. Apply returns a nil map when the record
// should be dropped.
type Program interface {
	Name() string
	Apply(record map[string]any) (map[string]any, error)
}

// Config bounds transform execution.
type Config struct {
	MaxSteps uint64
	Timeout  time.Duration
}

// Runtime compiles transforms for both engines.
type Runtime struct {
	maxSteps uint64
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	chains map[string]compiledChain
}

type compiledChain struct {
	fingerprint string
	chain       *Chain
}

// NewRuntime returns a runtime with the given limits. Zero values select the
// defaults.
func NewRuntime(cfg Config, logger *slog.Logger) *Runtime {
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runtime{
		maxSteps: cfg.MaxSteps,
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "transform-runtime"),
		chains:   make(map[string]compiledChain),
	}
}

// Compile turns t into a Program. Invalid source yields a *domain.ValidationError.
func (r *Runtime) Compile(t domain.Transform) (Program, error) {
	if len(t.Function) > maxSourceBytes {
		return nil, domain.ErrValidation("transform %q exceeds %d bytes", t.Name, maxSourceBytes)
	}
	params, err := parseParams(t.Params)
	if err != nil {
		return nil, fmt.Errorf("transform %q: %w", t.Name, err)
	}

	switch t.TransType {
	case domain.EngineExpression:
		return r.compileStarlark(t, params)
	case domain.EngineScript:
		return r.compileScript(t, params)
	default:
		return nil, domain.ErrValidation("transform %q has unsupported engine %s", t.Name, t.TransType)
	}
}

// CompileChain compiles the given stream transforms, preserving their order.
func (r *Runtime) CompileChain(entries []domain.StreamTransform) (*Chain, error) {
	programs := make([]Program, 0, len(entries))
	for _, e := range entries {
		p, err := r.Compile(e.Transform)
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	return NewChain(programs...), nil
}

// ChainFor returns the compiled chain for the stream key. The previous chain
// is reused while entries are unchanged; any change recompiles.
func (r *Runtime) ChainFor(key string, entries []domain.StreamTransform) (*Chain, error) {
	if len(entries) == 0 {
		r.mu.Lock()
		delete(r.chains, key)
		r.mu.Unlock()
		return NewChain(), nil
	}

	fp, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("fingerprint transforms for %s: %w", key, err)
	}
	r.mu.RLock()
	cached, ok := r.chains[key]
	r.mu.RUnlock()
	if ok && cached.fingerprint == string(fp) {
		return cached.chain, nil
	}

	chain, err := r.CompileChain(entries)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.chains[key] = compiledChain{fingerprint: string(fp), chain: chain}
	r.mu.Unlock()
	r.logger.Debug("compiled stream transforms", "key", key, "count", chain.Len())
	return chain, nil
}

// parseParams splits a comma-separated parameter list. Only the first
// parameter receives the record.
func parseParams(raw string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !isValidIdent(p) {
			return nil, domain.ErrValidation("invalid parameter name %q", p)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = []string{defaultParam}
	}
	return out, nil
}

func isValidIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 {
			if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
				return false
			}
			continue
		}
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
