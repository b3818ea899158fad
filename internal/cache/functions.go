// Package cache holds the process-local views of transform and alert
// definitions. The synchronizers are the only steady-state writers; readers
// always receive copies.
package cache

import (
	"slices"
	"sort"
	"sync"

	"log-ingest/internal/domain"
)

// FunctionCache holds query-time functions keyed by {org}/{name} and
// stream-bound transform chains keyed by {org}/{stream_type}/{stream}.
type FunctionCache struct {
	mu      sync.RWMutex
	query   map[string]domain.Transform
	streams map[string][]domain.StreamTransform
}

// NewFunctionCache returns an empty cache.
func NewFunctionCache() *FunctionCache {
	return &FunctionCache{
		query:   make(map[string]domain.Transform),
		streams: make(map[string][]domain.StreamTransform),
	}
}

// PutQueryFunction overwrites the query-time entry at key.
func (c *FunctionCache) PutQueryFunction(key string, t domain.Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query[key] = t
}

// RemoveQueryFunction deletes the query-time entry at key. It reports whether
// an entry existed.
func (c *FunctionCache) RemoveQueryFunction(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.query[key]
	delete(c.query, key)
	return ok
}

// QueryFunction returns the query-time entry at key.
func (c *FunctionCache) QueryFunction(key string) (domain.Transform, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.query[key]
	return t, ok
}

// QueryFunctions returns a snapshot of all query-time entries.
func (c *FunctionCache) QueryFunctions() map[string]domain.Transform {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Transform, len(c.query))
	for k, v := range c.query {
		out[k] = v
	}
	return out
}

// AppendStreamTransform appends entry to the chain at key without checking
// for an existing binding. Used by the bulk load.
func (c *FunctionCache) AppendStreamTransform(key string, entry domain.StreamTransform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[key] = append(c.streams[key], entry)
}

// UpsertStreamTransform replaces the first entry with the same binding in
// place, or appends entry when there is none.
func (c *FunctionCache) UpsertStreamTransform(key string, entry domain.StreamTransform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chain := c.streams[key]
	for i := range chain {
		if chain[i].SameBinding(entry) {
			chain[i] = entry
			return
		}
	}
	c.streams[key] = append(chain, entry)
}

// StreamTransforms returns a copy of the chain at key in insertion order.
func (c *FunctionCache) StreamTransforms(key string) []domain.StreamTransform {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.streams[key])
}

// OrderedStreamTransforms returns the chain at key sorted by apply order.
// Entries with equal order keep their insertion order.
func (c *FunctionCache) OrderedStreamTransforms(key string) []domain.StreamTransform {
	chain := c.StreamTransforms(key)
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].Order < chain[j].Order })
	return chain
}

// StreamKeys returns every key that has a chain.
func (c *FunctionCache) StreamKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.streams))
	for k := range c.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear drops every entry.
func (c *FunctionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query = make(map[string]domain.Transform)
	c.streams = make(map[string][]domain.StreamTransform)
}
