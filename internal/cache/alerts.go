package cache

import (
	"slices"
	"sync"

	"log-ingest/internal/domain"
)

// AlertCache holds alert definitions keyed by {org}/{stream_type}/{stream}.
type AlertCache struct {
	mu     sync.RWMutex
	alerts map[string][]domain.Alert
}

// NewAlertCache returns an empty cache.
func NewAlertCache() *AlertCache {
	return &AlertCache{alerts: make(map[string][]domain.Alert)}
}

// Upsert replaces the alert with the same name at key, or appends it.
func (c *AlertCache) Upsert(key string, a domain.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.alerts[key]
	for i := range list {
		if list[i].Name == a.Name {
			list[i] = a
			return
		}
	}
	c.alerts[key] = append(list, a)
}

// Remove deletes the named alert at key.
func (c *AlertCache) Remove(key, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := slices.DeleteFunc(slices.Clone(c.alerts[key]), func(a domain.Alert) bool { return a.Name == name })
	if len(list) == 0 {
		delete(c.alerts, key)
		return
	}
	c.alerts[key] = list
}

// Alerts returns a copy of the alerts at key.
func (c *AlertCache) Alerts(key string) []domain.Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.alerts[key])
}
