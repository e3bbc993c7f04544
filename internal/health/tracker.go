// Package health tracks the availability of named upstream services.
// Components that call unreliable upstreams record outcomes here and
// consult the verdict before wasting calls on a known-bad service.
package health

import (
	"sync"
	"sync/atomic"
)

// failureThreshold is the number of recorded failures after which a
// service is reported unhealthy.
const failureThreshold = 5

// Status is a snapshot of a service's health entry.
type Status struct {
	Service    string `json:"service"`
	ErrorCount int64  `json:"error_count"`
	Healthy    bool   `json:"healthy"`
}

type entry struct {
	errorCount atomic.Int64
}

// Tracker is a registry of per-service failure counters. All methods
// are safe for concurrent use and never fail.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
	}
}

func (t *Tracker) get(service string) *entry {
	t.mu.RLock()
	e, ok := t.entries[service]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[service]; ok {
		return e
	}
	e = &entry{}
	t.entries[service] = e
	return e
}

// RecordSuccess resets the failure counter for service. A single
// success is treated as full recovery.
func (t *Tracker) RecordSuccess(service string) {
	t.get(service).errorCount.Store(0)
}

// RecordFailure increments the failure counter for service.
func (t *Tracker) RecordFailure(service string) {
	t.get(service).errorCount.Add(1)
}

// ServiceHealth returns the current health snapshot for service.
// Unknown services are reported healthy with a zero count; reading
// never creates an entry.
func (t *Tracker) ServiceHealth(service string) Status {
	t.mu.RLock()
	e, ok := t.entries[service]
	t.mu.RUnlock()

	var count int64
	if ok {
		count = e.errorCount.Load()
	}
	return Status{
		Service:    service,
		ErrorCount: count,
		Healthy:    count <= failureThreshold,
	}
}

// IsHealthy reports whether service is below the failure threshold.
func (t *Tracker) IsHealthy(service string) bool {
	return t.ServiceHealth(service).Healthy
}

// Snapshot returns the health of every tracked service.
func (t *Tracker) Snapshot() []Status {
	t.mu.RLock()
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	t.mu.RUnlock()

	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, t.ServiceHealth(name))
	}
	return statuses
}

// Reset clears all entries. Intended for test isolation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.entries = make(map[string]*entry)
	t.mu.Unlock()
}
