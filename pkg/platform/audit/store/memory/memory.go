// Package memory provides an in-memory audit sink for tests and local
// inspection of recent events.
package memory

import (
	"context"
	"sync"

	audit "capsync/pkg/platform/audit"
)

// InMemoryStore collects audit events in memory, indexed by device.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Write appends the event.
func (s *InMemoryStore) Write(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByDevice returns the events recorded for a device, in emit order.
func (s *InMemoryStore) ListByDevice(ctx context.Context, deviceID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.events {
		if e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every recorded event.
func (s *InMemoryStore) All() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}
