package notify

import (
	"context"
	"sync"

	id "civreg/pkg/domain"
)

// MemorySink retains delivered events in memory. Used by tests and by
// deployments without a broker.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Deliver(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything delivered so far.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsFor filters delivered events by customer id.
func (s *MemorySink) EventsFor(cuid id.CustomerID) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.CustomerID == cuid {
			out = append(out, e)
		}
	}
	return out
}
