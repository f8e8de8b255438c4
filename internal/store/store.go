// Package store holds a creative's editable fields and notifies observers
// of every write.
package store

import (
	"sort"
	"sync"
)

// Observer is called after every write with the field and its new value.
type Observer func(field string, value any)

// Store is a field map whose writes are observable. Observers run
// synchronously on the writing goroutine, in registration order, after the
// value is stored. Fields are never deleted.
type Store struct {
	mu        sync.RWMutex
	fields    map[string]any
	observers []Observer
}

// New creates a store seeded with a copy of initial. Seeding does not
// notify observers.
func New(initial map[string]any) *Store {
	fields := make(map[string]any, len(initial))
	for k, v := range initial {
		fields[k] = v
	}
	return &Store{fields: fields}
}

// Observe registers fn for all future writes.
func (s *Store) Observe(fn Observer) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Set stores value under field and notifies observers.
func (s *Store) Set(field string, value any) {
	s.mu.Lock()
	s.fields[field] = value
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(field, value)
	}
}

// Get returns the current value of field.
func (s *Store) Get(field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fields[field]
	return v, ok
}

// String returns field as a string, or "" when it is missing or not a string.
func (s *Store) String(field string) string {
	v, _ := s.Get(field)
	str, _ := v.(string)
	return str
}

// Snapshot returns a shallow copy of all fields.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
