package telem

import (
	"sync"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
)

// DefaultCapacity is the number of received fixes kept in RAM
const DefaultCapacity = 500

// FixEntry is a received fix and whether the arbiter trusted it
type FixEntry struct {
	Fix        pkg.LocationFix `json:"fix"`
	Accepted   bool            `json:"accepted"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ProviderStats counts verdicts for one provider
type ProviderStats struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Store keeps the most recent received fixes in a ring buffer
type Store struct {
	ring *RingBuffer[FixEntry]
	now  func() time.Time
}

// NewStore creates a fix store holding capacity entries
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		ring: NewRingBuffer[FixEntry](capacity),
		now:  time.Now,
	}
}

// Add records a fix with the arbiter's verdict
func (s *Store) Add(fix pkg.LocationFix, accepted bool) {
	s.ring.Add(FixEntry{Fix: fix, Accepted: accepted, ReceivedAt: s.now()})
}

// Recent returns up to limit entries, newest first. limit <= 0 returns everything.
func (s *Store) Recent(limit int) []FixEntry {
	all := s.ring.Items()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]FixEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}

// Since returns the entries received after t, oldest first
func (s *Store) Since(t time.Time) []FixEntry {
	var out []FixEntry
	for _, e := range s.ring.Items() {
		if e.ReceivedAt.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// Stats summarises the buffered entries per provider
func (s *Store) Stats() map[string]ProviderStats {
	stats := make(map[string]ProviderStats)
	for _, e := range s.ring.Items() {
		st := stats[e.Fix.Provider]
		if e.Accepted {
			st.Accepted++
		} else {
			st.Rejected++
		}
		stats[e.Fix.Provider] = st
	}
	return stats
}

// Len returns the number of buffered entries
func (s *Store) Len() int {
	return s.ring.Size()
}

// RingBuffer is a thread-safe fixed capacity ring that overwrites the oldest item
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	head     int
	tail     int
	size     int
}

// NewRingBuffer creates a ring buffer
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.tail] = item
	rb.tail = (rb.tail + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

// Items returns a copy of the buffered items, oldest first
func (rb *RingBuffer[T]) Items() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]T, 0, rb.size)
	for i := 0; i < rb.size; i++ {
		result = append(result, rb.data[(rb.head+i)%rb.capacity])
	}
	return result
}

// Size returns the current number of items
func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the maximum number of items
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}
