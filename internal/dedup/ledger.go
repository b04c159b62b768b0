// Package dedup tracks recently processed notification ids so that a
// notification delivered through several channels is surfaced once.
package dedup

import (
	"sync"

	"github.com/nhle/sitenotify/internal/model"
)

// DefaultCapacity is the ledger size used when none is configured.
const DefaultCapacity = 500

// evictFraction is the share of oldest entries dropped on overflow.
const evictFraction = 0.2

// Ledger is a bounded, insertion-ordered set of processed ids. On overflow
// the oldest entries are evicted first. Eviction may cause an id to be
// processed again, so consumers must upsert idempotently.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	order    []model.ID
	seen     map[model.ID]struct{}
}

// New creates a ledger holding at most capacity ids.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		capacity: capacity,
		order:    make([]model.ID, 0, capacity),
		seen:     make(map[model.ID]struct{}, capacity),
	}
}

// HasProcessed reports whether id is in the ledger.
func (l *Ledger) HasProcessed(id model.ID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.seen[id]
	return ok
}

// MarkProcessed records id. Marking an id twice is a no-op and does not
// refresh its position.
func (l *Ledger) MarkProcessed(id model.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.order = append(l.order, id)

	if len(l.order) > l.capacity {
		l.evictLocked()
	}
}

// evictLocked drops the oldest fraction of entries.
func (l *Ledger) evictLocked() {
	n := int(float64(l.capacity) * evictFraction)
	if n < 1 {
		n = 1
	}
	if n > len(l.order) {
		n = len(l.order)
	}
	for _, id := range l.order[:n] {
		delete(l.seen, id)
	}
	remaining := make([]model.ID, len(l.order)-n, l.capacity)
	copy(remaining, l.order[n:])
	l.order = remaining
}

// Len returns the number of ids currently held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Reset empties the ledger.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = l.order[:0]
	l.seen = make(map[model.ID]struct{}, l.capacity)
}
