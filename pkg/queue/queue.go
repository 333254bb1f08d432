// Package queue provides a bounded in-memory queue with a configurable drop
// policy. It is the backpressure primitive between the pipeline stages: a
// saturated queue sheds load instead of blocking its producers.
package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// DropPolicy selects which item is discarded when the queue is full.
type DropPolicy int

const (
	// DropOldest evicts the head to make room for the new item.
	DropOldest DropPolicy = iota
	// DropNewest rejects the incoming item.
	DropNewest
)

// ParsePolicy maps the config strings "oldest"/"newest" to a DropPolicy.
// Unknown values fall back to DropOldest.
func ParsePolicy(s string) DropPolicy {
	if s == "newest" {
		return DropNewest
	}
	return DropOldest
}

// Queue is a fixed-capacity FIFO safe for concurrent producers and competing
// consumers. Each Get delivers a distinct item. FIFO order holds among items
// that are actually retained; no guarantee survives a DropOldest eviction.
type Queue[T any] struct {
	policy DropPolicy

	// Puts are serialized by mu so a DropOldest eviction and its re-insert
	// are atomic with respect to other producers. Gets go straight to the
	// channel; the channel handles consumer competition.
	mu    sync.Mutex
	items chan T

	added   atomic.Uint64
	dropped atomic.Uint64
}

// New creates a queue with the given capacity and drop policy.
// Capacity must be at least 1.
func New[T any](capacity int, policy DropPolicy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		policy: policy,
		items:  make(chan T, capacity),
	}
}

// Put offers an item. Returns true if the item was retained (possibly after
// evicting the oldest entry under DropOldest), false if it was rejected.
func (q *Queue[T]) Put(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.items <- item:
		q.added.Add(1)
		return true
	default:
	}

	if q.policy == DropNewest {
		q.dropped.Add(1)
		return false
	}

	// DropOldest: evict the head, then insert. A concurrent consumer may
	// have emptied a slot in the meantime, in which case the eviction is a
	// no-op and the insert still succeeds.
	select {
	case <-q.items:
		q.dropped.Add(1)
	default:
	}

	select {
	case q.items <- item:
		q.added.Add(1)
		return true
	default:
		// Unreachable while Puts hold mu, kept so a logic change cannot
		// turn Put into a blocking call.
		q.dropped.Add(1)
		return false
	}
}

// Get waits up to timeout for an item. The second return is false when the
// timeout expires, which is a normal outcome under low traffic.
func (q *Queue[T]) Get(timeout time.Duration) (T, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case item := <-q.items:
		return item, true
	case <-t.C:
		var zero T
		return zero, false
	}
}

// TryGet returns an item immediately if one is available.
func (q *Queue[T]) TryGet() (T, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Size returns the current number of queued items.
func (q *Queue[T]) Size() int {
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// Clear drains all queued items.
func (q *Queue[T]) Clear() {
	for {
		select {
		case <-q.items:
		default:
			return
		}
	}
}

// Added returns the lifetime count of admitted items. An item displaced by a
// later DropOldest eviction stays counted here; admission and eviction are
// tracked independently.
func (q *Queue[T]) Added() uint64 {
	return q.added.Load()
}

// Dropped returns the lifetime count of discarded items: DropOldest evictions
// plus DropNewest rejections.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
