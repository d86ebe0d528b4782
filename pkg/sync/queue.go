package sync

import (
	gosync "sync"
)

// queueEntry is the per-entity bookkeeping state. Absence from the map means
// idle; there is no separate "idle" state.
type queueEntry struct {
	processing bool
	reprocess  bool
}

// Queue serializes synchronization work per entity id while coalescing
// bursts of edit notifications into at most one pending follow-up pass.
//
// The mutex guards only the bookkeeping map. The synchronization pass itself
// (entity fetches, permission writes) runs outside the lock, so work for
// different entity ids proceeds fully in parallel.
type Queue struct {
	mu      gosync.Mutex
	entries map[string]*queueEntry

	// onDepthChange, when set, receives the tracked-entry count after every
	// state change. Used to feed the queue depth gauge.
	onDepthChange func(depth int)
}

// NewQueue creates an empty processing queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[string]*queueEntry)}
}

// OnDepthChange installs a callback invoked with the entry count after each
// Enqueue/Complete. Must be set before the queue is shared.
func (q *Queue) OnDepthChange(fn func(depth int)) {
	q.onDepthChange = fn
}

// Enqueue records an edit notification for an entity id. It returns true when
// the caller should start a synchronization pass now, and false when a pass is
// already running for this id, in which case the pass is flagged for one
// follow-up run and the caller must not start a second concurrent pass.
func (q *Queue) Enqueue(entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, exists := q.entries[entityID]
	if exists && entry.processing {
		entry.reprocess = true
		return false
	}
	// No entry, or a stale non-processing entry from a removal race: both
	// mean this caller owns the pass.
	q.entries[entityID] = &queueEntry{processing: true}
	q.notifyDepth()
	return true
}

// Complete records that a synchronization pass for the entity id finished
// (successfully or not). It returns true when an edit arrived mid-pass and the
// caller must run one more pass; the entry stays in processing state for that
// run. It returns false when the entity is done and its entry is removed.
func (q *Queue) Complete(entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, exists := q.entries[entityID]
	if !exists {
		return false
	}
	if entry.reprocess {
		entry.reprocess = false
		return true
	}
	delete(q.entries, entityID)
	q.notifyDepth()
	return false
}

// Depth returns the number of entity ids currently tracked.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) notifyDepth() {
	if q.onDepthChange != nil {
		q.onDepthChange(len(q.entries))
	}
}
