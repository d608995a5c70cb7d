// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
)

// Queue serializes runs per session key. Each run chains onto the
// previous tail and replaces it in the same critical section, so two
// nearly-simultaneous requests for the same key are guaranteed to
// serialize. Keys are fully independent of each other.
type Queue struct {
	mu    sync.Mutex
	tails map[string]*Ticket
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{tails: make(map[string]*Ticket)}
}

// Ticket is one enqueued run. Wait blocks until the previous run for
// the key finishes; Release unblocks the next one. Release is
// idempotent so every cancellation path may call it.
type Ticket struct {
	q    *Queue
	key  string
	prev <-chan struct{} // nil for the head of the line
	done chan struct{}

	once sync.Once
}

// Join registers a run at the tail for key and returns its ticket.
func (q *Queue) Join(key string) *Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := &Ticket{
		q:    q,
		key:  key,
		done: make(chan struct{}),
	}
	if tail, ok := q.tails[key]; ok {
		t.prev = tail.done
	}
	q.tails[key] = t
	return t
}

// Wait blocks until the run ahead of this ticket has released, or the
// context is cancelled. A cancelled waiter must still call Release.
func (t *Ticket) Wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release resolves this run's future. If the ticket is still the tail
// for its key, the tail slot is cleared so the table does not leak.
func (t *Ticket) Release() {
	t.once.Do(func() {
		close(t.done)
		t.q.mu.Lock()
		if t.q.tails[t.key] == t {
			delete(t.q.tails, t.key)
		}
		t.q.mu.Unlock()
	})
}

// Pending reports whether any run is queued or active for key.
func (q *Queue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tails[key]
	return ok
}
