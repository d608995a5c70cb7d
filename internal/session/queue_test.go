// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_HeadRunsImmediately(t *testing.T) {
	q := NewQueue()
	tk := q.Join("k1")
	require.NoError(t, tk.Wait(context.Background()))
	tk.Release()
	assert.False(t, q.Pending("k1"))
}

func TestQueue_SerializesSameKey(t *testing.T) {
	q := NewQueue()
	first := q.Join("k1")
	second := q.Join("k1")

	done := make(chan struct{})
	go func() {
		second.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second run started before first released")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second run never unblocked")
	}
	second.Release()
	assert.False(t, q.Pending("k1"))
}

func TestQueue_IndependentKeys(t *testing.T) {
	q := NewQueue()
	a := q.Join("kA")
	b := q.Join("kB")
	require.NoError(t, a.Wait(context.Background()))
	require.NoError(t, b.Wait(context.Background()))
	a.Release()
	b.Release()
}

func TestQueue_ArrivalOrderPreserved(t *testing.T) {
	q := NewQueue()

	var mu sync.Mutex
	var order []int

	tickets := make([]*Ticket, 5)
	for i := range tickets {
		tickets[i] = q.Join("k1")
	}

	var wg sync.WaitGroup
	for i, tk := range tickets {
		wg.Add(1)
		go func(i int, tk *Ticket) {
			defer wg.Done()
			assert.NoError(t, tk.Wait(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			tk.Release()
		}(i, tk)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, q.Pending("k1"))
}

func TestQueue_CancelledWaiterMustNotDeadlock(t *testing.T) {
	q := NewQueue()
	first := q.Join("k1")
	second := q.Join("k1")
	third := q.Join("k1")

	// Second waiter's client disconnects while queued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, second.Wait(ctx))
	second.Release()

	first.Release()

	// Third still unblocks through the released second.
	done := make(chan struct{})
	go func() {
		third.Wait(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue deadlocked behind cancelled waiter")
	}
	third.Release()
}

func TestQueue_ReleaseIdempotent(t *testing.T) {
	q := NewQueue()
	tk := q.Join("k1")
	tk.Release()
	tk.Release()
	assert.False(t, q.Pending("k1"))
}

func TestQueue_TailClearedAfterSerialRuns(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 10; i++ {
		tk := q.Join("k1")
		require.NoError(t, tk.Wait(context.Background()))
		tk.Release()
	}
	assert.False(t, q.Pending("k1"))
}
