// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *MemoryEventBus {
	return NewMemoryEventBus(MemoryBusConfig{
		HistoryMaxEvents: 100,
		HistoryMaxAge:    time.Hour,
	})
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	_, err := bus.Subscribe("run.*", func(_ context.Context, event Event) error {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventRunStarted, Session: "k1"}))
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventToolStarted}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, EventRunStarted, received[0].Type)
	assert.Equal(t, "k1", received[0].Session)
	assert.NotEmpty(t, received[0].ID)
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestMemoryEventBus_WildcardMatchesAll(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	_, err := bus.Subscribe("*", func(_ context.Context, event Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	bus.Publish(context.Background(), Event{Type: EventRunStarted})
	bus.Publish(context.Background(), Event{Type: EventDeployReceived})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	id, err := bus.Subscribe("*", func(_ context.Context, event Event) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount())

	require.NoError(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.SubscriberCount())

	assert.ErrorIs(t, bus.Unsubscribe(id), ErrSubscriptionNotFound)
}

func TestMemoryEventBus_AsyncSubscriber(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	received := make(chan Event, 10)
	_, err := bus.SubscribeAsync("*", func(_ context.Context, event Event) error {
		received <- event
		return nil
	}, 10)
	require.NoError(t, err)

	bus.Publish(context.Background(), Event{Type: EventRunFinished})

	select {
	case ev := <-received:
		assert.Equal(t, EventRunFinished, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("async subscriber never received event")
	}
}

func TestMemoryEventBus_History(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	bus.Publish(context.Background(), Event{Type: EventRunStarted, Session: "k1"})
	bus.Publish(context.Background(), Event{Type: EventRunFinished, Session: "k1"})
	bus.Publish(context.Background(), Event{Type: EventRunStarted, Session: "k2"})

	all, err := bus.History(EventFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	k1, err := bus.History(EventFilter{Session: "k1"})
	require.NoError(t, err)
	assert.Len(t, k1, 2)

	started, err := bus.History(EventFilter{Types: []string{"run.started"}})
	require.NoError(t, err)
	assert.Len(t, started, 2)
}

func TestMemoryEventBus_ClosedBusRejectsPublish(t *testing.T) {
	bus := newTestBus()
	bus.Close()
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Type: "x"}), ErrBusClosed)
}

func TestMemoryEventBus_PanickingHandlerIsContained(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	_, err := bus.Subscribe("*", func(_ context.Context, event Event) error {
		panic("handler bug")
	})
	require.NoError(t, err)

	assert.NoError(t, bus.Publish(context.Background(), Event{Type: "x"}))
}
