// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the monitor event bus: every internal event
// the gateway produces fans out to monitor clients through it.
package events

import (
	"context"
	"time"
)

// Event represents an immutable event record.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Session   string                 `json:"session,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter for querying event history.
type EventFilter struct {
	Types   []string  // Event types to match (supports wildcards)
	Session string    // Filter by session key
	Since   time.Time // Events after this time
	Until   time.Time // Events before this time
	Limit   int       // Maximum events to return
}

// EventBus is the core event pub/sub system.
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with buffered channel.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// SubscriberCount returns the number of active subscriptions.
	SubscriberCount() int

	// Close shuts down the event bus gracefully.
	Close() error
}

// Common event types
const (
	// Run lifecycle
	EventRunStarted   = "run.started"
	EventRunFinished  = "run.finished"
	EventRunFailed    = "run.failed"
	EventRunCancelled = "run.cancelled"
	EventRunPreempted = "run.preempted"
	EventRunStopped   = "run.stopped"

	// CLI activity observed mid-stream
	EventToolStarted       = "cli.tool.started"
	EventToolInput         = "cli.tool.input"
	EventCompactionStarted = "cli.compaction.started"
	EventCLIUnknown        = "cli.unknown"

	// Session registry
	EventSessionCreated  = "session.created"
	EventSessionResumed  = "session.resumed"
	EventSessionMigrated = "session.migrated"
	EventSessionForked   = "session.forked"

	// Deploy webhook
	EventDeployReceived = "deploy.received"
	EventDeployLaunched = "deploy.launched"
)
