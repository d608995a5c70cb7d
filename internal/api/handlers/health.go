// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/oakmont/ccproxy/internal/engine"
	"github.com/oakmont/ccproxy/internal/events"
)

// Features advertised by /health.
var features = []string{
	"messages",
	"streaming",
	"session-resume",
	"identity-migration",
	"regenerate",
	"stop-command",
	"monitor-events",
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	engine  *engine.Engine
	bus     events.EventBus
	version string
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(eng *engine.Engine, bus events.EventBus, version string) *HealthHandler {
	return &HealthHandler{engine: eng, bus: bus, version: version}
}

// Get reports liveness, the feature list, and monitor client count.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        h.version,
		"features":       features,
		"monitorClients": h.bus.SubscriberCount(),
		"activeRuns":     h.engine.ActiveRuns(),
	})
}
