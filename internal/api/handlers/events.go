// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oakmont/ccproxy/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsHandler serves the monitor endpoints: an SSE broadcast of all
// internal events, a WebSocket variant, and queryable history.
type EventsHandler struct {
	bus events.EventBus
}

// NewEventsHandler creates the monitor handler.
func NewEventsHandler(bus events.EventBus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// Stream is the monitor SSE broadcast. An initial connected event is
// sent, then every internal event fans out. A failed write removes the
// client without disturbing others.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrAPIError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(map[string]interface{}{
		"type":      "connected",
		"timestamp": time.Now().Format(time.RFC3339),
	})
	fmt.Fprintf(w, "data: %s\n\n", hello)
	flusher.Flush()

	eventCh := make(chan events.Event, 100)
	subID, err := h.bus.SubscribeAsync("*", func(_ context.Context, event events.Event) error {
		select {
		case eventCh <- event:
		default:
			// Drop if buffer full
		}
		return nil
	}, 100)
	if err != nil {
		return
	}
	defer h.bus.Unsubscribe(subID)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-eventCh:
			data, merr := json.Marshal(event)
			if merr != nil {
				continue
			}
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, werr := fmt.Fprint(w, ": keepalive\n\n"); werr != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// History returns recent monitor events.
func (h *EventsHandler) History(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := events.EventFilter{}

	if types := query["type"]; len(types) > 0 {
		filter.Types = types
	}
	if s := query.Get("session"); s != "" {
		filter.Session = s
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if sinceStr := query.Get("since"); sinceStr != "" {
		if t, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = t
		}
	}

	eventList, err := h.bus.History(filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrAPIError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"data": eventList})
}

// WebSocket is the monitor broadcast over WebSocket, for dashboards
// that prefer it to SSE.
func (h *EventsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	eventCh := make(chan events.Event, 100)
	done := make(chan struct{})

	subID, err := h.bus.SubscribeAsync(pattern, func(_ context.Context, event events.Event) error {
		select {
		case eventCh <- event:
		case <-done:
		default:
			// Drop if buffer full
		}
		return nil
	}, 100)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	defer h.bus.Unsubscribe(subID)

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	// Read goroutine (for close detection)
	go func() {
		defer close(done)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-eventCh:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
