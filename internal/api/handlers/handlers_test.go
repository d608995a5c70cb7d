// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmont/ccproxy/internal/cli"
	"github.com/oakmont/ccproxy/internal/engine"
	"github.com/oakmont/ccproxy/internal/events"
	"github.com/oakmont/ccproxy/internal/session"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	store := cli.NewStoreAt(t.TempDir())
	runner := cli.NewRunner(cli.RunnerConfig{
		Binary:     "/nonexistent/cli",
		Workspace:  t.TempDir(),
		SpawnProbe: 100 * time.Millisecond,
	}, store)
	aliases, err := session.NewAliasMap("")
	require.NoError(t, err)
	return engine.New(engine.Options{DefaultModel: "sonnet"},
		session.NewRegistry("", 0), aliases, session.NewQueue(), runner, store, nil)
}

func TestModels_List(t *testing.T) {
	h := NewModelsHandler()
	req := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []ModelInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data, 3)
	assert.Equal(t, "opus", resp.Data[0].ID)
	assert.Equal(t, "sonnet", resp.Data[1].ID)
	assert.Equal(t, "haiku", resp.Data[2].ID)
}

func TestHealth_Get(t *testing.T) {
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 10, HistoryMaxAge: time.Hour})
	defer bus.Close()

	h := NewHealthHandler(newTestEngine(t), bus, "1.2.3")
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "1.2.3", resp["version"])
	assert.NotEmpty(t, resp["features"])
	assert.EqualValues(t, 0, resp["monitorClients"])
}

func TestMessages_RejectsInvalidJSON(t *testing.T) {
	h := NewMessagesHandler(newTestEngine(t), 0)
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidRequest)
}

func TestMessages_RejectsMissingUserMessage(t *testing.T) {
	h := NewMessagesHandler(newTestEngine(t), 0)
	body := `{"model":"sonnet","messages":[{"role":"assistant","content":"hi"}]}`
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessages_StopShortCircuits(t *testing.T) {
	// The engine has a nonexistent CLI binary: /stop must never spawn.
	h := NewMessagesHandler(newTestEngine(t), 0)
	body := `{"model":"sonnet","messages":[{"role":"user","content":"/stop"}]}`
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp engine.MessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, engine.StopResponseText, resp.Content[0].Text)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMessages_SpawnFailureIsAPIError(t *testing.T) {
	h := NewMessagesHandler(newTestEngine(t), 0)
	body := `{"model":"sonnet","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrAPIError)
}

func TestMessages_StreamingSpawnFailureEmitsSSEError(t *testing.T) {
	h := NewMessagesHandler(newTestEngine(t), 0)
	body := `{"model":"sonnet","stream":true,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	// Headers were already committed as an event stream
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: error")
	assert.NotContains(t, rec.Body.String(), "message_stop")
}
