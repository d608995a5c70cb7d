// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oakmont/ccproxy/internal/engine"
	"github.com/oakmont/ccproxy/internal/session"
)

// MessagesHandler serves POST /v1/messages.
type MessagesHandler struct {
	engine    *engine.Engine
	keepalive time.Duration
}

// NewMessagesHandler creates the Messages API handler. keepalive of
// zero disables SSE comment keepalives.
func NewMessagesHandler(eng *engine.Engine, keepalive time.Duration) *MessagesHandler {
	return &MessagesHandler{engine: eng, keepalive: keepalive}
}

// Create handles one Messages API request.
func (h *MessagesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req engine.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "request body is not valid JSON")
		return
	}
	if err := engine.ValidateRequest(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	parts, _ := req.LastUserParts()
	prompt, tempDir, err := buildPrompt(parts)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	turn := engine.TurnRequest{
		RequestID:   engine.NewMessageID(),
		KeyOverride: r.Header.Get("x-session-key"),
		Regenerate:  strings.EqualFold(r.Header.Get("x-regenerate"), "true"),
		Stream:      req.Stream,
		Model:       req.Model,
		SystemText:  session.StripTags(req.SystemText()),
		Prompt:      session.StripTags(prompt),
		TempDir:     tempDir,
	}

	// /stop is an early return: kill the active run for the key and
	// answer with a canned message. No spawn, no queue.
	if engine.IsStopCommand(turn.Prompt) {
		if turn.TempDir != "" {
			os.RemoveAll(turn.TempDir)
		}
		res := h.engine.Resolve(turn)
		killed := h.engine.Stop(res.Key)
		log.Printf("messages: /stop for session key %.8s (killed=%v)", res.Key, killed)
		h.respondCanned(w, turn, engine.StopResponseText)
		return
	}

	if turn.Stream {
		h.stream(w, r, turn)
		return
	}

	w.Header().Set("X-Request-Id", turn.RequestID)
	resp, err := h.engine.RunJSON(r.Context(), turn)
	if err != nil {
		if errors.Is(err, engine.ErrCancelled) {
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrAPIError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *MessagesHandler) stream(w http.ResponseWriter, r *http.Request, turn engine.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrAPIError, "streaming unsupported")
		return
	}

	// The net/http server enables TCP_NODELAY on accepted connections,
	// which keeps SSE latency low without extra socket work here.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-Id", turn.RequestID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseWriter{w: w, flusher: flusher}

	stopKeepalive := make(chan struct{})
	if h.keepalive > 0 {
		go func() {
			ticker := time.NewTicker(h.keepalive)
			defer ticker.Stop()
			for {
				select {
				case <-stopKeepalive:
					return
				case <-ticker.C:
					sink.Comment("keepalive")
				}
			}
		}()
	}
	defer close(stopKeepalive)

	if err := h.engine.RunStream(r.Context(), turn, sink); err != nil {
		if errors.Is(err, engine.ErrCancelled) {
			return
		}
		// Headers are long gone; the error has to travel in-band. The
		// stream ends without message_stop.
		sink.Event("error", map[string]interface{}{
			"type":  "error",
			"error": map[string]string{"type": ErrAPIError, "message": err.Error()},
		})
	}
}

// respondCanned answers with a fixed assistant message in whichever
// shape the client asked for.
func (h *MessagesHandler) respondCanned(w http.ResponseWriter, turn engine.TurnRequest, text string) {
	w.Header().Set("X-Request-Id", turn.RequestID)
	if !turn.Stream {
		WriteJSON(w, http.StatusOK, &engine.MessagesResponse{
			ID:         turn.RequestID,
			Type:       "message",
			Role:       "assistant",
			Model:      turn.Model,
			Content:    []engine.TextBlock{{Type: "text", Text: text}},
			StopReason: "end_turn",
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrAPIError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	sink := &sseWriter{w: w, flusher: flusher}
	sink.Event("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id": turn.RequestID, "type": "message", "role": "assistant",
			"model": turn.Model, "content": []interface{}{},
			"stop_reason": nil, "stop_sequence": nil,
			"usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
		},
	})
	sink.Event("content_block_start", map[string]interface{}{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]string{"type": "text", "text": ""},
	})
	sink.Event("content_block_delta", map[string]interface{}{
		"type": "content_block_delta", "index": 0,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
	sink.Event("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": 0})
	sink.Event("message_delta", map[string]interface{}{
		"type":  "message_delta",
		"delta": map[string]interface{}{"stop_reason": "end_turn", "stop_sequence": nil},
		"usage": map[string]int{"output_tokens": 0},
	})
	sink.Event("message_stop", map[string]interface{}{"type": "message_stop"})
}

// buildPrompt flattens the last user message's parts into the prompt
// text. Base64 images are extracted to temporary files and their paths
// appended; the CLI reads them from disk.
func buildPrompt(parts []engine.ContentPart) (prompt, tempDir string, err error) {
	var texts []string
	var images []engine.ImageSource
	for _, p := range parts {
		switch p.Type {
		case "text":
			texts = append(texts, p.Text)
		case "image":
			if p.Source != nil && p.Source.Type == "base64" {
				images = append(images, *p.Source)
			}
		}
	}
	prompt = strings.Join(texts, "\n")

	if len(images) == 0 {
		return prompt, "", nil
	}

	tempDir, err = os.MkdirTemp("", "ccproxy-img-")
	if err != nil {
		return "", "", fmt.Errorf("create image temp dir: %w", err)
	}
	for i, img := range images {
		data, derr := base64.StdEncoding.DecodeString(img.Data)
		if derr != nil {
			os.RemoveAll(tempDir)
			return "", "", fmt.Errorf("decode image %d: %w", i, derr)
		}
		path := filepath.Join(tempDir, fmt.Sprintf("image-%d%s", i, imageExt(img.MediaType)))
		if werr := os.WriteFile(path, data, 0600); werr != nil {
			os.RemoveAll(tempDir)
			return "", "", fmt.Errorf("write image %d: %w", i, werr)
		}
		prompt += fmt.Sprintf("\n\nAttached image: %s", path)
	}
	return prompt, tempDir, nil
}

func imageExt(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// sseWriter serializes SSE frames onto the response. Writes come from
// the run goroutine and the keepalive ticker, so they lock.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// Event writes one named SSE event with a JSON payload.
func (s *sseWriter) Event(name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment writes an SSE comment line, used for keepalives.
func (s *sseWriter) Comment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}
