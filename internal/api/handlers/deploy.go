// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"syscall"

	"github.com/oakmont/ccproxy/internal/events"
)

// DeployHandler serves POST /deploy: a GitHub-signed webhook that
// launches the self-update script on push to main.
type DeployHandler struct {
	secret string
	script string
	bus    events.EventBus
}

// NewDeployHandler creates the deploy handler. An empty secret
// disables the endpoint.
func NewDeployHandler(secret, script string, bus events.EventBus) *DeployHandler {
	return &DeployHandler{secret: secret, script: script, bus: bus}
}

type pushEvent struct {
	Ref string `json:"ref"`
}

// Hook validates the webhook signature and, for pushes to main,
// launches the update script detached so it survives the proxy
// restarting underneath it.
func (h *DeployHandler) Hook(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		WriteError(w, http.StatusNotFound, ErrNotFound, "deploy webhook not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "failed to read body")
		return
	}

	if !h.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "invalid webhook signature")
		return
	}

	if event := r.Header.Get("X-GitHub-Event"); event != "" && event != "push" {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not a push event"})
		return
	}

	var push pushEvent
	if err := json.Unmarshal(body, &push); err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "body is not valid JSON")
		return
	}

	h.publish(events.EventDeployReceived, map[string]interface{}{"ref": push.Ref})

	if push.Ref != "refs/heads/main" {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not main branch"})
		return
	}

	if err := h.launchUpdate(); err != nil {
		log.Printf("deploy: failed to launch update script: %v", err)
		WriteError(w, http.StatusInternalServerError, ErrAPIError, "failed to launch update")
		return
	}

	h.publish(events.EventDeployLaunched, map[string]interface{}{"script": h.script})
	WriteJSON(w, http.StatusOK, map[string]string{"status": "updating"})
}

// validSignature performs a constant-time comparison against the
// computed HMAC-SHA256 of the body.
func (h *DeployHandler) validSignature(header string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, prefix)))
}

// launchUpdate starts the update script in its own session, detached
// from the proxy process.
func (h *DeployHandler) launchUpdate() error {
	cmd := exec.Command(h.script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func (h *DeployHandler) publish(eventType string, payload map[string]interface{}) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(context.Background(), events.Event{Type: eventType, Payload: payload})
}
