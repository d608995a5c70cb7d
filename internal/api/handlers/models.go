// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import "net/http"

// ModelInfo is one advertised model.
type ModelInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

// ModelsHandler serves GET /v1/models.
type ModelsHandler struct{}

// NewModelsHandler creates the models handler.
func NewModelsHandler() *ModelsHandler {
	return &ModelsHandler{}
}

// List advertises the three model families the CLI accepts.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data": []ModelInfo{
			{ID: "opus", Type: "model", DisplayName: "Opus"},
			{ID: "sonnet", Type: "model", DisplayName: "Sonnet"},
			{ID: "haiku", Type: "model", DisplayName: "Haiku"},
		},
	})
}
