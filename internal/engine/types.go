// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package engine is the session-aware request engine: it resolves
// client requests to CLI sessions, serializes runs per session key,
// drives the child process, and translates its event stream into
// Messages API responses.
package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MessagesRequest is the accepted subset of the Messages API.
type MessagesRequest struct {
	Model     string            `json:"model"`
	Messages  []IncomingMessage `json:"messages"`
	System    json.RawMessage   `json:"system,omitempty"`
	Stream    bool              `json:"stream,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty"`
}

// IncomingMessage is one conversation message. Content is either a
// plain string or an array of content parts.
type IncomingMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentPart is one element of an array-form message content.
type ContentPart struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource is a base64 image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Parts decodes the message content into parts. String content becomes
// a single text part.
func (m IncomingMessage) Parts() []ContentPart {
	if len(m.Content) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return []ContentPart{{Type: "text", Text: s}}
	}
	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return nil
	}
	return parts
}

// LastUserParts returns the content parts of the last user message.
// The client gateway is authoritative for context and the CLI keeps its
// own history via resume, so earlier messages are not replayed.
func (r *MessagesRequest) LastUserParts() ([]ContentPart, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Parts(), true
		}
	}
	return nil, false
}

// HasUserMessage reports whether any user message is present.
func (r *MessagesRequest) HasUserMessage() bool {
	for _, m := range r.Messages {
		if m.Role == "user" {
			return true
		}
	}
	return false
}

// SystemText flattens the system field: a string, an array of
// {type:"text", text} blocks, or an object with a text field.
func (r *MessagesRequest) SystemText() string {
	if len(r.System) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.System, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(r.System, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
		return sb.String()
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(r.System, &obj); err == nil {
		return obj.Text
	}
	return ""
}

// MessagesResponse is the non-streaming response shape.
type MessagesResponse struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Role         string      `json:"role"`
	Model        string      `json:"model"`
	Content      []TextBlock `json:"content"`
	StopReason   string      `json:"stop_reason"`
	StopSequence *string     `json:"stop_sequence"`
	Usage        UsageInfo   `json:"usage"`
}

// TextBlock is a response content block.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UsageInfo reports token usage to the client.
type UsageInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewMessageID generates a message id in the Messages API style.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

var (
	modelDateSuffixRe = regexp.MustCompile(`-\d{8}$`)
	modelLatestRe     = regexp.MustCompile(`-latest$`)
)

// NormalizeModel maps an Anthropic-style or ecosystem-prefixed model id
// to what the CLI accepts: the ecosystem prefix and date suffix are
// stripped, and any id naming a model family collapses to the family
// token. Unrecognized ids pass through unchanged.
func NormalizeModel(model string) string {
	if model == "" {
		return ""
	}
	normalized := model
	if i := strings.LastIndex(normalized, "/"); i >= 0 {
		normalized = normalized[i+1:]
	}
	normalized = modelDateSuffixRe.ReplaceAllString(normalized, "")
	normalized = modelLatestRe.ReplaceAllString(normalized, "")
	lower := strings.ToLower(normalized)
	for _, family := range []string{"opus", "sonnet", "haiku"} {
		if strings.Contains(lower, family) {
			return family
		}
	}
	return model
}

// ValidateRequest checks the structural requirements of a request.
func ValidateRequest(r *MessagesRequest) error {
	if !r.HasUserMessage() {
		return fmt.Errorf("at least one user message is required")
	}
	return nil
}
