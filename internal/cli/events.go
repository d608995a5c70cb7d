// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cli drives the assistant CLI as a child process: spawning it
// with the right flags for new vs. resumed sessions, parsing its stdout
// event stream, and managing its on-disk session files.
package cli

import (
	"encoding/json"
)

// Known top-level event types emitted by the CLI in stream-json mode.
const (
	EventSystem      = "system"
	EventAssistant   = "assistant"
	EventUser        = "user"
	EventResult      = "result"
	EventStreamEvent = "stream_event"
	EventInit        = "init"
	EventError       = "error"
)

// System event subtypes.
const (
	SubtypeInit           = "init"
	SubtypeStatus         = "status"
	SubtypeCompactBoundary = "compact_boundary"
)

// Usage is the token accounting block the CLI reports on result events
// and inside message_start / message_delta stream events.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// TotalInput sums base input tokens with both cache components.
func (u Usage) TotalInput() int {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// CompactMetadata accompanies system/compact_boundary events.
type CompactMetadata struct {
	Trigger   string `json:"trigger,omitempty"`
	PreTokens int    `json:"pre_tokens,omitempty"`
}

// StreamEvent is a parsed JSON object from the CLI's stdout stream.
// Payloads are variant-shaped; fields not relevant to an event type are
// simply zero. Unknown types are logged by the consumer and ignored,
// never treated as errors.
type StreamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Status    string          `json:"status,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`

	// Inner Anthropic stream event (from --include-partial-messages).
	Event json.RawMessage `json:"event,omitempty"`

	CompactMetadata *CompactMetadata `json:"compact_metadata,omitempty"`

	// Raw is the original JSON object, kept for monitoring.
	Raw json.RawMessage `json:"-"`
}

// Inner stream event types (the Anthropic SSE vocabulary).
const (
	InnerMessageStart      = "message_start"
	InnerMessageDelta      = "message_delta"
	InnerMessageStop       = "message_stop"
	InnerContentBlockStart = "content_block_start"
	InnerContentBlockDelta = "content_block_delta"
	InnerContentBlockStop  = "content_block_stop"
)

// ContentBlockInfo describes the block opened by content_block_start.
type ContentBlockInfo struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// InnerDelta is the delta payload of content_block_delta and
// message_delta events.
type InnerDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// InnerEvent is a decoded Anthropic stream event. The CLI usually wraps
// these in {"type":"stream_event","event":{...}} but has been observed
// emitting them bare at the top level; Inner handles both.
type InnerEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock *ContentBlockInfo `json:"content_block,omitempty"`
	Delta        *InnerDelta       `json:"delta,omitempty"`
	Message      json.RawMessage   `json:"message,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
}

// Decode parses one JSON object from the stdout stream.
func Decode(raw []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return StreamEvent{}, err
	}
	ev.Raw = append(json.RawMessage(nil), raw...)
	return ev, nil
}

// Inner returns the decoded Anthropic stream event carried by this
// event, if any. Wrapped stream_event payloads take precedence; bare
// inner events at the top level are decoded from the raw object.
func (ev StreamEvent) Inner() (InnerEvent, bool) {
	switch ev.Type {
	case EventStreamEvent:
		if len(ev.Event) == 0 {
			return InnerEvent{}, false
		}
		var inner InnerEvent
		if err := json.Unmarshal(ev.Event, &inner); err != nil {
			return InnerEvent{}, false
		}
		return inner, true
	case InnerMessageStart, InnerMessageDelta, InnerMessageStop,
		InnerContentBlockStart, InnerContentBlockDelta, InnerContentBlockStop:
		var inner InnerEvent
		if err := json.Unmarshal(ev.Raw, &inner); err != nil {
			return InnerEvent{}, false
		}
		return inner, true
	}
	return InnerEvent{}, false
}

// AssistantText extracts the text blocks of an assistant event's
// message content. Used for monitoring and for non-streaming collection.
func (ev StreamEvent) AssistantText() string {
	if len(ev.Message) == 0 {
		return ""
	}
	var msg struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return ""
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
