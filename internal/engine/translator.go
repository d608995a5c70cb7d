// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/oakmont/ccproxy/internal/cli"
	"github.com/oakmont/ccproxy/internal/events"
	"github.com/oakmont/ccproxy/internal/session"
)

// Sink receives translated SSE events.
type Sink interface {
	Event(name string, data interface{}) error
}

// PhaseSetter adjusts the idle watchdog for the current CLI phase. The
// translator and the watchdog live in the same per-run context and are
// torn down together.
type PhaseSetter interface {
	SetPhase(cli.Phase)
}

// Translator converts the CLI's event stream into a well-formed
// Messages API SSE timeline. Tool traffic is filtered: the CLI is
// authoritative for tools, and a client gateway that sees tool_use
// blocks tries to execute them itself and ends up in a retry loop.
// Content blocks forwarded to the client are renumbered so SSE indices
// stay contiguous from 0.
type Translator struct {
	sink   Sink
	phaser PhaseSetter
	bus    events.EventBus

	msgID      string
	model      string
	sessionKey string

	started   bool
	nextIndex int
	openIndex int // SSE index of the open forwarded block, -1 if none
	openType  string

	insideTool    bool
	toolExecuting bool
	toolInputJSON string
	compacting    bool

	textStarted bool
	textSent    bool

	inputTokens  int
	outputTokens int

	sawResult bool
	errored   bool
}

// NewTranslator creates a translator for one streaming run.
func NewTranslator(sink Sink, phaser PhaseSetter, bus events.EventBus, msgID, model, sessionKey string) *Translator {
	return &Translator{
		sink:       sink,
		phaser:     phaser,
		bus:        bus,
		msgID:      msgID,
		model:      model,
		sessionKey: sessionKey,
		openIndex:  -1,
	}
}

// SawResult reports whether a result event arrived. A CLI that exits
// non-zero but still produced a result is reporting a quota condition,
// not a failure.
func (t *Translator) SawResult() bool { return t.sawResult }

// Errored reports whether an error event arrived before close.
func (t *Translator) Errored() bool { return t.errored }

// Usage returns the final token counts.
func (t *Translator) Usage() UsageInfo {
	return UsageInfo{InputTokens: t.inputTokens, OutputTokens: t.outputTokens}
}

// Feed consumes one CLI event.
func (t *Translator) Feed(ev cli.StreamEvent) {
	switch ev.Type {
	case cli.EventSystem:
		t.handleSystem(ev)
	case cli.EventResult:
		t.handleResult(ev)
	case cli.EventError:
		t.errored = true
		t.sink.Event("error", map[string]interface{}{
			"type": "error",
			"error": map[string]string{
				"type":    "api_error",
				"message": ev.Result,
			},
		})
	case cli.EventAssistant, cli.EventUser, cli.EventInit, "system_event":
		// Log/monitor only; the stream events carry the deltas.
	default:
		if inner, ok := ev.Inner(); ok {
			t.handleInner(inner)
			return
		}
		log.Printf("translator: unknown event type %q", ev.Type)
		t.publish(events.EventCLIUnknown, map[string]interface{}{"event_type": ev.Type})
	}
}

func (t *Translator) handleSystem(ev cli.StreamEvent) {
	switch ev.Subtype {
	case cli.SubtypeCompactBoundary:
		preTokens := 0
		if ev.CompactMetadata != nil {
			preTokens = ev.CompactMetadata.PreTokens
		}
		notice := fmt.Sprintf("[Auto context compaction (%d tokens) — summarizing conversation history...]", preTokens)
		t.enterCompaction(notice, preTokens)
	case cli.SubtypeStatus:
		if ev.Status == "compacting" {
			t.enterCompaction("[Context compaction in progress — please wait...]", 0)
		}
	default:
		// init and friends are monitoring material only.
	}
}

func (t *Translator) enterCompaction(notice string, preTokens int) {
	t.compacting = true
	t.phaser.SetPhase(cli.PhaseCompact)
	t.publish(events.EventCompactionStarted, map[string]interface{}{"pre_tokens": preTokens})

	t.ensureStarted()
	t.closeOpenBlock()
	t.injectTextBlock(notice)
}

// injectTextBlock emits a synthetic text content-block triple.
func (t *Translator) injectTextBlock(text string) {
	idx := t.nextIndex
	t.nextIndex++
	t.sink.Event("content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         idx,
		"content_block": map[string]string{"type": "text", "text": ""},
	})
	t.sink.Event("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": idx,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
	t.sink.Event("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": idx,
	})
}

func (t *Translator) handleInner(inner cli.InnerEvent) {
	switch inner.Type {
	case cli.InnerMessageStart:
		t.ensureStarted()
		if len(inner.Message) > 0 {
			var msg struct {
				Usage cli.Usage `json:"usage"`
			}
			if err := json.Unmarshal(inner.Message, &msg); err == nil {
				if total := msg.Usage.TotalInput(); total > 0 {
					t.inputTokens = total
				}
			}
		}

	case cli.InnerContentBlockStart:
		if inner.ContentBlock == nil {
			return
		}
		switch inner.ContentBlock.Type {
		case "tool_use":
			t.insideTool = true
			t.toolExecuting = true
			t.toolInputJSON = ""
			t.openType = "tool_use"
			t.phaser.SetPhase(cli.PhaseTool)
			t.publish(events.EventToolStarted, map[string]interface{}{
				"tool": inner.ContentBlock.Name,
				"id":   inner.ContentBlock.ID,
			})
		case "text", "thinking":
			t.compacting = false
			t.toolExecuting = false
			t.phaser.SetPhase(cli.PhaseText)
			t.ensureStarted()
			idx := t.nextIndex
			t.nextIndex++
			t.openIndex = idx
			t.openType = inner.ContentBlock.Type
			block := map[string]string{"type": inner.ContentBlock.Type}
			if inner.ContentBlock.Type == "text" {
				block["text"] = ""
				t.textStarted = true
			} else {
				block["thinking"] = ""
			}
			t.sink.Event("content_block_start", map[string]interface{}{
				"type":          "content_block_start",
				"index":         idx,
				"content_block": block,
			})
		}

	case cli.InnerContentBlockDelta:
		if inner.Delta == nil {
			return
		}
		switch inner.Delta.Type {
		case "input_json_delta":
			if t.insideTool {
				t.toolInputJSON += inner.Delta.PartialJSON
			}
		case "text_delta":
			if t.openIndex < 0 {
				return
			}
			text := session.StripTags(inner.Delta.Text)
			t.sink.Event("content_block_delta", map[string]interface{}{
				"type":  "content_block_delta",
				"index": t.openIndex,
				"delta": map[string]string{"type": "text_delta", "text": text},
			})
			t.textSent = true
		case "thinking_delta":
			if t.openIndex < 0 {
				return
			}
			t.sink.Event("content_block_delta", map[string]interface{}{
				"type":  "content_block_delta",
				"index": t.openIndex,
				"delta": map[string]string{"type": "thinking_delta", "thinking": inner.Delta.Thinking},
			})
		}

	case cli.InnerContentBlockStop:
		if t.openType == "tool_use" {
			// Close the tool state but leave toolExecuting on until
			// the next text/thinking block: the CLI goes quiet while
			// the tool runs.
			t.insideTool = false
			t.openType = ""
			if t.toolInputJSON != "" {
				t.publish(events.EventToolInput, map[string]interface{}{"input": t.toolInputJSON})
				t.toolInputJSON = ""
			}
			return
		}
		t.closeOpenBlock()

	case cli.InnerMessageDelta:
		// The CLI emits one message_delta per API turn, with
		// stop_reason tool_use between tool rounds. The client timeline
		// carries exactly one terminal message_delta, so intermediate
		// ones only update the token count.
		if inner.Usage != nil && inner.Usage.OutputTokens > 0 {
			t.outputTokens = inner.Usage.OutputTokens
		}

	case cli.InnerMessageStop:
		// The terminal message_stop is emitted on child close.
	}
}

func (t *Translator) handleResult(ev cli.StreamEvent) {
	t.sawResult = true
	if ev.Usage != nil {
		if total := ev.Usage.TotalInput(); total > 0 {
			t.inputTokens = total
		}
		if ev.Usage.OutputTokens > 0 {
			t.outputTokens = ev.Usage.OutputTokens
		}
	}
	// If the stream produced no visible text (all of it was tool
	// traffic, or the CLI skipped partial messages), surface the final
	// result text as a single synthetic block.
	if !t.textSent && ev.Result != "" {
		t.ensureStarted()
		t.closeOpenBlock()
		t.injectTextBlock(session.StripTags(ev.Result))
		t.textSent = true
	}
}

// Finish completes the timeline after child close. If an error event
// preceded close, nothing further is emitted: the stream terminates
// without message_stop.
func (t *Translator) Finish() {
	if t.errored {
		return
	}
	t.ensureStarted()
	t.closeOpenBlock()
	t.sink.Event("message_delta", map[string]interface{}{
		"type": "message_delta",
		"delta": map[string]interface{}{
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
		},
		"usage": map[string]int{"output_tokens": t.outputTokens},
	})
	t.sink.Event("message_stop", map[string]interface{}{"type": "message_stop"})
}

func (t *Translator) ensureStarted() {
	if t.started {
		return
	}
	t.started = true
	t.sink.Event("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            t.msgID,
			"type":          "message",
			"role":          "assistant",
			"model":         t.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": t.inputTokens, "output_tokens": 0},
		},
	})
}

func (t *Translator) closeOpenBlock() {
	if t.openIndex < 0 || t.openType == "tool_use" {
		return
	}
	t.sink.Event("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": t.openIndex,
	})
	t.openIndex = -1
	t.openType = ""
}

func (t *Translator) publish(eventType string, payload map[string]interface{}) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(context.Background(), events.Event{
		Type:    eventType,
		Session: t.sessionKey,
		Payload: payload,
	})
}
