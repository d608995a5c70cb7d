// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"strings"

	"github.com/oakmont/ccproxy/internal/cli"
	"github.com/oakmont/ccproxy/internal/session"
)

// Collector accumulates a non-streaming run's output. In json output
// mode the CLI prints a single result object, but assistant events are
// collected too in case the result text is empty.
type Collector struct {
	gotResult     bool
	resultText    string
	usage         cli.Usage
	assistantText strings.Builder
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Feed consumes one CLI event.
func (c *Collector) Feed(ev cli.StreamEvent) {
	switch ev.Type {
	case cli.EventResult:
		c.gotResult = true
		c.resultText = ev.Result
		if ev.Usage != nil {
			c.usage = *ev.Usage
		}
	case cli.EventAssistant:
		c.assistantText.WriteString(ev.AssistantText())
	}
}

// SawResult reports whether a result event arrived.
func (c *Collector) SawResult() bool { return c.gotResult }

// Response builds the final Messages API response.
func (c *Collector) Response(msgID, model string) (*MessagesResponse, error) {
	text := c.resultText
	if text == "" {
		text = c.assistantText.String()
	}
	if !c.gotResult && text == "" {
		return nil, fmt.Errorf("cli produced no parseable output")
	}
	return &MessagesResponse{
		ID:         msgID,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    []TextBlock{{Type: "text", Text: session.StripTags(text)}},
		StopReason: "end_turn",
		Usage: UsageInfo{
			InputTokens:  c.usage.TotalInput(),
			OutputTokens: c.usage.OutputTokens,
		},
	}, nil
}
