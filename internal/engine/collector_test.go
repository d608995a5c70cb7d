// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmont/ccproxy/internal/cli"
)

func feedCollector(t *testing.T, c *Collector, raw string) {
	t.Helper()
	ev, err := cli.Decode([]byte(raw))
	require.NoError(t, err)
	c.Feed(ev)
}

func TestCollector_ResultResponse(t *testing.T) {
	c := NewCollector()
	feedCollector(t, c, `{"type":"result","result":"the answer [[reply_to_message_id: 3]]","usage":{"input_tokens":10,"cache_creation_input_tokens":20,"cache_read_input_tokens":30,"output_tokens":5}}`)

	resp, err := c.Response("msg_1", "claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "claude-3-5-sonnet-20241022", resp.Model)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "the answer ", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Nil(t, resp.StopSequence)
	assert.Equal(t, UsageInfo{InputTokens: 60, OutputTokens: 5}, resp.Usage)
}

func TestCollector_FallsBackToAssistantText(t *testing.T) {
	c := NewCollector()
	feedCollector(t, c, `{"type":"assistant","message":{"content":[{"type":"text","text":"from assistant"}]}}`)
	feedCollector(t, c, `{"type":"result","result":""}`)

	resp, err := c.Response("msg_1", "sonnet")
	require.NoError(t, err)
	assert.Equal(t, "from assistant", resp.Content[0].Text)
}

func TestCollector_NoOutputIsAnError(t *testing.T) {
	c := NewCollector()
	_, err := c.Response("msg_1", "sonnet")
	assert.Error(t, err)
	assert.False(t, c.SawResult())
}
