// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Result(t *testing.T) {
	raw := `{"type":"result","result":"done","is_error":false,"usage":{"input_tokens":10,"cache_creation_input_tokens":5,"cache_read_input_tokens":100,"output_tokens":42}}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, EventResult, ev.Type)
	assert.Equal(t, "done", ev.Result)
	require.NotNil(t, ev.Usage)
	assert.Equal(t, 115, ev.Usage.TotalInput())
	assert.Equal(t, 42, ev.Usage.OutputTokens)
}

func TestDecode_KeepsRaw(t *testing.T) {
	raw := `{"type":"system","subtype":"init","session_id":"abc"}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(ev.Raw))
}

func TestInner_Wrapped(t *testing.T) {
	raw := `{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tu_1","name":"Bash"}}}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)

	inner, ok := ev.Inner()
	require.True(t, ok)
	assert.Equal(t, InnerContentBlockStart, inner.Type)
	require.NotNil(t, inner.ContentBlock)
	assert.Equal(t, "tool_use", inner.ContentBlock.Type)
	assert.Equal(t, "Bash", inner.ContentBlock.Name)
}

func TestInner_BareTopLevel(t *testing.T) {
	raw := `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"hi"}}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)

	inner, ok := ev.Inner()
	require.True(t, ok)
	assert.Equal(t, InnerContentBlockDelta, inner.Type)
	require.NotNil(t, inner.Delta)
	assert.Equal(t, "hi", inner.Delta.Text)
}

func TestInner_NotAStreamEvent(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"result","result":"x"}`))
	require.NoError(t, err)
	_, ok := ev.Inner()
	assert.False(t, ok)
}

func TestAssistantText(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"text","text":"one "},{"type":"tool_use","name":"Bash"},{"type":"text","text":"two"}]}}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "one two", ev.AssistantText())
}

func TestDecode_CompactBoundary(t *testing.T) {
	raw := `{"type":"system","subtype":"compact_boundary","compact_metadata":{"trigger":"auto","pre_tokens":155000}}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, SubtypeCompactBoundary, ev.Subtype)
	require.NotNil(t, ev.CompactMetadata)
	assert.Equal(t, 155000, ev.CompactMetadata.PreTokens)
}
