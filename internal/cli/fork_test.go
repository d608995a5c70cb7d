// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func writeSession(t *testing.T, store *Store, id string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(store.Path(id), []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func TestFork_RemovesLastUserTurnAndDescendants(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	writeSession(t, store, "orig", []string{
		`{"type":"user","uuid":"u1","sessionId":"orig","message":{"role":"user","content":"Secret is alpha."}}`,
		`{"type":"assistant","uuid":"a1","parentUuid":"u1","sessionId":"orig","message":{"role":"assistant","content":[{"type":"text","text":"noted alpha"}]}}`,
		`{"type":"file-history-snapshot","uuid":"fh1","sessionId":"orig"}`,
		`{"type":"user","uuid":"u2","parentUuid":"a1","sessionId":"orig","message":{"role":"user","content":"Secret is bravo."}}`,
		`{"type":"assistant","uuid":"a2","parentUuid":"u2","sessionId":"orig","message":{"role":"assistant","content":[{"type":"text","text":"noted bravo"}]}}`,
		`{"type":"user","uuid":"tr1","parentUuid":"a2","sessionId":"orig","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1"}]}}`,
		`{"type":"assistant","uuid":"a3","parentUuid":"tr1","sessionId":"orig","message":{"role":"assistant","content":[{"type":"text","text":"after tool"}]}}`,
	})

	forkID, err := store.Fork("orig")
	require.NoError(t, err)
	assert.Regexp(t, uuidRe, forkID)
	assert.NotEqual(t, "orig", forkID)

	// Original file untouched
	origEntries, err := store.ReadEntries("orig")
	require.NoError(t, err)
	assert.Len(t, origEntries, 7)

	// Fork keeps everything up to and including turn 1's assistant
	// reply: u2 (the last real user turn), its descendants a2, tr1,
	// a3, and the preceding snapshot are gone.
	forkEntries, err := store.ReadEntries(forkID)
	require.NoError(t, err)
	var uuids []string
	for _, e := range forkEntries {
		uuids = append(uuids, e.UUID)
	}
	assert.Equal(t, []string{"u1", "a1"}, uuids)

	// sessionId rewritten so the CLI accepts the fork as its own
	data, err := os.ReadFile(store.Path(forkID))
	require.NoError(t, err)
	assert.Contains(t, string(data), forkID)
	assert.NotContains(t, string(data), `"sessionId":"orig"`)
}

func TestFork_SkipsCompactSummaryAndToolResultCarriers(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	writeSession(t, store, "s", []string{
		`{"type":"user","uuid":"u1","sessionId":"s","message":{"role":"user","content":"real turn"}}`,
		`{"type":"assistant","uuid":"a1","parentUuid":"u1","sessionId":"s"}`,
		`{"type":"user","uuid":"cs1","parentUuid":"a1","sessionId":"s","isCompactSummary":true,"message":{"role":"user","content":"summary"}}`,
		`{"type":"user","uuid":"tr1","parentUuid":"cs1","sessionId":"s","message":{"role":"user","content":[{"type":"tool_result"}]}}`,
	})

	forkID, err := store.Fork("s")
	require.NoError(t, err)

	// u1 is the last real user turn; everything from it down is removed.
	entries, err := store.ReadEntries(forkID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFork_NoUserTurn(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	writeSession(t, store, "s", []string{
		`{"type":"assistant","uuid":"a1","sessionId":"s"}`,
	})

	_, err := store.Fork("s")
	assert.Error(t, err)
}

func TestFork_MissingSession(t *testing.T) {
	store := NewStoreAt(t.TempDir())
	_, err := store.Fork("nope")
	assert.Error(t, err)
}
