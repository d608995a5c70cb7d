// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliasMap_Empty(t *testing.T) {
	m, err := NewAliasMap("")
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "ada", m.Canonical("ada"))
	assert.Empty(t, m.Canonical(""))
	assert.Equal(t, 0, m.Len())
}

func TestAliasMap_Canonical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ada_backup: ada\nteam-42: ada\n"), 0644))

	m, err := NewAliasMap(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "ada", m.Canonical("ada_backup"))
	assert.Equal(t, "ada", m.Canonical("ADA_BACKUP")) // lookups are case-insensitive
	assert.Equal(t, "ada", m.Canonical("team-42"))
	assert.Equal(t, "bob", m.Canonical("bob"))
	assert.Equal(t, 2, m.Len())
}

func TestAliasMap_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := NewAliasMap(path)
	assert.Error(t, err)
}

func TestAliasMap_HotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old: canonical\n"), 0644))

	m, err := NewAliasMap(path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte("new_id: canonical\n"), 0644))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Canonical("new_id") == "canonical" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("alias map never reloaded after file write")
}
