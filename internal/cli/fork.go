// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Fork truncates the stored conversation at the last real user turn and
// writes the kept entries to a new session file named by a fresh UUID.
// The original file is preserved. Returns the new session UUID.
//
// The last real user turn is the last entry whose role is user, is not
// a compact summary, and is not a pure tool_result carrier. That entry,
// all of its transitive descendants (by parentUuid), and the
// immediately preceding file-history-snapshot entry are removed.
func (s *Store) Fork(sessionUUID string) (string, error) {
	entries, err := s.ReadEntries(sessionUUID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("session %s has no entries", sessionUUID)
	}

	cut := -1
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Type != "user" || e.IsCompactSummary || isToolResultCarrier(e) {
			continue
		}
		cut = i
		break
	}
	if cut < 0 {
		return "", fmt.Errorf("session %s has no user turn to regenerate", sessionUUID)
	}

	removed := map[string]bool{}
	if entries[cut].UUID != "" {
		removed[entries[cut].UUID] = true
	}
	// Descendants can chain through entries whose own parent was added
	// late, so iterate to a fixpoint.
	for {
		grew := false
		for _, e := range entries[cut:] {
			if e.UUID == "" || removed[e.UUID] {
				continue
			}
			if e.ParentUUID != "" && removed[e.ParentUUID] {
				removed[e.UUID] = true
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	kept := make([]Entry, 0, cut)
	for i, e := range entries {
		if i == cut || (e.UUID != "" && removed[e.UUID]) {
			continue
		}
		// Drop the snapshot taken just before the regenerated turn.
		if i == cut-1 && e.Type == "file-history-snapshot" {
			continue
		}
		if i > cut && e.UUID == "" {
			// Unidentified entries after the cut belong to the removed
			// turn.
			continue
		}
		kept = append(kept, e)
	}

	forkUUID := uuid.New().String()
	if err := s.writeEntries(forkUUID, kept); err != nil {
		return "", err
	}

	log.Printf("store: forked session %s -> %s (%d of %d entries kept)",
		sessionUUID, forkUUID, len(kept), len(entries))
	return forkUUID, nil
}
