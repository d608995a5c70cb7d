// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cli

import "encoding/json"

// ExtractObjects scans buf for complete top-level JSON objects and
// returns them along with the unconsumed remainder. The CLI emits
// newline-delimited JSON most of the time but occasionally concatenates
// objects, so line splitting alone corrupts the stream; this tracks
// brace depth with string and escape awareness instead.
//
// Candidates that fail JSON validation are discarded silently. A stray
// closing brace at depth zero is ignored. The remainder begins at the
// byte after the last consumed object, so an incomplete trailing object
// stays buffered for the next chunk.
func ExtractObjects(buf []byte) ([][]byte, []byte) {
	var objs [][]byte
	inString := false
	escapeNext := false
	depth := 0
	start := -1
	consumed := 0

	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if inString {
			if escapeNext {
				escapeNext = false
				continue
			}
			switch c {
			case '\\':
				escapeNext = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				// Stray close; do not advance the start pointer.
				continue
			}
			depth--
			if depth == 0 {
				candidate := buf[start : i+1]
				if json.Valid(candidate) {
					objs = append(objs, candidate)
				}
				consumed = i + 1
				start = -1
			}
		}
	}

	return objs, buf[consumed:]
}
