// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session maps client requests to long-lived CLI sessions:
// identity extraction, session keys, the registry with identity-based
// migration, and the per-key run queue.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// replyTagRe matches gateway-only reply metadata. Stripped from
	// inbound prompt/system text and outbound deltas so the model never
	// echoes it back.
	replyTagRe = regexp.MustCompile(`\[\[reply_to_message_id: \d+\]\]\s*`)

	// senderRe matches the gateway's sender tag, e.g.
	// [from: Ada Lovelace (@ada)]
	senderRe = regexp.MustCompile(`\[from: [^\]\(]*\(@([A-Za-z0-9_]+)\)\]`)

	// fencedJSONRe captures the first fenced JSON metadata block in the
	// system prompt.
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

	// volatileFieldRe matches per-message numeric fields inside the
	// metadata block that change every turn and would otherwise churn
	// the session key.
	volatileFieldRe = regexp.MustCompile(`"(message_id|reply_to_message_id|date)"\s*:\s*\d+\s*,?`)
)

// StripTags removes gateway metadata tags from text. Idempotent.
func StripTags(s string) string {
	return replyTagRe.ReplaceAllString(s, "")
}

// SenderHandle extracts the lowercased sender handle from a
// [from: Display Name (@handle)] tag, or "".
func SenderHandle(text string) string {
	m := senderRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// ChatID extracts the chat_id value from the first fenced JSON metadata
// block in the system prompt, or "".
func ChatID(systemText string) string {
	m := fencedJSONRe.FindStringSubmatch(systemText)
	if m == nil {
		return ""
	}
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(m[1]), &meta); err != nil {
		return ""
	}
	switch v := meta["chat_id"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// ExtractIdentity derives the canonical identity for a request, in
// order of precedence: sender handle from the last user message, then
// chat_id from the system prompt, then none.
func ExtractIdentity(lastUserText, systemText string) string {
	if handle := SenderHandle(lastUserText); handle != "" {
		return handle
	}
	return ChatID(systemText)
}

// MetadataBlock returns the first fenced JSON metadata block in the
// system prompt, fences included, or "". Resumed sessions get this
// block appended so the CLI sees the current turn's channel, chat_id,
// and flags without the full system prompt overwriting the stored one.
func MetadataBlock(systemText string) string {
	m := fencedJSONRe.FindString(systemText)
	return m
}

// StableSystemText strips volatile per-message metadata from the system
// prompt so the session key survives across turns of the same chat.
func StableSystemText(systemText string) string {
	s := StripTags(systemText)
	s = volatileFieldRe.ReplaceAllString(s, "")
	return s
}

// Key derives the session key from the stable system-prompt text plus
// the canonical identity. Identical logical chats map to identical
// keys even when per-message metadata changes.
func Key(systemText, identity string) string {
	stable := StableSystemText(systemText)
	sum := sha256.Sum256([]byte(stable + "\x00" + identity))
	return hex.EncodeToString(sum[:])
}

// DeriveUUID maps a session key to the CLI session identifier:
// SHA-256 of the key reformatted as canonical UUID text with the
// version nibble forced to 4 and the variant nibble to 8. Deterministic
// so a restarted proxy finds the same on-disk session.
func DeriveUUID(key string) string {
	sum := sha256.Sum256([]byte(key))
	hexStr := hex.EncodeToString(sum[:16])
	return hexStr[0:8] + "-" + hexStr[8:12] + "-4" + hexStr[13:16] + "-8" + hexStr[17:20] + "-" + hexStr[20:32]
}
