/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package control implements §4.9's control-plane protocol carried over the
// two per-peer data channels: free-text chat, and the remote-mic/moderation
// union types. Validation is strict — anything outside the declared shape
// and type-discriminant whitelist is dropped without side effects.
package control

import (
	"bytes"
	"encoding/json"
)

// ChatMessage is the sole shape carried on the "chat" data channel.
type ChatMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

const chatMessageType = "chat"

// decodeStrict unmarshals payload into dst, rejecting unknown fields so a
// malformed or differently-shaped payload is rejected rather than silently
// partially applied.
func decodeStrict(payload []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// DecodeChatMessage parses payload as a chat message, returning ok=false
// for anything malformed or not type "chat" (§4.9: discarded silently).
func DecodeChatMessage(payload []byte) (ChatMessage, bool) {
	var msg ChatMessage
	if err := decodeStrict(payload, &msg); err != nil {
		return ChatMessage{}, false
	}
	if msg.Type != chatMessageType {
		return ChatMessage{}, false
	}
	if msg.ID == "" || msg.Content == "" {
		return ChatMessage{}, false
	}
	return msg, true
}

// EncodeChatMessage fills in Type and serializes msg for sending.
func EncodeChatMessage(msg ChatMessage) ([]byte, error) {
	msg.Type = chatMessageType
	return json.Marshal(msg)
}
