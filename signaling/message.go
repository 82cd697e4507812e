/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies a call signaling message.
type MessageType string

// Call signaling message types carried over the relay.
const (
	TypeStart      MessageType = "call:start"
	TypeIncoming   MessageType = "call:incoming"
	TypeAccept     MessageType = "call:accept"
	TypeAccepted   MessageType = "call:accepted"
	TypeReject     MessageType = "call:reject"
	TypeGroupStart MessageType = "call:group-start"
	TypeUserJoined MessageType = "call:user-joined"
	TypeUserLeft   MessageType = "call:user-left"
	TypeSignal     MessageType = "call:signal"
	TypeEnd        MessageType = "call:end"
)

var knownTypes = map[MessageType]bool{
	TypeStart: true, TypeIncoming: true, TypeAccept: true, TypeAccepted: true,
	TypeReject: true, TypeGroupStart: true, TypeUserJoined: true,
	TypeUserLeft: true, TypeSignal: true, TypeEnd: true,
}

// Known reports whether t is one of the call message types.
func (t MessageType) Known() bool {
	return knownTypes[t]
}

// Message is the envelope of every signaling message.
// From is stamped by the relay; clients may leave it empty.
type Message struct {
	Type    MessageType     `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	CallID  string          `json:"callId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload asks the relay to ring a single user.
type StartPayload struct {
	TargetID string `json:"targetId"`
	ChatID   string `json:"chatId"`
	IsVideo  bool   `json:"isVideo"`
}

// IncomingPayload announces a call to the callee.
type IncomingPayload struct {
	CallID  string `json:"callId"`
	From    string `json:"from"`
	ChatID  string `json:"chatId"`
	IsVideo bool   `json:"isVideo"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// AcceptPayload is sent by the callee when answering.
type AcceptPayload struct {
	CallID string `json:"callId"`
	ChatID string `json:"chatId"`
}

// AcceptedPayload tells the caller who answered.
type AcceptedPayload struct {
	CallID string `json:"callId"`
	From   string `json:"from"`
}

// RejectPayload declines a call. Reason is optional ("busy", "timeout").
type RejectPayload struct {
	CallID string `json:"callId"`
	ChatID string `json:"chatId"`
	Reason string `json:"reason,omitempty"`
}

// GroupStartPayload opens a call for every member of a chat.
type GroupStartPayload struct {
	ChatID  string `json:"chatId"`
	IsVideo bool   `json:"isVideo"`
}

// UserJoinedPayload announces a new group participant.
type UserJoinedPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

// UserLeftPayload announces a departed participant.
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// Description is a complete session description, candidates included.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SignalPayload carries a description to one remote participant.
type SignalPayload struct {
	To     string      `json:"to"`
	From   string      `json:"from"`
	CallID string      `json:"callId"`
	Signal Description `json:"signal"`
}

// EndPayload is the (usually empty) body of call:end.
type EndPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewMessage builds an envelope with the payload marshaled in place.
func NewMessage(t MessageType, callID string, payload interface{}) (*Message, error) {
	msg := &Message{Type: t, CallID: callID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("error marshaling %s payload: %w", t, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// DecodePayload unmarshals the payload into v.
// An empty payload leaves v untouched.
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", m.Type, err)
	}
	return nil
}

// Encode serializes a message for the wire.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	if m.Type == "" {
		return nil, errors.New("message type is required")
	}
	return json.Marshal(m)
}

// Decode parses one wire message. Unknown types are returned as-is so
// callers can decide to skip them.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if m.Type == "" {
		return nil, errors.New("malformed message: missing type")
	}
	return &m, nil
}
