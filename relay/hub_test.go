/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/signaling"
)

type fakeEndpoint struct {
	id     string
	mu     sync.Mutex
	inbox  []*signaling.Message
	full   bool
	closed bool
}

func (e *fakeEndpoint) ID() string { return e.id }

func (e *fakeEndpoint) Deliver(data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.full {
		return false
	}
	msg, err := signaling.Decode(data)
	if err != nil {
		return false
	}
	e.inbox = append(e.inbox, msg)
	return true
}

func (e *fakeEndpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *fakeEndpoint) received(t signaling.MessageType) []*signaling.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*signaling.Message
	for _, m := range e.inbox {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func newTestHub(t *testing.T, users map[string][]string) (*Hub, map[string]*fakeEndpoint) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	eps := make(map[string]*fakeEndpoint)
	for id, chats := range users {
		e := &fakeEndpoint{id: id}
		eps[id] = e
		hub.Register(e, chats)
	}
	return hub, eps
}

func route(t *testing.T, hub *Hub, from string, typ signaling.MessageType, callID, to string, payload interface{}) {
	t.Helper()
	msg, err := signaling.NewMessage(typ, callID, payload)
	if err != nil {
		t.Fatalf("Failed to build %s: %v", typ, err)
	}
	msg.To = to
	hub.Route(from, msg)
}

func TestHubOneToOne(t *testing.T) {
	hub, eps := newTestHub(t, map[string][]string{"alice": {"c1"}, "bob": {"c1"}})

	route(t, hub, "alice", signaling.TypeStart, "call-1", "bob", signaling.StartPayload{TargetID: "bob", ChatID: "c1", IsVideo: true})
	incoming := eps["bob"].received(signaling.TypeIncoming)
	if len(incoming) != 1 {
		t.Fatalf("Expected bob to be rung once, got %d", len(incoming))
	}
	var in signaling.IncomingPayload
	_ = json.Unmarshal(incoming[0].Payload, &in)
	if in.CallID != "call-1" || in.From != "alice" || !in.IsVideo || in.IsGroup {
		t.Errorf("Unexpected incoming payload %+v", in)
	}

	route(t, hub, "bob", signaling.TypeAccept, "call-1", "alice", signaling.AcceptPayload{CallID: "call-1", ChatID: "c1"})
	accepted := eps["alice"].received(signaling.TypeAccepted)
	if len(accepted) != 1 || accepted[0].From != "bob" {
		t.Fatalf("Expected alice to get call:accepted from bob, got %d", len(accepted))
	}

	// The relay stamps the real sender into signal payloads
	route(t, hub, "alice", signaling.TypeSignal, "call-1", "bob", signaling.SignalPayload{
		To: "bob", From: "mallory", CallID: "call-1",
		Signal: signaling.Description{Type: "offer", SDP: "v=0"},
	})
	signals := eps["bob"].received(signaling.TypeSignal)
	if len(signals) != 1 {
		t.Fatalf("Expected bob to get 1 signal, got %d", len(signals))
	}
	var sig signaling.SignalPayload
	_ = json.Unmarshal(signals[0].Payload, &sig)
	if sig.From != "alice" || signals[0].From != "alice" {
		t.Errorf("Expected signal from alice, got %q", sig.From)
	}

	route(t, hub, "bob", signaling.TypeEnd, "call-1", "alice", signaling.EndPayload{})
	if len(eps["alice"].received(signaling.TypeEnd)) != 1 {
		t.Error("Expected alice to get call:end")
	}
	if hub.ActiveCalls() != 0 {
		t.Errorf("Expected no live calls, got %d", hub.ActiveCalls())
	}
}

func TestHubOfflineTarget(t *testing.T) {
	hub, eps := newTestHub(t, map[string][]string{"alice": nil})

	route(t, hub, "alice", signaling.TypeStart, "call-1", "bob", signaling.StartPayload{TargetID: "bob", ChatID: "c1"})
	rejects := eps["alice"].received(signaling.TypeReject)
	if len(rejects) != 1 {
		t.Fatalf("Expected an immediate reject, got %d", len(rejects))
	}
	var p signaling.RejectPayload
	_ = json.Unmarshal(rejects[0].Payload, &p)
	if p.Reason != reasonUnavailable {
		t.Errorf("Expected reason %s, got %q", reasonUnavailable, p.Reason)
	}
	if hub.ActiveCalls() != 0 {
		t.Errorf("Expected no live calls, got %d", hub.ActiveCalls())
	}
}

func TestHubReject(t *testing.T) {
	hub, eps := newTestHub(t, map[string][]string{"alice": nil, "bob": nil})

	route(t, hub, "alice", signaling.TypeStart, "call-1", "bob", signaling.StartPayload{TargetID: "bob"})
	route(t, hub, "bob", signaling.TypeReject, "call-1", "alice", signaling.RejectPayload{CallID: "call-1", Reason: "busy"})

	rejects := eps["alice"].received(signaling.TypeReject)
	if len(rejects) != 1 || rejects[0].From != "bob" {
		t.Fatalf("Expected a reject from bob, got %d", len(rejects))
	}
	if hub.ActiveCalls() != 0 {
		t.Errorf("Expected the call record to be dropped, got %d", hub.ActiveCalls())
	}
}

func TestHubGroupCall(t *testing.T) {
	hub, eps := newTestHub(t, map[string][]string{
		"alice": {"g"},
		"bob":   {"g"},
		"carol": {"g"},
		"dave":  {"other"},
	})

	route(t, hub, "alice", signaling.TypeGroupStart, "call-g", "", signaling.GroupStartPayload{ChatID: "g"})
	for _, id := range []string{"bob", "carol"} {
		incoming := eps[id].received(signaling.TypeIncoming)
		if len(incoming) != 1 {
			t.Fatalf("Expected %s to be rung once, got %d", id, len(incoming))
		}
		var in signaling.IncomingPayload
		_ = json.Unmarshal(incoming[0].Payload, &in)
		if !in.IsGroup {
			t.Errorf("Expected %s's ring to be a group ring", id)
		}
	}
	if len(eps["dave"].received(signaling.TypeIncoming)) != 0 {
		t.Error("Expected dave, outside the chat, not to be rung")
	}
	if len(eps["alice"].received(signaling.TypeIncoming)) != 0 {
		t.Error("Expected the caller not to be rung")
	}

	route(t, hub, "bob", signaling.TypeAccept, "call-g", "", signaling.AcceptPayload{CallID: "call-g", ChatID: "g"})
	route(t, hub, "carol", signaling.TypeAccept, "call-g", "", signaling.AcceptPayload{CallID: "call-g", ChatID: "g"})

	joinedUsers := func(id string) []string {
		var out []string
		for _, m := range eps[id].received(signaling.TypeUserJoined) {
			var p signaling.UserJoinedPayload
			_ = json.Unmarshal(m.Payload, &p)
			out = append(out, p.UserID)
		}
		return out
	}
	if got := joinedUsers("alice"); len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Errorf("Expected alice to see bob then carol join, got %v", got)
	}
	if got := joinedUsers("bob"); len(got) != 2 || got[0] != "alice" || got[1] != "carol" {
		t.Errorf("Expected bob to see alice then carol, got %v", got)
	}
	if got := joinedUsers("carol"); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("Expected carol to see alice and bob, got %v", got)
	}

	// Disconnect announces the departure to the rest
	hub.Unregister(eps["carol"])
	for _, id := range []string{"alice", "bob"} {
		left := eps[id].received(signaling.TypeUserLeft)
		if len(left) != 1 {
			t.Fatalf("Expected %s to see 1 departure, got %d", id, len(left))
		}
		var p signaling.UserLeftPayload
		_ = json.Unmarshal(left[0].Payload, &p)
		if p.UserID != "carol" || left[0].CallID != "call-g" {
			t.Errorf("Expected carol to leave call-g, got %+v", p)
		}
	}

	route(t, hub, "alice", signaling.TypeEnd, "call-g", "", signaling.EndPayload{})
	route(t, hub, "bob", signaling.TypeEnd, "call-g", "", signaling.EndPayload{})
	if hub.ActiveCalls() != 0 {
		t.Errorf("Expected the group call to be dropped, got %d", hub.ActiveCalls())
	}
}

func TestHubRegister(t *testing.T) {
	t.Run("Replaces older connection", func(t *testing.T) {
		hub := NewHub(zerolog.Nop())
		first := &fakeEndpoint{id: "alice"}
		second := &fakeEndpoint{id: "alice"}
		hub.Register(first, nil)
		hub.Register(second, nil)

		if !first.closed {
			t.Error("Expected the older connection to be closed")
		}
		hub.Unregister(first)
		if !hub.Online("alice") {
			t.Error("Expected the newer connection to stay registered")
		}
	})

	t.Run("Caller disconnect ends a ringing call", func(t *testing.T) {
		hub, eps := newTestHub(t, map[string][]string{"alice": nil, "bob": nil})
		route(t, hub, "alice", signaling.TypeStart, "call-1", "bob", signaling.StartPayload{TargetID: "bob"})

		hub.Unregister(eps["alice"])
		if len(eps["bob"].received(signaling.TypeEnd)) != 1 {
			t.Error("Expected bob to get call:end")
		}
		if hub.ActiveCalls() != 0 {
			t.Errorf("Expected no live calls, got %d", hub.ActiveCalls())
		}
	})

	t.Run("Full queue does not block", func(t *testing.T) {
		hub, eps := newTestHub(t, map[string][]string{"alice": nil, "bob": nil})
		eps["bob"].full = true
		route(t, hub, "alice", signaling.TypeStart, "call-1", "bob", signaling.StartPayload{TargetID: "bob"})
		if len(eps["bob"].received(signaling.TypeIncoming)) != 0 {
			t.Error("Expected nothing delivered to a full queue")
		}
	})
}
