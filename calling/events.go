/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// CallEventKey identifies the type of call event
type CallEventKey string

const (
	CallEventIncoming     CallEventKey = "incoming_call"
	CallEventRejected     CallEventKey = "call_rejected"
	CallEventEnded        CallEventKey = "call_ended"
	CallEventUserJoined   CallEventKey = "user_joined"
	CallEventUserLeft     CallEventKey = "user_left"
	CallEventRemoteStream CallEventKey = "remote_stream"
	CallEventStateChanged CallEventKey = "state_changed"
	CallEventPeerState    CallEventKey = "peer_state_changed"
	CallEventError        CallEventKey = "call_error"
)

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[CallEventKey][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[CallEventKey][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event CallEventKey, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event CallEventKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers in registration order
func (e *EventEmitter) Emit(event CallEventKey, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}

// ---- Typed registration ----

// OnIncomingCall registers fn for incoming calls.
func (o *Orchestrator) OnIncomingCall(fn func(IncomingCall)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventIncoming, func(data interface{}) {
		if ev, ok := data.(IncomingCall); ok {
			fn(ev)
		}
	})
}

// OnCallRejected registers fn for remote rejections.
func (o *Orchestrator) OnCallRejected(fn func(CallRejected)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventRejected, func(data interface{}) {
		if ev, ok := data.(CallRejected); ok {
			fn(ev)
		}
	})
}

// OnCallEnded registers fn for the end of every session.
func (o *Orchestrator) OnCallEnded(fn func(CallEnded)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventEnded, func(data interface{}) {
		if ev, ok := data.(CallEnded); ok {
			fn(ev)
		}
	})
}

// OnUserJoined registers fn for group joins.
func (o *Orchestrator) OnUserJoined(fn func(UserJoined)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventUserJoined, func(data interface{}) {
		if ev, ok := data.(UserJoined); ok {
			fn(ev)
		}
	})
}

// OnUserLeft registers fn for departed participants.
func (o *Orchestrator) OnUserLeft(fn func(UserLeft)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventUserLeft, func(data interface{}) {
		if ev, ok := data.(UserLeft); ok {
			fn(ev)
		}
	})
}

// OnRemoteStream registers fn for remote media.
func (o *Orchestrator) OnRemoteStream(fn func(RemoteStream)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventRemoteStream, func(data interface{}) {
		if ev, ok := data.(RemoteStream); ok {
			fn(ev)
		}
	})
}

// OnStateChange registers fn for session transitions.
func (o *Orchestrator) OnStateChange(fn func(StateChange)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventStateChanged, func(data interface{}) {
		if ev, ok := data.(StateChange); ok {
			fn(ev)
		}
	})
}

// OnPeerStateChange registers fn for link state changes.
func (o *Orchestrator) OnPeerStateChange(fn func(PeerStateChange)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventPeerState, func(data interface{}) {
		if ev, ok := data.(PeerStateChange); ok {
			fn(ev)
		}
	})
}

// OnError registers fn for non-fatal call errors.
func (o *Orchestrator) OnError(fn func(CallErrorEvent)) {
	if fn == nil {
		return
	}
	o.events.On(CallEventError, func(data interface{}) {
		if ev, ok := data.(CallErrorEvent); ok {
			fn(ev)
		}
	})
}
