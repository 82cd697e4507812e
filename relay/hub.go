/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package relay

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/signaling"
)

// Reject reason sent to a caller whose target is offline.
const reasonUnavailable = "unavailable"

// Endpoint is one connected user as seen by the Hub.
type Endpoint interface {
	ID() string
	// Deliver queues data for the user and reports whether it was accepted
	Deliver(data []byte) bool
	Close()
}

// callRecord tracks who is in a call so departures can be announced.
type callRecord struct {
	id      string
	chatID  string
	caller  string
	group   bool
	members map[string]bool
	// invited holds the 1:1 callee until it accepts
	invited string
}

func (c *callRecord) others(userID string) []string {
	out := make([]string, 0, len(c.members))
	for m := range c.members {
		if m != userID {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Hub routes call signaling between connected users. It keeps chat
// membership from the connection parameters and a record of every live
// call.
type Hub struct {
	mu      sync.Mutex
	clients map[string]Endpoint
	chats   map[string]map[string]bool
	calls   map[string]*callRecord
	log     zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]Endpoint),
		chats:   make(map[string]map[string]bool),
		calls:   make(map[string]*callRecord),
		log:     logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds e as the connection of its user, replacing an older
// connection, and records its chat memberships.
func (h *Hub) Register(e Endpoint, chatIDs []string) {
	h.mu.Lock()
	old := h.clients[e.ID()]
	h.clients[e.ID()] = e
	for _, chatID := range chatIDs {
		members, ok := h.chats[chatID]
		if !ok {
			members = make(map[string]bool)
			h.chats[chatID] = members
		}
		members[e.ID()] = true
	}
	h.mu.Unlock()

	if old != nil && old != e {
		old.Close()
	}
	h.log.Info().Str("user_id", e.ID()).Strs("chats", chatIDs).Msg("Client registered")
}

// Unregister removes e and ends its part in every call. A connection that
// was already replaced is ignored.
func (h *Hub) Unregister(e Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[e.ID()] != e {
		return
	}
	delete(h.clients, e.ID())
	for _, members := range h.chats {
		delete(members, e.ID())
	}
	for _, c := range h.callsOf(e.ID()) {
		h.leave(c, e.ID())
	}
	h.log.Info().Str("user_id", e.ID()).Msg("Client unregistered")
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]Endpoint, 0, len(h.clients))
	for _, e := range h.clients {
		clients = append(clients, e)
	}
	h.mu.Unlock()
	for _, e := range clients {
		e.Close()
	}
}

// Online reports whether userID has a connection.
func (h *Hub) Online(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[userID]
	return ok
}

// ActiveCalls returns the number of live call records.
func (h *Hub) ActiveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// Route handles one message sent by from. The sender is stamped onto the
// envelope and onto forwarded signal payloads.
func (h *Hub) Route(from string, msg *signaling.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg.From = from
	log := h.log.With().Str("type", string(msg.Type)).Str("from", from).Str("call_id", msg.CallID).Logger()

	var err error
	switch msg.Type {
	case signaling.TypeStart:
		err = h.start(from, msg)
	case signaling.TypeGroupStart:
		err = h.groupStart(from, msg)
	case signaling.TypeAccept:
		err = h.accept(from, msg)
	case signaling.TypeReject:
		err = h.reject(from, msg)
	case signaling.TypeSignal:
		err = h.signal(from, msg)
	case signaling.TypeEnd:
		if c, ok := h.calls[msg.CallID]; ok {
			h.leave(c, from)
		}
	default:
		log.Debug().Msg("Dropping unroutable message")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to route message")
	}
}

func (h *Hub) start(from string, msg *signaling.Message) error {
	var p signaling.StartPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	if msg.CallID == "" || p.TargetID == "" {
		return errMissing("callId or targetId")
	}
	if _, ok := h.clients[p.TargetID]; !ok {
		return h.sendTo(from, signaling.TypeReject, msg.CallID, p.TargetID, signaling.RejectPayload{
			CallID: msg.CallID,
			ChatID: p.ChatID,
			Reason: reasonUnavailable,
		})
	}
	h.calls[msg.CallID] = &callRecord{
		id:      msg.CallID,
		chatID:  p.ChatID,
		caller:  from,
		members: map[string]bool{from: true},
		invited: p.TargetID,
	}
	return h.sendTo(p.TargetID, signaling.TypeIncoming, msg.CallID, from, signaling.IncomingPayload{
		CallID:  msg.CallID,
		From:    from,
		ChatID:  p.ChatID,
		IsVideo: p.IsVideo,
	})
}

func (h *Hub) groupStart(from string, msg *signaling.Message) error {
	var p signaling.GroupStartPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	if msg.CallID == "" || p.ChatID == "" {
		return errMissing("callId or chatId")
	}
	h.calls[msg.CallID] = &callRecord{
		id:      msg.CallID,
		chatID:  p.ChatID,
		caller:  from,
		group:   true,
		members: map[string]bool{from: true},
	}
	for _, member := range h.members(p.ChatID) {
		if member == from {
			continue
		}
		if err := h.sendTo(member, signaling.TypeIncoming, msg.CallID, from, signaling.IncomingPayload{
			CallID:  msg.CallID,
			From:    from,
			ChatID:  p.ChatID,
			IsVideo: p.IsVideo,
			IsGroup: true,
		}); err != nil {
			h.log.Debug().Err(err).Str("user_id", member).Msg("Group ring not delivered")
		}
	}
	return nil
}

func (h *Hub) accept(from string, msg *signaling.Message) error {
	var p signaling.AcceptPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	callID := firstNonEmpty(p.CallID, msg.CallID)
	c, ok := h.calls[callID]
	if !ok {
		return errUnknownCall(callID)
	}

	if !c.group {
		if c.invited != from {
			return errNotInvited(from, callID)
		}
		c.invited = ""
		c.members[from] = true
		return h.sendTo(c.caller, signaling.TypeAccepted, callID, from, signaling.AcceptedPayload{
			CallID: callID,
			From:   from,
		})
	}

	if c.members[from] {
		return nil
	}
	existing := c.others(from)
	c.members[from] = true
	for _, m := range existing {
		if err := h.sendTo(m, signaling.TypeUserJoined, callID, from, signaling.UserJoinedPayload{CallID: callID, UserID: from}); err != nil {
			h.log.Debug().Err(err).Str("user_id", m).Msg("Join notice not delivered")
		}
		if err := h.sendTo(from, signaling.TypeUserJoined, callID, m, signaling.UserJoinedPayload{CallID: callID, UserID: m}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) reject(from string, msg *signaling.Message) error {
	var p signaling.RejectPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	callID := firstNonEmpty(p.CallID, msg.CallID)
	c, ok := h.calls[callID]
	if !ok {
		// Busy rejects name calls the rejecting side never joined
		if msg.To == "" {
			return errUnknownCall(callID)
		}
		return h.forward(msg.To, msg)
	}
	if !c.group && c.invited == from {
		delete(h.calls, callID)
	}
	return h.forward(c.caller, msg)
}

func (h *Hub) signal(from string, msg *signaling.Message) error {
	var p signaling.SignalPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	to := firstNonEmpty(msg.To, p.To)
	if to == "" {
		return errMissing("to")
	}
	if p.From != from {
		p.From = from
		stamped, err := signaling.NewMessage(msg.Type, msg.CallID, p)
		if err != nil {
			return err
		}
		stamped.From, stamped.To = from, to
		msg = stamped
	}
	return h.forward(to, msg)
}

// leave removes userID from c. A 1:1 call ends for both sides; in a group
// the remaining members are told who left.
func (h *Hub) leave(c *callRecord, userID string) {
	if !c.members[userID] && c.invited != userID {
		return
	}
	delete(c.members, userID)

	if !c.group {
		delete(h.calls, c.id)
		peers := c.others(userID)
		if c.invited != "" && c.invited != userID {
			peers = append(peers, c.invited)
		}
		for _, m := range peers {
			if err := h.sendTo(m, signaling.TypeEnd, c.id, userID, signaling.EndPayload{}); err != nil {
				h.log.Debug().Err(err).Str("user_id", m).Msg("End notice not delivered")
			}
		}
		return
	}

	for _, m := range c.others(userID) {
		if err := h.sendTo(m, signaling.TypeUserLeft, c.id, userID, signaling.UserLeftPayload{UserID: userID}); err != nil {
			h.log.Debug().Err(err).Str("user_id", m).Msg("Leave notice not delivered")
		}
	}
	if len(c.members) == 0 {
		delete(h.calls, c.id)
	}
}

func (h *Hub) callsOf(userID string) []*callRecord {
	var out []*callRecord
	for _, c := range h.calls {
		if c.members[userID] || c.invited == userID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) members(chatID string) []string {
	out := make([]string, 0, len(h.chats[chatID]))
	for m := range h.chats[chatID] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) sendTo(to string, t signaling.MessageType, callID, from string, payload interface{}) error {
	msg, err := signaling.NewMessage(t, callID, payload)
	if err != nil {
		return err
	}
	msg.From = from
	return h.forward(to, msg)
}

func (h *Hub) forward(to string, msg *signaling.Message) error {
	e, ok := h.clients[to]
	if !ok {
		return errOffline(to)
	}
	msg.To = to
	data, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	if !e.Deliver(data) {
		return errBackpressure(to)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
