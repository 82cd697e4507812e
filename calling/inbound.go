/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/tejzpr/tamas-go/callsdk"
	"github.com/tejzpr/tamas-go/peer"
	"github.com/tejzpr/tamas-go/signaling"
)

// HandleMessage routes one inbound signaling message. Messages for a call
// other than the current one are dropped with a StaleEventError.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *signaling.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	o.lock()
	defer o.unlock()
	if o.closed {
		return ErrClosed
	}

	switch msg.Type {
	case signaling.TypeIncoming:
		return o.handleIncoming(ctx, msg)
	case signaling.TypeAccepted:
		return o.handleAccepted(msg)
	case signaling.TypeReject:
		return o.handleReject(msg)
	case signaling.TypeUserJoined:
		return o.handleUserJoined(msg)
	case signaling.TypeUserLeft:
		return o.handleUserLeft(msg)
	case signaling.TypeSignal:
		return o.handleSignal(msg)
	case signaling.TypeEnd:
		return o.handleEnd(msg)
	default:
		o.log.Debug().Str("type", string(msg.Type)).Msg("Ignoring message")
		return nil
	}
}

// sessionFor returns the current session if it carries callID.
func (o *Orchestrator) sessionFor(eventType signaling.MessageType, callID string) (*Session, error) {
	s := o.session
	if s == nil || !s.live() {
		return nil, callsdk.NewStaleEventError(string(eventType), callID, "no active call")
	}
	if s.id != callID {
		return nil, callsdk.NewStaleEventError(string(eventType), callID, "call id does not match active call "+s.id)
	}
	return s, nil
}

func (o *Orchestrator) handleIncoming(ctx context.Context, msg *signaling.Message) error {
	var p signaling.IncomingPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	callID := firstNonEmpty(p.CallID, msg.CallID)
	from := firstNonEmpty(p.From, msg.From)
	if callID == "" || from == "" {
		return callsdk.NewStaleEventError(string(msg.Type), callID, "incoming call without call id or caller")
	}

	if s := o.session; s != nil {
		if s.id == callID {
			return callsdk.NewStaleEventError(string(msg.Type), callID, "duplicate incoming call")
		}
		o.log.Info().Str("call_id", callID).Str("from", from).Msg("Busy, rejecting incoming call")
		busy := &Session{id: callID, chatID: p.ChatID, peerID: from, isGroup: p.IsGroup}
		return o.sendReject(ctx, busy, RejectReasonBusy)
	}

	s, err := o.newSession(callID, p.ChatID, p.IsVideo, p.IsGroup, CallDirectionInbound, RoleCallee)
	if err != nil {
		return err
	}
	s.peerID = from
	o.session = s
	o.transition(s, CallStateIncoming)
	o.log.Info().Str("call_id", callID).Str("from", from).Bool("group", p.IsGroup).Msg("Incoming call")
	o.emit(CallEventIncoming, IncomingCall{
		CallID:  callID,
		From:    from,
		ChatID:  p.ChatID,
		IsVideo: p.IsVideo,
		IsGroup: p.IsGroup,
	})
	o.queue(func() { o.markRinging(s) })
	o.armRing(s)
	return nil
}

func (o *Orchestrator) handleAccepted(msg *signaling.Message) error {
	var p signaling.AcceptedPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	callID := firstNonEmpty(p.CallID, msg.CallID)
	s, err := o.sessionFor(msg.Type, callID)
	if err != nil {
		return err
	}
	from := firstNonEmpty(p.From, msg.From)
	if from == "" || from == o.cfg.UserID {
		return callsdk.NewStaleEventError(string(msg.Type), callID, "accepted without a remote participant")
	}
	if s.isGroup {
		return o.join(s, from)
	}
	if s.direction != CallDirectionOutbound || s.state != CallStateOutgoing {
		return callsdk.NewStaleEventError(string(msg.Type), callID, "call is "+string(s.state))
	}

	s.stopRing()
	s.peerID = from
	o.transition(s, CallStateConnecting)
	if err := o.ensure(s, from, peer.RoleInitiator); err != nil {
		o.end(s, EndReasonConnectionFailed, true)
		return callsdk.WithCall(err, callID)
	}
	return nil
}

func (o *Orchestrator) handleReject(msg *signaling.Message) error {
	var p signaling.RejectPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	callID := firstNonEmpty(p.CallID, msg.CallID)
	s, err := o.sessionFor(msg.Type, callID)
	if err != nil {
		return err
	}
	o.emit(CallEventRejected, CallRejected{CallID: callID, From: msg.From, Reason: p.Reason})
	if s.isGroup {
		return nil
	}
	o.end(s, EndReasonRejected, false)
	return nil
}

func (o *Orchestrator) handleUserJoined(msg *signaling.Message) error {
	var p signaling.UserJoinedPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	callID := firstNonEmpty(p.CallID, msg.CallID)
	s, err := o.sessionFor(msg.Type, callID)
	if err != nil {
		return err
	}
	if !s.isGroup {
		return callsdk.NewStaleEventError(string(msg.Type), callID, "not a group call")
	}
	if p.UserID == "" || p.UserID == o.cfg.UserID {
		return nil
	}
	return o.join(s, p.UserID)
}

// join adds a group participant. The role follows the id ordering rule
// so both sides agree on who offers.
func (o *Orchestrator) join(s *Session, userID string) error {
	switch s.state {
	case CallStateOutgoing:
		s.stopRing()
		o.transition(s, CallStateConnecting)
	case CallStateConnecting, CallStateActive:
	default:
		return callsdk.NewStaleEventError(string(signaling.TypeUserJoined), s.id, "call is "+string(s.state))
	}
	if s.peers.Has(userID) {
		return nil
	}
	o.log.Info().Str("call_id", s.id).Str("participant_id", userID).Msg("Participant joined")
	o.emit(CallEventUserJoined, UserJoined{CallID: s.id, UserID: userID})
	return callsdk.WithCall(o.ensure(s, userID, peer.RoleFor(o.cfg.UserID, userID)), s.id)
}

func (o *Orchestrator) handleUserLeft(msg *signaling.Message) error {
	var p signaling.UserLeftPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	s := o.session
	if s == nil || !s.live() || (msg.CallID != "" && msg.CallID != s.id) {
		return callsdk.NewStaleEventError(string(msg.Type), msg.CallID, "no matching call")
	}
	userID := firstNonEmpty(p.UserID, msg.From)
	if userID == "" {
		return nil
	}
	o.removeParticipant(s, userID)
	return nil
}

func (o *Orchestrator) handleSignal(msg *signaling.Message) error {
	var p signaling.SignalPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	callID := firstNonEmpty(p.CallID, msg.CallID)
	s, err := o.sessionFor(msg.Type, callID)
	if err != nil {
		return err
	}
	if to := firstNonEmpty(p.To, msg.To); to != "" && to != o.cfg.UserID {
		return callsdk.NewStaleEventError(string(msg.Type), callID, "signal addressed to "+to)
	}
	from := firstNonEmpty(p.From, msg.From)
	if from == "" || from == o.cfg.UserID {
		return callsdk.NewStaleEventError(string(msg.Type), callID, "signal without a remote sender")
	}

	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(p.Signal.Type), SDP: p.Signal.SDP}
	if !s.peers.Has(from) {
		if desc.Type != webrtc.SDPTypeOffer && desc.Type != webrtc.SDPTypeAnswer {
			return callsdk.NewSignalingError(string(msg.Type), callID, errors.New("unsupported description type "+p.Signal.Type))
		}
		// A participant we have not heard about yet is offering
		if desc.Type != webrtc.SDPTypeOffer || !o.acceptsLinks(s) {
			return callsdk.NewStaleEventError(string(msg.Type), callID, "no link for participant "+from)
		}
		if s.state == CallStateOutgoing {
			s.stopRing()
			o.transition(s, CallStateConnecting)
		}
		if err := o.ensure(s, from, peer.RoleResponder); err != nil {
			return callsdk.WithCall(err, callID)
		}
	}
	// An unsupported description type fails the link it was sent on
	return callsdk.WithCall(s.peers.Deliver(from, desc), callID)
}

func (o *Orchestrator) acceptsLinks(s *Session) bool {
	switch s.state {
	case CallStateConnecting, CallStateActive:
		return true
	case CallStateOutgoing:
		return s.isGroup
	}
	return false
}

// handleEnd ends a one-to-one call when it comes from the remote party.
// In a group call it means the sender left.
func (o *Orchestrator) handleEnd(msg *signaling.Message) error {
	s, err := o.sessionFor(msg.Type, msg.CallID)
	if err != nil {
		return err
	}
	if s.isGroup && msg.From != "" {
		o.removeParticipant(s, msg.From)
		return nil
	}
	if !s.isGroup && msg.From != "" && msg.From != s.peerID {
		return callsdk.NewStaleEventError(string(msg.Type), s.id, "call:end from "+msg.From+" who is not in the call")
	}
	o.end(s, EndReasonRemoteHangup, false)
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
