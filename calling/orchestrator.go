/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/callsdk"
	"github.com/tejzpr/tamas-go/media"
	"github.com/tejzpr/tamas-go/peer"
	"github.com/tejzpr/tamas-go/signaling"
)

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("call orchestrator closed")

// Config wires an Orchestrator to its collaborators.
type Config struct {
	// UserID is the local participant id
	UserID string

	Transport signaling.Transport
	Media     media.Source
	Peers     peer.Factory

	// RingTimeout ends unanswered calls. Zero disables it.
	RingTimeout time.Duration

	Logger zerolog.Logger

	// NewCallID generates call ids. Defaults to random UUIDs.
	NewCallID func() string
}

// Orchestrator owns at most one call session and translates between the
// public call API, inbound signaling messages and the peer and media
// layers.
//
// Every operation and inbound event runs under one mutex. Events for
// registered handlers are queued while the lock is held and delivered
// after it is released, so handlers may call back into the Orchestrator.
type Orchestrator struct {
	cfg    Config
	log    zerolog.Logger
	events *EventEmitter

	mu      sync.Mutex
	session *Session
	pending []func()
	closed  bool
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.UserID == "":
		return nil, errors.New("user id is required")
	case cfg.Transport == nil:
		return nil, errors.New("signaling transport is required")
	case cfg.Media == nil:
		return nil, errors.New("media source is required")
	case cfg.Peers == nil:
		return nil, errors.New("peer connection factory is required")
	}
	if cfg.NewCallID == nil {
		cfg.NewCallID = uuid.NewString
	}
	return &Orchestrator{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "calls").Str("user_id", cfg.UserID).Logger(),
		events: NewEventEmitter(),
	}, nil
}

// Events returns the underlying event emitter.
func (o *Orchestrator) Events() *EventEmitter {
	return o.events
}

// ---- Serialization ----

func (o *Orchestrator) lock() {
	o.mu.Lock()
}

// unlock releases the lock and then runs the work queued under it.
func (o *Orchestrator) unlock() {
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (o *Orchestrator) queue(fn func()) {
	o.pending = append(o.pending, fn)
}

func (o *Orchestrator) emit(key CallEventKey, data interface{}) {
	o.queue(func() { o.events.Emit(key, data) })
}

// post runs fn under the lock on a new goroutine. Connection callbacks
// arrive through it.
func (o *Orchestrator) post(fn func()) {
	go func() {
		o.lock()
		defer o.unlock()
		fn()
	}()
}

// ---- Queries ----

// State returns the state of the current session, or idle.
func (o *Orchestrator) State() CallState {
	o.lock()
	defer o.unlock()
	if o.session == nil {
		return CallStateIdle
	}
	return o.session.state
}

// ActiveCall returns a snapshot of the current session.
func (o *Orchestrator) ActiveCall() (CallInfo, bool) {
	o.lock()
	defer o.unlock()
	if o.session == nil {
		return CallInfo{}, false
	}
	return o.session.info(), true
}

// ---- Outgoing calls ----

// StartCall rings targetID in chatID. Local media is acquired before
// anything is sent; a media failure leaves the orchestrator idle.
func (o *Orchestrator) StartCall(ctx context.Context, targetID, chatID string, isVideo bool) (CallInfo, error) {
	if targetID == "" || targetID == o.cfg.UserID {
		return CallInfo{}, fmt.Errorf("invalid call target %q", targetID)
	}
	s, err := o.beginOutgoing(targetID, chatID, isVideo, false)
	if err != nil {
		return CallInfo{}, err
	}

	msg, err := signaling.NewMessage(signaling.TypeStart, s.id, signaling.StartPayload{
		TargetID: targetID,
		ChatID:   chatID,
		IsVideo:  isVideo,
	})
	if err != nil {
		return CallInfo{}, err
	}
	msg.To = targetID
	return o.finishOutgoing(ctx, s, msg)
}

// StartGroupCall opens a call for every member of chatID.
func (o *Orchestrator) StartGroupCall(ctx context.Context, chatID string, isVideo bool) (CallInfo, error) {
	if chatID == "" {
		return CallInfo{}, errors.New("chat id is required for a group call")
	}
	s, err := o.beginOutgoing("", chatID, isVideo, true)
	if err != nil {
		return CallInfo{}, err
	}
	msg, err := signaling.NewMessage(signaling.TypeGroupStart, s.id, signaling.GroupStartPayload{
		ChatID:  chatID,
		IsVideo: isVideo,
	})
	if err != nil {
		return CallInfo{}, err
	}
	return o.finishOutgoing(ctx, s, msg)
}

func (o *Orchestrator) beginOutgoing(peerID, chatID string, isVideo, isGroup bool) (*Session, error) {
	o.lock()
	defer o.unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if o.session != nil {
		return nil, callsdk.ErrCallInProgress
	}
	s, err := o.newSession(o.cfg.NewCallID(), chatID, isVideo, isGroup, CallDirectionOutbound, RoleCaller)
	if err != nil {
		return nil, err
	}
	s.peerID = peerID
	o.session = s
	o.transition(s, CallStateOutgoing)
	o.log.Info().Str("call_id", s.id).Str("chat_id", chatID).Bool("group", isGroup).Msg("Starting call")
	return s, nil
}

func (o *Orchestrator) finishOutgoing(ctx context.Context, s *Session, msg *signaling.Message) (CallInfo, error) {
	_, mediaErr := s.media.Acquire(ctx, s.isVideo)

	o.lock()
	defer o.unlock()
	if mediaErr != nil {
		s.media.Release()
		if o.session == s && s.state == CallStateOutgoing {
			o.session = nil
			o.transition(s, CallStateIdle)
		}
		o.log.Warn().Err(mediaErr).Str("call_id", s.id).Msg("Failed to acquire media for outgoing call")
		return CallInfo{}, callsdk.WithCall(mediaErr, s.id)
	}
	if o.session != s || s.state != CallStateOutgoing {
		s.media.Release()
		return CallInfo{}, callsdk.NewStaleEventError("start", s.id, "call ended during media acquisition")
	}

	// Armed first so an undelivered invite still times out
	o.armRing(s)
	if err := o.send(ctx, msg); err != nil {
		return s.info(), err
	}
	return s.info(), nil
}

// ---- Incoming calls ----

// AcceptCall answers the ringing call callID. For a one-to-one call the
// responder link toward the caller exists before call:accept is sent.
func (o *Orchestrator) AcceptCall(ctx context.Context, callID string) error {
	o.lock()
	s, err := o.ringingSession(callID)
	if err != nil {
		o.unlock()
		return err
	}
	if s.accepting {
		o.unlock()
		return callsdk.WithCall(fmt.Errorf("%w: accept already in progress", callsdk.ErrInvalidState), callID)
	}
	s.accepting = true
	s.stopRing()
	o.unlock()

	_, mediaErr := s.media.Acquire(ctx, s.isVideo)

	o.lock()
	defer o.unlock()
	if o.session != s || !s.ringing() {
		s.media.Release()
		return callsdk.NewStaleEventError("accept", callID, "call ended during media acquisition")
	}
	s.accepting = false
	if mediaErr != nil {
		o.log.Warn().Err(mediaErr).Str("call_id", callID).Msg("Failed to acquire media, rejecting call")
		if err := o.sendReject(ctx, s, RejectReasonMediaUnavailable); err != nil {
			o.log.Debug().Err(err).Str("call_id", callID).Msg("Reject after media failure not delivered")
		}
		o.end(s, EndReasonMediaFailure, false)
		return callsdk.WithCall(mediaErr, callID)
	}

	o.transition(s, CallStateConnecting)
	if !s.isGroup {
		if err := o.ensure(s, s.peerID, peer.RoleResponder); err != nil {
			o.end(s, EndReasonConnectionFailed, true)
			return callsdk.WithCall(err, callID)
		}
	}

	msg, err := signaling.NewMessage(signaling.TypeAccept, s.id, signaling.AcceptPayload{
		CallID: s.id,
		ChatID: s.chatID,
	})
	if err != nil {
		return err
	}
	if !s.isGroup {
		msg.To = s.peerID
	}
	o.log.Info().Str("call_id", callID).Msg("Call accepted")
	return o.send(ctx, msg)
}

// RejectCall declines the ringing call callID. The session ends locally
// even when the reject cannot be delivered.
func (o *Orchestrator) RejectCall(callID string) error {
	o.lock()
	defer o.unlock()
	s, err := o.ringingSession(callID)
	if err != nil {
		return err
	}
	sendErr := o.sendReject(context.Background(), s, "")
	o.end(s, EndReasonDeclined, false)
	return sendErr
}

// EndCall hangs up the current call. It is a no-op without one. A call
// that is still ringing is declined instead.
func (o *Orchestrator) EndCall() error {
	o.lock()
	defer o.unlock()
	s := o.session
	if s == nil || !s.live() {
		return nil
	}
	if s.direction == CallDirectionInbound && s.ringing() {
		sendErr := o.sendReject(context.Background(), s, "")
		o.end(s, EndReasonDeclined, false)
		return sendErr
	}
	o.end(s, EndReasonLocalHangup, true)
	return nil
}

func (o *Orchestrator) ringingSession(callID string) (*Session, error) {
	if o.closed {
		return nil, ErrClosed
	}
	s := o.session
	if s == nil || s.id != callID {
		return nil, callsdk.WithCall(&callsdk.CallError{Op: "answer", Err: callsdk.ErrNoActiveCall}, callID)
	}
	if s.direction != CallDirectionInbound || !s.ringing() {
		return nil, callsdk.WithCall(&callsdk.CallError{
			Op:  "answer",
			Err: fmt.Errorf("%w: %s", callsdk.ErrInvalidState, s.state),
		}, callID)
	}
	return s, nil
}

// ---- Media controls ----

// SetAudioEnabled mutes or unmutes the microphone on every link.
func (o *Orchestrator) SetAudioEnabled(enabled bool) error {
	o.lock()
	defer o.unlock()
	s, err := o.current()
	if err != nil {
		return err
	}
	return s.media.SetAudioEnabled(enabled)
}

// SetVideoEnabled turns the outgoing video on or off on every link.
func (o *Orchestrator) SetVideoEnabled(enabled bool) error {
	o.lock()
	defer o.unlock()
	s, err := o.current()
	if err != nil {
		return err
	}
	return s.media.SetVideoEnabled(enabled)
}

// StartScreenShare sends the display in place of the camera. The display
// is captured without holding the lock.
func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	o.lock()
	s, err := o.current()
	o.unlock()
	if err != nil {
		return err
	}

	screen, err := s.media.CaptureDisplay(ctx)
	if err != nil {
		return callsdk.WithCall(err, s.id)
	}
	if screen == nil {
		return nil
	}

	o.lock()
	defer o.unlock()
	if o.session != s || !s.live() {
		_ = screen.Stop()
		return callsdk.ErrNoActiveCall
	}
	return s.media.UseScreen(screen)
}

// StopScreenShare restores the camera.
func (o *Orchestrator) StopScreenShare() error {
	o.lock()
	defer o.unlock()
	s, err := o.current()
	if err != nil {
		return err
	}
	return s.media.StopScreenShare()
}

func (o *Orchestrator) current() (*Session, error) {
	if o.session == nil || !o.session.live() {
		return nil, callsdk.ErrNoActiveCall
	}
	return o.session, nil
}

// ---- Lifecycle ----

// Run consumes the transport until ctx is done or the subscription closes.
func (o *Orchestrator) Run(ctx context.Context) error {
	msgs, cancel := o.cfg.Transport.Subscribe()
	defer cancel()
	return o.Serve(ctx, msgs)
}

// Serve handles messages from msgs until ctx is done or msgs is closed.
// Stale events are logged and dropped.
func (o *Orchestrator) Serve(ctx context.Context, msgs <-chan *signaling.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := o.HandleMessage(ctx, msg); err != nil {
				if callsdk.IsStaleEvent(err) {
					o.log.Debug().Err(err).Str("type", string(msg.Type)).Msg("Dropped stale event")
					continue
				}
				o.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("Failed to handle signaling message")
			}
		}
	}
}

// Close ends the current call and refuses further operations.
func (o *Orchestrator) Close() {
	o.lock()
	defer o.unlock()
	if o.closed {
		return
	}
	o.closed = true
	if s := o.session; s != nil {
		o.end(s, EndReasonShutdown, true)
	}
	o.log.Debug().Msg("Call orchestrator closed")
}

// ---- Session plumbing ----

func (o *Orchestrator) newSession(callID, chatID string, isVideo, isGroup bool, dir CallDirection, role ParticipantRole) (*Session, error) {
	s := &Session{
		id:        callID,
		chatID:    chatID,
		direction: dir,
		role:      role,
		isVideo:   isVideo,
		isGroup:   isGroup,
		state:     CallStateIdle,
		startedAt: time.Now(),
	}
	log := o.log.With().Str("call_id", callID).Logger()
	s.media = media.NewController(o.cfg.Media, log)

	peers, err := peer.NewRegistry(peer.RegistryConfig{
		LocalID:      o.cfg.UserID,
		Factory:      o.cfg.Peers,
		Tracks:       s.media,
		ReceiveVideo: isVideo,
		Signal: func(ctx context.Context, to string, desc webrtc.SessionDescription) error {
			return o.sendSignal(ctx, s, to, desc)
		},
		Post: o.post,
		Hooks: peer.Hooks{
			OnStateChange: func(participantID string, state peer.NegotiationState) {
				o.onPeerState(s, participantID, state)
			},
			OnRemoteStream: func(participantID string, stream *peer.RemoteStream) {
				o.onRemoteStream(s, participantID, stream)
			},
			OnFailure: func(participantID string, err error) {
				o.onPeerFailure(s, participantID, err)
			},
		},
		Logger: log,
	})
	if err != nil {
		return nil, err
	}
	s.peers = peers
	s.media.Attach(peers)
	return s, nil
}

func (o *Orchestrator) transition(s *Session, to CallState) {
	from, err := s.setState(to)
	if err != nil {
		o.log.Warn().Err(err).Str("call_id", s.id).Msg("Ignoring invalid state transition")
		return
	}
	o.log.Debug().Str("call_id", s.id).Str("from", string(from)).Str("to", string(to)).Msg("Call state changed")
	o.emit(CallEventStateChanged, StateChange{CallID: s.id, Previous: from, Current: to})
}

// end tears s down. Tracks are stopped and links closed before it
// returns. Calling it on an ended session does nothing.
func (o *Orchestrator) end(s *Session, reason EndReason, notify bool) {
	if !s.live() {
		return
	}
	s.stopRing()
	s.accepting = false
	s.peers.RemoveAll()
	s.media.Release()

	if notify {
		msg, err := signaling.NewMessage(signaling.TypeEnd, s.id, signaling.EndPayload{})
		if err == nil {
			if !s.isGroup {
				msg.To = s.peerID
			}
			if err := o.send(context.Background(), msg); err != nil {
				o.log.Debug().Err(err).Str("call_id", s.id).Msg("call:end not delivered")
			}
		}
	}

	o.transition(s, CallStateEnded)
	if o.session == s {
		o.session = nil
	}
	o.log.Info().Str("call_id", s.id).Str("reason", string(reason)).Msg("Call ended")
	o.emit(CallEventEnded, CallEnded{CallID: s.id, Reason: reason, Duration: s.duration()})
}

func (o *Orchestrator) armRing(s *Session) {
	if o.cfg.RingTimeout <= 0 {
		return
	}
	s.stopRing()
	s.ringTimer = time.AfterFunc(o.cfg.RingTimeout, func() {
		o.lock()
		defer o.unlock()
		if o.session != s || s.accepting {
			return
		}
		switch {
		case s.state == CallStateOutgoing:
			o.end(s, EndReasonRingTimeout, true)
		case s.ringing():
			// The caller times out on its own
			o.end(s, EndReasonRingTimeout, false)
		}
	})
}

// markRinging runs after the incoming-call handlers have returned.
func (o *Orchestrator) markRinging(s *Session) {
	o.lock()
	defer o.unlock()
	if o.session == s && s.state == CallStateIncoming && !s.accepting {
		o.transition(s, CallStateRinging)
	}
}

// ensure creates the link toward participantID. A link that failed while
// being built still marks the session, so losing it ends a group call.
func (o *Orchestrator) ensure(s *Session, participantID string, role peer.Role) error {
	created, err := s.peers.Ensure(participantID, role)
	if created || err != nil {
		s.hadLinks = true
	}
	return err
}

// removeParticipant drops the link toward participantID and ends the
// session once the last link is gone. Unknown participants are ignored.
func (o *Orchestrator) removeParticipant(s *Session, participantID string) {
	if !s.peers.Remove(participantID) {
		o.log.Debug().Str("call_id", s.id).Str("participant_id", participantID).Msg("No link to remove")
		return
	}
	o.log.Info().Str("call_id", s.id).Str("participant_id", participantID).Msg("Participant left")
	o.emit(CallEventUserLeft, UserLeft{CallID: s.id, UserID: participantID})
	if s.hadLinks && s.peers.Len() == 0 {
		o.end(s, EndReasonLastParticipantLeft, s.isGroup)
	}
}

// ---- Peer hooks ----

func (o *Orchestrator) onPeerState(s *Session, participantID string, state peer.NegotiationState) {
	if o.session != s || !s.live() {
		return
	}
	o.emit(CallEventPeerState, PeerStateChange{CallID: s.id, ParticipantID: participantID, State: state})
	if state == peer.StateConnected && s.state == CallStateConnecting {
		o.transition(s, CallStateActive)
	}
}

func (o *Orchestrator) onRemoteStream(s *Session, participantID string, stream *peer.RemoteStream) {
	if o.session != s || !s.live() {
		return
	}
	o.emit(CallEventRemoteStream, RemoteStream{CallID: s.id, ParticipantID: participantID, Stream: stream})
}

// onPeerFailure runs inside registry calls, so the teardown decision is
// posted rather than taken in place.
func (o *Orchestrator) onPeerFailure(s *Session, participantID string, err error) {
	if o.session != s || !s.live() {
		return
	}
	o.emit(CallEventError, CallErrorEvent{CallID: s.id, ParticipantID: participantID, Err: err})
	o.post(func() {
		if o.session != s || !s.live() {
			return
		}
		if !s.isGroup || (s.hadLinks && s.peers.Len() == 0) {
			o.end(s, EndReasonConnectionFailed, true)
		}
	})
}

// ---- Outbound messages ----

func (o *Orchestrator) send(ctx context.Context, msg *signaling.Message) error {
	if err := o.cfg.Transport.Send(ctx, msg); err != nil {
		o.log.Warn().Err(err).Str("type", string(msg.Type)).Str("call_id", msg.CallID).Msg("Failed to send signaling message")
		return callsdk.NewSignalingError(string(msg.Type), msg.CallID, err)
	}
	return nil
}

func (o *Orchestrator) sendReject(ctx context.Context, s *Session, reason string) error {
	msg, err := signaling.NewMessage(signaling.TypeReject, s.id, signaling.RejectPayload{
		CallID: s.id,
		ChatID: s.chatID,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	if !s.isGroup {
		msg.To = s.peerID
	}
	return o.send(ctx, msg)
}

func (o *Orchestrator) sendSignal(ctx context.Context, s *Session, to string, desc webrtc.SessionDescription) error {
	msg, err := signaling.NewMessage(signaling.TypeSignal, s.id, signaling.SignalPayload{
		To:     to,
		From:   o.cfg.UserID,
		CallID: s.id,
		Signal: signaling.Description{Type: desc.Type.String(), SDP: desc.SDP},
	})
	if err != nil {
		return err
	}
	msg.To = to
	return o.send(ctx, msg)
}
