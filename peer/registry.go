/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/callsdk"
	"github.com/tejzpr/tamas-go/media"
)

// TrackSource supplies the local tracks attached to every new link.
type TrackSource interface {
	Outgoing() []media.Outgoing
}

// SignalFunc sends a complete description to one remote participant.
type SignalFunc func(ctx context.Context, to string, desc webrtc.SessionDescription) error

// Hooks receive link events. They run inside the owner's serialization,
// either from a Registry method or from a function handed to Post.
type Hooks struct {
	OnStateChange  func(participantID string, state NegotiationState)
	OnRemoteStream func(participantID string, stream *RemoteStream)
	OnFailure      func(participantID string, err error)
}

// RegistryConfig wires a Registry to its collaborators.
type RegistryConfig struct {
	LocalID string
	Factory Factory
	Tracks  TrackSource
	// ReceiveVideo requests remote video even when no local video is sent
	ReceiveVideo bool
	Signal       SignalFunc
	// Post runs fn serialized with every other Registry call. Connection
	// callbacks and generated descriptions are delivered through it.
	Post func(fn func())
	// Spawn runs description generation, which blocks on ICE gathering,
	// outside the owner's serialization. Defaults to a new goroutine.
	Spawn  func(fn func())
	Hooks  Hooks
	Logger zerolog.Logger
}

// Registry is the sole owner of the links of one call, keyed by remote
// participant id. It is not safe for concurrent use: the owner serializes
// all calls and provides Post for asynchronous connection callbacks.
type Registry struct {
	cfg   RegistryConfig
	links map[string]*link
	log   zerolog.Logger
}

var _ media.Sink = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	switch {
	case cfg.LocalID == "":
		return nil, errors.New("local id is required")
	case cfg.Factory == nil:
		return nil, errors.New("connection factory is required")
	case cfg.Signal == nil:
		return nil, errors.New("signal function is required")
	case cfg.Post == nil:
		return nil, errors.New("post function is required")
	}
	if cfg.Spawn == nil {
		cfg.Spawn = func(fn func()) { go fn() }
	}
	return &Registry{
		cfg:   cfg,
		links: make(map[string]*link),
		log:   cfg.Logger.With().Str("component", "peers").Logger(),
	}, nil
}

// Ensure creates a link toward participantID unless one exists. It
// reports whether a link was created. An initiator link starts its offer
// in the background; the offer is sent through Post once gathered and a
// failure reaches Hooks.OnFailure.
func (r *Registry) Ensure(participantID string, role Role) (bool, error) {
	if participantID == "" || participantID == r.cfg.LocalID {
		return false, fmt.Errorf("invalid remote participant %q", participantID)
	}
	if _, ok := r.links[participantID]; ok {
		return false, nil
	}

	conn, err := r.cfg.Factory.NewConnection(participantID)
	if err != nil {
		nerr := callsdk.NewNegotiationError("connect", participantID, err)
		r.report(participantID, nerr)
		return false, nerr
	}
	l := newLink(participantID, role, conn)

	// Tracks go in before any description is generated
	if err := r.attach(l); err != nil {
		_ = conn.Close()
		nerr := callsdk.NewNegotiationError("attach tracks", participantID, err)
		r.report(participantID, nerr)
		return false, nerr
	}

	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		r.cfg.Post(func() { r.onConnectionState(l, s) })
	})
	conn.OnRemoteTrack(func(t RemoteTrack) {
		r.cfg.Post(func() { r.onRemoteTrack(l, t) })
	})

	r.links[participantID] = l
	r.log.Debug().Str("participant_id", participantID).Str("role", string(role)).Msg("Peer link created")

	if role == RoleInitiator {
		r.offer(l)
	}
	return true, nil
}

// Deliver hands a remote description to the link of participant from. An
// answer to an offer is generated in the background like Ensure's offer.
func (r *Registry) Deliver(from string, desc webrtc.SessionDescription) error {
	l, ok := r.links[from]
	if !ok {
		return callsdk.NewStaleEventError("call:signal", "", "no link for participant "+from)
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		return r.handleOffer(l, desc)
	case webrtc.SDPTypeAnswer:
		return r.handleAnswer(l, desc)
	default:
		return r.fail(l, "apply description", fmt.Errorf("unsupported description type %q", desc.Type.String()))
	}
}

// Remove closes and forgets the link toward participantID.
func (r *Registry) Remove(participantID string) bool {
	l, ok := r.links[participantID]
	if !ok {
		return false
	}
	r.drop(l)
	return true
}

// RemoveAll closes every link and returns how many were closed.
func (r *Registry) RemoveAll() int {
	n := len(r.links)
	for _, l := range r.links {
		r.drop(l)
	}
	return n
}

// ReplaceTrack swaps the track sent for kind on every link. A nil track
// mutes the kind. Links are never created or destroyed.
func (r *Registry) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	var errs []error
	for id, l := range r.links {
		sender, ok := l.senders[kind]
		if !ok {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("participant %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Has reports whether a link toward participantID exists.
func (r *Registry) Has(participantID string) bool {
	_, ok := r.links[participantID]
	return ok
}

// Len returns the number of links.
func (r *Registry) Len() int {
	return len(r.links)
}

// Connected returns the number of links in the connected state.
func (r *Registry) Connected() int {
	n := 0
	for _, l := range r.links {
		if l.state == StateConnected {
			n++
		}
	}
	return n
}

// Info returns a snapshot of the link toward participantID.
func (r *Registry) Info(participantID string) (LinkInfo, bool) {
	l, ok := r.links[participantID]
	if !ok {
		return LinkInfo{}, false
	}
	return l.info(), true
}

// Snapshot returns every link ordered by participant id.
func (r *Registry) Snapshot() []LinkInfo {
	out := make([]LinkInfo, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

func (r *Registry) attach(l *link) error {
	hasAudio, hasVideo := false, false
	if r.cfg.Tracks != nil {
		for _, o := range r.cfg.Tracks.Outgoing() {
			sender, err := l.conn.AddTrack(o.Track)
			if err != nil {
				return err
			}
			if !o.Enabled {
				if err := sender.ReplaceTrack(nil); err != nil {
					return fmt.Errorf("failed to mute %s: %w", o.Kind, err)
				}
			}
			l.senders[o.Kind] = sender
			switch o.Kind {
			case webrtc.RTPCodecTypeAudio:
				hasAudio = true
			case webrtc.RTPCodecTypeVideo:
				hasVideo = true
			}
		}
	}
	if !hasAudio {
		if err := l.conn.AddReceiveOnly(webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	if !hasVideo && r.cfg.ReceiveVideo {
		if err := l.conn.AddReceiveOnly(webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) offer(l *link) {
	r.cfg.Spawn(func() {
		offer, err := l.conn.Offer(l.ctx)
		r.cfg.Post(func() { r.finishLocal(l, "create offer", offer, err) })
	})
}

func (r *Registry) handleOffer(l *link, offer webrtc.SessionDescription) error {
	if l.role == RoleInitiator {
		// Glare: the smaller id yields and answers
		if r.cfg.LocalID > l.participantID {
			r.log.Debug().Str("participant_id", l.participantID).Msg("Ignoring offer from responder during glare")
			return nil
		}
		r.log.Debug().Str("participant_id", l.participantID).Msg("Yielding to remote offer during glare")
		return r.restartAsResponder(l, offer)
	}

	if l.remoteApplied {
		if offer.SDP == l.appliedOffer {
			r.log.Debug().Str("participant_id", l.participantID).Msg("Ignoring duplicate offer")
			return nil
		}
		// The remote side rebuilt its link
		return r.restartAsResponder(l, offer)
	}

	// Marked before the answer exists so a repeated offer is ignored
	l.remoteApplied = true
	l.appliedOffer = offer.SDP
	r.cfg.Spawn(func() {
		answer, err := l.conn.Answer(l.ctx, offer)
		r.cfg.Post(func() { r.finishLocal(l, "create answer", answer, err) })
	})
	return nil
}

// finishLocal sends a generated description unless l was closed or
// replaced while it was gathering.
func (r *Registry) finishLocal(l *link, op string, desc webrtc.SessionDescription, err error) {
	if l.closed || r.links[l.participantID] != l {
		r.log.Debug().Str("participant_id", l.participantID).Str("op", op).Msg("Discarding description for a closed link")
		return
	}
	if err != nil {
		_ = r.fail(l, op, err)
		return
	}
	l.localSent = true
	if err := r.cfg.Signal(l.ctx, l.participantID, desc); err != nil {
		_ = r.fail(l, "send description", err)
		return
	}
	l.sent++
}

func (r *Registry) handleAnswer(l *link, answer webrtc.SessionDescription) error {
	if l.role != RoleInitiator || !l.localSent {
		return callsdk.NewStaleEventError("call:signal", "", "unexpected answer from "+l.participantID)
	}
	if l.remoteApplied {
		r.log.Debug().Str("participant_id", l.participantID).Msg("Ignoring duplicate answer")
		return nil
	}
	if err := l.conn.ApplyAnswer(answer); err != nil {
		return r.fail(l, "apply answer", err)
	}
	l.remoteApplied = true
	return nil
}

func (r *Registry) restartAsResponder(old *link, offer webrtc.SessionDescription) error {
	id := old.participantID
	r.drop(old)
	if _, err := r.Ensure(id, RoleResponder); err != nil {
		return err
	}
	return r.handleOffer(r.links[id], offer)
}

func (r *Registry) onConnectionState(l *link, s webrtc.PeerConnectionState) {
	if l.closed || r.links[l.participantID] != l {
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if l.state == StateConnected {
			return
		}
		l.state = StateConnected
		r.log.Info().Str("participant_id", l.participantID).Msg("Peer connected")
		if r.cfg.Hooks.OnStateChange != nil {
			r.cfg.Hooks.OnStateChange(l.participantID, StateConnected)
		}
	case webrtc.PeerConnectionStateFailed:
		_ = r.fail(l, "connect", errors.New("peer connection failed"))
	case webrtc.PeerConnectionStateDisconnected:
		r.log.Warn().Str("participant_id", l.participantID).Msg("Peer disconnected, waiting for ICE to recover")
	}
}

func (r *Registry) onRemoteTrack(l *link, t RemoteTrack) {
	if l.closed || r.links[l.participantID] != l {
		return
	}
	stream := l.addRemoteTrack(t)
	if r.cfg.Hooks.OnRemoteStream != nil {
		r.cfg.Hooks.OnRemoteStream(l.participantID, stream)
	}
}

// fail marks l failed, removes it and reports the error. No retry.
func (r *Registry) fail(l *link, op string, cause error) error {
	err := callsdk.NewNegotiationError(op, l.participantID, cause)
	l.state = StateFailed
	r.log.Warn().Err(cause).Str("participant_id", l.participantID).Str("op", op).Msg("Peer link failed")
	if r.cfg.Hooks.OnStateChange != nil {
		r.cfg.Hooks.OnStateChange(l.participantID, StateFailed)
	}
	r.drop(l)
	r.report(l.participantID, err)
	return err
}

func (r *Registry) report(participantID string, err error) {
	if r.cfg.Hooks.OnFailure != nil {
		r.cfg.Hooks.OnFailure(participantID, err)
	}
}

func (r *Registry) drop(l *link) {
	if r.links[l.participantID] == l {
		delete(r.links, l.participantID)
	}
	if err := l.close(); err != nil {
		r.log.Debug().Err(err).Str("participant_id", l.participantID).Msg("Error closing peer link")
	}
}
