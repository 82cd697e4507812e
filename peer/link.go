/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package peer

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Role decides which side of a link produces the offer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// RoleFor is the group call rule, applied identically on both sides: the
// participant with the lexicographically smaller id responds.
func RoleFor(localID, remoteID string) Role {
	if localID < remoteID {
		return RoleResponder
	}
	return RoleInitiator
}

// NegotiationState is the lifecycle of one link.
type NegotiationState string

const (
	StateNegotiating NegotiationState = "negotiating"
	StateConnected   NegotiationState = "connected"
	StateFailed      NegotiationState = "failed"
	StateClosed      NegotiationState = "closed"
)

// RemoteStream groups the tracks a participant sent under one stream id.
type RemoteStream struct {
	ID            string
	ParticipantID string
	Tracks        []RemoteTrack
}

// LinkInfo is a by-value snapshot of a link.
type LinkInfo struct {
	ParticipantID    string
	Role             Role
	State            NegotiationState
	DescriptionsSent int
	RemoteStreams    int
}

// link is the connection toward one remote participant. It is owned by a
// Registry and shares its serialization.
type link struct {
	participantID string
	role          Role
	state         NegotiationState
	conn          Connection
	senders       map[webrtc.RTPCodecType]Sender
	sent          int
	localSent     bool   // offer (initiator) or answer (responder) produced
	remoteApplied bool   // answer (initiator) or offer (responder) applied
	appliedOffer  string // responder: SDP of the applied offer
	streams       map[string]*RemoteStream
	closed        bool

	// ctx bounds description generation; close cancels it
	ctx    context.Context
	cancel context.CancelFunc
}

func newLink(participantID string, role Role, conn Connection) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		ctx:           ctx,
		cancel:        cancel,
		participantID: participantID,
		role:          role,
		state:         StateNegotiating,
		conn:          conn,
		senders:       make(map[webrtc.RTPCodecType]Sender),
		streams:       make(map[string]*RemoteStream),
	}
}

func (l *link) info() LinkInfo {
	return LinkInfo{
		ParticipantID:    l.participantID,
		Role:             l.role,
		State:            l.state,
		DescriptionsSent: l.sent,
		RemoteStreams:    len(l.streams),
	}
}

// addRemoteTrack records t and returns a copy of its stream.
func (l *link) addRemoteTrack(t RemoteTrack) *RemoteStream {
	s, ok := l.streams[t.StreamID]
	if !ok {
		s = &RemoteStream{ID: t.StreamID, ParticipantID: l.participantID}
		l.streams[t.StreamID] = s
	}
	s.Tracks = append(s.Tracks, t)

	out := *s
	out.Tracks = append([]RemoteTrack(nil), s.Tracks...)
	return &out
}

// close releases the connection. Safe to call more than once.
func (l *link) close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.cancel()
	if l.state != StateFailed {
		l.state = StateClosed
	}
	return l.conn.Close()
}
