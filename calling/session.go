/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"time"

	"github.com/tejzpr/tamas-go/callsdk"
	"github.com/tejzpr/tamas-go/media"
	"github.com/tejzpr/tamas-go/peer"
)

// transitions lists the legal moves of the session state machine.
// ended is reachable from every non-terminal state.
var transitions = map[CallState][]CallState{
	CallStateIdle:       {CallStateOutgoing, CallStateIncoming},
	CallStateOutgoing:   {CallStateConnecting, CallStateIdle},
	CallStateIncoming:   {CallStateRinging, CallStateConnecting},
	CallStateRinging:    {CallStateConnecting},
	CallStateConnecting: {CallStateActive},
	CallStateActive:     {},
}

func canTransition(from, to CallState) bool {
	if from == CallStateEnded {
		return false
	}
	if to == CallStateEnded {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is one call from the local user's point of view. It owns the
// local media of the call and the registry of its peer links. A Session is
// guarded by the orchestrator lock.
type Session struct {
	id        string
	chatID    string
	peerID    string
	direction CallDirection
	role      ParticipantRole
	isVideo   bool
	isGroup   bool

	state       CallState
	startedAt   time.Time
	connectedAt time.Time

	media *media.Controller
	peers *peer.Registry

	// hadLinks is set once the first link exists
	hadLinks  bool
	accepting bool
	ringTimer *time.Timer
}

// ID returns the call id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() CallState { return s.state }

func (s *Session) setState(to CallState) (CallState, error) {
	from := s.state
	if !canTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", callsdk.ErrInvalidState, from, to)
	}
	s.state = to
	if to == CallStateActive && s.connectedAt.IsZero() {
		s.connectedAt = time.Now()
	}
	return from, nil
}

func (s *Session) live() bool {
	return s.state != CallStateEnded
}

func (s *Session) ringing() bool {
	return s.state == CallStateIncoming || s.state == CallStateRinging
}

func (s *Session) stopRing() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *Session) duration() time.Duration {
	if s.connectedAt.IsZero() {
		return 0
	}
	return time.Since(s.connectedAt)
}

func (s *Session) info() CallInfo {
	info := CallInfo{
		CallID:        s.id,
		ChatID:        s.chatID,
		PeerID:        s.peerID,
		Direction:     s.direction,
		Role:          s.role,
		IsVideo:       s.isVideo,
		IsGroup:       s.isGroup,
		State:         s.state,
		StartedAt:     s.startedAt,
		ConnectedAt:   s.connectedAt,
		AudioEnabled:  s.media.AudioEnabled(),
		VideoEnabled:  s.media.VideoEnabled(),
		ScreenSharing: s.media.ScreenSharing(),
	}
	if s.peers != nil {
		info.Participants = s.peers.Snapshot()
	}
	return info
}
