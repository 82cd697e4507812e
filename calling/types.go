/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"time"

	"github.com/tejzpr/tamas-go/peer"
)

// ---- Enums / Constants ----

// CallState represents the state of a call session
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateOutgoing   CallState = "outgoing"
	CallStateIncoming   CallState = "incoming"
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateActive     CallState = "active"
	CallStateEnded      CallState = "ended"
)

// CallDirection indicates whether a call is inbound or outbound
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// ParticipantRole is the local user's part in a call
type ParticipantRole string

const (
	RoleCaller ParticipantRole = "caller"
	RoleCallee ParticipantRole = "callee"
)

// EndReason explains why a session ended
type EndReason string

const (
	EndReasonLocalHangup         EndReason = "local_hangup"
	EndReasonRemoteHangup        EndReason = "remote_hangup"
	EndReasonRejected            EndReason = "rejected"
	EndReasonDeclined            EndReason = "declined"
	EndReasonLastParticipantLeft EndReason = "last_participant_left"
	EndReasonRingTimeout         EndReason = "ring_timeout"
	EndReasonMediaFailure        EndReason = "media_failure"
	EndReasonConnectionFailed    EndReason = "connection_failed"
	EndReasonShutdown            EndReason = "shutdown"
)

// Reject reasons carried in call:reject payloads
const (
	RejectReasonBusy             = "busy"
	RejectReasonMediaUnavailable = "media_unavailable"
)

// ---- Event Payloads ----

// IncomingCall is delivered when a remote user rings us
type IncomingCall struct {
	CallID  string
	From    string
	ChatID  string
	IsVideo bool
	IsGroup bool
}

// CallRejected is delivered when a remote user declines
type CallRejected struct {
	CallID string
	From   string
	Reason string
}

// CallEnded is delivered once per session
type CallEnded struct {
	CallID   string
	Reason   EndReason
	Duration time.Duration
}

// UserJoined is delivered when a group participant joins
type UserJoined struct {
	CallID string
	UserID string
}

// UserLeft is delivered when a participant's link is removed
type UserLeft struct {
	CallID string
	UserID string
}

// RemoteStream is delivered for every remote track that arrives
type RemoteStream struct {
	CallID        string
	ParticipantID string
	Stream        *peer.RemoteStream
}

// StateChange is delivered on every session transition
type StateChange struct {
	CallID   string
	Previous CallState
	Current  CallState
}

// PeerStateChange is delivered when a link connects or fails
type PeerStateChange struct {
	CallID        string
	ParticipantID string
	State         peer.NegotiationState
}

// CallErrorEvent carries a non-fatal error, such as a failed link
type CallErrorEvent struct {
	CallID        string
	ParticipantID string
	Err           error
}

// ---- Snapshots ----

// CallInfo is a by-value snapshot of the current session
type CallInfo struct {
	CallID        string
	ChatID        string
	PeerID        string
	Direction     CallDirection
	Role          ParticipantRole
	IsVideo       bool
	IsGroup       bool
	State         CallState
	StartedAt     time.Time
	ConnectedAt   time.Time
	Participants  []peer.LinkInfo
	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool
}
