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

// Sender sends one local track to a remote participant.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is a track received from a remote participant.
// Track and Receiver are nil for connections that are not pion backed.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// Connection is a single peer connection as seen by a Link.
// Offer and Answer return complete descriptions with every gathered
// candidate included. They run on their own goroutine and may overlap
// with Close.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	AddReceiveOnly(kind webrtc.RTPCodecType) error
	Offer(ctx context.Context) (webrtc.SessionDescription, error)
	Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	OnRemoteTrack(handler func(RemoteTrack))
	OnStateChange(handler func(webrtc.PeerConnectionState))
	Close() error
}

// Factory opens connections toward remote participants.
type Factory interface {
	NewConnection(participantID string) (Connection, error)
}
