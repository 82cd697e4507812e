/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is a captured local track. Peer links only borrow the
// underlying webrtc.TrackLocal; stopping is reserved to the Controller.
type LocalTrack struct {
	local   webrtc.TrackLocal
	stopFn  func() error
	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

// NewLocalTrack wraps a pion track. stop releases the capture device and
// may be nil.
func NewLocalTrack(local webrtc.TrackLocal, stop func() error) *LocalTrack {
	return &LocalTrack{local: local, stopFn: stop}
}

// Local returns the track handed to peer connections.
func (t *LocalTrack) Local() webrtc.TrackLocal { return t.local }

// ID returns the track id.
func (t *LocalTrack) ID() string { return t.local.ID() }

// Kind returns audio or video.
func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.local.Kind() }

// Stop releases the capture. Safe to call more than once.
func (t *LocalTrack) Stop() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		if t.stopFn != nil {
			err = t.stopFn()
		}
	})
	return err
}

// Stopped reports whether Stop has been called.
func (t *LocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream groups the local tracks captured for one call.
type Stream struct {
	ID    string
	Audio *LocalTrack
	Video *LocalTrack
}

// Tracks returns the non-nil tracks, audio first.
func (s *Stream) Tracks() []*LocalTrack {
	var out []*LocalTrack
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		_ = t.Stop()
	}
}

// Constraints selects the kinds requested from a Source.
type Constraints struct {
	Audio bool
	Video bool
}

// Source captures local media. Implementations return errors built with
// callsdk.NewMediaError so callers can tell denial from missing devices.
type Source interface {
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context) (*LocalTrack, error)
}

// CodecRegistrar is implemented by sources whose encoders dictate the
// codecs a peer connection must offer.
type CodecRegistrar interface {
	RegisterCodecs(m *webrtc.MediaEngine) error
}
