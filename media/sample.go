/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/tejzpr/tamas-go/callsdk"
)

// opusSilence is a single 20ms Opus frame carrying silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SampleSource produces synthetic TrackLocalStaticSample tracks. It backs
// headless clients and tests.
type SampleSource struct {
	// Silence feeds 20ms Opus silence frames into audio tracks until they
	// are stopped, which keeps remote jitter buffers primed.
	Silence bool

	mu        sync.Mutex
	denyKind  callsdk.MediaErrorKind
	denyErr   error
	acquired  int
	displayed int
}

// NewSampleSource creates a synthetic source.
func NewSampleSource() *SampleSource {
	return &SampleSource{}
}

// Deny makes subsequent captures fail with a media error of the given
// kind. An empty kind clears the denial.
func (s *SampleSource) Deny(kind callsdk.MediaErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyKind = kind
	s.denyErr = nil
	if kind != "" {
		s.denyErr = fmt.Errorf("synthetic capture refused: %s", kind)
	}
}

// Acquired returns how many streams were captured.
func (s *SampleSource) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Displayed returns how many display tracks were captured.
func (s *SampleSource) Displayed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayed
}

// RegisterCodecs registers pion's default codecs, which cover Opus and VP8.
func (s *SampleSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

// UserMedia creates an Opus audio track and optionally a VP8 video track.
func (s *SampleSource) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "user media", err)
	}
	s.mu.Lock()
	if s.denyErr != nil {
		kind, err := s.denyKind, s.denyErr
		s.mu.Unlock()
		return nil, callsdk.NewMediaError(kind, "user media", err)
	}
	s.acquired++
	s.mu.Unlock()

	stream := &Stream{ID: uuid.New().String()}
	if c.Audio {
		track, err := s.newTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", stream.ID)
		if err != nil {
			return nil, err
		}
		stream.Audio = track
	}
	if c.Video {
		track, err := s.newTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", stream.ID)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.Video = track
	}
	return stream, nil
}

// DisplayMedia creates a VP8 track standing in for a captured screen.
func (s *SampleSource) DisplayMedia(ctx context.Context) (*LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "display media", err)
	}
	s.mu.Lock()
	if s.denyErr != nil {
		kind, err := s.denyKind, s.denyErr
		s.mu.Unlock()
		return nil, callsdk.NewMediaError(kind, "display media", err)
	}
	s.displayed++
	s.mu.Unlock()

	return s.newTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "screen", "screen-"+uuid.New().String())
}

func (s *SampleSource) newTrack(codec webrtc.RTPCodecCapability, prefix, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, prefix+"-"+uuid.New().String(), streamID)
	if err != nil {
		return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "create "+prefix+" track", err)
	}

	done := make(chan struct{})
	lt := NewLocalTrack(track, func() error {
		close(done)
		return nil
	})
	if s.Silence && codec.MimeType == webrtc.MimeTypeOpus {
		go pumpSilence(track, done)
	}
	return lt, nil
}

func pumpSilence(track *webrtc.TrackLocalStaticSample, done <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// Unbound tracks drop samples, so errors here are not fatal
			_ = track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: 20 * time.Millisecond})
		}
	}
}
