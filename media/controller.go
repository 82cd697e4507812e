/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/callsdk"
)

var (
	// ErrNoStream is returned by toggles when nothing has been acquired.
	ErrNoStream = errors.New("no local stream")

	// ErrNoVideo is returned for video operations on an audio-only stream.
	ErrNoVideo = errors.New("local stream has no video track")
)

// Sink swaps the track sent for one kind on every open peer link.
// A nil track mutes that kind.
type Sink interface {
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
}

// Outgoing describes one track a new peer link should send.
type Outgoing struct {
	Kind    webrtc.RTPCodecType
	Track   webrtc.TrackLocal
	Enabled bool
}

// Controller owns the local stream of a call. It is safe for concurrent use.
type Controller struct {
	mu           sync.Mutex
	source       Source
	log          zerolog.Logger
	stream       *Stream
	audioEnabled bool
	videoEnabled bool
	screen       *LocalTrack
	sink         Sink
}

// NewController creates a controller capturing from source.
func NewController(source Source, logger zerolog.Logger) *Controller {
	return &Controller{
		source:       source,
		log:          logger.With().Str("component", "media").Logger(),
		audioEnabled: true,
		videoEnabled: true,
	}
}

// Acquire captures audio and, if video is set, video. A held stream is
// returned as-is.
func (c *Controller) Acquire(ctx context.Context, video bool) (*Stream, error) {
	c.mu.Lock()
	if c.stream != nil {
		s := c.stream
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	stream, err := c.source.UserMedia(ctx, Constraints{Audio: true, Video: video})
	if err != nil {
		if !callsdk.IsMediaError(err) {
			err = callsdk.NewMediaError(callsdk.DeviceUnavailable, "acquire", err)
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		// Lost a race with another Acquire
		stream.Stop()
		return c.stream, nil
	}
	c.stream = stream
	c.audioEnabled = true
	c.videoEnabled = true
	c.log.Debug().Str("stream_id", stream.ID).Int("tracks", len(stream.Tracks())).Msg("Local stream acquired")
	return stream, nil
}

// Stream returns the held stream or nil.
func (c *Controller) Stream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Attach sets the sink that receives track swaps. Pass nil to detach.
func (c *Controller) Attach(sink Sink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Outgoing returns the tracks a newly created peer link should send.
func (c *Controller) Outgoing() []Outgoing {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	var out []Outgoing
	if c.stream.Audio != nil {
		out = append(out, Outgoing{Kind: webrtc.RTPCodecTypeAudio, Track: c.stream.Audio.Local(), Enabled: c.audioEnabled})
	}
	if v := c.currentVideo(); v != nil {
		out = append(out, Outgoing{Kind: webrtc.RTPCodecTypeVideo, Track: v.Local(), Enabled: c.videoEnabled})
	}
	return out
}

// Release stops every track, the saved camera track included, and
// detaches the sink. Safe to call more than once.
func (c *Controller) Release() {
	c.mu.Lock()
	stream, screen := c.stream, c.screen
	c.stream = nil
	c.screen = nil
	c.sink = nil
	c.audioEnabled = true
	c.videoEnabled = true
	c.mu.Unlock()

	if screen != nil {
		_ = screen.Stop()
	}
	if stream != nil {
		stream.Stop()
		c.log.Debug().Str("stream_id", stream.ID).Msg("Local stream released")
	}
}

// SetAudioEnabled mutes or unmutes the microphone on every link.
func (c *Controller) SetAudioEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return ErrNoStream
	}
	if c.stream.Audio == nil {
		return errors.New("local stream has no audio track")
	}
	if c.audioEnabled == enabled {
		return nil
	}
	c.audioEnabled = enabled
	return c.push(webrtc.RTPCodecTypeAudio, c.stream.Audio, enabled)
}

// SetVideoEnabled turns the outgoing video on or off on every link.
func (c *Controller) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return ErrNoStream
	}
	if c.stream.Video == nil {
		return ErrNoVideo
	}
	if c.videoEnabled == enabled {
		return nil
	}
	c.videoEnabled = enabled
	return c.push(webrtc.RTPCodecTypeVideo, c.currentVideo(), enabled)
}

// AudioEnabled reports the microphone flag.
func (c *Controller) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

// VideoEnabled reports the video flag.
func (c *Controller) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoEnabled
}

// ScreenSharing reports whether a display track replaces the camera.
func (c *Controller) ScreenSharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

// StartScreenShare captures the display and sends it in place of the
// camera. The camera keeps running so StopScreenShare can restore it.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	screen, err := c.CaptureDisplay(ctx)
	if err != nil || screen == nil {
		return err
	}
	return c.UseScreen(screen)
}

// CaptureDisplay acquires a display track without swapping it in. It
// returns nil and no error when a share is already running.
func (c *Controller) CaptureDisplay(ctx context.Context) (*LocalTrack, error) {
	c.mu.Lock()
	switch {
	case c.stream == nil:
		c.mu.Unlock()
		return nil, ErrNoStream
	case c.stream.Video == nil:
		c.mu.Unlock()
		return nil, ErrNoVideo
	case c.screen != nil:
		c.mu.Unlock()
		return nil, nil
	}
	c.mu.Unlock()

	screen, err := c.source.DisplayMedia(ctx)
	if err != nil {
		if !callsdk.IsMediaError(err) {
			err = callsdk.NewMediaError(callsdk.DeviceUnavailable, "screen share", err)
		}
		return nil, err
	}
	return screen, nil
}

// UseScreen swaps a captured display track in for the camera. The track
// is stopped if the stream was released or a share started meanwhile.
func (c *Controller) UseScreen(screen *LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.screen != nil {
		_ = screen.Stop()
		if c.stream == nil {
			return ErrNoStream
		}
		return nil
	}
	c.screen = screen
	if err := c.push(webrtc.RTPCodecTypeVideo, screen, c.videoEnabled); err != nil {
		c.screen = nil
		_ = screen.Stop()
		return fmt.Errorf("error swapping in display track: %w", err)
	}
	c.log.Info().Str("track_id", screen.ID()).Msg("Screen share started")
	return nil
}

// StopScreenShare stops the display track and restores the camera.
func (c *Controller) StopScreenShare() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen == nil {
		return nil
	}
	screen := c.screen
	c.screen = nil
	var err error
	if c.stream != nil && c.stream.Video != nil {
		err = c.push(webrtc.RTPCodecTypeVideo, c.stream.Video, c.videoEnabled)
	}
	_ = screen.Stop()
	c.log.Info().Msg("Screen share stopped")
	return err
}

func (c *Controller) currentVideo() *LocalTrack {
	if c.screen != nil {
		return c.screen
	}
	return c.stream.Video
}

// push must be called with c.mu held.
func (c *Controller) push(kind webrtc.RTPCodecType, track *LocalTrack, enabled bool) error {
	if c.sink == nil {
		return nil
	}
	var local webrtc.TrackLocal
	if enabled && track != nil {
		local = track.Local()
	}
	return c.sink.ReplaceTrack(kind, local)
}
