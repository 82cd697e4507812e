/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

//go:build linux && cgo

package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/callsdk"
)

// DeviceSource captures camera, microphone and screen through
// pion/mediadevices, encoding VP8 video and Opus audio.
type DeviceSource struct {
	config   DeviceConfig
	selector *mediadevices.CodecSelector
	log      zerolog.Logger
}

// NewDeviceSource prepares the encoders. No device is opened until
// UserMedia or DisplayMedia is called.
func NewDeviceSource(config DeviceConfig, logger zerolog.Logger) (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = config.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}

	return &DeviceSource{
		config: config,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: logger.With().Str("component", "devices").Logger(),
	}, nil
}

// RegisterCodecs registers the encoder codecs with a pion MediaEngine.
func (d *DeviceSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

// UserMedia opens the microphone and, if requested, the camera. Capture
// falls back from video+audio to video-only to audio-only.
func (d *DeviceSource) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if len(mediadevices.EnumerateDevices()) == 0 {
		return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "user media", errors.New("no media devices found"))
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if c.Video {
		attempts = []attempt{
			{true, c.Audio, "video+audio"},
			{true, false, "video-only"},
			{false, c.Audio, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		if !a.video && !a.audio {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "user media", err)
		}

		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = d.videoConstraints
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		ms, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			d.log.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		stream := &Stream{ID: uuid.New().String()}
		for _, track := range ms.GetTracks() {
			lt := d.wrap(track)
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				stream.Audio = lt
			case webrtc.RTPCodecTypeVideo:
				stream.Video = lt
			}
		}
		d.log.Info().Str("attempt", a.label).Int("tracks", len(stream.Tracks())).Msg("Local media captured")
		return stream, nil
	}
	return nil, classify("user media", lastErr)
}

// DisplayMedia captures the primary screen as a VP8 track.
func (d *DeviceSource) DisplayMedia(ctx context.Context) (*LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "display media", err)
	}
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, classify("display media", err)
	}
	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, callsdk.NewMediaError(callsdk.DeviceUnavailable, "display media", errors.New("no display track"))
	}
	for _, extra := range tracks[1:] {
		extra.Close()
	}
	return d.wrap(tracks[0]), nil
}

func (d *DeviceSource) videoConstraints(c *mediadevices.MediaTrackConstraints) {
	// Raw formats only; MJPEG nodes on some cameras poison the encoder
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: d.config.MaxWidth}
	c.Height = prop.IntRanged{Max: d.config.MaxHeight}
}

func (d *DeviceSource) wrap(track mediadevices.Track) *LocalTrack {
	track.OnEnded(func(err error) {
		if err != nil {
			d.log.Warn().Err(err).Str("track_id", track.ID()).Msg("Local track ended")
		}
	})
	return NewLocalTrack(track, func() error {
		track.Close()
		return nil
	})
}

// classify maps a capture failure onto a media error kind.
func classify(op string, err error) error {
	if err == nil {
		err = errors.New("capture failed")
	}
	if errors.Is(err, fs.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "permission denied") {
		return callsdk.NewMediaError(callsdk.PermissionDenied, op, err)
	}
	return callsdk.NewMediaError(callsdk.DeviceUnavailable, op, err)
}
