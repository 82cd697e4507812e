/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/callsdk"
)

type replaceCall struct {
	kind  webrtc.RTPCodecType
	track webrtc.TrackLocal
}

type recordingSink struct {
	calls []replaceCall
	err   error
}

func (s *recordingSink) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	s.calls = append(s.calls, replaceCall{kind, track})
	return s.err
}

func (s *recordingSink) last() replaceCall {
	return s.calls[len(s.calls)-1]
}

func newTestController(t *testing.T, video bool) (*Controller, *SampleSource, *Stream) {
	t.Helper()
	src := NewSampleSource()
	c := NewController(src, zerolog.Nop())
	stream, err := c.Acquire(context.Background(), video)
	if err != nil {
		t.Fatalf("Expected acquire to succeed, got %v", err)
	}
	return c, src, stream
}

func TestAcquire(t *testing.T) {
	t.Run("Audio and video", func(t *testing.T) {
		_, _, stream := newTestController(t, true)
		if stream.Audio == nil || stream.Video == nil {
			t.Fatalf("Expected audio and video tracks, got %+v", stream)
		}
		if stream.Audio.Kind() != webrtc.RTPCodecTypeAudio {
			t.Errorf("Expected audio kind, got %s", stream.Audio.Kind())
		}
		if stream.Audio.Local().StreamID() != stream.ID {
			t.Errorf("Expected track stream id %s, got %s", stream.ID, stream.Audio.Local().StreamID())
		}
	})

	t.Run("Audio only", func(t *testing.T) {
		_, _, stream := newTestController(t, false)
		if stream.Video != nil {
			t.Error("Expected no video track")
		}
	})

	t.Run("Second acquire returns held stream", func(t *testing.T) {
		c, src, stream := newTestController(t, true)
		again, err := c.Acquire(context.Background(), true)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if again != stream {
			t.Error("Expected the held stream to be returned")
		}
		if src.Acquired() != 1 {
			t.Errorf("Expected 1 capture, got %d", src.Acquired())
		}
	})

	t.Run("Permission denied", func(t *testing.T) {
		src := NewSampleSource()
		src.Deny(callsdk.PermissionDenied)
		c := NewController(src, zerolog.Nop())
		_, err := c.Acquire(context.Background(), true)
		if !callsdk.IsPermissionDenied(err) {
			t.Fatalf("Expected permission denied, got %v", err)
		}
		if c.Stream() != nil {
			t.Error("Expected no stream after failure")
		}
	})

	t.Run("Device unavailable", func(t *testing.T) {
		src := NewSampleSource()
		src.Deny(callsdk.DeviceUnavailable)
		c := NewController(src, zerolog.Nop())
		if _, err := c.Acquire(context.Background(), false); !callsdk.IsDeviceUnavailable(err) {
			t.Fatalf("Expected device unavailable, got %v", err)
		}
	})
}

func TestRelease(t *testing.T) {
	c, _, stream := newTestController(t, true)
	if err := c.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("Expected screen share to start, got %v", err)
	}

	c.Release()
	c.Release()

	if !stream.Audio.Stopped() || !stream.Video.Stopped() {
		t.Error("Expected all stream tracks to be stopped, saved camera included")
	}
	if c.Stream() != nil {
		t.Error("Expected no stream after release")
	}
	if c.ScreenSharing() {
		t.Error("Expected screen share to end on release")
	}
}

func TestToggles(t *testing.T) {
	c, _, stream := newTestController(t, true)
	sink := &recordingSink{}
	c.Attach(sink)

	if err := c.SetAudioEnabled(false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := sink.last(); got.kind != webrtc.RTPCodecTypeAudio || got.track != nil {
		t.Errorf("Expected audio to be detached, got %+v", got)
	}
	if c.AudioEnabled() {
		t.Error("Expected audio flag to be false")
	}

	// Same value twice is a no-op
	if err := c.SetAudioEnabled(false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(sink.calls) != 1 {
		t.Errorf("Expected 1 replace call, got %d", len(sink.calls))
	}

	if err := c.SetVideoEnabled(false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := c.SetVideoEnabled(true); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := sink.last(); got.kind != webrtc.RTPCodecTypeVideo || got.track != stream.Video.Local() {
		t.Errorf("Expected camera to be restored, got %+v", got)
	}
	if stream.Video.Stopped() {
		t.Error("Expected toggling not to stop the camera")
	}

	out := c.Outgoing()
	if len(out) != 2 || out[0].Enabled || !out[1].Enabled {
		t.Errorf("Unexpected outgoing tracks %+v", out)
	}
}

func TestTogglesWithoutStream(t *testing.T) {
	c := NewController(NewSampleSource(), zerolog.Nop())
	if err := c.SetAudioEnabled(false); !errors.Is(err, ErrNoStream) {
		t.Errorf("Expected ErrNoStream, got %v", err)
	}
	if err := c.StartScreenShare(context.Background()); !errors.Is(err, ErrNoStream) {
		t.Errorf("Expected ErrNoStream, got %v", err)
	}
	if c.Outgoing() != nil {
		t.Error("Expected no outgoing tracks")
	}

	c, _, _ = newTestController(t, false)
	if err := c.SetVideoEnabled(true); !errors.Is(err, ErrNoVideo) {
		t.Errorf("Expected ErrNoVideo, got %v", err)
	}
}

func TestScreenShare(t *testing.T) {
	c, src, stream := newTestController(t, true)
	sink := &recordingSink{}
	c.Attach(sink)

	if err := c.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("Expected screen share to start, got %v", err)
	}
	if !c.ScreenSharing() {
		t.Fatal("Expected screen sharing")
	}
	screen := sink.last().track
	if screen == nil || screen == stream.Video.Local() {
		t.Fatal("Expected display track to replace the camera")
	}
	if stream.Video.Stopped() {
		t.Error("Expected saved camera to keep running")
	}
	out := c.Outgoing()
	if out[1].Track != screen {
		t.Error("Expected new links to receive the display track")
	}

	// Starting twice captures once
	if err := c.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if src.Displayed() != 1 {
		t.Errorf("Expected 1 display capture, got %d", src.Displayed())
	}

	if err := c.StopScreenShare(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := sink.last(); got.track != stream.Video.Local() {
		t.Error("Expected camera to be restored")
	}
	if c.ScreenSharing() {
		t.Error("Expected screen share to be stopped")
	}
	if err := c.StopScreenShare(); err != nil {
		t.Errorf("Expected stopping twice to be a no-op, got %v", err)
	}
}

func TestScreenShareWhileVideoDisabled(t *testing.T) {
	c, _, stream := newTestController(t, true)
	sink := &recordingSink{}
	c.Attach(sink)

	_ = c.SetVideoEnabled(false)
	if err := c.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if sink.last().track != nil {
		t.Error("Expected video to stay muted while disabled")
	}
	_ = c.StopScreenShare()
	_ = c.SetVideoEnabled(true)
	if sink.last().track != stream.Video.Local() {
		t.Error("Expected camera after re-enabling video")
	}
}

func TestScreenShareSinkFailure(t *testing.T) {
	c, _, _ := newTestController(t, true)
	c.Attach(&recordingSink{err: errors.New("sender gone")})

	if err := c.StartScreenShare(context.Background()); err == nil {
		t.Fatal("Expected error when the swap fails")
	}
	if c.ScreenSharing() {
		t.Error("Expected screen share to roll back")
	}
}

func TestScreenShareDenied(t *testing.T) {
	c, src, _ := newTestController(t, true)
	src.Deny(callsdk.PermissionDenied)
	if err := c.StartScreenShare(context.Background()); !callsdk.IsPermissionDenied(err) {
		t.Errorf("Expected permission denied, got %v", err)
	}
}

func TestLocalTrackStopIdempotent(t *testing.T) {
	stops := 0
	src := NewSampleSource()
	stream, err := src.UserMedia(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	lt := NewLocalTrack(stream.Audio.Local(), func() error {
		stops++
		return nil
	})
	_ = lt.Stop()
	_ = lt.Stop()
	if stops != 1 {
		t.Errorf("Expected stop to run once, got %d", stops)
	}
}
