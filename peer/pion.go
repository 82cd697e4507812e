/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/media"
)

// PionConfig holds configuration for pion backed connections
type PionConfig struct {
	// ICEServers is the list of STUN/TURN URLs
	ICEServers []string
	// GatherTimeout bounds candidate gathering; on expiry the description
	// gathered so far is sent
	GatherTimeout time.Duration
	// PLIInterval is how often keyframes are requested from remote video
	PLIInterval time.Duration
	// ICE timeouts, see webrtc.SettingEngine.SetICETimeouts
	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepaliveInterval   time.Duration
	// IncludeLoopback adds loopback candidates, useful on a single host
	IncludeLoopback bool
}

// DefaultPionConfig returns a PionConfig with sensible defaults.
func DefaultPionConfig() *PionConfig {
	return &PionConfig{
		ICEServers:             []string{"stun:stun.l.google.com:19302"},
		GatherTimeout:          5 * time.Second,
		PLIInterval:            3 * time.Second,
		ICEDisconnectedTimeout: 30 * time.Second,
		ICEFailedTimeout:       120 * time.Second,
		ICEKeepaliveInterval:   2 * time.Second,
	}
}

// PionFactory creates pion PeerConnections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config *PionConfig
	log    zerolog.Logger
}

var _ Factory = (*PionFactory)(nil)

// NewPionFactory builds the pion API. codecs decides which codecs are
// registered; nil registers pion's defaults.
func NewPionFactory(config *PionConfig, codecs media.CodecRegistrar, logger zerolog.Logger) (*PionFactory, error) {
	if config == nil {
		config = DefaultPionConfig()
	}

	m := &webrtc.MediaEngine{}
	if codecs != nil {
		if err := codecs.RegisterCodecs(m); err != nil {
			return nil, fmt.Errorf("failed to register codecs: %w", err)
		}
	} else if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}

	// Default interceptors (RTCP reports, NACK, TWCC) plus periodic PLI so
	// late joiners get a keyframe
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}
	var pliOpts []intervalpli.GeneratorOption
	if config.PLIInterval > 0 {
		pliOpts = append(pliOpts, intervalpli.GeneratorInterval(config.PLIInterval))
	}
	pli, err := intervalpli.NewReceiverInterceptor(pliOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI factory: %w", err)
	}
	i.Add(pli)

	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(config.ICEDisconnectedTimeout, config.ICEFailedTimeout, config.ICEKeepaliveInterval)
	if config.IncludeLoopback {
		settings.SetIncludeLoopbackCandidate(true)
	}

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithSettingEngine(settings),
			webrtc.WithInterceptorRegistry(i),
		),
		config: config,
		log:    logger.With().Str("component", "pion").Logger(),
	}, nil
}

// NewConnection opens a PeerConnection toward participantID.
func (f *PionFactory) NewConnection(participantID string) (Connection, error) {
	var servers []webrtc.ICEServer
	if len(f.config.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: f.config.ICEServers}}
	}
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionConnection{
		pc:            pc,
		gatherTimeout: f.config.GatherTimeout,
		log:           f.log.With().Str("participant_id", participantID).Logger(),
	}, nil
}

type pionConnection struct {
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration
	log           zerolog.Logger
}

func (c *pionConnection) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}

	// Read RTCP so the interceptors keep running
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *pionConnection) AddReceiveOnly(kind webrtc.RTPCodecType) error {
	_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("failed to add %s transceiver: %w", kind, err)
	}
	return nil
}

func (c *pionConnection) Offer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return c.setLocalAndGather(ctx, offer)
}

func (c *pionConnection) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return c.setLocalAndGather(ctx, answer)
}

// ApplyAnswer sets the remote answer. Duplicates arriving once the
// connection is stable are ignored.
func (c *pionConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if c.pc.SignalingState() == webrtc.SignalingStateStable {
		c.log.Debug().Msg("Ignoring duplicate answer, signaling state already stable")
		return nil
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

func (c *pionConnection) OnRemoteTrack(handler func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Debug().Str("codec", track.Codec().MimeType).Uint32("ssrc", uint32(track.SSRC())).Msg("Remote track received")
		handler(RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind(),
			Track:    track,
			Receiver: receiver,
		})
	})
}

func (c *pionConnection) OnStateChange(handler func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Debug().Str("state", s.String()).Msg("Connection state changed")
		handler(s)
	})
}

func (c *pionConnection) Close() error {
	if err := c.pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}

// setLocalAndGather applies desc locally and waits for ICE gathering so the
// returned description carries every candidate
func (c *pionConnection) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	timer := time.NewTimer(c.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		c.log.Warn().Dur("timeout", c.gatherTimeout).Msg("ICE gathering timed out, sending partial description")
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("local description is nil after gathering")
	}
	return *local, nil
}
