/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type fakeSender struct {
	track    webrtc.TrackLocal
	replaced int
	err      error
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	if s.err != nil {
		return s.err
	}
	s.track = track
	s.replaced++
	return nil
}

type fakeConn struct {
	participantID string
	senders       []*fakeSender
	recvOnly      []webrtc.RTPCodecType
	offers        int
	answers       int
	remote        []webrtc.SessionDescription
	offerErr      error
	answerErr     error
	onTrack       func(RemoteTrack)
	onState       func(webrtc.PeerConnectionState)
	closed        int
	ctx           context.Context
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	s := &fakeSender{track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) AddReceiveOnly(kind webrtc.RTPCodecType) error {
	c.recvOnly = append(c.recvOnly, kind)
	return nil
}

func (c *fakeConn) Offer(ctx context.Context) (webrtc.SessionDescription, error) {
	c.ctx = ctx
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", c.participantID, c.offers)}, nil
}

func (c *fakeConn) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.ctx = ctx
	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}
	c.remote = append(c.remote, offer)
	c.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s-%d", c.participantID, c.answers)}, nil
}

func (c *fakeConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.remote = append(c.remote, answer)
	return nil
}

func (c *fakeConn) OnRemoteTrack(handler func(RemoteTrack)) { c.onTrack = handler }

func (c *fakeConn) OnStateChange(handler func(webrtc.PeerConnectionState)) { c.onState = handler }

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

type fakeFactory struct {
	conns map[string][]*fakeConn
	err   error
	// prepare customizes a connection before it is returned
	prepare func(*fakeConn)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[string][]*fakeConn)}
}

func (f *fakeFactory) NewConnection(participantID string) (Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{participantID: participantID}
	if f.prepare != nil {
		f.prepare(c)
	}
	f.conns[participantID] = append(f.conns[participantID], c)
	return c, nil
}

func (f *fakeFactory) last(participantID string) *fakeConn {
	conns := f.conns[participantID]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (f *fakeFactory) total() int {
	n := 0
	for _, conns := range f.conns {
		n += len(conns)
	}
	return n
}

type sentDescription struct {
	to   string
	desc webrtc.SessionDescription
}

var errSendFailed = errors.New("relay unavailable")
