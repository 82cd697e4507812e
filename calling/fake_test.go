/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/media"
	"github.com/tejzpr/tamas-go/peer"
	"github.com/tejzpr/tamas-go/signaling"
)

// ---- Transport ----

type fakeTransport struct {
	mu   sync.Mutex
	sent []*signaling.Message
	err  error
	ch   chan *signaling.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ch: make(chan *signaling.Message, 16)}
}

func (t *fakeTransport) Send(ctx context.Context, msg *signaling.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Subscribe() (<-chan *signaling.Message, func()) {
	return t.ch, func() {}
}

func (t *fakeTransport) failWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *fakeTransport) ofType(typ signaling.MessageType) []*signaling.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*signaling.Message
	for _, m := range t.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// ---- Peer connections ----

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

func (s *fakeSender) current() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakeConn struct {
	mu            sync.Mutex
	participantID string
	senders       map[webrtc.RTPCodecType]*fakeSender
	offers        int
	answers       int
	applied       []webrtc.SessionDescription
	onState       func(webrtc.PeerConnectionState)
	onTrack       func(peer.RemoteTrack)
	closed        bool
	// delay stalls Offer like a slow ICE gather
	delay     time.Duration
	cancelled int
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSender{track: track}
	c.senders[track.Kind()] = s
	return s, nil
}

func (c *fakeConn) AddReceiveOnly(kind webrtc.RTPCodecType) error { return nil }

func (c *fakeConn) Offer(ctx context.Context) (webrtc.SessionDescription, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			c.mu.Lock()
			c.cancelled++
			c.mu.Unlock()
			return webrtc.SessionDescription{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", c.participantID, c.offers)}, nil
}

func (c *fakeConn) Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, offer)
	c.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%s-%d", c.participantID, c.answers)}, nil
}

func (c *fakeConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, answer)
	return nil
}

func (c *fakeConn) OnRemoteTrack(handler func(peer.RemoteTrack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = handler
}

func (c *fakeConn) OnStateChange(handler func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	handler := c.onState
	c.mu.Unlock()
	if handler != nil {
		handler(s)
	}
}

func (c *fakeConn) sendTrack(t peer.RemoteTrack) {
	c.mu.Lock()
	handler := c.onTrack
	c.mu.Unlock()
	if handler != nil {
		handler(t)
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) counts() (offers, answers, applied int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers, c.answers, len(c.applied)
}

func (c *fakeConn) gathersCancelled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *fakeConn) sender(kind webrtc.RTPCodecType) *fakeSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders[kind]
}

type fakeFactory struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
	err   error
	delay time.Duration
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[string][]*fakeConn)}
}

func (f *fakeFactory) NewConnection(participantID string) (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{participantID: participantID, senders: make(map[webrtc.RTPCodecType]*fakeSender), delay: f.delay}
	f.conns[participantID] = append(f.conns[participantID], c)
	return c, nil
}

func (f *fakeFactory) last(participantID string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	conns := f.conns[participantID]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (f *fakeFactory) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, conns := range f.conns {
		n += len(conns)
	}
	return n
}

// ---- Event recording ----

type recorder struct {
	mu     sync.Mutex
	events map[CallEventKey][]interface{}
}

func newRecorder(o *Orchestrator) *recorder {
	r := &recorder{events: make(map[CallEventKey][]interface{})}
	for _, key := range []CallEventKey{
		CallEventIncoming, CallEventRejected, CallEventEnded, CallEventUserJoined,
		CallEventUserLeft, CallEventRemoteStream, CallEventStateChanged,
		CallEventPeerState, CallEventError,
	} {
		key := key
		o.Events().On(key, func(data interface{}) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events[key] = append(r.events[key], data)
		})
	}
	return r
}

func (r *recorder) count(key CallEventKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[key])
}

func (r *recorder) ended() []CallEnded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallEnded
	for _, ev := range r.events[CallEventEnded] {
		out = append(out, ev.(CallEnded))
	}
	return out
}

func (r *recorder) states() []CallState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallState
	for _, ev := range r.events[CallEventStateChanged] {
		out = append(out, ev.(StateChange).Current)
	}
	return out
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []error
	for _, ev := range r.events[CallEventError] {
		out = append(out, ev.(CallErrorEvent).Err)
	}
	return out
}

// ---- Harness ----

type harness struct {
	t         *testing.T
	orch      *Orchestrator
	transport *fakeTransport
	peers     *fakeFactory
	source    *media.SampleSource
	events    *recorder
}

func newHarness(t *testing.T, userID string, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: newFakeTransport(),
		peers:     newFakeFactory(),
		source:    media.NewSampleSource(),
	}
	cfg := Config{
		UserID:    userID,
		Transport: h.transport,
		Media:     h.source,
		Peers:     h.peers,
		Logger:    zerolog.Nop(),
		NewCallID: func() string { return "call-1" },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	orch, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	h.orch = orch
	h.events = newRecorder(orch)
	t.Cleanup(orch.Close)
	return h
}

// deliver feeds one inbound message and returns the handler error.
func (h *harness) deliver(typ signaling.MessageType, callID, from string, payload interface{}) error {
	h.t.Helper()
	msg, err := signaling.NewMessage(typ, callID, payload)
	if err != nil {
		h.t.Fatalf("Failed to build %s: %v", typ, err)
	}
	msg.From = from
	return h.orch.HandleMessage(context.Background(), msg)
}

func (h *harness) mustDeliver(typ signaling.MessageType, callID, from string, payload interface{}) {
	h.t.Helper()
	if err := h.deliver(typ, callID, from, payload); err != nil {
		h.t.Fatalf("Expected %s to be handled, got %v", typ, err)
	}
}

func (h *harness) signal(callID, from string, sdpType webrtc.SDPType, sdp string) error {
	return h.deliver(signaling.TypeSignal, callID, from, signaling.SignalPayload{
		To:     h.orch.cfg.UserID,
		From:   from,
		CallID: callID,
		Signal: signaling.Description{Type: sdpType.String(), SDP: sdp},
	})
}

// stream returns the local stream of the current session.
func (h *harness) stream() *media.Stream {
	h.orch.lock()
	defer h.orch.unlock()
	if h.orch.session == nil {
		return nil
	}
	return h.orch.session.media.Stream()
}

// signals waits until at least n call:signal messages went out.
func (h *harness) signals(n int) []*signaling.Message {
	h.t.Helper()
	waitFor(h.t, func() bool { return len(h.transport.ofType(signaling.TypeSignal)) >= n }, fmt.Sprintf("%d call:signal", n))
	return h.transport.ofType(signaling.TypeSignal)
}

func (h *harness) waitForState(want CallState) {
	h.t.Helper()
	waitFor(h.t, func() bool { return h.orch.State() == want }, fmt.Sprintf("state %s", want))
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func decodeSignal(t *testing.T, msg *signaling.Message) signaling.SignalPayload {
	t.Helper()
	var p signaling.SignalPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("Failed to decode signal payload: %v", err)
	}
	return p
}

var errRelayDown = errors.New("relay down")
