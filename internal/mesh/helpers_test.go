package mesh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nakkag/webrtc-mesh/internal/core"
	"github.com/nakkag/webrtc-mesh/internal/domain"
	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

var errNoRemote = errors.New("remote description not set")

const appliedSuffix = "\r\na=end-of-candidates"

type fakeTransport struct {
	peer domain.PeerID
	net  *fakeNet

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []string
	attached   int
	closed     int

	onCand  func(webrtc.ICECandidateInit)
	onTrack func(core.MediaHandle)
	onState func(webrtc.PeerConnectionState)
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-for-" + string(f.peer)}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil || f.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errNoRemote
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-for-" + string(f.peer)}, nil
}

// SetLocalDescription marks the applied copy the way a real stack appends
// gathered candidates.
func (f *fakeTransport) SetLocalDescription(d webrtc.SessionDescription) error {
	d.SDP += appliedSuffix
	f.mu.Lock()
	f.local = &d
	f.mu.Unlock()
	f.maybeConnect()
	return nil
}

func (f *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	if err := f.net.remoteErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.remote = &d
	f.mu.Unlock()
	f.maybeConnect()
	return nil
}

func (f *fakeTransport) maybeConnect() {
	f.mu.Lock()
	ready := f.net.autoConnect && f.local != nil && f.remote != nil
	cb := f.onState
	f.mu.Unlock()
	if ready && cb != nil {
		cb(webrtc.PeerConnectionStateConnected)
	}
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return errNoRemote
	}
	f.candidates = append(f.candidates, c.Candidate)
	return nil
}

func (f *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeTransport) AttachLocalTracks(core.MediaSource) error {
	f.mu.Lock()
	f.attached++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onCand = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnRemoteTrack(fn func(core.MediaHandle)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.candidates...)
}

func (f *fakeTransport) emitState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	cb := f.onState
	f.mu.Unlock()
	cb(s)
}

func (f *fakeTransport) emitTrack(h core.MediaHandle) {
	f.mu.Lock()
	cb := f.onTrack
	f.mu.Unlock()
	cb(h)
}

func (f *fakeTransport) emitCandidate(c string) {
	f.mu.Lock()
	cb := f.onCand
	f.mu.Unlock()
	cb(webrtc.ICECandidateInit{Candidate: c})
}

// fakeNet builds fake transports and remembers every one it built.
type fakeNet struct {
	mu          sync.Mutex
	built       map[domain.PeerID][]*fakeTransport
	failRemote  error
	autoConnect bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{built: make(map[domain.PeerID][]*fakeTransport)}
}

func (n *fakeNet) factory(peer domain.PeerID) (core.MediaTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &fakeTransport{peer: peer, net: n}
	n.built[peer] = append(n.built[peer], t)
	return t, nil
}

func (n *fakeNet) remoteErr() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failRemote
}

func (n *fakeNet) count(peer domain.PeerID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.built[peer])
}

func (n *fakeNet) last(t *testing.T, peer domain.PeerID) *fakeTransport {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	all := n.built[peer]
	if len(all) == 0 {
		t.Fatalf("no transport built for %s", peer)
	}
	return all[len(all)-1]
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (s *fakeSender) Send(m protocol.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) sent() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.msgs...)
}

type fakeSink struct {
	mu       sync.Mutex
	attached map[domain.PeerID]int
	detached []domain.PeerID
}

func newFakeSink() *fakeSink { return &fakeSink{attached: make(map[domain.PeerID]int)} }

func (s *fakeSink) Attach(peer domain.PeerID, _ core.MediaHandle) {
	s.mu.Lock()
	s.attached[peer]++
	s.mu.Unlock()
}

func (s *fakeSink) Detach(peer domain.PeerID) {
	s.mu.Lock()
	s.detached = append(s.detached, peer)
	s.mu.Unlock()
}

type fakeHandle struct {
	mu      sync.Mutex
	stopped int
	err     error
}

func (h *fakeHandle) ID() string   { return "track" }
func (h *fakeHandle) Kind() string { return "audio" }
func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
	return h.err
}

type fakeSource struct{}

func (fakeSource) Tracks() []webrtc.TrackLocal { return nil }

// hookLog records hook invocations.
type hookLog struct {
	mu     sync.Mutex
	errs   []error
	states map[domain.PeerID][]State
}

func (h *hookLog) hooks() Hooks {
	h.states = make(map[domain.PeerID][]State)
	return Hooks{
		OnError: func(_ domain.PeerID, err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		},
		OnState: func(peer domain.PeerID, s State) {
			h.mu.Lock()
			h.states[peer] = append(h.states[peer], s)
			h.mu.Unlock()
		},
	}
}

func (h *hookLog) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *hookLog) stateHistory(peer domain.PeerID) []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states[peer]...)
}

type harness struct {
	m     *Manager
	net   *fakeNet
	out   *fakeSender
	sink  *fakeSink
	hooks *hookLog
	stop  func()
}

func startManager(t *testing.T, self domain.PeerID, out Sender) *harness {
	t.Helper()
	h := &harness{net: newFakeNet(), sink: newFakeSink(), hooks: &hookLog{}}
	if out == nil {
		h.out = &fakeSender{}
		out = h.out
	}
	h.m = NewManager(ManagerConfig{
		Room:      "r1",
		Self:      self,
		Transport: h.net.factory,
		Source:    fakeSource{},
		Sink:      h.sink,
		Hooks:     h.hooks.hooks(),
	}, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.m.Run(ctx)
		close(done)
	}()
	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(h.stop)
	return h
}

// sessions waits until every earlier delivery was handled.
func (h *harness) sessions(t *testing.T) map[domain.PeerID]SessionInfo {
	t.Helper()
	list, err := h.m.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	out := make(map[domain.PeerID]SessionInfo, len(list))
	for _, s := range list {
		out[s.Peer] = s
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
