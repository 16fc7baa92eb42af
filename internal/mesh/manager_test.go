package mesh

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/nakkag/webrtc-mesh/internal/domain"
	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

const offerFromC = `{"sdp":{"type":"offer","sdp":"v=0 c"},"room":"r1","src":"c","dest":"a"}`

func iceFrom(src, cand string) []byte {
	return []byte(`{"ice":{"candidate":"` + cand + `"},"room":"r1","src":"` + src + `","dest":"a"}`)
}

func TestManager_JoinCreatesOfferer(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))

	s, ok := h.sessions(t)["b"]
	if !ok {
		t.Fatalf("no session for b")
	}
	if s.Role != RoleOfferer || s.State != StateDescriptionExchangePending || !s.LocalSet || s.RemoteSet {
		t.Fatalf("session=%+v", s)
	}
	if tr := h.net.last(t, "b"); tr.attached != 1 {
		t.Fatalf("local tracks attached %d times", tr.attached)
	}

	sent := h.out.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	m := sent[0]
	if m.Kind() != protocol.KindSdp || m.Sdp.Type != webrtc.SDPTypeOffer || m.Room != "r1" || m.Src != "a" || m.Dest != "b" {
		t.Fatalf("sent=%+v", m)
	}
}

func TestManager_OwnJoinIgnored(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"a"}`))
	h.m.Deliver([]byte(`{"start":[{"id":"b"},{"id":"c"}]}`))

	if got := h.sessions(t); len(got) != 0 {
		t.Fatalf("sessions=%v, want none", got)
	}
	if got := h.out.sent(); len(got) != 0 {
		t.Fatalf("sent=%v, want none", got)
	}
}

func TestManager_OfferFromUnknownPeerAnswers(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(offerFromC))

	s := h.sessions(t)["c"]
	if s.Role != RoleAnswerer || s.State != StateDescriptionsSet || !s.LocalSet || !s.RemoteSet {
		t.Fatalf("session=%+v", s)
	}
	sent := h.out.sent()
	if len(sent) != 1 || sent[0].Sdp == nil || sent[0].Sdp.Type != webrtc.SDPTypeAnswer || sent[0].Dest != "c" {
		t.Fatalf("sent=%+v", sent)
	}
	want := []State{StateCreated, StateDescriptionExchangePending, StateDescriptionsSet}
	if got := h.hooks.stateHistory("c"); !reflect.DeepEqual(got, want) {
		t.Fatalf("states=%v, want %v", got, want)
	}
}

func TestManager_IceQueuedUntilRemoteDescription(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver(iceFrom("c", "c1"))
	h.m.Deliver(iceFrom("c", "c2"))

	s := h.sessions(t)["c"]
	if s.Role != RoleAnswerer || s.Pending != 2 {
		t.Fatalf("session=%+v, want answerer with 2 pending", s)
	}
	tr := h.net.last(t, "c")
	if got := tr.appliedCandidates(); len(got) != 0 {
		t.Fatalf("applied before remote description: %v", got)
	}

	h.m.Deliver([]byte(offerFromC))
	h.m.Deliver(iceFrom("c", "c3"))

	if s := h.sessions(t)["c"]; s.Pending != 0 {
		t.Fatalf("pending=%d after drain", s.Pending)
	}
	if got, want := tr.appliedCandidates(), []string{"c1", "c2", "c3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("applied=%v, want %v", got, want)
	}
	if h.net.count("c") != 1 {
		t.Fatalf("transport rebuilt during drain")
	}
}

func TestManager_AnswerCompletesOfferer(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.m.Deliver([]byte(`{"sdp":{"type":"answer","sdp":"v=0 b"},"room":"r1","src":"b","dest":"a"}`))

	if s := h.sessions(t)["b"]; s.State != StateDescriptionsSet {
		t.Fatalf("state=%v, want descriptions-set", s.State)
	}

	h.net.last(t, "b").emitState(webrtc.PeerConnectionStateConnected)
	if s := h.sessions(t)["b"]; s.State != StateConnected {
		t.Fatalf("state=%v, want connected", s.State)
	}
}

func TestManager_PartTearsDownOnce(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.sessions(t)

	tr := h.net.last(t, "b")
	track := &fakeHandle{err: errors.New("already stopped")}
	tr.emitTrack(track)
	if s := h.sessions(t)["b"]; s.Tracks != 1 {
		t.Fatalf("tracks=%d, want 1", s.Tracks)
	}

	h.m.Deliver([]byte(`{"part":1,"src":"b"}`))
	h.m.Deliver([]byte(`{"part":1,"src":"b"}`))
	h.m.Stop("b")

	if _, ok := h.sessions(t)["b"]; ok {
		t.Fatalf("session survives part")
	}
	if tr.closeCount() != 1 {
		t.Fatalf("transport closed %d times, want 1", tr.closeCount())
	}
	if track.stopped != 1 {
		t.Fatalf("track stopped %d times, want 1", track.stopped)
	}
	if !reflect.DeepEqual(h.sink.detached, []domain.PeerID{"b"}) {
		t.Fatalf("detached=%v", h.sink.detached)
	}
	hist := h.hooks.stateHistory("b")
	if hist[len(hist)-1] != StateClosed {
		t.Fatalf("last state=%v, want closed", hist[len(hist)-1])
	}
}

func TestManager_TrackAfterTeardownIsStopped(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.sessions(t)
	tr := h.net.last(t, "b")

	h.m.Stop("b")
	h.sessions(t)

	track := &fakeHandle{}
	tr.emitTrack(track)
	tr.emitCandidate("late")
	h.sessions(t)

	if track.stopped != 1 {
		t.Fatalf("late track stopped %d times, want 1", track.stopped)
	}
	if h.sink.attached["b"] != 0 {
		t.Fatalf("late track attached to sink")
	}
	if sent := h.out.sent(); len(sent) != 1 {
		t.Fatalf("sent=%d messages, want only the offer", len(sent))
	}
}

func TestManager_FreshOfferRestartsSession(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(offerFromC))
	h.m.Deliver([]byte(`{"sdp":{"type":"offer","sdp":"v=0 c2"},"room":"r1","src":"c","dest":"a"}`))

	s := h.sessions(t)["c"]
	if h.net.count("c") != 2 {
		t.Fatalf("transports built=%d, want 2", h.net.count("c"))
	}
	if s.Role != RoleAnswerer || s.State != StateDescriptionsSet {
		t.Fatalf("session=%+v", s)
	}
	if first := h.net.built["c"][0]; first.closeCount() != 1 {
		t.Fatalf("old transport not closed")
	}
	if sent := h.out.sent(); len(sent) != 2 {
		t.Fatalf("sent=%d answers, want 2", len(sent))
	}
	if remote := h.net.last(t, "c").remote; remote == nil || remote.SDP != "v=0 c2" {
		t.Fatalf("replayed offer=%v", remote)
	}
}

func TestManager_StrayAnswerDropped(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(offerFromC))
	h.m.Deliver([]byte(`{"sdp":{"type":"answer","sdp":"v=0 x"},"room":"r1","src":"c","dest":"a"}`))
	h.sessions(t)

	if h.net.count("c") != 1 {
		t.Fatalf("stray answer rebuilt the session")
	}
	if sent := h.out.sent(); len(sent) != 1 {
		t.Fatalf("sent=%d, want 1", len(sent))
	}
}

func TestManager_NegotiationFailureLeavesSession(t *testing.T) {
	h := startManager(t, "a", nil)
	bad := errors.New("bad sdp")
	h.net.failRemote = bad

	h.m.Deliver([]byte(offerFromC))
	s, ok := h.sessions(t)["c"]
	if !ok || s.State != StateCreated || s.RemoteSet {
		t.Fatalf("session=%+v ok=%v", s, ok)
	}
	if h.net.last(t, "c").closeCount() != 0 {
		t.Fatalf("failed session was torn down")
	}

	errs := h.hooks.errors()
	if len(errs) != 1 || !errors.Is(errs[0], bad) {
		t.Fatalf("errors=%v", errs)
	}
	var nerr *NegotiationError
	if !errors.As(errs[0], &nerr) || nerr.Peer != "c" || nerr.Op != "set remote description" {
		t.Fatalf("err=%#v", errs[0])
	}
}

func TestManager_TransportFailureReported(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.sessions(t)
	h.net.last(t, "b").emitState(webrtc.PeerConnectionStateFailed)

	if _, ok := h.sessions(t)["b"]; !ok {
		t.Fatalf("failed transport tore the session down")
	}
	if errs := h.hooks.errors(); len(errs) != 1 || !errors.Is(errs[0], ErrTransportFailed) {
		t.Fatalf("errors=%v", errs)
	}
}

func TestManager_PingAndMalformed(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{not json`))
	h.m.Deliver([]byte(`{"ping":1}`))
	h.m.Deliver([]byte(`{"pong":1}`))
	h.sessions(t)

	sent := h.out.sent()
	if len(sent) != 1 || sent[0].Kind() != protocol.KindPong {
		t.Fatalf("sent=%+v, want one pong", sent)
	}
}

func TestManager_LocalCandidatesForwarded(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.sessions(t)
	h.net.last(t, "b").emitCandidate("cand-1")
	h.sessions(t)

	sent := h.out.sent()
	if len(sent) != 2 {
		t.Fatalf("sent=%d, want offer and ice", len(sent))
	}
	ice := sent[1]
	if ice.Ice == nil || ice.Ice.Candidate != "cand-1" || ice.Src != "a" || ice.Dest != "b" || ice.Room != "r1" {
		t.Fatalf("ice=%+v", ice)
	}
}

func TestManager_RepeatedJoinReplacesSession(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.sessions(t)

	if h.net.count("b") != 2 {
		t.Fatalf("transports=%d, want 2", h.net.count("b"))
	}
	if h.net.built["b"][0].closeCount() != 1 || h.net.built["b"][1].closeCount() != 0 {
		t.Fatalf("old session not replaced")
	}
}

func TestManager_RestartAction(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(offerFromC))
	h.m.Restart("c")

	s := h.sessions(t)["c"]
	if s.Role != RoleOfferer || s.State != StateDescriptionExchangePending {
		t.Fatalf("session=%+v", s)
	}
	sent := h.out.sent()
	if last := sent[len(sent)-1]; last.Sdp == nil || last.Sdp.Type != webrtc.SDPTypeOffer {
		t.Fatalf("last sent=%+v, want offer", last)
	}
}

func TestManager_MessageForOtherPeerDropped(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"sdp":{"type":"offer","sdp":"v=0"},"room":"r1","src":"c","dest":"z"}`))
	if got := h.sessions(t); len(got) != 0 {
		t.Fatalf("sessions=%v", got)
	}
}

func TestManager_RunExitClosesSessions(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.sessions(t)
	tr := h.net.last(t, "b")

	h.stop()
	if tr.closeCount() != 1 {
		t.Fatalf("transport not closed on shutdown")
	}
	if _, err := h.m.Sessions(); !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v, want ErrStopped", err)
	}
}

func TestManager_SendsAppliedLocalDescription(t *testing.T) {
	h := startManager(t, "a", nil)
	h.m.Deliver([]byte(`{"join":"b"}`))
	h.m.Deliver([]byte(offerFromC))
	h.sessions(t)

	sent := h.out.sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	want := map[domain.PeerID]string{
		"b": "offer-for-b" + appliedSuffix,
		"c": "answer-for-c" + appliedSuffix,
	}
	for _, m := range sent {
		if m.Sdp == nil || m.Sdp.SDP != want[m.Dest] {
			t.Fatalf("sent to %s: %+v, want sdp %q", m.Dest, m.Sdp, want[m.Dest])
		}
	}
}

func TestManager_MembersFromStart(t *testing.T) {
	h := startManager(t, "a", nil)

	got, err := h.m.Members()
	if err != nil || len(got) != 0 {
		t.Fatalf("members=%v err=%v, want none", got, err)
	}

	h.m.Deliver([]byte(`{"start":[{"id":"b"},{"id":"c"}]}`))
	got, err = h.m.Members()
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if !reflect.DeepEqual(got, []domain.PeerID{"b", "c"}) {
		t.Fatalf("members=%v, want [b c]", got)
	}
}
