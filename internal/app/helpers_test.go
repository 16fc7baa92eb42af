package app

import (
	"sync"
	"testing"

	"github.com/nakkag/webrtc-mesh/internal/core"
	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrLinkClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, append([]byte(nil), fr...))
	return nil
}

func (f *fakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) raw() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		out = append(out, string(fr))
	}
	return out
}

func (f *fakeConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, raw := range f.raw() {
		m, err := protocol.Decode([]byte(raw))
		if err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}
