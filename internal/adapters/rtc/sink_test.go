package rtc

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"
)

type fakeTrack struct {
	packets chan *rtp.Packet
}

func (f *fakeTrack) ID() string   { return "t1" }
func (f *fakeTrack) Kind() string { return "audio" }
func (f *fakeTrack) Stop() error  { return nil }

func (f *fakeTrack) ReadPacket() (*rtp.Packet, error) {
	pkt, ok := <-f.packets
	if !ok {
		return nil, errors.New("eof")
	}
	return pkt, nil
}

func TestCountingSink(t *testing.T) {
	s := NewCountingSink()
	tr := &fakeTrack{packets: make(chan *rtp.Packet, 3)}
	for i := 0; i < 3; i++ {
		tr.packets <- &rtp.Packet{Payload: []byte{1, 2}}
	}
	close(tr.packets)

	s.Attach("b", tr)

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, ok := s.Stats("b")
		if !ok {
			t.Fatalf("no stats for attached peer")
		}
		if st.Packets == 3 {
			if st.Bytes != 6 || st.Tracks != 1 {
				t.Fatalf("stats=%+v", st)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("packets=%d, want 3", st.Packets)
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Detach("b")
	if _, ok := s.Stats("b"); ok {
		t.Fatalf("stats survive detach")
	}
}
