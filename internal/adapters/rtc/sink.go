package rtc

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/core"
	"github.com/nakkag/webrtc-mesh/internal/domain"
)

type packetReader interface {
	ReadPacket() (*rtp.Packet, error)
}

// TrackStats counts what was received from one peer.
type TrackStats struct {
	Tracks  int
	Packets uint64
	Bytes   uint64
}

// CountingSink drains inbound tracks and keeps per-peer counters.
type CountingSink struct {
	mu    sync.Mutex
	peers map[domain.PeerID]*TrackStats
}

func NewCountingSink() *CountingSink {
	return &CountingSink{peers: make(map[domain.PeerID]*TrackStats)}
}

func (s *CountingSink) Attach(peer domain.PeerID, h core.MediaHandle) {
	s.mu.Lock()
	st, ok := s.peers[peer]
	if !ok {
		st = &TrackStats{}
		s.peers[peer] = st
	}
	st.Tracks++
	s.mu.Unlock()

	log.Info().Str("module", "rtc.sink").Str("peer", string(peer)).Str("track", h.ID()).Str("kind", h.Kind()).Msg("track attached")

	if r, ok := h.(packetReader); ok {
		go s.loop(peer, st, r)
	}
}

func (s *CountingSink) Detach(peer domain.PeerID) {
	s.mu.Lock()
	delete(s.peers, peer)
	s.mu.Unlock()
	log.Info().Str("module", "rtc.sink").Str("peer", string(peer)).Msg("peer detached")
}

// Stats returns a copy of the counters for peer.
func (s *CountingSink) Stats(peer domain.PeerID) (TrackStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.peers[peer]
	if !ok {
		return TrackStats{}, false
	}
	return *st, true
}

// loop reads packets until the track stops.
func (s *CountingSink) loop(peer domain.PeerID, st *TrackStats, r packetReader) {
	for {
		pkt, err := r.ReadPacket()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc.sink").Str("peer", string(peer)).Msg("read RTP stopped")
			return
		}
		s.mu.Lock()
		st.Packets++
		st.Bytes += uint64(len(pkt.Payload))
		s.mu.Unlock()
	}
}
