package mesh

import (
	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/core"
	"github.com/nakkag/webrtc-mesh/internal/domain"
	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

// PeerSession is the negotiation with one remote peer. It is only touched
// from the manager loop.
type PeerSession struct {
	peer      domain.PeerID
	role      Role
	state     State
	transport core.MediaTransport

	// pending holds Ice messages received before the remote description.
	pending   []protocol.Message
	localSet  bool
	remoteSet bool
	remote    []core.MediaHandle
	closed    bool
}

// SessionInfo is a point-in-time view of a PeerSession.
type SessionInfo struct {
	Peer      domain.PeerID
	Role      Role
	State     State
	Pending   int
	LocalSet  bool
	RemoteSet bool
	Tracks    int
}

func (s *PeerSession) info() SessionInfo {
	return SessionInfo{
		Peer:      s.peer,
		Role:      s.role,
		State:     s.state,
		Pending:   len(s.pending),
		LocalSet:  s.localSet,
		RemoteSet: s.remoteSet,
		Tracks:    len(s.remote),
	}
}

// teardown releases everything the session holds. Step failures are logged
// and the sequence continues. Safe to call more than once.
func (s *PeerSession) teardown(sink core.MediaSink) bool {
	if s.closed {
		return false
	}
	s.closed = true
	s.state = StateClosed

	for _, h := range s.remote {
		if err := h.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(s.peer)).Str("track", h.ID()).Msg("stop remote track")
		}
	}
	s.remote = nil
	s.pending = nil

	if sink != nil {
		sink.Detach(s.peer)
	}
	if err := s.transport.Close(); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(s.peer)).Msg("close transport")
	}
	return true
}
