package mesh

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/core"
	"github.com/nakkag/webrtc-mesh/internal/domain"
	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

// Sender delivers a message over the signaling link.
type Sender interface {
	Send(protocol.Message) error
}

// Hooks are optional observers. They run on the manager loop and must not block.
type Hooks struct {
	OnError func(peer domain.PeerID, err error)
	OnState func(peer domain.PeerID, state State)
}

type ManagerConfig struct {
	Room      domain.RoomName
	Self      domain.PeerID
	Transport core.TransportFactory
	Source    core.MediaSource
	Sink      core.MediaSink
	Hooks     Hooks
}

// Manager owns every PeerSession of the local participant. Inbound messages,
// transport events and actions are serialized through one loop in arrival order.
type Manager struct {
	cfg ManagerConfig
	out Sender

	sessions map[domain.PeerID]*PeerSession
	members  []domain.PeerID

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped chan struct{}
}

func NewManager(cfg ManagerConfig, out Sender) *Manager {
	return &Manager{
		cfg:      cfg,
		out:      out,
		sessions: make(map[domain.PeerID]*PeerSession),
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Run processes queued work until ctx is done, then tears down every session.
func (m *Manager) Run(ctx context.Context) error {
	defer func() {
		m.mu.Lock()
		m.queue = nil
		close(m.stopped)
		m.mu.Unlock()
		m.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		}
		for {
			fn, ok := m.next()
			if !ok {
				break
			}
			fn()
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (m *Manager) next() (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return fn, true
}

// post enqueues fn for the loop. Work posted after Run returned is dropped.
func (m *Manager) post(fn func()) bool {
	m.mu.Lock()
	select {
	case <-m.stopped:
		m.mu.Unlock()
		return false
	default:
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Deliver hands one raw frame from the signaling link to the loop.
func (m *Manager) Deliver(data []byte) {
	m.post(func() {
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "mesh").Msg("malformed frame dropped")
			return
		}
		m.handle(msg)
	})
}

// Stop tears down the session with peer, if any.
func (m *Manager) Stop(peer domain.PeerID) {
	m.post(func() { m.teardown(peer) })
}

// Restart replaces the session with peer by a fresh offering one.
func (m *Manager) Restart(peer domain.PeerID) {
	m.post(func() { m.startOffer(peer) })
}

// Members returns the room members listed by the last start message.
func (m *Manager) Members() ([]domain.PeerID, error) {
	reply := make(chan []domain.PeerID, 1)
	if !m.post(func() {
		reply <- append([]domain.PeerID(nil), m.members...)
	}) {
		return nil, ErrStopped
	}
	select {
	case out := <-reply:
		return out, nil
	case <-m.stopped:
		return nil, ErrStopped
	}
}

// Sessions returns a snapshot of all sessions once every earlier message was handled.
func (m *Manager) Sessions() ([]SessionInfo, error) {
	reply := make(chan []SessionInfo, 1)
	if !m.post(func() {
		out := make([]SessionInfo, 0, len(m.sessions))
		for _, s := range m.sessions {
			out = append(out, s.info())
		}
		reply <- out
	}) {
		return nil, ErrStopped
	}
	select {
	case out := <-reply:
		return out, nil
	case <-m.stopped:
		return nil, ErrStopped
	}
}

func (m *Manager) handle(msg protocol.Message) {
	if msg.Dest != "" && msg.Dest != m.cfg.Self {
		log.Debug().Str("module", "mesh").Str("dest", string(msg.Dest)).Msg("message for another peer dropped")
		return
	}

	switch msg.Kind() {
	case protocol.KindStart:
		m.members = msg.StartMembers()
		log.Info().Str("module", "mesh").Str("room", string(m.cfg.Room)).Int("members", len(m.members)).Msg("joined room")
	case protocol.KindJoin:
		id := msg.Join.ID
		if id == "" || id == m.cfg.Self {
			return
		}
		log.Info().Str("module", "mesh").Str("peer", string(id)).Msg("peer joined")
		m.startOffer(id)
	case protocol.KindPing:
		m.send(protocol.NewPong())
	case protocol.KindPong:
	case protocol.KindPart:
		if msg.Src == "" {
			return
		}
		log.Info().Str("module", "mesh").Str("peer", string(msg.Src)).Msg("peer left")
		m.teardown(msg.Src)
	case protocol.KindSdp, protocol.KindIce:
		m.dispatch(msg)
	default:
		log.Debug().Str("module", "mesh").Msg("unknown message dropped")
	}
}

// dispatch applies one Sdp or Ice message. It reports true when the message
// was queued instead of applied.
func (m *Manager) dispatch(msg protocol.Message) bool {
	peer := msg.Src
	if peer == "" || peer == m.cfg.Self {
		return false
	}
	s, ok := m.sessions[peer]
	if !ok {
		if s = m.open(peer, RoleAnswerer); s == nil {
			return false
		}
	}

	if msg.Sdp != nil {
		m.applyDescription(s, *msg.Sdp)
		return false
	}

	if !s.remoteSet {
		s.pending = append(s.pending, msg)
		return true
	}
	if err := s.transport.AddICECandidate(*msg.Ice); err != nil {
		m.fail(s, "add candidate", err)
	}
	return false
}

func (m *Manager) applyDescription(s *PeerSession, desc webrtc.SessionDescription) {
	if s.remoteSet {
		if desc.Type != webrtc.SDPTypeOffer {
			log.Warn().Str("module", "mesh").Str("peer", string(s.peer)).Str("type", desc.Type.String()).Msg("unexpected description dropped")
			return
		}
		log.Info().Str("module", "mesh").Str("peer", string(s.peer)).Msg("fresh offer, restarting session")
		if s = m.open(s.peer, RoleAnswerer); s == nil {
			return
		}
	}

	if err := s.transport.SetRemoteDescription(desc); err != nil {
		m.fail(s, "set remote description", err)
		return
	}
	if s.closed {
		return
	}
	s.remoteSet = true

	if desc.Type == webrtc.SDPTypeOffer {
		m.setState(s, StateDescriptionExchangePending)
		answer, err := s.transport.CreateAnswer()
		if err != nil {
			m.fail(s, "create answer", err)
			return
		}
		if s.closed {
			return
		}
		if err := s.transport.SetLocalDescription(answer); err != nil {
			m.fail(s, "set local description", err)
			return
		}
		if s.closed {
			return
		}
		s.localSet = true
		m.send(protocol.NewSdp(m.cfg.Room, m.cfg.Self, s.peer, localDescription(s, answer)))
	}

	if s.localSet && s.state < StateDescriptionsSet {
		m.setState(s, StateDescriptionsSet)
	}
	m.drain(s)
}

// drain replays queued candidates through dispatch in arrival order.
func (m *Manager) drain(s *PeerSession) {
	for !s.closed && s.remoteSet && len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		if m.dispatch(next) {
			log.Warn().Str("module", "mesh").Str("peer", string(s.peer)).Int("pending", len(s.pending)).Msg("candidate re-queued, drain stopped")
			return
		}
	}
}

func (m *Manager) startOffer(peer domain.PeerID) {
	s := m.open(peer, RoleOfferer)
	if s == nil {
		return
	}
	offer, err := s.transport.CreateOffer()
	if err != nil {
		m.fail(s, "create offer", err)
		return
	}
	if s.closed {
		return
	}
	if err := s.transport.SetLocalDescription(offer); err != nil {
		m.fail(s, "set local description", err)
		return
	}
	if s.closed {
		return
	}
	s.localSet = true
	m.send(protocol.NewSdp(m.cfg.Room, m.cfg.Self, peer, localDescription(s, offer)))
	m.setState(s, StateDescriptionExchangePending)
}

// localDescription prefers the description the transport applied over the
// one it created, since applying may fill in gathered candidates.
func localDescription(s *PeerSession, created webrtc.SessionDescription) webrtc.SessionDescription {
	if d := s.transport.LocalDescription(); d != nil {
		return *d
	}
	return created
}

// open creates a session for peer, replacing any existing one.
func (m *Manager) open(peer domain.PeerID, role Role) *PeerSession {
	m.teardown(peer)

	t, err := m.cfg.Transport(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(peer)).Msg("create transport")
		m.notifyError(peer, &NegotiationError{Peer: peer, Op: "create transport", Err: err})
		return nil
	}
	s := &PeerSession{peer: peer, role: role, state: StateCreated, transport: t}
	m.sessions[peer] = s
	m.bind(s)

	if m.cfg.Source != nil {
		if err := t.AttachLocalTracks(m.cfg.Source); err != nil {
			m.fail(s, "attach local tracks", err)
		}
	}
	log.Debug().Str("module", "mesh").Str("peer", string(peer)).Str("role", role.String()).Msg("session created")
	m.notifyState(s)
	return s
}

// bind routes transport events of s into the loop.
func (m *Manager) bind(s *PeerSession) {
	s.transport.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		m.post(func() {
			if s.closed {
				return
			}
			m.send(protocol.NewIce(m.cfg.Room, m.cfg.Self, s.peer, c))
		})
	})
	s.transport.OnRemoteTrack(func(h core.MediaHandle) {
		m.post(func() {
			if s.closed {
				if err := h.Stop(); err != nil {
					log.Warn().Err(err).Str("module", "mesh").Str("peer", string(s.peer)).Msg("stop late track")
				}
				return
			}
			s.remote = append(s.remote, h)
			if m.cfg.Sink != nil {
				m.cfg.Sink.Attach(s.peer, h)
			}
		})
	})
	s.transport.OnStateChange(func(ps webrtc.PeerConnectionState) {
		m.post(func() {
			if s.closed {
				return
			}
			switch ps {
			case webrtc.PeerConnectionStateConnected:
				m.setState(s, StateConnected)
			case webrtc.PeerConnectionStateFailed:
				m.notifyError(s.peer, &NegotiationError{Peer: s.peer, Op: "transport", Err: ErrTransportFailed})
			}
		})
	})
}

func (m *Manager) teardown(peer domain.PeerID) {
	s, ok := m.sessions[peer]
	if !ok {
		return
	}
	delete(m.sessions, peer)
	if s.teardown(m.cfg.Sink) {
		log.Debug().Str("module", "mesh").Str("peer", string(peer)).Msg("session closed")
		m.notifyState(s)
	}
}

func (m *Manager) closeAll() {
	for peer := range m.sessions {
		m.teardown(peer)
	}
}

func (m *Manager) setState(s *PeerSession, st State) {
	if s.closed || s.state == st {
		return
	}
	s.state = st
	log.Debug().Str("module", "mesh").Str("peer", string(s.peer)).Str("state", st.String()).Msg("session state")
	m.notifyState(s)
}

func (m *Manager) fail(s *PeerSession, op string, err error) {
	nerr := &NegotiationError{Peer: s.peer, Op: op, Err: err}
	log.Warn().Err(err).Str("module", "mesh").Str("peer", string(s.peer)).Str("op", op).Msg("negotiation failed")
	m.notifyError(s.peer, nerr)
}

func (m *Manager) notifyError(peer domain.PeerID, err error) {
	if m.cfg.Hooks.OnError != nil {
		m.cfg.Hooks.OnError(peer, err)
	}
}

func (m *Manager) notifyState(s *PeerSession) {
	if m.cfg.Hooks.OnState != nil {
		m.cfg.Hooks.OnState(s.peer, s.state)
	}
}

func (m *Manager) send(msg protocol.Message) {
	if m.out == nil {
		return
	}
	if err := m.out.Send(msg); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("kind", msg.Kind().String()).Msg("send dropped")
	}
}
