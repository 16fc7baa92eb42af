package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/domain"
	"github.com/nakkag/webrtc-mesh/internal/keepalive"
	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

// Link is one established signaling connection.
type Link interface {
	Send([]byte) error
	Close() error
	// Done is closed once the link is gone.
	Done() <-chan struct{}
}

// Dialer opens signaling links. onMessage receives every inbound frame.
type Dialer interface {
	Dial(ctx context.Context, onMessage func([]byte)) (Link, error)
}

type SupervisorConfig struct {
	Room           domain.RoomName
	Self           domain.PeerID
	ReconnectDelay time.Duration
	PingPeriod     time.Duration
}

// Supervisor keeps one signaling link alive, reconnecting after a fixed
// delay whenever the current link closes or a dial fails.
type Supervisor struct {
	cfg       SupervisorConfig
	dialer    Dialer
	onMessage func([]byte)

	mu      sync.Mutex
	current *attempt
	stopped bool
}

// attempt identifies one connection generation.
type attempt struct {
	link   Link
	cancel context.CancelFunc
}

func NewSupervisor(cfg SupervisorConfig, dialer Dialer) *Supervisor {
	return &Supervisor{cfg: cfg, dialer: dialer}
}

// OnMessage sets the inbound frame handler. Call it before Run.
func (s *Supervisor) OnMessage(fn func([]byte)) { s.onMessage = fn }

// Run connects and keeps reconnecting until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	a := &attempt{}
	s.current = a
	s.mu.Unlock()

	s.dial(ctx, a)
	<-ctx.Done()

	s.mu.Lock()
	s.stopped = true
	a = s.current
	s.current = nil
	s.mu.Unlock()

	if a != nil && a.link != nil {
		a.cancel()
		if err := a.link.Close(); err != nil {
			log.Debug().Err(err).Str("module", "mesh.supervisor").Msg("close link")
		}
	}
	return nil
}

// Send encodes msg and writes it on the current link.
func (s *Supervisor) Send(msg protocol.Message) error {
	s.mu.Lock()
	a := s.current
	var link Link
	if a != nil {
		link = a.link
	}
	s.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}

	b, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return link.Send(b)
}

func (s *Supervisor) deliver(data []byte) {
	if s.onMessage != nil {
		s.onMessage(data)
	}
}

func (s *Supervisor) dial(ctx context.Context, a *attempt) {
	link, err := s.dialer.Dial(ctx, s.deliver)
	if err != nil {
		log.Warn().Err(err).Str("module", "mesh.supervisor").Msg("dial failed")
		s.lost(ctx, a)
		return
	}

	kctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.stopped || s.current != a {
		s.mu.Unlock()
		cancel()
		_ = link.Close()
		return
	}
	a.link, a.cancel = link, cancel
	s.mu.Unlock()

	log.Info().Str("module", "mesh.supervisor").Str("room", string(s.cfg.Room)).Str("id", string(s.cfg.Self)).Msg("signaling link open")
	join, err := protocol.Encode(protocol.NewJoin(s.cfg.Room, s.cfg.Self))
	if err == nil {
		err = link.Send(join)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "mesh.supervisor").Msg("send join")
	}

	go keepalive.Run(kctx, s.cfg.PingPeriod, link.Send)
	go func() {
		select {
		case <-link.Done():
			s.lost(ctx, a)
		case <-kctx.Done():
		}
	}()
}

// lost stops the keepalive of a and schedules a reconnect. The reconnect
// fires only if a is still the current attempt.
func (s *Supervisor) lost(ctx context.Context, a *attempt) {
	s.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	if s.stopped || s.current != a {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	log.Info().Str("module", "mesh.supervisor").Dur("delay", s.cfg.ReconnectDelay).Msg("signaling link lost, reconnecting")
	time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		if s.stopped || s.current != a {
			s.mu.Unlock()
			return
		}
		next := &attempt{}
		s.current = next
		s.mu.Unlock()
		s.dial(ctx, next)
	})
}
