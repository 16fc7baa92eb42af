package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/core"
	"github.com/nakkag/webrtc-mesh/internal/domain"
	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

var (
	ErrInvalidJoin   = errors.New("join without room or id")
	ErrJoinThrottled = errors.New("join rate exceeded")
)

// JoinGate decides whether a join for id may proceed.
type JoinGate interface {
	Allow(id domain.PeerID) bool
}

// Router handles every inbound frame of a server link.
type Router struct {
	Registry *Registry
	Policy   Policy
	// Gate is optional; nil admits every join.
	Gate JoinGate
}

func NewRouter(reg *Registry, policy Policy) *Router {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Router{Registry: reg, Policy: policy}
}

// Handle processes one frame received on conn. A returned error means the
// frame was dropped; the link stays usable. Payloads are never decoded here.
func (rt *Router) Handle(conn core.SignalConnection, data []byte) error {
	msg, err := protocol.DecodeEnvelope(data)
	if err != nil {
		return err
	}

	switch msg.Kind() {
	case protocol.KindJoin:
		return rt.join(conn, msg.Join.Room, msg.Join.ID)
	case protocol.KindPong:
		return nil
	case protocol.KindPing:
		rt.reply(conn, protocol.NewPong())
		return nil
	}

	if msg.Addressed() {
		rt.Route(msg.Room, msg.Dest, data)
		return nil
	}
	if msg.Kind() == protocol.KindPart && msg.Room != "" && msg.Src != "" {
		rt.Registry.Part(msg.Room, msg.Src, conn)
		return nil
	}
	log.Debug().Str("module", "app.router").Str("conn", conn.ID()).Str("kind", msg.Kind().String()).Msg("unroutable message dropped")
	return nil
}

func (rt *Router) join(conn core.SignalConnection, room domain.RoomName, id domain.PeerID) error {
	if room.Validate() != nil || id.Validate() != nil {
		return ErrInvalidJoin
	}
	if rt.Gate != nil && !rt.Gate.Allow(id) {
		return ErrJoinThrottled
	}
	existing, _ := rt.Registry.Join(room, id, conn)
	rt.reply(conn, protocol.StartList(existing))
	return nil
}

// Route forwards data verbatim to (room, dest). Delivery is at-most-once:
// a missing or closed destination drops the frame and reports false.
func (rt *Router) Route(room domain.RoomName, dest domain.PeerID, data []byte) bool {
	conn, ok := rt.Registry.Lookup(room, dest)
	if !ok || !conn.IsOpen() {
		log.Debug().Str("module", "app.router").Str("room", string(room)).Str("dest", string(dest)).Msg("destination not found")
		return false
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("room", string(room)).Str("dest", string(dest)).Msg("forward dropped")
		if rt.Policy.OnBackPressure(room, dest) == KickMember {
			conn.Close()
		}
		return false
	}
	return true
}

func (rt *Router) reply(conn core.SignalConnection, msg protocol.Message) {
	b, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode reply")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("conn", conn.ID()).Msg("reply dropped")
	}
}
