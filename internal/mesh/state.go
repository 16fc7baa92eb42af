package mesh

import (
	"errors"
	"fmt"

	"github.com/nakkag/webrtc-mesh/internal/domain"
)

type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// State is the negotiation progress of one peer session.
type State int

const (
	StateCreated State = iota
	StateDescriptionExchangePending
	StateDescriptionsSet
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDescriptionExchangePending:
		return "description-exchange-pending"
	case StateDescriptionsSet:
		return "descriptions-set"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotConnected    = errors.New("signaling link not connected")
	ErrStopped         = errors.New("session manager stopped")
	ErrTransportFailed = errors.New("media transport failed")
)

// NegotiationError reports a rejected step against a peer's media transport.
// The session is left in its current state.
type NegotiationError struct {
	Peer domain.PeerID
	Op   string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.Peer, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
