package app

import "github.com/nakkag/webrtc-mesh/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a member whose send buffer is full.
type Policy interface {
	OnBackPressure(room domain.RoomName, member domain.PeerID) BackpressureAction
}

// SimplePolicy drops the frame; signaling is best-effort.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomName, domain.PeerID) BackpressureAction {
	return DropFrame
}

// StrictPolicy disconnects members that cannot keep up.
type StrictPolicy struct{}

func (StrictPolicy) OnBackPressure(domain.RoomName, domain.PeerID) BackpressureAction {
	return KickMember
}
