// Package domain contains entities without logic, just meta-data
package domain

type (
	RoomName string
	PeerID   string
)

// Membership identifies one participant of one room.
// At most one live membership exists per (Room, ID).
type Membership struct {
	Room RoomName `json:"room"`
	ID   PeerID   `json:"id"`
}
