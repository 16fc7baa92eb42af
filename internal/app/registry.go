package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/core"
	"github.com/nakkag/webrtc-mesh/internal/domain"
	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

// Registry is the table of active room memberships. Every mutation, together
// with the notifications it emits, happens under one lock so that
// eviction-then-insert is atomic for concurrent lookups.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]*core.Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomName]*core.Room)}
}

// Join registers id in room for conn, evicting any prior link for the same
// (room, id) without notifying it. It returns the other open members and the
// subset of them that accepted the join notice.
func (r *Registry) Join(room domain.RoomName, id domain.PeerID, conn core.SignalConnection) (existing, notified []domain.PeerID) {
	frame, _ := protocol.Encode(protocol.JoinNotice(id))

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[room]
	if !ok {
		rm = core.NewRoom(room)
		r.rooms[room] = rm
	}
	if prev, had := rm.Put(id, conn); had && prev != conn {
		log.Info().Str("module", "app.registry").Str("room", string(room)).Str("id", string(id)).Str("evicted_conn", prev.ID()).Str("conn", conn.ID()).Msg("evicted stale membership")
	}

	existing = rm.OpenMembers(id)
	res := rm.Broadcast(id, frame)
	log.Info().Str("module", "app.registry").Str("room", string(room)).Str("id", string(id)).Str("conn", conn.ID()).Int("members", len(existing)).Msg("join")
	return existing, res.SentTo
}

// Leave removes every membership owned by conn and announces each departure
// to the remaining members of that room.
func (r *Registry) Leave(conn core.SignalConnection) []domain.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.Membership
	for name, rm := range r.rooms {
		for _, id := range rm.OwnedBy(conn) {
			r.removeLocked(rm, id)
			removed = append(removed, domain.Membership{Room: name, ID: id})
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		if removed[i].Room != removed[j].Room {
			return removed[i].Room < removed[j].Room
		}
		return removed[i].ID < removed[j].ID
	})
	return removed
}

// Part removes a single membership if, and only if, conn still owns it.
func (r *Registry) Part(room domain.RoomName, id domain.PeerID, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[room]
	if !ok {
		return false
	}
	cur, ok := rm.Get(id)
	if !ok || cur != conn {
		return false
	}
	r.removeLocked(rm, id)
	return true
}

func (r *Registry) removeLocked(rm *core.Room, id domain.PeerID) {
	rm.Remove(id)
	frame, _ := protocol.Encode(protocol.PartNotice(id))
	rm.Broadcast(id, frame)
	log.Info().Str("module", "app.registry").Str("room", string(rm.Name())).Str("id", string(id)).Msg("part")
	if rm.Len() == 0 {
		delete(r.rooms, rm.Name())
	}
}

func (r *Registry) Lookup(room domain.RoomName, id domain.PeerID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[room]
	if !ok {
		return nil, false
	}
	return rm.Get(id)
}

// Members lists the open members of room.
func (r *Registry) Members(room domain.RoomName) []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[room]
	if !ok {
		return []domain.PeerID{}
	}
	return rm.OpenMembers("")
}

func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for name, rm := range r.rooms {
		out = append(out, RoomInfo{Name: name, MemberCount: len(rm.OpenMembers(""))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
