package core

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/domain"
)

// PublishResult reports delivery stats of a fan-out.
type PublishResult struct {
	SentTo  []domain.PeerID
	Dropped []domain.PeerID
}

// Room is the membership table of one room: at most one link per peer id.
// It is not safe for concurrent use; the owning registry serializes access.
type Room struct {
	name    domain.RoomName
	members map[domain.PeerID]SignalConnection
}

func NewRoom(name domain.RoomName) *Room {
	return &Room{
		name:    name,
		members: make(map[domain.PeerID]SignalConnection),
	}
}

func (r *Room) Name() domain.RoomName { return r.name }

func (r *Room) Len() int { return len(r.members) }

// Put stores conn for id and returns the link it replaced, if any.
func (r *Room) Put(id domain.PeerID, conn SignalConnection) (SignalConnection, bool) {
	prev, ok := r.members[id]
	r.members[id] = conn
	return prev, ok
}

func (r *Room) Get(id domain.PeerID) (SignalConnection, bool) {
	conn, ok := r.members[id]
	return conn, ok
}

func (r *Room) Remove(id domain.PeerID) {
	delete(r.members, id)
}

// OwnedBy returns the ids whose membership belongs to conn.
func (r *Room) OwnedBy(conn SignalConnection) []domain.PeerID {
	var out []domain.PeerID
	for id, c := range r.members {
		if c == conn {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// OpenMembers lists members with an open link, except the given id.
func (r *Room) OpenMembers(except domain.PeerID) []domain.PeerID {
	out := make([]domain.PeerID, 0, len(r.members))
	for id, c := range r.members {
		if id == except || !c.IsOpen() {
			continue
		}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// Broadcast sends data to every open member except from.
func (r *Room) Broadcast(from domain.PeerID, data Frame) PublishResult {
	res := PublishResult{}
	for _, id := range r.OpenMembers(from) {
		if err := r.members[id].TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo = append(res.SentTo, id)
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.name)).Str("from", string(from)).Int("sent_to", len(res.SentTo)).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func sortIDs(ids []domain.PeerID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
