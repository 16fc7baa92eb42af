// Package protocol models the JSON signaling messages exchanged between
// mesh clients and the rendezvous server.
package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"

	"github.com/nakkag/webrtc-mesh/internal/domain"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindStart
	KindJoin
	KindPing
	KindPong
	KindPart
	KindSdp
	KindIce
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindJoin:
		return "join"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindPart:
		return "part"
	case KindSdp:
		return "sdp"
	case KindIce:
		return "ice"
	default:
		return "unknown"
	}
}

var ErrMalformed = errors.New("protocol: malformed message")

// Member is one entry of a start list.
type Member struct {
	ID domain.PeerID `json:"id"`
}

// JoinField is `{room, id}` when sent by a client and a bare id when the
// server announces a new member.
type JoinField struct {
	Room domain.RoomName
	ID   domain.PeerID
}

type joinObject struct {
	Room domain.RoomName `json:"room"`
	ID   domain.PeerID   `json:"id"`
}

func (j JoinField) MarshalJSON() ([]byte, error) {
	if j.Room == "" {
		return json.Marshal(j.ID)
	}
	return json.Marshal(joinObject{Room: j.Room, ID: j.ID})
}

func (j *JoinField) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		j.Room, j.ID = "", domain.PeerID(id)
		return nil
	}
	var obj joinObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	j.Room, j.ID = obj.Room, obj.ID
	return nil
}

// Message is the tagged union of every signaling message. Exactly one of
// the tag fields is expected to be set; Kind reports which one wins.
type Message struct {
	Join  *JoinField                 `json:"join,omitempty"`
	Start *[]Member                  `json:"start,omitempty"`
	Part  int                        `json:"part,omitempty"`
	Ping  int                        `json:"ping,omitempty"`
	Pong  int                        `json:"pong,omitempty"`
	Sdp   *webrtc.SessionDescription `json:"sdp,omitempty"`
	Ice   *webrtc.ICECandidateInit   `json:"ice,omitempty"`
	Room  domain.RoomName            `json:"room,omitempty"`
	Src   domain.PeerID              `json:"src,omitempty"`
	Dest  domain.PeerID              `json:"dest,omitempty"`
}

func (m Message) Kind() Kind {
	switch {
	case m.Start != nil:
		return KindStart
	case m.Join != nil:
		return KindJoin
	case m.Ping != 0:
		return KindPing
	case m.Pong != 0:
		return KindPong
	case m.Part != 0:
		return KindPart
	case m.Sdp != nil:
		return KindSdp
	case m.Ice != nil:
		return KindIce
	default:
		return KindUnknown
	}
}

// Addressed reports whether the message names a destination the server can route to.
func (m Message) Addressed() bool {
	return m.Room != "" && m.Dest != ""
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func NewJoin(room domain.RoomName, id domain.PeerID) Message {
	return Message{Join: &JoinField{Room: room, ID: id}}
}

func JoinNotice(id domain.PeerID) Message {
	return Message{Join: &JoinField{ID: id}}
}

// StartList always encodes as an array, `start: []` for an empty room.
func StartList(ids []domain.PeerID) Message {
	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, Member{ID: id})
	}
	return Message{Start: &members}
}

func PartNotice(id domain.PeerID) Message {
	return Message{Part: 1, Src: id}
}

func NewPart(room domain.RoomName, id domain.PeerID) Message {
	return Message{Part: 1, Room: room, Src: id}
}

func NewPing() Message { return Message{Ping: 1} }

func NewPong() Message { return Message{Pong: 1} }

func NewSdp(room domain.RoomName, src, dest domain.PeerID, desc webrtc.SessionDescription) Message {
	return Message{Sdp: &desc, Room: room, Src: src, Dest: dest}
}

func NewIce(room domain.RoomName, src, dest domain.PeerID, cand webrtc.ICECandidateInit) Message {
	return Message{Ice: &cand, Room: room, Src: src, Dest: dest}
}

// StartMembers returns the ids of a start list, nil for other kinds.
func (m Message) StartMembers() []domain.PeerID {
	if m.Start == nil {
		return nil
	}
	out := make([]domain.PeerID, 0, len(*m.Start))
	for _, mem := range *m.Start {
		out = append(out, mem.ID)
	}
	return out
}

// Envelope is the server view of a message: routing fields are decoded,
// the sdp and ice payloads stay raw so unknown payload shapes still route.
type Envelope struct {
	Join  *JoinField      `json:"join,omitempty"`
	Start json.RawMessage `json:"start,omitempty"`
	Part  int             `json:"part,omitempty"`
	Ping  int             `json:"ping,omitempty"`
	Pong  int             `json:"pong,omitempty"`
	Sdp   json.RawMessage `json:"sdp,omitempty"`
	Ice   json.RawMessage `json:"ice,omitempty"`
	Room  domain.RoomName `json:"room,omitempty"`
	Src   domain.PeerID   `json:"src,omitempty"`
	Dest  domain.PeerID   `json:"dest,omitempty"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func (e Envelope) Kind() Kind {
	switch {
	case present(e.Start):
		return KindStart
	case e.Join != nil:
		return KindJoin
	case e.Ping != 0:
		return KindPing
	case e.Pong != 0:
		return KindPong
	case e.Part != 0:
		return KindPart
	case present(e.Sdp):
		return KindSdp
	case present(e.Ice):
		return KindIce
	default:
		return KindUnknown
	}
}

func (e Envelope) Addressed() bool {
	return e.Room != "" && e.Dest != ""
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}
