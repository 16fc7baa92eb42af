package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxPeerIDLen = 64

var (
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrPeerIDTooLong = errors.New("peer id too long")
	ErrRoomEmpty     = errors.New("room name empty")
)

// NewPeerID returns a random id shaped like "k3x9_1700000000000".
func NewPeerID() PeerID {
	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return PeerID(prefix + "_" + strconv.FormatInt(time.Now().UnixMilli(), 10))
}

func (id PeerID) Validate() error {
	if len(id) == 0 {
		return ErrPeerIDEmpty
	}
	if len(id) > MaxPeerIDLen {
		return ErrPeerIDTooLong
	}
	return nil
}

func (r RoomName) Validate() error {
	if len(r) == 0 {
		return ErrRoomEmpty
	}
	return nil
}
