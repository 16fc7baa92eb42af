package core

import "errors"

// Frame is a raw text payload (one JSON signaling message).
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrLinkClosed   = errors.New("link closed")
)

// SignalConnection abstracts one client's signaling link.
// Owned by the adapter; the adapter must Close() it.
//
//go:generate mockgen -source=signal_iface.go -destination=mocks/mock_signal.go -package=mocks
type SignalConnection interface {
	// ID is a process-unique connection id used for logging.
	ID() string
	// TrySend queues a frame without blocking.
	TrySend(Frame) error
	// IsOpen reports whether the underlying transport is still usable.
	IsOpen() bool
	Close()
}
