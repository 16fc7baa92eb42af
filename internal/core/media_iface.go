package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/nakkag/webrtc-mesh/internal/domain"
)

// MediaHandle is one inbound media track.
type MediaHandle interface {
	ID() string
	Kind() string
	// Stop releases the track; it is safe to call more than once.
	Stop() error
}

// MediaSource provides the local tracks attached to every outgoing link.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
}

// MediaSink renders inbound tracks of a peer.
type MediaSink interface {
	Attach(peer domain.PeerID, h MediaHandle)
	Detach(peer domain.PeerID)
}

// MediaTransport is the direct link to one remote peer. It never talks to the
// signaling server itself: local candidates are surfaced via OnLocalCandidate.
type MediaTransport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// LocalDescription returns the current local SDP.
	LocalDescription() *webrtc.SessionDescription
	// AttachLocalTracks adds every track of src as an outgoing track.
	AttachLocalTracks(src MediaSource) error
	// OnLocalCandidate sets a callback for newly gathered local ICE candidates.
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	// OnRemoteTrack sets a callback invoked when a new remote track arrives.
	OnRemoteTrack(func(MediaHandle))
	// OnStateChange sets a callback for connection state transitions.
	OnStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// TransportFactory builds a fresh transport for a remote peer.
type TransportFactory func(peer domain.PeerID) (MediaTransport, error)
