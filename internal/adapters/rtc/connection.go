package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/core"
	"github.com/nakkag/webrtc-mesh/internal/domain"
)

// NewAPI builds a pion API with the default codecs and the zerolog bridge.
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{}}
	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// NewFactory returns a TransportFactory creating one PeerConnection per peer.
func NewFactory(api *webrtc.API, cfg webrtc.Configuration) core.TransportFactory {
	return func(peer domain.PeerID) (core.MediaTransport, error) {
		c, err := NewWebRTCConnection(api, cfg, peer)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// WebRTCConnection is the media link to one remote peer.
type WebRTCConnection struct {
	pc   *webrtc.PeerConnection
	peer domain.PeerID
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, peer domain.PeerID) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &WebRTCConnection{pc: pc, peer: peer}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("peer", string(peer)).Str("ice_state", s.String()).Msg("ICE state")
	})
	return c, nil
}

func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *WebRTCConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *WebRTCConnection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *WebRTCConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

// AttachLocalTracks adds every track of src and drains RTCP for each sender.
func (c *WebRTCConnection) AttachLocalTracks(src core.MediaSource) error {
	for _, track := range src.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *WebRTCConnection) OnRemoteTrack(fn func(core.MediaHandle)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		fn(&RemoteTrack{track: track, receiver: receiver})
	})
}

func (c *WebRTCConnection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		fn(s)
	})
}

func (c *WebRTCConnection) Close() error {
	if err := c.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	log.Debug().Str("module", "rtc").Str("peer", string(c.peer)).Msg("closed")
	return nil
}

// RemoteTrack is an inbound track handle.
type RemoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver

	once sync.Once
	err  error
}

func (t *RemoteTrack) ID() string   { return t.track.ID() }
func (t *RemoteTrack) Kind() string { return t.track.Kind().String() }

func (t *RemoteTrack) ReadPacket() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}

func (t *RemoteTrack) Stop() error {
	t.once.Do(func() { t.err = t.receiver.Stop() })
	return t.err
}
