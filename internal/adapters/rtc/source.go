package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame carrying silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilentSource is a local audio source that emits Opus silence.
type SilentSource struct {
	track *webrtc.TrackLocalStaticSample
}

func NewSilentSource(streamID string) (*SilentSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("new audio track: %w", err)
	}
	return &SilentSource{track: track}, nil
}

func (s *SilentSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// Run writes a silent frame every 20ms until ctx is done.
func (s *SilentSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Debug().Err(err).Str("module", "rtc").Msg("write sample")
			}
		}
	}
}
