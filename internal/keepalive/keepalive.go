// Package keepalive sends periodic application-level pings over a signaling
// link so intermediaries do not idle it out. Replies are never awaited: a dead
// link is detected by the transport closing, not by missing pongs.
package keepalive

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/protocol"
)

// PingFrame is the encoded `{"ping":1}` message.
var PingFrame, _ = protocol.Encode(protocol.NewPing())

// Run calls send every interval until ctx is done. Send failures are logged
// and do not stop the timer.
func Run(ctx context.Context, interval time.Duration, send func([]byte) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(PingFrame); err != nil {
				log.Debug().Err(err).Str("module", "keepalive").Msg("ping not sent")
			}
		}
	}
}
