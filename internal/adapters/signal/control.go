package signal

import (
	"context"

	"github.com/nakkag/webrtc-mesh/internal/keepalive"
)

// keepalive pings the peer every PingPeriod while the link is open.
func (ctl *SignalWSController) keepalive(ctx context.Context, c *WsSignalConn) {
	keepalive.Run(ctx, ctl.PingPeriod, func(b []byte) error {
		return c.TrySend(b)
	})
}
