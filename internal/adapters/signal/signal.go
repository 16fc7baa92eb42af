package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/nakkag/webrtc-mesh/internal/app"
	"github.com/nakkag/webrtc-mesh/internal/core"
)

const writeWait = 5 * time.Second

// SignalWSController accepts signaling links and feeds their frames to the router.
type SignalWSController struct {
	Router     *app.Router
	PingPeriod time.Duration
	ReadLimit  int64
	SendBuffer int
}

func NewSignalWSController(rt *app.Router, pingPeriod time.Duration, readLimit int64, sendBuffer int) *SignalWSController {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &SignalWSController{
		Router:     rt,
		PingPeriod: pingPeriod,
		ReadLimit:  readLimit,
		SendBuffer: sendBuffer,
	}
}

// WsSignalConn is the server side of one WebSocket link.
type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) ID() string { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrLinkClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the link until it closes.
// It returns once the pumps are started.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := newWsSignalConn(ws, ctl.SendBuffer)
	log.Info().Str("module", "signal").Str("conn", conn.ID()).Str("remote", r.RemoteAddr).Msg("new WS connection")

	go ctl.serve(ctx, conn)
}

func (ctl *SignalWSController) serve(ctx context.Context, c *WsSignalConn) {
	ctx, cancel := context.WithCancel(ctx)

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, c) })
	wg.Go(func() { ctl.keepalive(ctx, c) })

	ctl.readPump(ctx, c)

	cancel()
	c.Close()
	left := ctl.Router.Registry.Leave(c)
	wg.Wait()
	log.Info().Str("module", "signal").Str("conn", c.ID()).Int("memberships", len(left)).Msg("link closed")
}
