package mesh

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nakkag/webrtc-mesh/internal/core"
)

const writeWait = 5 * time.Second

// WSDialer dials the signaling server over WebSocket.
type WSDialer struct {
	URL    string
	Dialer *websocket.Dialer
}

func NewWSDialer(url string, insecureSkipVerify bool) *WSDialer {
	d := *websocket.DefaultDialer
	if insecureSkipVerify {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &WSDialer{URL: url, Dialer: &d}
}

func (d *WSDialer) Dial(ctx context.Context, onMessage func([]byte)) (Link, error) {
	ws, _, err := d.Dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	l := &wsLink{conn: ws, done: make(chan struct{})}
	go l.readPump(onMessage)
	return l, nil
}

type wsLink struct {
	conn *websocket.Conn
	done chan struct{}

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (l *wsLink) readPump(onMessage func([]byte)) {
	defer close(l.done)
	defer l.Close()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "mesh.dialer").Msg("read error")
			}
			return
		}
		onMessage(data)
	}
}

func (l *wsLink) Send(b []byte) error {
	select {
	case <-l.done:
		return core.ErrLinkClosed
	default:
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, b)
}

func (l *wsLink) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.conn.Close() })
	return err
}

func (l *wsLink) Done() <-chan struct{} { return l.done }
