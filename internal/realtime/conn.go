package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"beacon/pkg/logx"
)

// Conn is one live websocket session. Outbound traffic goes through a
// buffered channel drained by a single writer goroutine, so broadcasts are
// fire-and-forget: a slow or stalled client overflows its own buffer and
// loses messages without ever blocking the sender.
type Conn struct {
	ID     string
	UserID string

	ws      *websocket.Conn
	out     chan Envelope
	dropped atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(id, userID string, ws *websocket.Conn, sendBuffer int) *Conn {
	return &Conn{
		ID:     id,
		UserID: userID,
		ws:     ws,
		out:    make(chan Envelope, sendBuffer),
		closed: make(chan struct{}),
	}
}

// trySend queues an envelope without blocking. It reports false when the
// connection's buffer is full or the connection is closing.
func (c *Conn) trySend(env Envelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- env:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped returns how many envelopes overflowed the send buffer.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// writeLoop drains the outbound buffer onto the socket. It exits when the
// connection closes, the context ends, or a write fails; the read loop
// observes the broken socket and tears the connection down.
func (c *Conn) writeLoop(ctx context.Context, writeTimeout time.Duration, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case env := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, env)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug("ws write failed",
						logx.String("conn", c.ID),
						logx.String("event", env.Event),
						logx.Err(err))
				}
				c.close()
				return
			}
		}
	}
}
