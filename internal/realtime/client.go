package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sendBufferSize = 256

// ClientOptions tune the transport pumps.
type ClientOptions struct {
	PingInterval  time.Duration
	WriteDeadline time.Duration
	ReadDeadline  time.Duration
	MaxMsgSize    int64
	EventsPerSec  float64
	EventBurst    int
}

func (o *ClientOptions) fill() {
	if o.PingInterval == 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteDeadline == 0 {
		o.WriteDeadline = 10 * time.Second
	}
	if o.ReadDeadline == 0 {
		o.ReadDeadline = 60 * time.Second
	}
	if o.MaxMsgSize == 0 {
		o.MaxMsgSize = 64 * 1024
	}
	if o.EventsPerSec == 0 {
		o.EventsPerSec = 20
	}
	if o.EventBurst == 0 {
		o.EventBurst = 40
	}
}

// Client glues a websocket connection to the router: a read pump feeding
// frames in and a write pump draining the buffered send channel out. The
// router never touches the socket directly; it sees the client as a Sink.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger
	opts ClientOptions

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(conn *websocket.Conn, log *zap.Logger, opts ClientOptions) *Client {
	opts.fill()
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		log:  log,
		opts: opts,
		done: make(chan struct{}),
	}
}

// Send enqueues a frame without blocking. A client that cannot drain its
// buffer loses frames rather than stalling the dispatcher.
func (c *Client) Send(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send buffer full, dropping frame")
	}
}

// Close is idempotent; racing error paths all funnel through the once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Serve runs the pumps until the connection drops, then runs the router's
// disconnect path exactly once. Blocks for the connection's lifetime, which
// is how fiber's websocket handler expects to be used.
func (c *Client) Serve(ctx context.Context, router *Router, s *Session) {
	go c.writePump()
	c.readPump(ctx, router, s)
	c.Close()
	router.Disconnect(ctx, s)
}

func (c *Client) readPump(ctx context.Context, router *Router, s *Session) {
	c.conn.SetReadLimit(c.opts.MaxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadDeadline))
	})

	for {
		mt, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		router.HandleFrame(ctx, s, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Limiter builds the per-connection inbound rate limiter for a session.
func (o ClientOptions) Limiter() *rate.Limiter {
	o.fill()
	return rate.NewLimiter(rate.Limit(o.EventsPerSec), o.EventBurst)
}
