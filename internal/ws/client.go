package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chathub/internal/chat"
	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/registry"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
	defaultSendBufSize    = 256
)

// Options tunes one connection's pumps. Zero values fall back to defaults.
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBufSize    int
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBufSize <= 0 {
		o.SendBufSize = defaultSendBufSize
	}
	return o
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client is one WebSocket connection. It implements registry.Sink: the
// registry pushes events through Deliver and the write pump drains them to
// the wire.
// Lifecycle: NewClient -> Admit -> Start(ctx, cancel) -> pumps -> Close -> Wait.
type Client struct {
	conn     *websocket.Conn
	router   *Router
	reg      *registry.Registry
	identity int64
	id       registry.ConnectionID
	send     chan chat.Event
	opts     Options

	// done is the non-blocking guard in Deliver.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(conn *websocket.Conn, router *Router, reg *registry.Registry, identity int64, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		conn:     conn,
		router:   router,
		reg:      reg,
		identity: identity,
		send:     make(chan chat.Event, opts.SendBufSize),
		opts:     opts,
		done:     make(chan struct{}),
	}
}

// SetID records the registry-assigned connection id. Must be called after
// Admit and before Start.
func (c *Client) SetID(id registry.ConnectionID) { c.id = id }

// ID returns the registry-assigned connection id.
func (c *Client) ID() registry.ConnectionID { return c.id }

// Deliver queues an event without blocking. A full buffer or a closed
// connection returns false, which makes the registry drop the connection.
func (c *Client) Deliver(ev any) bool {
	event, ok := ev.(chat.Event)
	if !ok {
		return true
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// Start launches the read and write pumps with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any
// goroutine, including the registry's slow-consumer path.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// readPump reads frames from the connection and dispatches them. Exits on
// read error (triggered by conn.Close from Close() or writePump exit) and
// removes the connection from the registry on the way out.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.reg.Remove(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%d: %v", c.identity, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.reg.Touch(c.id)
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%d: %v", c.identity, err)
			}
			return
		}
		c.reg.Touch(c.id)

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("ws unmarshal error user=%d: %v", c.identity, err)
			c.sendError(chat.ErrInvalidContent)
			continue
		}
		c.router.Handle(ctx, c, f)
	}
}

// writePump drains the send buffer to the connection and keeps the ping
// ticker. Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	pingPeriod := (c.opts.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message user=%d: %v", c.identity, err)
			}
			return
		case ev := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline user=%d: %v", c.identity, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(ev); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error user=%d: %v", c.identity, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline user=%d: %v", c.identity, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendError(err error) {
	c.Deliver(chat.Event{Type: chat.EventError, Payload: errorPayload(err)})
}
