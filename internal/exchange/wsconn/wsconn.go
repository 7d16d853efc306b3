// Package wsconn provides a reconnect-with-backoff websocket connection for
// exchange market-data and user-data streams, grounded on
// ghostsworm-quantmesh/exchange/poloniex/websocket.go's connect loop.
package wsconn

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handler receives each decoded message. OnConnect runs after every
// successful dial, reconnects included, so subscriptions are re-sent there.
type Handler interface {
	OnMessage(data []byte)
	OnConnect(conn *websocket.Conn) error
}

// Conn manages one websocket connection with automatic reconnect and
// exponential backoff capped at 30s (spec.md §5 default).
type Conn struct {
	url     string
	handler Handler
	logger  *log.Logger

	maxBackoff time.Duration

	mu   sync.RWMutex
	conn *websocket.Conn
}

func New(url string, handler Handler) *Conn {
	return &Conn{
		url:        url,
		handler:    handler,
		logger:     log.Default(),
		maxBackoff: 30 * time.Second,
	}
}

// Run dials, reconnecting with exponential backoff until ctx is cancelled.
func (c *Conn) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Printf("wsconn: dial %s failed: %v, retrying in %s", c.url, err, backoff)
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		backoff = time.Second

		if err := c.handler.OnConnect(conn); err != nil {
			c.logger.Printf("wsconn: OnConnect %s failed: %v", c.url, err)
			conn.Close()
			if !c.sleep(ctx, backoff) {
				return
			}
			continue
		}

		c.readLoop(ctx, conn)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Conn) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Printf("wsconn: read error on %s: %v, reconnecting", c.url, err)
			conn.Close()
			return
		}
		c.handler.OnMessage(data)
	}
}

func (c *Conn) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// Send writes a text message on the current connection, if any.
func (c *Conn) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
