package hub

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
	drainTimeout   = time.Second
)

// conn is one client connection. The read loop in Hub.serveConn owns the limiter; writePump
// is the only writer of data frames.
type conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *windowLimiter
	logger  *zap.Logger
}

func newConn(id string, ws *websocket.Conn, logger *zap.Logger) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		limiter: newWindowLimiter(MaxRequestsPerWindow, RateLimitWindow),
		logger:  logger,
	}
}

// enqueue queues a broadcast for writing. It never blocks and reports false when the
// connection is closed or its buffer is full.
func (c *conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// reply queues a response to a client request. Unlike enqueue it waits for buffer space, so
// replies are never dropped; it gives up only when the connection or ctx ends.
func (c *conn) reply(ctx context.Context, msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeWith sends a close frame with code. Safe to call concurrently with writePump.
func (c *conn) closeWith(code int, text string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// drain discards what the peer is still sending after a 1009 close so the kernel does not
// reset the connection before the close frame is read.
func (c *conn) drain() {
	nc := c.ws.NetConn()
	_ = nc.SetReadDeadline(time.Now().Add(drainTimeout))
	_, _ = io.Copy(io.Discard, nc)
}

func isOversized(err error) bool {
	return errors.Is(err, websocket.ErrReadLimit)
}
