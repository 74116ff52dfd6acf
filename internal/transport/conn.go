// Package transport wraps a WebSocket connection as a frame pipe.
package transport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/ashureev/voice-relay/internal/domain"
	"github.com/ashureev/voice-relay/internal/realtime"
)

// Conn is one side of a relayed session. Send may be called concurrently
// with Receive; only one Receive sequence may be iterated at a time.
type Conn struct {
	ws     *websocket.Conn
	name   string
	closed atomic.Bool
	once   sync.Once

	mu          sync.Mutex
	closeStatus websocket.StatusCode
	closeReason string
}

// New wraps ws. name labels the peer in logs ("client", "upstream").
func New(ws *websocket.Conn, name string) *Conn {
	return &Conn{
		ws:          ws,
		name:        name,
		closeStatus: websocket.StatusNormalClosure,
		closeReason: "relay session ended",
	}
}

// Send writes one frame.
func (c *Conn) Send(ctx context.Context, f realtime.Frame) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %s: %w", domain.ErrWriteFailed, c.name, domain.ErrConnClosed)
	}
	if err := c.ws.Write(ctx, f.Type, f.Data); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrWriteFailed, c.name, err)
	}
	return nil
}

// Receive returns the inbound frames. The sequence ends without an error when
// the peer closes normally or the connection was closed locally, and yields
// a single error otherwise.
func (c *Conn) Receive(ctx context.Context) iter.Seq2[realtime.Frame, error] {
	return func(yield func(realtime.Frame, error) bool) {
		for {
			typ, data, err := c.ws.Read(ctx)
			if err != nil {
				if c.closed.Load() || isNormalClose(err) {
					return
				}
				if ctx.Err() != nil {
					yield(realtime.Frame{}, ctx.Err())
					return
				}
				yield(realtime.Frame{}, fmt.Errorf("read %s: %w", c.name, err))
				return
			}
			if !yield(realtime.Frame{Type: typ, Data: data}, nil) {
				return
			}
		}
	}
}

// SetCloseStatus chooses the status sent by Close.
func (c *Conn) SetCloseStatus(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeStatus = code
	c.closeReason = reason
}

// Close closes the connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)

		c.mu.Lock()
		code, reason := c.closeStatus, c.closeReason
		c.mu.Unlock()

		if closeErr := c.ws.Close(code, reason); closeErr != nil && !isClosedError(closeErr) {
			slog.Debug("Failed to close websocket", "peer", c.name, "error", closeErr)
			err = fmt.Errorf("close %s: %w", c.name, closeErr)
		}
	})
	return err
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

func isClosedError(err error) bool {
	return websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed)
}
