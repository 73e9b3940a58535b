// Package gorillaws implements socket.Dialer on top of github.com/gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/logger"
	"github.com/kinesphere/resync/pkg/socket"
)

// DefaultDialer is the gorilla dialer used when Dialer.Dialer is nil.
//
// It is the default gorilla dialer as of gorilla/websocket v1.5.0 with
// EnableCompression set to true.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// DefaultCloseTimeout bounds the write of the close frame in Conn.Close.
const DefaultCloseTimeout = time.Second

type Dialer struct {
	// Dialer is the underlying gorilla dialer. Nil means DefaultDialer.
	Dialer *gorilla.Dialer
	// Header is sent with the handshake request.
	Header http.Header
	// CloseTimeout bounds the write of the close frame. Zero means DefaultCloseTimeout.
	CloseTimeout time.Duration

	Logger logger.Logger
}

var _ socket.Dialer = (*Dialer)(nil)

func New() *Dialer {
	return &Dialer{Logger: logger.Nop()}
}

// Dial performs the WebSocket handshake. A non-101 response is returned as an
// error carrying the HTTP status.
func (d *Dialer) Dial(ctx context.Context, url string) (socket.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = DefaultDialer
	}

	conn, res, err := dialer.DialContext(ctx, url, d.Header)
	if res != nil && res.Body != nil {
		defer res.Body.Close()
	}
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("gorillaws: handshake rejected with status %d: %w", res.StatusCode, err)
		}
		return nil, fmt.Errorf("gorillaws: failed to dial: %w", err)
	}

	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	closeTimeout := d.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}

	return &Conn{
		conn:         conn,
		closeTimeout: closeTimeout,
		logger:       log,
	}, nil
}

// Conn adapts *gorilla.Conn to socket.Conn.
type Conn struct {
	conn *gorilla.Conn

	// writeMu serializes writers; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	closeOnce    sync.Once
	closeErr     error
	closeTimeout time.Duration

	logger logger.Logger
}

// ReadMessage returns the next text or binary frame. A close frame from the
// server, or any transport failure, is returned as an error.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				c.logger.Debug("gorillaws.Conn closed by peer", "error", err)
			}
			return nil, err
		}
		switch messageType {
		case gorilla.TextMessage, gorilla.BinaryMessage:
			return data, nil
		}
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(gorilla.TextMessage, data)
}

// Close sends a normal-closure frame and closes the network connection.
// It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		// Phase 1: tell the server we are going away. Failure here is logged
		// only; the local connection is closed regardless.
		deadline := time.Now().Add(c.closeTimeout)
		err := c.conn.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(constants.CloseMessageCode, ""), deadline)
		if err != nil && !errors.Is(err, gorilla.ErrCloseSent) {
			c.logger.Debug("gorillaws.Conn failed to write close message", "error", err)
		}

		// Phase 2: release the network connection.
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
