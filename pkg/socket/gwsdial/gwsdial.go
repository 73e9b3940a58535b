// Package gwsdial implements socket.Dialer on top of github.com/lxzan/gws.
//
// gws is callback driven; Conn bridges its OnMessage events into the
// blocking ReadMessage that socket.Socket expects.
package gwsdial

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/logger"
	"github.com/kinesphere/resync/pkg/socket"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	// inboundBuffer is how many frames may wait for ReadMessage before the
	// gws read loop blocks.
	inboundBuffer = 64
)

type Dialer struct {
	// HandshakeTimeout bounds the handshake. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	Header           http.Header
	TLSConfig        *tls.Config
	// Compression enables permessage-deflate negotiation.
	Compression bool

	Logger logger.Logger
}

var _ socket.Dialer = (*Dialer)(nil)

func New() *Dialer {
	return &Dialer{Logger: logger.Nop()}
}

// contextDialer makes the TCP dial honour the Dial context.
type contextDialer struct {
	ctx context.Context
}

func (d *contextDialer) Dial(network, addr string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(d.ctx, network, addr)
}

func (d *Dialer) Dial(ctx context.Context, url string) (socket.Conn, error) {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	c := &Conn{
		messages: make(chan []byte, inboundBuffer),
		done:     make(chan struct{}),
		logger:   log,
	}

	option := &gws.ClientOption{
		Addr:             url,
		RequestHeader:    d.Header,
		TlsConfig:        d.TLSConfig,
		HandshakeTimeout: timeout,
		NewDialer: func() (gws.Dialer, error) {
			return &contextDialer{ctx: ctx}, nil
		},
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: d.Compression,
		},
	}

	conn, res, err := gws.NewClient(c, option)
	if res != nil && res.Body != nil {
		defer res.Body.Close()
	}
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("gwsdial: handshake rejected with status %d: %w", res.StatusCode, err)
		}
		return nil, fmt.Errorf("gwsdial: failed to dial: %w", err)
	}
	c.conn = conn

	go conn.ReadLoop()

	return c, nil
}

// Conn adapts *gws.Conn to socket.Conn.
type Conn struct {
	conn *gws.Conn

	messages chan []byte
	done     chan struct{}

	mu       sync.Mutex
	closed   bool
	closeErr error

	closeOnce sync.Once

	logger logger.Logger
}

// OnOpen implements gws.Event.
func (c *Conn) OnOpen(*gws.Conn) {}

// OnClose implements gws.Event.
func (c *Conn) OnClose(_ *gws.Conn, err error) {
	c.finish(err)
}

// OnPing implements gws.Event.
func (c *Conn) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		c.logger.Debug("gwsdial.Conn failed to write pong", "error", err)
	}
}

// OnPong implements gws.Event.
func (c *Conn) OnPong(*gws.Conn, []byte) {}

// OnMessage implements gws.Event.
func (c *Conn) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()

	// The message buffer is reused by gws once closed.
	data := slices.Clone(message.Bytes())
	select {
	case c.messages <- data:
	case <-c.done:
	}
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if err == nil {
		err = net.ErrClosed
	}
	c.closeErr = err
	close(c.done)
}

// ReadMessage returns frames in arrival order. Frames that arrived before the
// connection closed are still returned before the close error.
func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.messages:
		return data, nil
	case <-c.done:
		select {
		case data := <-c.messages:
			return data, nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	return c.conn.WriteMessage(gws.OpcodeText, data)
}

// Close sends a normal-closure frame and closes the network connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if werr := c.conn.WriteClose(constants.CloseMessageCode, nil); werr != nil {
			c.logger.Debug("gwsdial.Conn failed to write close message", "error", werr)
		}
		if cerr := c.conn.NetConn().Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		c.finish(net.ErrClosed)
	})
	return err
}
