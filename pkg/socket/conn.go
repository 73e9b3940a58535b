package socket

import "context"

// Conn is one established message-oriented connection.
//
// ReadMessage is only ever called from a single goroutine. WriteMessage and
// Close may be called concurrently with it and with each other.
type Conn interface {
	// ReadMessage blocks for the next text frame. Any error means the
	// connection is gone.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to url. The handshake must complete before Dial
// returns, and ctx bounds it.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}
