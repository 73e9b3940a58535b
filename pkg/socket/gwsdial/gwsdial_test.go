package gwsdial

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kinesphere/resync/internal/fakews"
	"github.com/kinesphere/resync/pkg/socket"
)

func TestDialerAgainstFakeServer(t *testing.T) {
	fakews.TestDialer(t, func() socket.Dialer { return New() })
}

func TestReadMessageDrainsBeforeClose(t *testing.T) {
	c := &Conn{
		messages: make(chan []byte, 2),
		done:     make(chan struct{}),
	}
	c.messages <- []byte("a")
	c.messages <- []byte("b")
	c.finish(nil)

	for _, want := range []string{"a", "b"} {
		data, err := c.ReadMessage()
		assert.NoError(t, err)
		assert.Equal(t, want, string(data))
	}

	_, err := c.ReadMessage()
	assert.Error(t, err)
}
