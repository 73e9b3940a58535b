package fakews

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/socket"
	"github.com/kinesphere/resync/pkg/store"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

// TestDialer runs a socket.Socket built on newDialer against a live Server.
// Dialer packages call it from their own tests.
func TestDialer(t *testing.T, newDialer func() socket.Dialer) {
	t.Helper()

	start := func(t *testing.T) *Server {
		t.Helper()
		server := NewServer("127.0.0.1:0")
		require.NoError(t, server.Start())
		t.Cleanup(func() { _ = server.Stop() })
		return server
	}

	newSocket := func(t *testing.T, server *Server, creds store.Store, opts ...socket.Option) *socket.Socket {
		t.Helper()
		opts = append([]socket.Option{socket.WithReconnectDelay(20 * time.Millisecond)}, opts...)
		s := socket.New(server.URL(), newDialer(), creds, opts...)
		t.Cleanup(s.Disconnect)
		return s
	}

	awaitConnected := func(t *testing.T, server *Server) string {
		t.Helper()
		select {
		case token := <-server.Connected():
			return token
		case <-time.After(waitFor):
			t.Fatal("server saw no connection")
			return ""
		}
	}

	t.Run("send and receive", func(t *testing.T) {
		ctx := context.Background()
		server := start(t)
		server.SetResponder(func(in Frame) *Frame {
			if in.Type != "ping" {
				return nil
			}
			return &Frame{Type: "pong", Payload: in.Payload}
		})

		s := newSocket(t, server, store.NewMemory())
		got := make(chan json.RawMessage, 4)
		s.On("pong", func(p json.RawMessage) { got <- p })
		s.On("notice", func(p json.RawMessage) { got <- p })

		require.NoError(t, s.Connect(ctx, "t1"))
		assert.Equal(t, "t1", awaitConnected(t, server))
		assert.True(t, s.IsConnected())

		require.NoError(t, s.Send("ping", map[string]int{"seq": 7}))
		select {
		case p := <-got:
			assert.JSONEq(t, `{"seq":7}`, string(p))
		case <-time.After(waitFor):
			t.Fatal("no pong")
		}

		require.NoError(t, server.Push("notice", map[string]string{"text": "hello"}))
		select {
		case p := <-got:
			assert.JSONEq(t, `{"text":"hello"}`, string(p))
		case <-time.After(waitFor):
			t.Fatal("no notice")
		}

		require.NoError(t, server.PushRaw([]byte(`{not json`)))
		require.NoError(t, s.Send("ping", 8))
		select {
		case p := <-got:
			assert.Equal(t, "8", string(p))
		case <-time.After(waitFor):
			t.Fatal("malformed frame broke the connection")
		}

		frames := server.Received()
		require.Len(t, frames, 2)
		assert.Equal(t, "ping", frames[0].Type)
	})

	t.Run("rejected handshake", func(t *testing.T) {
		server := start(t)
		server.AllowTokens("good")

		s := newSocket(t, server, store.NewMemory())
		err := s.Connect(context.Background(), "bad")
		require.Error(t, err)
		assert.Equal(t, socket.StateClosed, s.State())

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, server.Handshakes())
	})

	t.Run("reconnects with the stored credential", func(t *testing.T) {
		ctx := context.Background()
		server := start(t)
		server.AllowTokens("t1", "t2")

		creds := store.NewMemory()
		require.NoError(t, creds.Set(ctx, constants.CredentialKey, "t2"))
		s := newSocket(t, server, creds)

		require.NoError(t, s.Connect(ctx, "t1"))
		assert.Equal(t, "t1", awaitConnected(t, server))

		server.DropAll()
		assert.Equal(t, "t2", awaitConnected(t, server))
		require.Eventually(t, s.IsConnected, waitFor, tick)
		assert.Equal(t, 0, s.ReconnectAttempts())
	})

	t.Run("gives up when the server keeps refusing", func(t *testing.T) {
		ctx := context.Background()
		server := start(t)
		server.AllowTokens("t1")

		creds := store.NewMemory()
		require.NoError(t, creds.Set(ctx, constants.CredentialKey, "t1"))
		gaveUp := make(chan error, 1)
		s := newSocket(t, server, creds,
			socket.WithMaxReconnectAttempts(2),
			socket.WithReconnectDelay(10*time.Millisecond),
			socket.WithOnGiveUp(func(err error) { gaveUp <- err }))

		require.NoError(t, s.Connect(ctx, "t1"))
		awaitConnected(t, server)

		server.RevokeToken("t1")
		server.DropAll()

		select {
		case <-gaveUp:
		case <-time.After(waitFor):
			t.Fatal("socket did not give up")
		}
		assert.True(t, s.HasGivenUp())
		assert.Equal(t, 3, server.Handshakes())
	})

	t.Run("disconnect closes and stays closed", func(t *testing.T) {
		ctx := context.Background()
		server := start(t)

		creds := store.NewMemory()
		require.NoError(t, creds.Set(ctx, constants.CredentialKey, "t1"))
		s := newSocket(t, server, creds)

		require.NoError(t, s.Connect(ctx, "t1"))
		awaitConnected(t, server)

		s.Disconnect()
		require.Eventually(t, func() bool { return server.ConnectionCount() == 0 }, waitFor, tick)

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, server.Handshakes())
		assert.ErrorIs(t, s.Send("ping", nil), constants.ErrNotConnected)
	})
}
