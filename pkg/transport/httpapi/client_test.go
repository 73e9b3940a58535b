package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/queue"
	"github.com/kinesphere/resync/pkg/store"
)

type recorded struct {
	method string
	path   string
	auth   string
	ctype  string
	body   string
}

func newServer(t *testing.T, status int) (*httptest.Server, chan recorded) {
	t.Helper()
	got := make(chan recorded, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- recorded{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			ctype:  r.Header.Get("Content-Type"),
			body:   string(body),
		}
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}
	}))
	t.Cleanup(server.Close)
	return server, got
}

func TestAttempt(t *testing.T) {
	ctx := context.Background()

	t.Run("success with credential", func(t *testing.T) {
		server, got := newServer(t, http.StatusCreated)
		creds := store.NewMemory()
		require.NoError(t, creds.Set(ctx, constants.CredentialKey, "secret"))

		c := New(server.URL+"/", creds)
		err := c.Attempt(ctx, "/like", queue.MethodPost, json.RawMessage(`{"postId":"p1"}`))
		require.NoError(t, err)

		r := <-got
		assert.Equal(t, http.MethodPost, r.method)
		assert.Equal(t, "/like", r.path)
		assert.Equal(t, "Bearer secret", r.auth)
		assert.Equal(t, "application/json", r.ctype)
		assert.JSONEq(t, `{"postId":"p1"}`, r.body)
	})

	t.Run("no payload and no credential", func(t *testing.T) {
		server, got := newServer(t, http.StatusNoContent)

		c := New(server.URL, store.NewMemory())
		require.NoError(t, c.Attempt(ctx, "/posts/3", queue.MethodDelete, nil))

		r := <-got
		assert.Equal(t, http.MethodDelete, r.method)
		assert.Empty(t, r.auth)
		assert.Empty(t, r.ctype)
		assert.Empty(t, r.body)
	})

	t.Run("non 2xx is a delivery failure", func(t *testing.T) {
		server, _ := newServer(t, http.StatusServiceUnavailable)

		c := New(server.URL, nil)
		err := c.Attempt(ctx, "/like", queue.MethodPatch, json.RawMessage(`{}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, constants.ErrDeliveryFailed)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		assert.Equal(t, `{"error":"nope"}`, statusErr.Body)
	})

	t.Run("network error is a delivery failure", func(t *testing.T) {
		server, _ := newServer(t, http.StatusOK)
		url := server.URL
		server.Close()

		c := New(url, nil).SetTimeout(time.Second)
		err := c.Attempt(ctx, "/like", queue.MethodPost, nil)
		assert.ErrorIs(t, err, constants.ErrDeliveryFailed)
	})

	t.Run("missing base url", func(t *testing.T) {
		c := New("", nil)
		assert.ErrorIs(t, c.Attempt(ctx, "/x", queue.MethodGet, nil), constants.ErrNoBaseURL)
	})
}
