package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *recorder) record(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, online)
}

func (r *recorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func TestManual(t *testing.T) {
	ctx := context.Background()
	m := NewManual(false)

	online, err := m.Current(ctx)
	require.NoError(t, err)
	assert.False(t, online)

	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.record)
	assert.Equal(t, 1, m.Subscribers())

	m.Set(false)
	assert.Empty(t, rec.get(), "no notification without a change")

	m.Set(true)
	m.Set(false)
	assert.Equal(t, []bool{true, false}, rec.get())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, m.Subscribers())

	m.Set(true)
	assert.Equal(t, []bool{true, false}, rec.get())

	online, err = m.Current(ctx)
	require.NoError(t, err)
	assert.True(t, online)
}

func TestManualSubscriberOrder(t *testing.T) {
	m := NewManual(false)
	var order []int
	m.Subscribe(func(bool) { order = append(order, 1) })
	m.Subscribe(func(bool) { order = append(order, 2) })
	m.Subscribe(func(bool) { order = append(order, 3) })

	m.Set(true)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestManualSubscribeFromCallback(t *testing.T) {
	m := NewManual(false)
	calls := 0
	m.Subscribe(func(bool) {
		// Must not deadlock.
		m.Subscribe(func(bool) { calls++ })
	})

	m.Set(true)
	assert.Equal(t, 0, calls)
	m.Set(false)
	assert.Equal(t, 1, calls)
}

func TestProberCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))

	p := NewProber(srv.URL, time.Second)
	rec := &recorder{}
	p.Subscribe(rec.record)

	online, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.True(t, online)

	srv.Close()
	online, err = p.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, online)

	assert.Equal(t, []bool{true, false}, rec.get())
}

func TestProberRun(t *testing.T) {
	var mu sync.Mutex
	up := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !up {
			// Drop the connection so the probe sees a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClock()
	p := NewProber(srv.URL, 5*time.Second, WithClock(clock))
	rec := &recorder{}
	p.Subscribe(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, rec.get(), "first probe failing keeps the initial offline state")

	mu.Lock()
	up = true
	mu.Unlock()
	clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool {
		s := rec.get()
		return len(s) == 1 && s[0]
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
