// Package connectivity reports whether the client currently has a network
// path to the backend, and notifies subscribers when that changes.
package connectivity

import (
	"context"
	"sync"
)

// Observer is the connectivity signal consumed by the offline queue.
type Observer interface {
	// Subscribe registers fn to be called with the new state on every change.
	// The returned function removes the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
	// Current reports the connectivity state right now.
	Current(ctx context.Context) (bool, error)
}

// Manual is an Observer whose state is set by the host application,
// for example from a platform network-state callback.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

var _ Observer = (*Manual)(nil)

func NewManual(online bool) *Manual {
	return &Manual{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

func (m *Manual) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manual) Current(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online, nil
}

// Set updates the state. Subscribers are called synchronously, outside the
// lock, only when the state actually changes.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribers returns the number of active subscriptions.
func (m *Manual) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
