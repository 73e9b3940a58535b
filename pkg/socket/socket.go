// Package socket implements a long-lived, self-healing message channel.
//
// A Socket opens a Conn through a Dialer, dispatches inbound JSON frames of
// the form {"type": ..., "payload": ...} to handlers registered per type, and
// reconnects with a bounded backoff when a previously open connection drops.
// An explicit Disconnect suppresses reconnection until the next Connect.
//
// Reconnects read the credential fresh from a store.Store under
// constants.CredentialKey, so a rotated credential is picked up.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kinesphere/resync/internal/codec"
	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/logger"
	"github.com/kinesphere/resync/pkg/metrics"
	"github.com/kinesphere/resync/pkg/store"
)

// Handler receives the payload of an inbound frame.
// A panicking handler is recovered and logged; the connection stays up.
type Handler func(payload json.RawMessage)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type handlerEntry struct {
	fn Handler
}

type Socket struct {
	baseURL     string
	dialer      Dialer
	credentials store.Store

	codec     codec.Codec
	logger    logger.Logger
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	retryer   Retryer
	onGiveUp  func(error)
	unhandled func(msgType string, payload json.RawMessage)

	reconnectDelay       time.Duration
	maxReconnectAttempts int

	// mu guards the connection lifecycle below.
	mu    sync.Mutex
	state State
	conn  Conn
	// generation is bumped by every Connect, reconnect and Disconnect.
	// Callbacks captured for an older generation do nothing.
	generation          uint64
	intentionallyClosed bool
	reconnectAttempts   int
	gaveUp              bool
	reconnectTimer      clockwork.Timer
	cancelDial          context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[string][]*handlerEntry
}

// New creates a Socket in the Idle state. baseURL must be a ws:// or wss://
// URL; the credential is appended as a query parameter on every dial.
func New(baseURL string, dialer Dialer, credentials store.Store, opts ...Option) *Socket {
	s := &Socket{
		baseURL:              baseURL,
		dialer:               dialer,
		credentials:          credentials,
		codec:                codec.JSON{},
		logger:               logger.Nop(),
		clock:                clockwork.NewRealClock(),
		reconnectDelay:       constants.DefaultReconnectDelay,
		maxReconnectAttempts: constants.DefaultMaxReconnectAttempts,
		state:                StateIdle,
		handlers:             make(map[string][]*handlerEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retryer == nil {
		s.retryer = NewLinearBackoffRetryer(s.reconnectDelay, s.maxReconnectAttempts)
	}
	return s
}

func (s *Socket) transitionLocked(newState State) error {
	if err := s.state.validateTransitionTo(newState); err != nil {
		return err
	}

	old := s.state
	s.state = newState
	s.metrics.SetSocketState(int(newState))
	s.logger.Debug("socket.Socket state transitioned", "from", old, "to", newState)

	return nil
}

func (s *Socket) mustTransitionLocked(newState State) {
	if err := s.transitionLocked(newState); err != nil {
		s.logger.Error("BUG: socket.Socket failed to transition state", "to", newState, "error", err)
	}
}

// Connect dials the server with credential and blocks until the connection is
// Open or the handshake fails.
//
// A handshake failure is returned to the caller and does not start the
// reconnect loop; the loop only follows the loss of an open connection.
// Connect clears a previous Disconnect and resets the reconnect counter.
func (s *Socket) Connect(ctx context.Context, credential string) error {
	target, err := s.endpoint(credential)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.transitionLocked(StateConnecting); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("socket.Socket cannot connect: %w: %w", constants.ErrAlreadyConnecting, err)
	}
	s.intentionallyClosed = false
	s.reconnectAttempts = 0
	s.gaveUp = false
	s.stopReconnectTimerLocked()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, target)
	if err != nil {
		s.mu.Lock()
		if gen == s.generation {
			s.mustTransitionLocked(StateClosed)
		}
		s.mu.Unlock()
		s.logger.Warn("socket.Socket handshake failed", "error", err)
		return fmt.Errorf("socket.Socket failed to connect: %w", err)
	}

	if !s.adopt(conn, gen) {
		return fmt.Errorf("socket.Socket was disconnected while connecting: %w", constants.ErrClosed)
	}
	return nil
}

// adopt makes conn the current connection unless gen has been superseded,
// in which case conn is closed and false is returned.
func (s *Socket) adopt(conn Conn, gen uint64) bool {
	s.mu.Lock()
	if gen != s.generation || s.intentionallyClosed {
		s.mu.Unlock()
		if err := conn.Close(); err != nil {
			s.logger.Debug("socket.Socket failed to close superseded connection", "error", err)
		}
		return false
	}
	s.conn = conn
	s.cancelDial = nil
	s.mustTransitionLocked(StateOpen)
	s.reconnectAttempts = 0
	s.retryer.Reset()
	s.mu.Unlock()

	s.logger.Info("socket.Socket connected")
	go s.readLoop(conn, gen)
	return true
}

func (s *Socket) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if cerr := conn.Close(); cerr != nil {
				s.logger.Debug("socket.Socket failed to close dropped connection", "error", cerr)
			}
			s.handleClose(gen, err)
			return
		}
		s.metrics.Message("in")
		s.dispatch(data)
	}
}

func (s *Socket) handleClose(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.generation {
		// Closed by Disconnect, or replaced by a newer Connect.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mustTransitionLocked(StateClosed)
	if s.intentionallyClosed {
		s.mu.Unlock()
		return
	}
	s.logger.Warn("socket.Socket connection lost", "error", cause)
	attempts, giveUp := s.scheduleReconnectLocked(cause)
	s.mu.Unlock()

	if giveUp {
		s.giveUp(attempts, cause)
	}
}

// scheduleReconnectLocked arms the reconnect timer for the current
// generation. It reports true when the retryer refuses another attempt.
func (s *Socket) scheduleReconnectLocked(lastErr error) (int, bool) {
	delay, ok := s.retryer.NextDelay(s.reconnectAttempts, lastErr)
	if !ok {
		s.gaveUp = true
		return s.reconnectAttempts, true
	}

	s.reconnectAttempts++
	gen := s.generation
	s.logger.Info("socket.Socket scheduling reconnect", "attempt", s.reconnectAttempts, "delay", delay)
	s.reconnectTimer = s.clock.AfterFunc(delay, func() {
		s.reconnect(gen)
	})
	return s.reconnectAttempts, false
}

func (s *Socket) reconnect(scheduledGen uint64) {
	s.mu.Lock()
	// The timer may have been stopped too late to prevent this call.
	if s.intentionallyClosed || scheduledGen != s.generation || s.state != StateClosed {
		s.mu.Unlock()
		s.logger.Debug("socket.Socket ignoring stale reconnect timer")
		return
	}
	s.reconnectTimer = nil
	s.mustTransitionLocked(StateConnecting)
	s.generation++
	gen := s.generation
	attempt := s.reconnectAttempts
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel
	s.mu.Unlock()
	defer cancel()

	s.metrics.Reconnect()
	s.logger.Info("socket.Socket reconnecting", "attempt", attempt)

	target, err := s.freshEndpoint(ctx)
	if err != nil {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.cancelDial = nil
		s.mustTransitionLocked(StateClosed)
		s.gaveUp = true
		s.mu.Unlock()
		s.giveUp(attempt, err)
		return
	}

	conn, err := s.dialer.Dial(ctx, target)
	if err != nil {
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.cancelDial = nil
		s.mustTransitionLocked(StateClosed)
		s.logger.Warn("socket.Socket reconnect failed", "attempt", attempt, "error", err)
		attempts, giveUp := s.scheduleReconnectLocked(err)
		s.mu.Unlock()
		if giveUp {
			s.giveUp(attempts, err)
		}
		return
	}

	s.adopt(conn, gen)
}

func (s *Socket) giveUp(attempts int, lastErr error) {
	s.logger.Error("socket.Socket stopped reconnecting", "attempts", attempts, "error", lastErr)
	if s.onGiveUp != nil {
		s.onGiveUp(lastErr)
	}
}

func (s *Socket) freshEndpoint(ctx context.Context) (string, error) {
	credential, err := s.credentials.Get(ctx, constants.CredentialKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", constants.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("socket.Socket failed to read credential: %w", err)
	}
	return s.endpoint(credential)
}

func (s *Socket) endpoint(credential string) (string, error) {
	if s.baseURL == "" {
		return "", constants.ErrNoBaseURL
	}
	if credential == "" {
		return "", constants.ErrNoCredential
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("socket.Socket invalid base url: %w", err)
	}
	if u.Scheme != constants.WebsocketScheme && u.Scheme != constants.WebsocketSecureScheme {
		return "", fmt.Errorf("socket.Socket unsupported url scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set(constants.CredentialQueryParam, credential)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Socket) stopReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// Disconnect closes the connection and cancels any pending or in-flight
// reconnect. Registered handlers are kept for the next Connect.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.intentionallyClosed = true
	s.stopReconnectTimerLocked()
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	s.generation++
	conn := s.conn
	s.conn = nil
	switch s.state {
	case StateOpen:
		s.mustTransitionLocked(StateClosing)
	case StateConnecting:
		s.mustTransitionLocked(StateClosed)
	}
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn("socket.Socket failed to close connection", "error", err)
		}
		s.mu.Lock()
		if s.state == StateClosing {
			s.mustTransitionLocked(StateClosed)
		}
		s.mu.Unlock()
	}

	s.logger.Info("socket.Socket disconnected")
}

// Send writes one frame when the connection is Open. Otherwise the message is
// dropped with a warning and ErrNotConnected is returned; nothing is queued.
//
// payload may be nil, a json.RawMessage, or any value encodable as JSON.
func (s *Socket) Send(msgType string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	open := conn != nil && s.state == StateOpen
	s.mu.Unlock()

	if !open {
		s.logger.Warn("socket.Socket dropping message, not connected", "type", msgType)
		return constants.ErrNotConnected
	}

	raw, err := s.encodePayload(payload)
	if err != nil {
		return fmt.Errorf("socket.Socket failed to encode payload of %q: %w", msgType, err)
	}
	data, err := s.codec.Marshal(Frame{Type: msgType, Payload: raw})
	if err != nil {
		return fmt.Errorf("socket.Socket failed to encode frame %q: %w", msgType, err)
	}

	if err := conn.WriteMessage(data); err != nil {
		s.logger.Warn("socket.Socket failed to write message", "type", msgType, "error", err)
		return fmt.Errorf("socket.Socket failed to send %q: %w", msgType, err)
	}
	s.metrics.Message("out")
	return nil
}

func (s *Socket) encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("invalid JSON payload")
		}
		return p, nil
	default:
		data, err := s.codec.Marshal(p)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}
}

func (s *Socket) dispatch(data []byte) {
	var frame Frame
	if err := s.codec.Unmarshal(data, &frame); err != nil {
		s.logger.Warn("socket.Socket discarding malformed frame", "error", err)
		return
	}

	s.handlersMu.RLock()
	entries := slices.Clone(s.handlers[frame.Type])
	s.handlersMu.RUnlock()

	if len(entries) == 0 {
		if s.unhandled != nil {
			s.invoke(frame.Type, func(p json.RawMessage) { s.unhandled(frame.Type, p) }, frame.Payload)
			return
		}
		s.logger.Debug("socket.Socket no handler for message", "type", frame.Type)
		return
	}
	for _, e := range entries {
		s.invoke(frame.Type, e.fn, slices.Clone(frame.Payload))
	}
}

func (s *Socket) invoke(msgType string, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("socket.Socket handler panicked", "type", msgType, "panic", r)
		}
	}()
	h(payload)
}

// On registers h for frames of msgType. Handlers run in registration order
// on the read goroutine. The returned function removes this registration.
func (s *Socket) On(msgType string, h Handler) (unsubscribe func()) {
	e := &handlerEntry{fn: h}

	s.handlersMu.Lock()
	s.handlers[msgType] = append(s.handlers[msgType], e)
	s.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.removeHandlers(msgType, func(x *handlerEntry) bool { return x == e })
		})
	}
}

// Off removes every registration of h for msgType.
//
// Functions are compared by code pointer, so closures created from the same
// literal cannot be told apart. Prefer the function returned by On.
func (s *Socket) Off(msgType string, h Handler) {
	ptr := reflect.ValueOf(h).Pointer()
	s.removeHandlers(msgType, func(x *handlerEntry) bool {
		return reflect.ValueOf(x.fn).Pointer() == ptr
	})
}

func (s *Socket) removeHandlers(msgType string, match func(*handlerEntry) bool) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	kept := slices.DeleteFunc(s.handlers[msgType], match)
	if len(kept) == 0 {
		delete(s.handlers, msgType)
		return
	}
	s.handlers[msgType] = kept
}

// IsConnected reports whether a connection exists and is Open.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.state == StateOpen
}

func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReconnectAttempts returns the number of reconnects since the last Open.
func (s *Socket) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

// HasGivenUp reports whether the reconnect loop stopped for good.
// It is cleared by the next Connect.
func (s *Socket) HasGivenUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gaveUp
}
