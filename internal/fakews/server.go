// Package fakews provides a fake message server for integration tests of
// socket.Socket and its dialers.
//
// It speaks the {"type","payload"} JSON frame protocol over WebSocket, checks
// the token query parameter on the handshake, records every frame it
// receives, and can push frames to or drop all connected clients.
//
// The WebSocket server is implemented using the `gws` library.
package fakews

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/lxzan/gws"

	"github.com/kinesphere/resync/internal/codec"
	"github.com/kinesphere/resync/pkg/constants"
)

// Frame is a decoded inbound frame.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Responder computes the reply to an inbound frame, or nil for no reply.
type Responder func(in Frame) *Frame

// Server is a fake WebSocket server with token checks and failure injection.
type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server
	codec    codec.Codec

	mu          sync.RWMutex
	restricted  bool
	validTokens map[string]bool
	responder   Responder
	connections map[*gws.Conn]string
	received    []Frame
	tokens      []string
	handshakes  int

	// connected receives the token of every accepted connection.
	connected chan string
}

// Handler implements the gws.Event interface for WebSocket connections
type Handler struct {
	server *Server
}

// NewServer creates a new fake server.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:        addr,
		codec:       codec.JSON{},
		validTokens: make(map[string]bool),
		connections: make(map[*gws.Conn]string),
		connected:   make(chan string, 64),
	}

	handler := &Handler{server: s}
	s.server = gws.NewServer(handler, &gws.ServerOption{
		Authorize: s.authorize,
	})
	s.server.OnError = func(_ net.Conn, err error) {
		if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("fakews: server error: %v", err)
		}
	}

	return s
}

// AllowTokens restricts handshakes to the given tokens.
// Until it is called every handshake is accepted.
func (s *Server) AllowTokens(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restricted = true
	for _, t := range tokens {
		s.validTokens[t] = true
	}
}

// RevokeToken makes future handshakes with token fail.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restricted = true
	delete(s.validTokens, token)
}

// SetResponder installs fn to answer inbound frames.
func (s *Server) SetResponder(fn Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = fn
}

func (s *Server) authorize(r *http.Request, session gws.SessionStorage) bool {
	token := r.URL.Query().Get(constants.CredentialQueryParam)
	session.Store(constants.CredentialQueryParam, token)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.handshakes++
	s.tokens = append(s.tokens, token)
	return !s.restricted || s.validTokens[token]
}

// Start starts the server and begins accepting WebSocket connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil {
			if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
				log.Printf("fakews: server error: %v", err)
			}
		}
	}()

	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.DropAll()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the ws:// URL of the server.
func (s *Server) URL() string {
	return "ws://" + s.Address() + "/ws"
}

// Connected returns a channel receiving the token of each accepted connection.
func (s *Server) Connected() <-chan string {
	return s.connected
}

// Push sends a frame to every connected client.
func (s *Server) Push(msgType string, payload any) error {
	frame := Frame{Type: msgType}
	if payload != nil {
		raw, err := s.codec.Marshal(payload)
		if err != nil {
			return err
		}
		frame.Payload = raw
	}
	data, err := s.codec.Marshal(frame)
	if err != nil {
		return err
	}
	return s.PushRaw(data)
}

// PushRaw sends data as a text frame to every connected client, unvalidated.
func (s *Server) PushRaw(data []byte) error {
	var errs []error
	for _, c := range s.conns() {
		if err := c.WriteMessage(gws.OpcodeText, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DropAll closes the network connection of every client without a close frame.
func (s *Server) DropAll() {
	for _, c := range s.conns() {
		_ = c.NetConn().Close()
	}
}

// CloseAll sends a close frame with code to every client.
func (s *Server) CloseAll(code uint16, reason string) {
	for _, c := range s.conns() {
		_ = c.WriteClose(code, []byte(reason))
	}
}

func (s *Server) conns() []*gws.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*gws.Conn, 0, len(s.connections))
	for c := range s.connections {
		out = append(out, c)
	}
	return out
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Received returns every frame received so far.
func (s *Server) Received() []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.received)
}

// Tokens returns the token of every handshake attempt, accepted or not.
func (s *Server) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tokens)
}

// Handshakes returns the number of handshake attempts.
func (s *Server) Handshakes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handshakes
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	token := ""
	if v, ok := socket.Session().Load(constants.CredentialQueryParam); ok {
		token, _ = v.(string)
	}

	h.server.mu.Lock()
	h.server.connections[socket] = token
	h.server.mu.Unlock()

	select {
	case h.server.connected <- token:
	default:
	}
}

func (h *Handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	delete(h.server.connections, socket)
	h.server.mu.Unlock()
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakews: error writing pong: %v", err)
	}
}

func (h *Handler) OnPong(*gws.Conn, []byte) {}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var frame Frame
	if err := h.server.codec.Unmarshal(message.Bytes(), &frame); err != nil {
		log.Printf("fakews: discarding malformed frame: %v", err)
		return
	}
	frame.Payload = slices.Clone(frame.Payload)

	h.server.mu.Lock()
	h.server.received = append(h.server.received, frame)
	responder := h.server.responder
	h.server.mu.Unlock()

	if responder == nil {
		return
	}
	reply := responder(frame)
	if reply == nil {
		return
	}
	data, err := h.server.codec.Marshal(reply)
	if err != nil {
		log.Printf("fakews: failed to encode reply: %v", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeText, data); err != nil {
		log.Printf("fakews: failed to write reply: %v", err)
	}
}

func isUseOfClosedNetworkError(err error) bool {
	return err != nil && strings.HasSuffix(err.Error(), "use of closed network connection")
}
