package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Method is the HTTP verb of a queued request.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Valid reports whether m is one of the supported verbs.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPatch, MethodDelete:
		return true
	default:
		return false
	}
}

func (m Method) String() string {
	return string(m)
}

// Request is one mutating API call waiting for delivery.
//
// The JSON field names match the blob written by earlier clients,
// so a queue persisted by them is read back unchanged.
type Request struct {
	ID       string          `json:"id"`
	Endpoint string          `json:"endpoint"`
	Method   Method          `json:"method"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	// Timestamp is the enqueue time in Unix milliseconds.
	Timestamp   int64 `json:"timestamp"`
	Attempts    int   `json:"retryCount"`
	MaxAttempts int   `json:"maxRetries"`
}

// EnqueuedAt returns Timestamp as a time.Time.
func (r Request) EnqueuedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Exhausted reports whether the request has used its whole attempt budget.
func (r Request) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}

// Transport delivers a single request. A nil error means the request was
// accepted and can be removed from the queue.
type Transport interface {
	Attempt(ctx context.Context, endpoint string, method Method, payload json.RawMessage) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, endpoint string, method Method, payload json.RawMessage) error

func (f TransportFunc) Attempt(ctx context.Context, endpoint string, method Method, payload json.RawMessage) error {
	return f(ctx, endpoint, method, payload)
}
