package constants

import "errors"

// Errors
var (
	ErrNotFound          = errors.New("key not found")
	ErrNotConnected      = errors.New("socket is not connected")
	ErrClosed            = errors.New("closed")
	ErrAlreadyConnecting = errors.New("socket is already connecting or connected")
	ErrUnsupportedMethod = errors.New("unsupported request method")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrNoBaseURL         = errors.New("base url not set")
	ErrNoCredential      = errors.New("no credential available")
)
