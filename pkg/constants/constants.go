package constants

import "time"

const (
	// CloseMessageCode is the WebSocket close code sent on an intentional disconnect.
	CloseMessageCode = 1000

	// CredentialKey is the store key the auth token is read from on every reconnect.
	CredentialKey = "authToken"
	// CredentialQueryParam is the query parameter the token is embedded in when dialing.
	CredentialQueryParam = "token"

	// QueueStorageKey is the store key holding the serialized offline queue.
	QueueStorageKey = "offline_queue"

	DefaultMaxAttempts          = 3
	DefaultRetryDelay           = 1 * time.Second
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultHTTPTimeout          = 10 * time.Second
	DefaultProbeInterval        = 5 * time.Second
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)
