package socket

import (
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kinesphere/resync/pkg/logger"
	"github.com/kinesphere/resync/pkg/metrics"
)

type Option func(s *Socket)

// WithReconnectDelay sets the unit of the default linear backoff.
// It has no effect together with WithRetryer.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Socket) {
		if d > 0 {
			s.reconnectDelay = d
		}
	}
}

// WithMaxReconnectAttempts sets how many reconnects the default backoff makes
// before giving up. It has no effect together with WithRetryer.
func WithMaxReconnectAttempts(n int) Option {
	return func(s *Socket) {
		if n > 0 {
			s.maxReconnectAttempts = n
		}
	}
}

// WithRetryer replaces the default linear backoff.
func WithRetryer(r Retryer) Option {
	return func(s *Socket) { s.retryer = r }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Socket) { s.logger = l }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Socket) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Socket) { s.metrics = m }
}

// WithOnGiveUp registers fn to be called once the reconnect loop stops for
// good, either because the retryer refused another attempt or because no
// credential was available. fn runs on a background goroutine.
func WithOnGiveUp(fn func(lastErr error)) Option {
	return func(s *Socket) { s.onGiveUp = fn }
}

// WithUnhandled registers fn for frames whose type has no handler.
func WithUnhandled(fn func(msgType string, payload json.RawMessage)) Option {
	return func(s *Socket) { s.unhandled = fn }
}
