package queue

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kinesphere/resync/pkg/logger"
	"github.com/kinesphere/resync/pkg/metrics"
)

type Option func(q *Queue)

// WithMaxAttempts sets the attempt budget given to newly enqueued requests.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the wait before the next drain pass when requests remain.
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.retryDelay = d
		}
	}
}

// WithStorageKey sets the store key the queue is persisted under.
func WithStorageKey(key string) Option {
	return func(q *Queue) {
		if key != "" {
			q.storageKey = key
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func WithClock(c clockwork.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithOnDropped registers fn to be called for every request removed after
// exhausting its attempts. fn runs on the draining goroutine.
func WithOnDropped(fn func(Request)) Option {
	return func(q *Queue) { q.onDropped = fn }
}
