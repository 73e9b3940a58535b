package socket

import (
	"math"
	"math/rand/v2"
	"time"
)

// Retryer decides how long to wait before each reconnect attempt.
type Retryer interface {
	// NextDelay returns the delay before the next reconnect attempt.
	// attempt is 0-based (0 for the first reconnect, 1 for the second, etc.)
	// Returns the delay duration and whether to continue retrying.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called when a connection reaches Open.
	Reset()
}

// LinearBackoffRetryer waits Delay, 2*Delay, 3*Delay, ... between attempts.
// This is the default strategy of Socket.
type LinearBackoffRetryer struct {
	// Delay is the unit of the backoff.
	Delay time.Duration

	// MaxRetries is the maximum number of reconnect attempts (0 for infinite)
	MaxRetries int
}

func NewLinearBackoffRetryer(delay time.Duration, maxRetries int) *LinearBackoffRetryer {
	return &LinearBackoffRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// NextDelay implements Retryer
func (r *LinearBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay * time.Duration(attempt+1), true
}

// Reset implements Retryer
func (r *LinearBackoffRetryer) Reset() {}

// DefaultJitterFactor is the spread applied by NewExponentialBackoffRetryer.
const DefaultJitterFactor = 0.2

// ExponentialBackoffRetryer doubles the delay after every attempt, starting
// at InitialDelay and capped at MaxDelay (0 for no cap). Each delay is then
// moved by up to JitterFactor of itself in either direction.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxRetries is the maximum number of reconnect attempts (0 for infinite)
	MaxRetries int

	JitterFactor float64
	// Rand returns a value in [0, 1). Nil means math/rand.
	Rand func() float64
}

func NewExponentialBackoffRetryer(initial, maxDelay time.Duration, maxRetries int) *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		MaxRetries:   maxRetries,
		JitterFactor: DefaultJitterFactor,
	}
}

// NextDelay implements Retryer
func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := r.InitialDelay
	for range attempt {
		if (r.MaxDelay > 0 && delay >= r.MaxDelay) || delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}

	if r.JitterFactor > 0 {
		random := rand.Float64
		if r.Rand != nil {
			random = r.Rand
		}
		delay += time.Duration(float64(delay) * r.JitterFactor * (2*random() - 1))
	}
	return delay, true
}

// Reset implements Retryer
func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer waits the same Delay before every attempt.
type FixedDelayRetryer struct {
	Delay time.Duration

	// MaxRetries is the maximum number of reconnect attempts (0 for infinite)
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// NextDelay implements Retryer
func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Reset implements Retryer
func (r *FixedDelayRetryer) Reset() {}
