package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/logger"
)

// Prober derives connectivity from periodic HEAD requests to URL.
// Any HTTP response counts as online; transport errors count as offline.
type Prober struct {
	URL      string
	Interval time.Duration

	client *http.Client
	clock  clockwork.Clock
	logger logger.Logger
	state  *Manual
}

var _ Observer = (*Prober)(nil)

type ProberOption func(*Prober)

func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) { p.client = c }
}

func WithClock(c clockwork.Clock) ProberOption {
	return func(p *Prober) { p.clock = c }
}

func WithLogger(l logger.Logger) ProberOption {
	return func(p *Prober) { p.logger = l }
}

// NewProber creates a Prober that assumes offline until the first probe.
func NewProber(url string, interval time.Duration, opts ...ProberOption) *Prober {
	if interval <= 0 {
		interval = constants.DefaultProbeInterval
	}
	p := &Prober{
		URL:      url,
		Interval: interval,
		client:   &http.Client{Timeout: interval},
		clock:    clockwork.NewRealClock(),
		logger:   logger.Nop(),
		state:    NewManual(false),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Prober) Subscribe(fn func(online bool)) func() {
	return p.state.Subscribe(fn)
}

// Current runs a probe now and returns its result.
func (p *Prober) Current(ctx context.Context) (bool, error) {
	online := p.probe(ctx)
	p.state.Set(online)
	return online, nil
}

// Run probes every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.Interval)
	defer ticker.Stop()

	p.state.Set(p.probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			p.state.Set(p.probe(ctx))
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, http.NoBody)
	if err != nil {
		p.logger.Error("connectivity.Prober failed to build probe request", "url", p.URL, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("connectivity.Prober probe failed", "url", p.URL, "error", fmt.Sprint(err))
		return false
	}
	resp.Body.Close()
	return true
}
