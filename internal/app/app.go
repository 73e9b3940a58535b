// Package app wires the queue, socket and their collaborators from a
// config.Config and runs them until the context is cancelled.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kinesphere/resync/internal/config"
	"github.com/kinesphere/resync/pkg/connectivity"
	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/logger"
	"github.com/kinesphere/resync/pkg/logger/zaplogger"
	"github.com/kinesphere/resync/pkg/logger/zerologger"
	"github.com/kinesphere/resync/pkg/metrics"
	"github.com/kinesphere/resync/pkg/queue"
	"github.com/kinesphere/resync/pkg/socket"
	"github.com/kinesphere/resync/pkg/socket/gorillaws"
	"github.com/kinesphere/resync/pkg/socket/gwsdial"
	"github.com/kinesphere/resync/pkg/store"
	"github.com/kinesphere/resync/pkg/store/sqlitestore"
	"github.com/kinesphere/resync/pkg/transport/httpapi"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	Config       *config.Config
	Logger       logger.Logger
	Store        store.Store
	Connectivity connectivity.Observer
	Queue        *queue.Queue
	// Socket is nil when socket.url is not configured.
	Socket  *socket.Socket
	Metrics *metrics.Metrics

	prober   *connectivity.Prober
	registry *prometheus.Registry
	closers  []func() error
}

type options struct {
	logOutput    io.Writer
	connectivity connectivity.Observer
	transport    queue.Transport
	dialer       socket.Dialer
}

type Option func(*options)

// WithLogOutput sends slog and zerolog output to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithConnectivity replaces the configured connectivity source.
func WithConnectivity(obs connectivity.Observer) Option {
	return func(o *options) { o.connectivity = obs }
}

// WithTransport replaces the HTTP delivery client.
func WithTransport(t queue.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithDialer replaces the configured websocket dialer.
func WithDialer(d socket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// New builds every component. Nothing touches the network until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg}

	log, closeLog, err := NewLogger(cfg.Logging, o.logOutput)
	if err != nil {
		return nil, err
	}
	a.Logger = log
	a.closers = append(a.closers, closeLog)

	st, closeStore, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, closeStore)

	a.registry = prometheus.NewRegistry()
	a.Metrics = metrics.New(a.registry)

	switch {
	case o.connectivity != nil:
		a.Connectivity = o.connectivity
	case cfg.Connectivity.ProbeURL != "":
		a.prober = connectivity.NewProber(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeInterval,
			connectivity.WithLogger(log))
		a.Connectivity = a.prober
	default:
		a.Connectivity = connectivity.NewManual(true)
	}

	transport := o.transport
	if transport == nil {
		transport = httpapi.New(cfg.API.BaseURL, st).
			SetTimeout(cfg.API.Timeout).
			SetLogger(log)
	}

	a.Queue = queue.New(st, a.Connectivity, transport,
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithRetryDelay(cfg.Queue.RetryDelay),
		queue.WithStorageKey(cfg.Queue.StorageKey),
		queue.WithLogger(log),
		queue.WithMetrics(a.Metrics),
		queue.WithOnDropped(func(r queue.Request) {
			log.Warn("app.App request dropped", "id", r.ID, "method", r.Method, "endpoint", r.Endpoint, "attempts", r.Attempts)
		}),
	)

	if cfg.Socket.URL != "" {
		dialer := o.dialer
		if dialer == nil {
			dialer = newDialer(cfg.Socket.Dialer, log)
		}
		a.Socket = socket.New(cfg.Socket.URL, dialer, st,
			socket.WithRetryer(NewRetryer(cfg.Socket)),
			socket.WithLogger(log),
			socket.WithMetrics(a.Metrics),
			socket.WithOnGiveUp(func(lastErr error) {
				log.Error("app.App socket gave up reconnecting", "error", lastErr)
			}),
			socket.WithUnhandled(func(msgType string, payload json.RawMessage) {
				log.Info("app.App socket message", "type", msgType, "payload", string(payload))
			}),
		)
	}

	return a, nil
}

func newDialer(name string, log logger.Logger) socket.Dialer {
	if name == "gws" {
		d := gwsdial.New()
		d.Logger = log
		return d
	}
	d := gorillaws.New()
	d.Logger = log
	return d
}

// NewRetryer builds the reconnect strategy named by cfg.Backoff.
func NewRetryer(cfg config.SocketConfig) socket.Retryer {
	switch cfg.Backoff {
	case "exponential":
		return socket.NewExponentialBackoffRetryer(cfg.ReconnectDelay, cfg.MaxReconnectDelay, cfg.MaxReconnectAttempts)
	case "fixed":
		return socket.NewFixedDelayRetryer(cfg.ReconnectDelay, cfg.MaxReconnectAttempts)
	default:
		return socket.NewLinearBackoffRetryer(cfg.ReconnectDelay, cfg.MaxReconnectAttempts)
	}
}

// NewLogger builds the configured logging backend writing to w.
// The returned function flushes or closes the backend.
func NewLogger(cfg config.LoggingConfig, w io.Writer) (logger.Logger, func() error, error) {
	switch cfg.Backend {
	case "zerolog":
		l, err := zerologger.New().FromBuffer(w).WithLevel(cfg.Level).Make()
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	case "zap":
		l, err := zaplogger.NewProduction(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build zap logger: %w", err)
		}
		return l, l.Sync, nil
	default:
		handlerOpts := &slog.HandlerOptions{Level: logger.ParseLevel(cfg.Level)}
		var h slog.Handler
		if cfg.Format == "json" {
			h = slog.NewJSONHandler(w, handlerOpts)
		} else {
			h = slog.NewTextHandler(w, handlerOpts)
		}
		return logger.New(h), func() error { return nil }, nil
	}
}

// OpenStore opens the configured key/value backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil
	case "file":
		f, err := store.NewFile(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() error { return nil }, nil
	default:
		s, err := sqlitestore.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

// Run loads the persisted queue, starts the prober, connects the socket when a
// credential is stored and serves metrics. It blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Queue.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.Logger.Info("app.App queue ready", "pending", a.Queue.Size())

	if a.prober != nil {
		go func() {
			if err := a.prober.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("app.App prober stopped", "error", err)
			}
		}()
	}

	if a.Socket != nil {
		if err := a.connectSocket(ctx); err != nil {
			_ = a.Queue.Close()
			return err
		}
	}

	serverErr := make(chan error, 1)
	var srv *http.Server
	if a.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		srv = &http.Server{Addr: a.Config.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.Logger.Info("app.App serving metrics", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("app.App shutting down")
	case runErr = <-serverErr:
		a.Logger.Error("app.App metrics server failed", "error", runErr)
		runErr = fmt.Errorf("metrics server: %w", runErr)
	}

	if a.Socket != nil {
		a.Socket.Disconnect()
	}
	if err := a.Queue.Close(); err != nil {
		a.Logger.Warn("app.App failed to close queue", "error", err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("app.App failed to stop metrics server", "error", err)
		}
	}
	return runErr
}

func (a *App) connectSocket(ctx context.Context) error {
	credential, err := a.Store.Get(ctx, constants.CredentialKey)
	if errors.Is(err, store.ErrNotFound) {
		a.Logger.Warn("app.App no credential stored, socket not connected", "key", constants.CredentialKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credential: %w", err)
	}
	if err := a.Socket.Connect(ctx, credential); err != nil {
		return fmt.Errorf("failed to connect socket: %w", err)
	}
	return nil
}

// Close releases the store and flushes the logger. Run must have returned.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
