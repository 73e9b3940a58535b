// Package queue implements a durable, ordered, at-least-once queue for
// mutating API calls made while the client is offline.
//
// Requests are persisted to a store.Store after every mutation and replayed
// in enqueue order whenever the connectivity observer reports the network is
// back. Each request gets a bounded number of attempts; after that it is
// dropped and reported through the WithOnDropped hook.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kinesphere/resync/internal/codec"
	"github.com/kinesphere/resync/pkg/connectivity"
	"github.com/kinesphere/resync/pkg/constants"
	"github.com/kinesphere/resync/pkg/logger"
	"github.com/kinesphere/resync/pkg/metrics"
	"github.com/kinesphere/resync/pkg/store"
)

// ErrUnsupportedMethod is returned by Enqueue for verbs other than
// GET, POST, PATCH and DELETE.
var ErrUnsupportedMethod = constants.ErrUnsupportedMethod

type Queue struct {
	store        store.Store
	connectivity connectivity.Observer
	transport    Transport

	codec      codec.Codec
	logger     logger.Logger
	clock      clockwork.Clock
	metrics    *metrics.Metrics
	onDropped  func(Request)
	storageKey string

	maxAttempts int
	retryDelay  time.Duration

	// ctx is the parent of background drains. It is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards everything below and is held across persistence writes,
	// so the store always sees snapshots in mutation order.
	// It is never held across a transport call.
	mu          sync.Mutex
	items       []Request
	initialized bool
	// loaded is set once the persisted queue has been merged. Until then
	// writes would clobber the stored queue, so only Clear persists.
	loaded      bool
	closed      bool
	unsubscribe func()
	retryTimer  clockwork.Timer

	// draining is held for the duration of a drain pass.
	// TryLock on it is the guard against overlapping passes.
	draining sync.Mutex

	// background tracks drains started by kick, so Close can wait for them.
	background sync.WaitGroup
}

// New creates a Queue. Call Initialize before use to load the persisted
// requests and start listening for connectivity changes.
func New(s store.Store, c connectivity.Observer, t Transport, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		store:        s,
		connectivity: c,
		transport:    t,
		codec:        codec.JSON{},
		logger:       logger.Nop(),
		clock:        clockwork.NewRealClock(),
		storageKey:   constants.QueueStorageKey,
		maxAttempts:  constants.DefaultMaxAttempts,
		retryDelay:   constants.DefaultRetryDelay,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Initialize loads the persisted queue and subscribes to connectivity changes.
// It is idempotent. When requests are pending and the network is available a
// drain starts in the background.
//
// A store that cannot be read is logged and treated as empty; the queue keeps
// working in memory.
func (q *Queue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return constants.ErrClosed
	}
	if q.initialized {
		q.mu.Unlock()
		return nil
	}
	q.initialized = true
	q.mu.Unlock()

	loaded := q.load(ctx)

	q.mu.Lock()
	// Requests enqueued before Initialize are newer than anything persisted.
	early := len(q.items)
	if len(loaded) > 0 {
		q.items = append(loaded, q.items...)
	}
	q.loaded = true
	if early > 0 {
		q.persistLocked(ctx)
	}
	size := len(q.items)
	q.unsubscribe = q.connectivity.Subscribe(q.onConnectivityChange)
	q.mu.Unlock()

	q.metrics.SetQueueSize(size)
	q.logger.Debug("queue.Queue initialized", "pending", size)

	if size == 0 {
		return nil
	}

	online, err := q.connectivity.Current(ctx)
	if err != nil {
		q.logger.Warn("queue.Queue failed to read connectivity", "error", err)
		return nil
	}
	if online {
		q.kick()
	}
	return nil
}

func (q *Queue) onConnectivityChange(online bool) {
	if !online {
		q.logger.Debug("queue.Queue went offline")
		return
	}
	q.logger.Info("queue.Queue connectivity regained, draining")
	q.kick()
}

// Enqueue appends a request and persists the queue, then starts a drain in the
// background. It never waits on the network. Before Initialize the request is
// only held in memory.
//
// payload may be nil, a json.RawMessage, or any value encodable as JSON.
// An unsupported method is logged and ignored, and ErrUnsupportedMethod is returned.
func (q *Queue) Enqueue(ctx context.Context, endpoint string, method Method, payload any) error {
	if !method.Valid() {
		q.logger.Warn("queue.Queue ignoring request with unsupported method", "method", method, "endpoint", endpoint)
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	raw, err := q.encodePayload(payload)
	if err != nil {
		q.logger.Warn("queue.Queue ignoring request with unencodable payload", "endpoint", endpoint, "error", err)
		return fmt.Errorf("queue.Queue failed to encode payload for %s: %w", endpoint, err)
	}

	req := Request{
		ID:          uuid.NewString(),
		Endpoint:    endpoint,
		Method:      method,
		Payload:     raw,
		Timestamp:   q.clock.Now().UnixMilli(),
		Attempts:    0,
		MaxAttempts: q.maxAttempts,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return constants.ErrClosed
	}
	q.items = append(q.items, req)
	q.persistLocked(ctx)
	size := len(q.items)
	q.mu.Unlock()

	q.metrics.Enqueued(size)
	q.logger.Debug("queue.Queue enqueued request", "id", req.ID, "method", method, "endpoint", endpoint, "pending", size)

	q.kick()
	return nil
}

func (q *Queue) encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("invalid JSON payload")
		}
		return slices.Clone(p), nil
	default:
		data, err := q.codec.Marshal(p)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}
}

// kick starts a drain pass on its own goroutine.
func (q *Queue) kick() {
	q.mu.Lock()
	// Before Initialize the persisted requests are not in memory yet and
	// would be overtaken. Initialize kicks once they are merged.
	if q.closed || !q.loaded {
		q.mu.Unlock()
		return
	}
	q.background.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.background.Done()
		q.TryProcessQueue(q.ctx)
	}()
}

// TryProcessQueue runs one drain pass: every queued request is attempted in
// enqueue order through the Transport.
//
// It returns immediately when another pass is in progress, including when it
// is called from inside a Transport attempt of the running pass, before
// Initialize has loaded the persisted queue, and when the connectivity
// observer reports offline. Requests that fail keep their place
// and their incremented attempt count; requests that reach their attempt budget
// are dropped. If anything is left afterwards another pass is scheduled after
// the retry delay.
//
// Requests enqueued while a pass is running are not part of that pass. They
// are picked up by the scheduled follow-up pass.
func (q *Queue) TryProcessQueue(ctx context.Context) {
	if !q.draining.TryLock() {
		q.logger.Debug("queue.Queue drain already in progress")
		q.metrics.Drained("skipped", q.Size())
		return
	}
	defer q.draining.Unlock()

	q.mu.Lock()
	loaded := q.loaded
	q.mu.Unlock()
	if !loaded {
		q.logger.Debug("queue.Queue not initialized, skipping drain")
		return
	}

	online, err := q.connectivity.Current(ctx)
	if err != nil {
		q.logger.Warn("queue.Queue failed to read connectivity", "error", err)
		return
	}
	if !online {
		q.logger.Debug("queue.Queue is offline, skipping drain")
		q.metrics.Drained("offline", q.Size())
		return
	}

	q.mu.Lock()
	pending := slices.Clone(q.items)
	q.mu.Unlock()

	if len(pending) == 0 {
		q.metrics.Drained("empty", 0)
		return
	}

	q.logger.Debug("queue.Queue draining", "pending", len(pending))

	removed := make(map[string]struct{}, len(pending))
	attempts := make(map[string]int, len(pending))
	var dropped []Request

	for _, req := range pending {
		if ctx.Err() != nil {
			break
		}

		err := q.transport.Attempt(ctx, req.Endpoint, req.Method, req.Payload)
		if err == nil {
			removed[req.ID] = struct{}{}
			q.metrics.Delivered()
			q.logger.Debug("queue.Queue delivered request", "id", req.ID, "endpoint", req.Endpoint)
			continue
		}
		if ctx.Err() != nil {
			// Interrupted by shutdown, not a delivery outcome.
			break
		}

		req.Attempts++
		q.metrics.AttemptFailed()
		if req.Exhausted() {
			removed[req.ID] = struct{}{}
			dropped = append(dropped, req)
			q.metrics.Dropped()
			q.logger.Warn("queue.Queue dropping request after max attempts",
				"id", req.ID, "method", req.Method, "endpoint", req.Endpoint,
				"attempts", req.Attempts, "error", err)
			continue
		}
		attempts[req.ID] = req.Attempts
		q.logger.Debug("queue.Queue delivery failed, will retry",
			"id", req.ID, "endpoint", req.Endpoint, "attempts", req.Attempts, "error", err)
	}

	q.mu.Lock()
	// Merge into the live slice so requests enqueued during the pass survive.
	kept := make([]Request, 0, len(q.items))
	for _, item := range q.items {
		if _, ok := removed[item.ID]; ok {
			continue
		}
		if n, ok := attempts[item.ID]; ok {
			item.Attempts = n
		}
		kept = append(kept, item)
	}
	q.items = kept
	if len(removed) > 0 || len(attempts) > 0 {
		q.persistLocked(ctx)
	}
	remaining := len(q.items)
	if remaining > 0 {
		q.scheduleRetryLocked()
	}
	q.mu.Unlock()

	outcome := "complete"
	if remaining > 0 {
		outcome = "partial"
	}
	q.metrics.Drained(outcome, remaining)
	q.logger.Debug("queue.Queue drain finished", "delivered_or_dropped", len(removed), "remaining", remaining)

	if q.onDropped != nil {
		for _, req := range dropped {
			q.onDropped(req)
		}
	}
}

func (q *Queue) scheduleRetryLocked() {
	if q.closed || q.retryTimer != nil {
		return
	}
	q.retryTimer = q.clock.AfterFunc(q.retryDelay, func() {
		q.mu.Lock()
		q.retryTimer = nil
		q.mu.Unlock()
		q.kick()
	})
}

// Size returns the number of pending requests.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the pending requests in delivery order.
func (q *Queue) Items() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Request, len(q.items))
	for i, item := range q.items {
		item.Payload = slices.Clone(item.Payload)
		out[i] = item
	}
	return out
}

// Clear drops every pending request and persists the empty queue,
// for example on logout.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.items = nil
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.writeLocked(ctx)
	q.mu.Unlock()

	q.metrics.SetQueueSize(0)
	q.logger.Info("queue.Queue cleared")
}

// Close stops listening for connectivity changes, cancels the pending retry
// and waits for background drains to return. The persisted queue is kept.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	unsubscribe := q.unsubscribe
	q.unsubscribe = nil
	q.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	q.cancel()
	q.background.Wait()
	return nil
}

func (q *Queue) load(ctx context.Context) []Request {
	data, err := q.store.Get(ctx, q.storageKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		q.logger.Error("queue.Queue failed to load persisted queue, continuing in memory", "error", err)
		return nil
	}

	var items []Request
	if err := q.codec.Unmarshal([]byte(data), &items); err != nil {
		q.logger.Error("queue.Queue discarding unreadable persisted queue", "error", err)
		return nil
	}

	valid := items[:0]
	for _, item := range items {
		if item.ID == "" || !item.Method.Valid() {
			q.logger.Warn("queue.Queue discarding invalid persisted request", "id", item.ID, "method", item.Method)
			continue
		}
		if item.MaxAttempts <= 0 {
			item.MaxAttempts = q.maxAttempts
		}
		valid = append(valid, item)
	}
	return valid
}

func (q *Queue) persistLocked(ctx context.Context) {
	if !q.loaded {
		return
	}
	q.writeLocked(ctx)
}

func (q *Queue) writeLocked(ctx context.Context) {
	items := q.items
	if items == nil {
		items = []Request{}
	}
	data, err := q.codec.Marshal(items)
	if err != nil {
		q.logger.Error("BUG: queue.Queue failed to encode queue", "error", err)
		return
	}
	// A drain interrupted by Close still records its outcomes.
	if err := q.store.Set(context.WithoutCancel(ctx), q.storageKey, string(data)); err != nil {
		q.logger.Error("queue.Queue failed to persist queue, continuing in memory", "error", err)
	}
}
