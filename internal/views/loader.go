// Package views builds the protected, read-only screens of the portal: the
// dashboard, group detail and agreement. Each screen owns a key-guarded
// loader per session so a late upstream response can never overwrite the
// state of a newer key.
package views

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"portal/pkg/requestcontext"
)

// ErrSuperseded is returned to callers whose load was replaced by a load for
// another key, or by a reset, before it resolved.
var ErrSuperseded = errors.New("views: load superseded")

// State is the lifecycle of a loader.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// FetchFunc performs one upstream read for key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Snapshot is a consistent copy of a loader's state.
type Snapshot[K comparable, V any] struct {
	Key      K
	State    State
	Value    V
	Err      error
	Resolved time.Time
}

type call[V any] struct {
	gen    uint64
	done   chan struct{}
	cancel context.CancelFunc
	value  V
	err    error
}

// Loader runs at most one fetch at a time. Every Load is a mount and issues
// one read, except that a Load for the key already in flight joins that
// fetch, and a Ready result younger than the freshness window is reused. A
// Load for a different key cancels the previous fetch; when that fetch
// resolves anyway, its result is discarded.
type Loader[K comparable, V any] struct {
	view      string
	fetch     FetchFunc[K, V]
	freshness time.Duration
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	gen      uint64
	key      K
	state    State
	value    V
	err      error
	resolved time.Time
	inflight *call[V]
}

// LoaderOption configures a Loader.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	freshness time.Duration
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// WithFreshness lets a Ready result be reused by later mounts for d.
func WithFreshness(d time.Duration) LoaderOption {
	return func(o *loaderOptions) { o.freshness = d }
}

func WithLoaderMetrics(m *Metrics) LoaderOption {
	return func(o *loaderOptions) { o.metrics = m }
}

func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(o *loaderOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLoaderClock overrides the clock used for freshness.
func WithLoaderClock(now func() time.Time) LoaderOption {
	return func(o *loaderOptions) { o.now = now }
}

// NewLoader returns an Idle loader for the named view.
func NewLoader[K comparable, V any](view string, fetch func(ctx context.Context, key K) (V, error), opts ...LoaderOption) *Loader[K, V] {
	o := loaderOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[K, V]{
		view:      view,
		fetch:     fetch,
		freshness: o.freshness,
		metrics:   o.metrics,
		logger:    o.logger,
		now:       o.now,
		state:     StateIdle,
	}
}

// Load returns the value for key. It blocks until the fetch resolves or ctx
// is done. Giving up on ctx does not cancel a fetch other callers may share.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	l.mu.Lock()
	if c := l.inflight; c != nil && l.key == key {
		l.mu.Unlock()
		l.metrics.recordJoined(l.view)
		return l.wait(ctx, c)
	}
	if l.state == StateReady && l.key == key && l.freshness > 0 && l.now().Sub(l.resolved) < l.freshness {
		v := l.value
		l.mu.Unlock()
		return v, nil
	}
	c := l.startLocked(ctx, key)
	l.mu.Unlock()
	return l.wait(ctx, c)
}

// Prefetch starts a load for key without waiting for it.
func (l *Loader[K, V]) Prefetch(ctx context.Context, key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight != nil && l.key == key {
		return
	}
	l.startLocked(ctx, key)
}

// Snapshot returns the current state.
func (l *Loader[K, V]) Snapshot() Snapshot[K, V] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot[K, V]{Key: l.key, State: l.state, Value: l.value, Err: l.err, Resolved: l.resolved}
}

// Reset cancels any fetch and returns the loader to Idle. Pending callers
// receive ErrSuperseded.
func (l *Loader[K, V]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	if l.inflight != nil {
		l.inflight.cancel()
		l.inflight = nil
	}
	var zeroK K
	var zeroV V
	l.key, l.value, l.err = zeroK, zeroV, nil
	l.state = StateIdle
	l.resolved = time.Time{}
}

// startLocked begins a new generation. The fetch context keeps the caller's
// values (request id, trace) but not its cancellation, since joined callers
// outlive the one that started it.
func (l *Loader[K, V]) startLocked(ctx context.Context, key K) *call[V] {
	if l.inflight != nil {
		l.inflight.cancel()
	}
	l.gen++
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call[V]{gen: l.gen, done: make(chan struct{}), cancel: cancel}

	l.inflight = c
	l.key = key
	l.state = StateLoading
	var zero V
	l.value, l.err = zero, nil

	go l.run(fetchCtx, key, c)
	return c
}

func (l *Loader[K, V]) run(ctx context.Context, key K, c *call[V]) {
	defer close(c.done)
	defer c.cancel()

	start := time.Now()
	v, err := l.fetch(ctx, key)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gen != c.gen || l.key != key {
		l.metrics.recordStale(l.view)
		l.logger.DebugContext(ctx, "discarded stale view response",
			"view", l.view,
			"request_id", requestcontext.RequestID(ctx),
		)
		c.err = ErrSuperseded
		return
	}

	l.inflight = nil
	l.resolved = l.now()
	if err != nil {
		l.state = StateFailed
		l.err = err
		c.err = err
	} else {
		l.state = StateReady
		l.value = v
		c.value = v
	}
	l.metrics.observeLoad(l.view, outcomeOf(err), time.Since(start))
}

func (l *Loader[K, V]) wait(ctx context.Context, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
