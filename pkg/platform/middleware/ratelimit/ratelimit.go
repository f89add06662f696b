// Package ratelimit throttles requests per client IP with a token bucket.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/httputil"
	"portal/pkg/requestcontext"
)

const (
	DefaultCleanupInterval = 3 * time.Minute
	DefaultIdleTimeout     = 5 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one bucket per client IP. Idle buckets are evicted by
// Run or Sweep.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client

	rps         rate.Limit
	burst       int
	idleTimeout time.Duration
	interval    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Limiter)

func WithIdleTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.idleTimeout = d
		}
	}
}

func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(perSecond float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{
		clients:     make(map[string]*client),
		rps:         rate.Limit(perSecond),
		burst:       burst,
		idleTimeout: DefaultIdleTimeout,
		interval:    DefaultCleanupInterval,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether ip may proceed now. When it may not, the returned
// duration is how long until the next token.
func (l *Limiter) Allow(ip string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	r := c.limiter.ReserveN(now, 1)
	l.mu.Unlock()

	if !r.OK() {
		return false, 0
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
// It expects the client IP in the request context.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		if ip == "" {
			ip = "unknown"
		}

		ok, wait := l.Allow(ip)
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			l.logger.WarnContext(ctx, "rate limit exceeded",
				"path", r.URL.Path,
				"retry_after_seconds", seconds,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeTooManyRequest, "too many requests, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep drops buckets idle for longer than the idle timeout and returns how
// many were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idleTimeout)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Run sweeps on every cleanup interval until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("evicted idle rate limit buckets", "count", n)
			}
		}
	}
}
