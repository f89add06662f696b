// Package allowlist decides whether an email may hold an account. Every
// decision is a fresh upstream read and every failure denies.
package allowlist

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"portal/internal/upstream"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/requestcontext"
)

// DefaultTimeout bounds one allow-list read.
const DefaultTimeout = 10 * time.Second

// Checker asks the external allow-list for a verdict.
type Checker interface {
	IsAuthorized(ctx context.Context, email id.Email) (bool, error)
}

// Verdict is the outcome of one allow-list check. It is never cached.
type Verdict struct {
	IsAuthorized bool
}

// Gate is the fail-closed authorization gate.
type Gate struct {
	checker Checker
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Gate)

func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func New(checker Checker, opts ...Option) (*Gate, error) {
	if checker == nil {
		return nil, errors.New("allow-list checker is required")
	}
	g := &Gate{
		checker: checker,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CheckAuthorized reports whether email is on the allow-list. Any failure,
// including a blank email, yields false.
func (g *Gate) CheckAuthorized(ctx context.Context, email string) bool {
	v, _ := g.Verify(ctx, email)
	return v.IsAuthorized
}

// Verify is CheckAuthorized with the reason for a negative verdict. A denial
// returns a false verdict and nil error. A verification failure returns a
// false verdict and a CodeUpstream error. Invalid input returns a
// CodeValidation error without touching the network.
func (g *Gate) Verify(ctx context.Context, email string) (Verdict, error) {
	parsed, err := id.ParseEmail(email)
	if err != nil {
		g.metrics.record(OutcomeInvalidInput)
		return Verdict{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ok, err := g.checker.IsAuthorized(ctx, parsed)
	if err != nil {
		g.metrics.record(OutcomeVerificationFailed)
		g.logger.WarnContext(ctx, "allow-list verification failed",
			"email", parsed.String(),
			"category", upstream.CategoryOf(err),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return Verdict{}, dErrors.Wrap(err, dErrors.CodeUpstream, "allow-list verification failed")
	}
	if !ok {
		g.metrics.record(OutcomeDenied)
		g.logger.InfoContext(ctx, "allow-list denied",
			"email", parsed.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return Verdict{}, nil
	}

	g.metrics.record(OutcomeAuthorized)
	g.logger.DebugContext(ctx, "allow-list authorized",
		"email", parsed.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return Verdict{IsAuthorized: true}, nil
}
