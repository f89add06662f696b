// Package upstream is the client for the spreadsheet-backed read API. Every
// read is a GET against one endpoint, selected by the action query parameter.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	id "portal/pkg/domain"
)

// Actions understood by the upstream endpoint.
const (
	ActionIsAuthorized     = "isAuthorized"
	ActionGetUserDashboard = "getUserDashboard"
	ActionGetGroupDetails  = "getGroupDetails"
)

const maxBodyBytes = 4 << 20

// Client performs action-keyed reads. It never retries and never caches.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	timeout time.Duration
	tracer  trace.Tracer
	metrics *Metrics
}

type Option func(*Client)

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every call. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records call latency and outcome.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream: invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{},
		timeout: 10 * time.Second,
		tracer:  otel.Tracer("portal/internal/upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsAuthorized asks the allow-list for a verdict. Any failure to obtain an
// explicit boolean is returned as an error; the caller decides how to fail.
func (c *Client) IsAuthorized(ctx context.Context, email id.Email) (bool, error) {
	var resp allowListResponse
	if err := c.get(ctx, ActionIsAuthorized, url.Values{"email": {email.String()}}, &resp); err != nil {
		return false, err
	}
	if resp.IsAuthorized == nil {
		return false, newError(CategoryBadData, ActionIsAuthorized, "isAuthorized field missing", nil)
	}
	return *resp.IsAuthorized, nil
}

// UserDashboard reads the investor summary and ledger.
func (c *Client) UserDashboard(ctx context.Context, email id.Email) (*Dashboard, error) {
	var d Dashboard
	if err := c.get(ctx, ActionGetUserDashboard, url.Values{"email": {email.String()}}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GroupDetails reads the composition of one investment group.
func (c *Client) GroupDetails(ctx context.Context, groupID id.GroupID) (*GroupDetails, error) {
	var g GroupDetails
	if err := c.get(ctx, ActionGetGroupDetails, url.Values{"groupId": {groupID.String()}}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) get(ctx context.Context, action string, params url.Values, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "upstream."+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("upstream.action", action)),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(CategoryOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("upstream.outcome", outcome))
		span.End()
		c.metrics.observe(action, outcome, time.Since(start))
	}()

	u := *c.baseURL
	q := u.Query()
	q.Set("action", action)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return newError(CategoryNetwork, action, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return newError(CategoryTimeout, action, "request timed out", err)
		}
		return newError(CategoryNetwork, action, "request failed", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return newError(CategoryTimeout, action, "reading body timed out", err)
		}
		return newError(CategoryNetwork, action, "read body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := newError(CategoryBadStatus, action, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		e.StatusCode = resp.StatusCode
		return e
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return newError(CategoryBadData, action, "malformed JSON", err)
	}
	if msg, ok := env.errorText(); ok {
		return newError(CategoryUpstreamData, action, msg, nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(CategoryBadData, action, "unexpected payload shape", err)
	}
	return nil
}
