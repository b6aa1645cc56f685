// Package upstream is the single lookup capability behind every external data source the
// pipeline talks to. Clients describe a request, the fetcher owns timeouts, retries,
// the circuit breaker, tracing, metrics and the error taxonomy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 4 << 20

// Request describes one upstream call relative to the fetcher's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any // JSON-encoded when non-nil
}

// Response is a successful (2xx) upstream answer.
type Response struct {
	StatusCode int
	Body       []byte
}

// Fetcher is the universal interface all upstream clients are built on.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// HTTPFetcher implements Fetcher over JSON/HTTPS.
type HTTPFetcher struct {
	name            string
	baseURL         string
	client          *http.Client
	timeout         time.Duration
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	userAgent       string
	breaker         *Breaker
	metrics         *Metrics
	logger          *slog.Logger
	tracer          trace.Tracer
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.timeout = d }
}

// WithMaxAttempts bounds the total number of attempts, first call included.
func WithMaxAttempts(n int) Option {
	return func(f *HTTPFetcher) { f.maxAttempts = n }
}

// WithBackoff sets the exponential backoff window between attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.initialInterval = initial
		f.maxInterval = max
	}
}

// WithBreaker shares a circuit breaker; nil disables it.
func WithBreaker(b *Breaker) Option {
	return func(f *HTTPFetcher) { f.breaker = b }
}

func WithMetrics(m *Metrics) Option {
	return func(f *HTTPFetcher) { f.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *HTTPFetcher) { f.logger = l }
}

func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

// NewHTTPFetcher builds a fetcher for one upstream. Defaults: 5s per attempt, 3 attempts,
// 200ms..2s backoff, a fresh breaker.
func NewHTTPFetcher(name, baseURL string, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		name:            name,
		baseURL:         strings.TrimRight(baseURL, "/"),
		client:          &http.Client{},
		timeout:         5 * time.Second,
		maxAttempts:     3,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     2 * time.Second,
		userAgent:       "demarches/1.0",
		breaker:         NewBreaker(0, 0),
		logger:          slog.New(slog.DiscardHandler),
		tracer:          otel.Tracer("demarches/upstream"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.maxAttempts < 1 {
		f.maxAttempts = 1
	}
	return f
}

// Name returns the upstream label used in errors and metrics.
func (f *HTTPFetcher) Name() string {
	return f.name
}

// Fetch performs the request, retrying retryable failures with bounded exponential
// backoff. Caller cancellation is returned as the context error, never as a category.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, span := f.tracer.Start(ctx, "upstream."+f.name, trace.WithAttributes(
		attribute.String("upstream.name", f.name),
		attribute.String("http.request.method", method),
		attribute.String("upstream.path", req.Path),
	))
	defer span.End()

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, NewError(CategoryInternal, f.name, "encode request body", err)
		}
	}

	var resp *Response
	attempts := 0
	op := func() error {
		attempts++
		r, err := f.attempt(ctx, method, req, payload)
		if err != nil {
			if ctx.Err() == nil && IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.metrics.retry(f.name)
		f.logger.WarnContext(ctx, "upstream attempt failed, retrying",
			"upstream", f.name,
			"path", req.Path,
			"attempt", attempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, f.policy(ctx), notify)
	span.SetAttributes(attribute.Int("upstream.attempts", attempts))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

func (f *HTTPFetcher) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.initialInterval
	exp.MaxInterval = f.maxInterval
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.maxAttempts-1)), ctx)
}

func (f *HTTPFetcher) attempt(ctx context.Context, method string, req Request, payload []byte) (*Response, error) {
	if f.breaker != nil && !f.breaker.Allow() {
		f.metrics.observe(f.name, "circuit_open", 0)
		return nil, NewError(CategoryUnavailable, f.name, "circuit open", nil)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, f.url(req), body)
	if err != nil {
		return nil, NewError(CategoryInternal, f.name, "build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", f.userAgent)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTimeout(err) {
			// the attempt deadline is ours, not the caller's, so it stays out of the chain
			f.fail(CategoryTimeout, start)
			return nil, NewError(CategoryTimeout, f.name, fmt.Sprintf("no answer within %s", f.timeout), nil)
		}
		f.fail(CategoryUnavailable, start)
		return nil, NewError(CategoryUnavailable, f.name, "request failed", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.fail(CategoryUnavailable, start)
		return nil, NewError(CategoryUnavailable, f.name, "read response body", err)
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if f.breaker != nil {
			f.breaker.RecordSuccess()
		}
		f.metrics.observe(f.name, "ok", time.Since(start))
		return &Response{StatusCode: res.StatusCode, Body: data}, nil
	}

	category := StatusCategory(res.StatusCode)
	ue := NewError(category, f.name, fmt.Sprintf("status %d: %s", res.StatusCode, snippet(data)), nil)
	ue.StatusCode = res.StatusCode
	if ue.Retryable {
		f.fail(category, start)
	} else {
		// a 4xx still proves the upstream is reachable
		if f.breaker != nil {
			f.breaker.RecordSuccess()
		}
		f.metrics.observe(f.name, string(category), time.Since(start))
	}
	return nil, ue
}

func (f *HTTPFetcher) fail(category Category, start time.Time) {
	if f.breaker != nil {
		f.breaker.RecordFailure()
	}
	f.metrics.observe(f.name, string(category), time.Since(start))
}

func (f *HTTPFetcher) url(req Request) string {
	u := f.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
