// Package fetch retrieves published source payloads and decodes them into
// raw tables.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/observability"
)

const userAgent = "civic-map-etl/1.0"

// Options configures the download client.
type Options struct {
	Timeout time.Duration
	Retries int
	// RetryWait is the initial backoff between retries.
	RetryWait time.Duration
	// Rate limits outbound requests per second across all sources.
	Rate float64
}

// Client downloads source payloads over HTTP with retries, a shared rate
// limit and a circuit breaker per source.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient creates a download client.
func NewClient(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if opts.RetryWait <= 0 {
		opts.RetryWait = 250 * time.Millisecond
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}

	httpClient := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(8 * opts.RetryWait)
	httpClient.AddRetryCondition(retryCondition)

	return &Client{
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// retryCondition retries network errors, server errors and throttling.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// callerAbortError marks a request abandoned because the caller's context
// ended. It does not count against the source's breaker.
type callerAbortError struct {
	err error
}

func (e *callerAbortError) Error() string { return e.err.Error() }
func (e *callerAbortError) Unwrap() error { return e.err }

func countsAsSuccess(err error) bool {
	var ca *callerAbortError
	return err == nil || errors.As(err, &ca)
}

// Download retrieves the payload published at def.URL. Failures are returned
// as *domain.FetchError.
func (c *Client) Download(ctx context.Context, def domain.SourceDefinition) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{Source: def.Name, URL: def.URL, Err: err}
	}

	start := time.Now()
	out, err := c.breaker(def.Name).Execute(func() (interface{}, error) {
		resp, err := c.http.R().SetContext(ctx).Get(def.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &callerAbortError{err: err}
			}
			return nil, err
		}
		if !resp.IsSuccess() {
			return nil, &statusError{code: resp.StatusCode()}
		}
		return resp.Body(), nil
	})
	c.metrics.FetchDuration.WithLabelValues(def.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		c.metrics.FetchRequests.WithLabelValues(def.Name, "error").Inc()
		fe := &domain.FetchError{Source: def.Name, URL: def.URL, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			fe.StatusCode = se.code
		}
		return nil, fe
	}

	body := out.([]byte)
	c.metrics.FetchRequests.WithLabelValues(def.Name, "success").Inc()
	c.logger.Debug("source downloaded", "source", def.Name, "bytes", len(body), "duration", time.Since(start))
	return body, nil
}

func (c *Client) breaker(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
		IsSuccessful: countsAsSuccess,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"source", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	c.breakers[name] = cb
	return cb
}
