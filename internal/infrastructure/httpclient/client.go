// Package httpclient is the outbound HTTP client shared by the remote
// diagnostics reporter and the simulator's page fetch.
//
// Built on go-resty/resty over a go-retryablehttp transport:
//   - retries with exponential backoff on transient failures
//   - a circuit breaker so a dead collaborator is not hammered
//   - a per-client token bucket
//
// Example Usage:
//
//	c := httpclient.New(httpclient.Options{UserAgent: "injectsim/1.0"})
//	resp, err := c.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
//		return r.Get(url)
//	})
package httpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/injectcore/internal/infrastructure/resilience"
)

// Client wraps resty with rate limiting and a circuit breaker
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker
	mu      sync.RWMutex
}

// Options configures a Client. Zero values take the defaults.
type Options struct {
	Name       string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	// RPS limits outgoing requests; zero means unlimited
	RPS float64
	// Breaker overrides the client's own breaker
	Breaker *resilience.Breaker
}

// New creates a client with a retrying transport and a circuit breaker
func New(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "http-external"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "injectcore/1.0"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MinWait == 0 {
		opts.MinWait = 1 * time.Second
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.MaxRetries
	retryClient.RetryWaitMin = opts.MinWait
	retryClient.RetryWaitMax = opts.MaxWait
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.MinWait).
		SetRetryMaxWaitTime(opts.MaxWait).
		SetHeader("User-Agent", opts.UserAgent)
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.New(opts.Name, resilience.Settings{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				// Trip on 10 consecutive failures or >70% failures over 20+ requests
				return counts.ConsecutiveFailures >= 10 ||
					(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
			},
		})
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &Client{
		Resty:   restyClient,
		Limiter: limiter,
		Breaker: breaker,
	}
}

// SetBearerAuth sends token as a bearer credential on every request
func (c *Client) SetBearerAuth(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetAuthToken(token)
}

// Request creates a new request after the breaker and rate limiter let it through
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if c.Breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Resty.R().SetContext(ctx), nil
}

// Do runs send under the circuit breaker. A response with status >= 500
// counts as a breaker failure and is returned with an error.
func (c *Client) Do(ctx context.Context, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	req, err := c.Request(ctx)
	if err != nil {
		return nil, err
	}

	var resp *resty.Response
	err = c.Breaker.Execute(func() error {
		var sendErr error
		resp, sendErr = send(req)
		if sendErr != nil {
			return sendErr
		}
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("%w: %s", ErrServerStatus, resp.Status())
		}
		return nil
	})
	if resilience.Rejected(err) {
		return nil, fmt.Errorf("external service unavailable: %w", err)
	}
	return resp, err
}
