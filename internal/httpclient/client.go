// Package httpclient provides the production HTTP client used for all
// outbound calls (the repair collaborator). It layers retries, a circuit
// breaker, and a rate limiter over resty.
package httpclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/codefence/codefence/internal/infrastructure/resilience"
)

// Client wraps resty with rate limiting and a circuit breaker.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// Options configures a client.
type Options struct {
	Name       string
	Timeout    time.Duration
	MaxRetries int
	RPS        rate.Limit
	Burst      int
}

// DefaultOptions returns sane defaults for a collaborator client.
func DefaultOptions(name string) Options {
	return Options{
		Name:       name,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RPS:        rate.Inf,
	}
}

// New creates a client with retries, breaker, and limiter wired in.
func New(opts Options) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.MaxRetries
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "codefence/1.0")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breaker := resilience.New(opts.Name, resilience.Settings{
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	burst := opts.Burst
	if burst <= 0 && opts.RPS != rate.Inf {
		// A finite rate with zero burst admits nothing.
		burst = 1
	}
	limiter := rate.NewLimiter(opts.RPS, burst)

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: breaker,
	}
}

// Breaker exposes the client's circuit breaker (for health reporting).
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// PostJSON performs a POST with a JSON body, decoding the response into out
// when out is non-nil. The call passes through the limiter and breaker.
func (c *Client) PostJSON(ctx context.Context, url string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	return c.breaker.Execute(func() error {
		req := c.resty.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body)
		if out != nil {
			req.SetResult(out)
		}

		resp, err := req.Post(url)
		if err != nil {
			return fmt.Errorf("post %s: %w", url, err)
		}
		if resp.IsError() {
			return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode(), resp.String())
		}
		return nil
	})
}

// Get performs a GET returning the raw response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body []byte
	err := c.breaker.Execute(func() error {
		resp, err := c.resty.R().SetContext(ctx).Get(url)
		if err != nil {
			return fmt.Errorf("get %s: %w", url, err)
		}
		if resp.IsError() {
			return fmt.Errorf("get %s: status %d", url, resp.StatusCode())
		}
		body = resp.Body()
		return nil
	})
	return body, err
}
