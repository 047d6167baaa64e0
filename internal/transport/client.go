// Package transport provides a shared, resilient HTTP client for Cortex's
// outbound calls (platform API, code host API, health checks), wrapping
// each remote in a circuit breaker and a rate limiter so a flaky or slow
// dependency degrades gracefully instead of raising or cascading.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Client wraps *http.Client with a named circuit breaker and a token-bucket
// rate limiter, grounded on the spec's failure contract for adapter calls:
// every call returns an empty/zero value and logs the error, never raises.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// New builds a Client named name (used in logs and breaker state changes),
// bounded by timeout, allowing requestsPerSecond sustained with bursts of up
// to burst requests.
func New(name string, timeout time.Duration, requestsPerSecond float64, burst int) *Client {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &Client{
		name:    name,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Do executes req through the rate limiter and circuit breaker. On any
// failure (limiter wait error, breaker-open, transport error, or a 5xx
// status) it returns a non-nil error and the caller is expected to treat
// the call as a transport failure per spec: log and degrade, never panic.
// Responses below 500 (including 4xx) are returned as-is for the caller to
// inspect.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", c.name, err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
			resp.Body.Close()
			return nil, fmt.Errorf("%s: server error %d: %s", c.name, resp.StatusCode, body)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// PostJSON is a convenience wrapper for the common case of POSTing a JSON
// body and reading back the raw response bytes.
func (c *Client) PostJSON(ctx context.Context, url string, body io.Reader, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}
