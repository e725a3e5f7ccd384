package llmclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"relaygate/internal/core"
)

// ErrCircuitOpen means the provider's breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// maxErrorBody caps how much of a failed upstream body is read for the log.
const maxErrorBody = 64 << 10

// Config holds configuration for the upstream client
type Config struct {
	// CircuitBreaker enables per-provider breakers when non-nil.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	cb := DefaultCircuitBreakerConfig()
	return Config{CircuitBreaker: &cb}
}

// Client sends CallSpecs upstream. It never retries: choosing the next
// provider is the caller's job.
type Client struct {
	httpClient *http.Client
	config     Config

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	now      func() time.Time
}

// New creates a client on top of httpClient.
func New(httpClient *http.Client, config Config) *Client {
	return &Client{
		httpClient: httpClient,
		config:     config,
		breakers:   make(map[string]*circuitBreaker),
		now:        time.Now,
	}
}

func (c *Client) breaker(provider string) *circuitBreaker {
	if c.config.CircuitBreaker == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[provider]
	if !ok {
		cb = newCircuitBreaker(*c.config.CircuitBreaker, c.now)
		c.breakers[provider] = cb
	}
	return cb
}

// Do sends spec and returns the upstream response when the status is 2xx.
// The caller owns and must close the response body. Any other status is read,
// closed and returned as a *core.GatewayError of kind Upstream.
func (c *Client) Do(ctx context.Context, spec *CallSpec) (*http.Response, error) {
	cb := c.breaker(spec.Provider)
	if cb != nil && !cb.Allow() {
		return nil, &core.GatewayError{
			Kind:     core.KindUpstream,
			Message:  "provider temporarily unavailable",
			Provider: spec.Provider,
			Err:      ErrCircuitOpen,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return nil, core.NewInternalError("failed to create upstream request", err)
	}
	for key, values := range spec.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// The caller giving up says nothing about the provider's health.
		if cb != nil && ctx.Err() == nil {
			cb.RecordFailure()
		}
		return nil, &core.GatewayError{
			Kind:     core.KindUpstream,
			Message:  "failed to send request: " + err.Error(),
			Provider: spec.Provider,
			Err:      err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()

		if cb != nil && (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests) {
			cb.RecordFailure()
		}
		return nil, core.ParseProviderError(spec.Provider, resp.StatusCode, respBody, nil)
	}

	if cb != nil {
		cb.RecordSuccess()
	}
	return resp, nil
}

// ReportFailure records a failure noticed after Do returned, such as a body
// that could not be read in time.
func (c *Client) ReportFailure(provider string) {
	if cb := c.breaker(provider); cb != nil {
		cb.RecordFailure()
	}
}

// BreakerState returns the provider's breaker state for logs and metrics.
func (c *Client) BreakerState(provider string) string {
	cb := c.breaker(provider)
	if cb == nil {
		return "disabled"
	}
	return cb.State().String()
}
