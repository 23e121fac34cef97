package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type BaseClient struct {
	client         HTTPClient
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
	maxRetries     int
	retryDelay     time.Duration
	multiplier     float64
}

type ClientConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	Multiplier     float64
	Threshold      int
	BreakerTimeout time.Duration
}

// rawResponse carries a non-2xx reply through the breaker without counting
// client errors as failures.
type rawResponse struct {
	status int
	body   []byte
}

func NewBaseClient(name string, config ClientConfig, logger *zap.Logger) *BaseClient {
	return NewBaseClientWithHTTP(name, &http.Client{Timeout: config.Timeout}, config, logger)
}

func NewBaseClientWithHTTP(name string, httpClient HTTPClient, config ClientConfig, logger *zap.Logger) *BaseClient {
	threshold := uint32(3)
	if config.Threshold > 0 {
		threshold = uint32(config.Threshold)
	}
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	// Circuit breaker settings
	breakerSettings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("client", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &BaseClient{
		client:         httpClient,
		logger:         logger,
		circuitBreaker: gobreaker.NewCircuitBreaker(breakerSettings),
		maxRetries:     config.MaxRetries,
		retryDelay:     config.RetryDelay,
		multiplier:     multiplier,
	}
}

// GetWithRetry performs a GET through the circuit breaker. Every failure is
// returned as a *RemoteError. A 4xx reply is returned with its body in
// Message and does not count against the breaker.
func (c *BaseClient) GetWithRetry(ctx context.Context, url string) ([]byte, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.doGetWithRetry(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &RemoteError{Status: http.StatusServiceUnavailable, Message: "circuit breaker open", Err: err}
		}
		var re *RemoteError
		if errors.As(err, &re) {
			return nil, re
		}
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}

	resp := result.(*rawResponse)
	if resp.status >= 200 && resp.status < 300 {
		return resp.body, nil
	}
	return nil, &RemoteError{Status: resp.status, Message: string(resp.body)}
}

// Breaker reports the circuit breaker state.
func (c *BaseClient) Breaker() map[string]interface{} {
	counts := c.circuitBreaker.Counts()
	return map[string]interface{}{
		"name":                 c.circuitBreaker.Name(),
		"state":                c.circuitBreaker.State().String(),
		"requests":             counts.Requests,
		"total_failures":       counts.TotalFailures,
		"consecutive_failures": counts.ConsecutiveFailures,
	}
}

func (c *BaseClient) doGetWithRetry(ctx context.Context, url string) (*rawResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Calculate exponential backoff delay
			delay := time.Duration(float64(c.retryDelay) * math.Pow(c.multiplier, float64(attempt-1)))
			c.logger.Debug("Retrying request",
				zap.String("url", redact(url)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, &RemoteError{Message: ctx.Err().Error(), Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &RemoteError{Message: "creating request failed", Err: err}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = &RemoteError{Message: err.Error(), Err: err}
			c.logger.Warn("HTTP request failed",
				zap.String("url", redact(url)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &RemoteError{Status: resp.StatusCode, Message: "reading body failed", Err: err}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.logger.Debug("Request successful",
				zap.String("url", redact(url)),
				zap.Int("status", resp.StatusCode),
				zap.Int("body_size", len(body)))
			return &rawResponse{status: resp.StatusCode, body: body}, nil
		}

		// Don't retry on client errors (4xx) except 429 (rate limiting)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return &rawResponse{status: resp.StatusCode, body: body}, nil
		}

		lastErr = &RemoteError{Status: resp.StatusCode, Message: string(body), Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	return nil, lastErr
}

// redact strips credentials from a URL before it is logged.
func redact(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("appid") {
		q.Set("appid", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
