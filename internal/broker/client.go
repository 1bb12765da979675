// Package broker is the OANDA v20 REST client. Every request passes a token-bucket rate
// limiter and a circuit breaker, and network failures or 5xx answers are retried with
// capped exponential backoff.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	PracticeURL = "https://api-fxpractice.oanda.com"
	LiveURL     = "https://api-fxtrade.oanda.com"

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	maxBackoff        = 5 * time.Second
	userAgent         = "FX-Session-Sentry/1.0"
)

var (
	ErrNotConfigured = errors.New("oanda credentials not configured")
	ErrOrderRejected = errors.New("order rejected")
)

// APIError a non-2xx answer from the broker.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("oanda %s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("oanda %s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Retryable server-side failures only; 4xx answers are final.
func (e *APIError) Retryable() bool { return e.StatusCode >= 500 }

type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	backoff    func(attempt int) time.Duration
}

func NewClient(cfg types.OANDAConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	if cfg.Proxy != "" {
		if proxyURL, err := url.Parse(cfg.Proxy); err == nil {
			httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		} else {
			zap.L().Warn("ignoring invalid proxy", zap.String("proxy", cfg.Proxy), zap.Error(err))
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = PracticeURL
		if cfg.Environment == "live" {
			baseURL = LiveURL
		}
	}

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.APIKey,
		accountID:  cfg.AccountID,
		httpClient: httpClient,
		maxRetries: retries,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    newBreaker(),
		backoff:    backoffDelay,
	}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oanda",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// backoffDelay min(1s * 2^attempt, 5s)
func backoffDelay(attempt int) time.Duration {
	if attempt > 3 {
		return maxBackoff
	}
	d := time.Second << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Configured false when the API key or account id is missing; callers skip work instead
// of failing every cycle.
func (c *Client) Configured() bool { return c.token != "" && c.accountID != "" }

func (c *Client) AccountID() string { return c.accountID }

// BreakerState closed, half-open or open.
func (c *Client) BreakerState() string { return c.breaker.State().String() }

func (c *Client) accountPath(suffix string) string {
	return "/v3/accounts/" + url.PathEscape(c.accountID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	return c.send(ctx, method, path, query, body, out, c.maxRetries)
}

// send with an explicit retry budget. Order placement uses zero: a retried POST could
// open a second position.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out interface{}, retries int) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			zap.L().Debug("retrying oanda request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, method, path, query, payload, out)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return err
		}
	}
	return fmt.Errorf("oanda %s %s failed after %d attempts: %w", method, path, retries+1, lastErr)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type errorBody struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.ErrorMessage != "" {
			apiErr.Code, apiErr.Message = eb.ErrorCode, eb.ErrorMessage
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
