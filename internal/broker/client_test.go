package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(types.OANDAConfig{
		APIKey:    "token-123",
		AccountID: "101-001-1",
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
	})
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(0))
	assert.Equal(t, 2*time.Second, backoffDelay(1))
	assert.Equal(t, 4*time.Second, backoffDelay(2))
	assert.Equal(t, 5*time.Second, backoffDelay(3))
	assert.Equal(t, 5*time.Second, backoffDelay(10))
}

func TestNewClientBaseURL(t *testing.T) {
	assert.Equal(t, PracticeURL, NewClient(types.OANDAConfig{}).baseURL)
	assert.Equal(t, LiveURL, NewClient(types.OANDAConfig{Environment: "live"}).baseURL)
	assert.Equal(t, 3, NewClient(types.OANDAConfig{}).maxRetries)
}

func TestUnconfiguredClientSkips(t *testing.T) {
	c := NewClient(types.OANDAConfig{})
	assert.False(t, c.Configured())

	_, err := c.GetAccount(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRetriesServerErrors(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"account":{"id":"101-001-1","currency":"USD","balance":"10000.00","marginAvailable":"9500.5","marginRate":"0.0333","openTradeCount":2}}`)
	})

	acct, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
	assert.Equal(t, 10000.0, acct.Balance)
	assert.Equal(t, 9500.5, acct.MarginAvailable)
	assert.Equal(t, 0.0333, acct.MarginRate)
	assert.Equal(t, 2, acct.OpenTradeCount)
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetAccount(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&hits))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errorCode":"INSUFFICIENT_AUTHORIZATION","errorMessage":"Insufficient authorization"}`)
	})

	_, err := c.GetAccount(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, "INSUFFICIENT_AUTHORIZATION", apiErr.Code)
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 8; i++ {
		_, err := c.GetAccount(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, "closed", c.BreakerState())
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.maxRetries = 0

	for i := 0; i < 5; i++ {
		_, _ = c.GetAccount(context.Background())
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.GetAccount(context.Background())
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.EqualValues(t, 5, atomic.LoadInt32(&hits))
}

func TestContextCancelStopsRetrying(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.backoff = func(int) time.Duration { return time.Hour }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.GetAccount(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/instruments/EUR_USD/candles", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Equal(t, "M15", r.URL.Query().Get("granularity"))
		assert.Equal(t, "100", r.URL.Query().Get("count"))
		assert.Equal(t, "M", r.URL.Query().Get("price"))
		_, _ = io.WriteString(w, `{"instrument":"EUR_USD","granularity":"M15","candles":[
			{"complete":true,"volume":120,"time":"2026-03-02T08:00:00Z","mid":{"o":"1.10000","h":"1.10100","l":"1.09950","c":"1.10050"}},
			{"complete":true,"volume":98,"time":"2026-03-02T08:15:00Z","mid":{"o":"1.10050","h":"1.10080","l":"1.10010","c":"1.10020"}},
			{"complete":false,"volume":10,"time":"2026-03-02T08:30:00Z","mid":{"o":"1.10020","h":"1.10030","l":"1.10000","c":"1.10010"}}
		]}`)
	})

	candles, err := c.GetCandles(context.Background(), "EUR/USD", "M15", 100)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.1, candles[0].Open)
	assert.Equal(t, 1.101, candles[0].High)
	assert.Equal(t, 1.0995, candles[0].Low)
	assert.Equal(t, 1.1005, candles[0].Close)
	assert.Equal(t, 120.0, candles[0].Volume)
	assert.True(t, candles[1].Time.Equal(time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)))
}

func TestGetPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/101-001-1/pricing", r.URL.Path)
		assert.Equal(t, "USD_JPY", r.URL.Query().Get("instruments"))
		_, _ = io.WriteString(w, `{"prices":[{"instrument":"USD_JPY","time":"2026-03-02T08:00:00Z","bids":[{"price":"150.120"}],"asks":[{"price":"150.135"}]}]}`)
	})

	p, err := c.GetPrice(context.Background(), "USD/JPY")
	require.NoError(t, err)
	assert.Equal(t, "USD/JPY", p.Pair)
	assert.Equal(t, 150.12, p.Bid)
	assert.Equal(t, 150.135, p.Ask)
	assert.InDelta(t, 1.5, p.SpreadPips(), 1e-9)
}

func TestGetOpenPositions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"positions":[
			{"instrument":"EUR_USD","long":{"units":"10000"},"short":{"units":"0"},"unrealizedPL":"12.5"},
			{"instrument":"GBP_USD","long":{"units":"0"},"short":{"units":"0"},"unrealizedPL":"0"}
		]}`)
	})

	positions, err := c.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, map[string]bool{"EUR/USD": true}, OpenPairs(positions))
}

func TestGetClosedTrades(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CLOSED", r.URL.Query().Get("state"))
		assert.Equal(t, "50", r.URL.Query().Get("count"))
		_, _ = io.WriteString(w, `{"trades":[
			{"id":"31","instrument":"EUR_USD","price":"1.10000","initialUnits":"-10000","averageClosePrice":"1.10100","realizedPL":"-10.0","closeTime":"2026-03-02T09:00:00Z"}
		]}`)
	})

	trades, err := c.GetClosedTrades(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(-10000), trades[0].Units)
	assert.Equal(t, types.ResultLoss, types.ClassifyResult(trades[0].PnLPips()))
}

func TestCloseTrade(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v3/accounts/101-001-1/trades/31/close", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ALL", body["units"])
		_, _ = io.WriteString(w, `{}`)
	})

	assert.NoError(t, c.CloseTrade(context.Background(), "31"))
}
