package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDistance(t *testing.T) {
	assert.Equal(t, "0.00070", FormatDistance("EUR/USD", 7))
	assert.Equal(t, "0.00119", FormatDistance("EUR/USD", 11.9))
	assert.Equal(t, "0.100", FormatDistance("USD/JPY", 10))
	assert.Equal(t, "0.255", FormatDistance("EUR/JPY", 25.5))
}

func TestPlaceMarketOrderFill(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/accounts/101-001-1/orders", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var env orderEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, "MARKET", env.Order.Type)
		assert.Equal(t, "EUR_USD", env.Order.Instrument)
		assert.Equal(t, "-10000", env.Order.Units)
		assert.Equal(t, "0.00070", env.Order.StopLossOnFill.Distance)
		assert.Equal(t, "0.00119", env.Order.TakeProfitOnFill.Distance)
		assert.Len(t, env.Order.ClientExtensions.ID, 36)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"orderFillTransaction":{"id":"77","price":"1.10012","time":"2026-03-02T08:00:01Z","tradeOpened":{"tradeID":"78","units":"-10000","price":"1.10010"}}}`)
	})

	trade, err := c.PlaceMarketOrder(context.Background(), OrderRequest{Pair: "EUR/USD", Units: -10000, StopLossPips: 7, TakeProfitPips: 11.9})
	require.NoError(t, err)
	assert.Equal(t, "78", trade.ID)
	assert.Equal(t, 1.1001, trade.Price)
	assert.Equal(t, int64(-10000), trade.Units)
	assert.Len(t, trade.ClientID, 36)
	assert.Equal(t, 7.0, trade.StopLoss)
}

func TestPlaceMarketOrderCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"orderCancelTransaction":{"reason":"INSUFFICIENT_MARGIN"}}`)
	})

	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{Pair: "EUR/USD", Units: 1000, StopLossPips: 7, TakeProfitPips: 12})
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "INSUFFICIENT_MARGIN")
}

func TestPlaceMarketOrderWithoutFill(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{}`)
	})

	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{Pair: "EUR/USD", Units: 1000, StopLossPips: 7, TakeProfitPips: 12})
	assert.ErrorIs(t, err, ErrOrderRejected)
}

func TestPlaceMarketOrderRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"orderRejectTransaction":{"rejectReason":"STOP_LOSS_ON_FILL_DISTANCE_PRECISION_EXCEEDED"},"errorCode":"STOP_LOSS_ON_FILL_DISTANCE_PRECISION_EXCEEDED","errorMessage":"precision exceeded"}`)
	})

	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{Pair: "EUR/USD", Units: 1000, StopLossPips: 7, TakeProfitPips: 12})
	assert.ErrorIs(t, err, ErrOrderRejected)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestPlaceMarketOrderIsNotRetried(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{Pair: "EUR/USD", Units: 1000, StopLossPips: 7, TakeProfitPips: 12})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrderRejected)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestPlaceMarketOrderZeroUnits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{Pair: "EUR/USD"})
	assert.ErrorIs(t, err, ErrOrderRejected)
}
