package database

import (
	"encoding/json"
	"testing"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToTradeRecord(t *testing.T) {
	opened := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	trade := &types.Trade{ID: "78", ClientID: "c-1", Pair: "EUR/USD", Units: -10000, Price: 1.1001, OpenTime: opened, StopLoss: 7, TakeProfit: 11.9}
	a := &types.MultiTimeframeAnalysis{SetupQualityScore: 72.5, Recommendation: types.RecommendStrongSell}

	rec := toTradeRecord(trade, a)

	assert.Equal(t, "78", rec.TradeID)
	assert.Equal(t, int64(-10000), rec.Units)
	assert.Equal(t, 11.9, rec.TakeProfitPips)
	assert.Equal(t, 72.5, rec.Score)
	assert.Equal(t, "strong_sell", rec.Recommendation)
	assert.True(t, rec.OpenedAt.Equal(opened))

	rec = toTradeRecord(&types.Trade{ID: "79"}, nil)
	assert.False(t, rec.OpenedAt.IsZero())
	assert.Empty(t, rec.Recommendation)
}

func TestToDecisionRecord(t *testing.T) {
	d := types.GateDecision{
		ID:      "d-1",
		Pair:    "GBP/USD",
		Reasons: []string{"three_strike_ok: blocked until 16:30"},
		Checks:  []types.GateCheck{{Name: "three_strike_ok", Value: "3", Threshold: "< 3"}},
		Score:   64,
	}

	rec, err := toDecisionRecord(d)
	require.NoError(t, err)

	assert.Equal(t, "d-1", rec.DecisionID)
	assert.False(t, rec.Allow)
	var reasons []string
	require.NoError(t, json.Unmarshal([]byte(rec.Reasons), &reasons))
	assert.Equal(t, d.Reasons, reasons)
	assert.Contains(t, rec.Checks, `"name":"three_strike_ok"`)
}

func TestApplyResult(t *testing.T) {
	var perf DailyPerformance
	applyResult(&perf, types.ResultWin, 12)
	applyResult(&perf, types.ResultLoss, -7)
	applyResult(&perf, types.ResultBreakeven, 0.2)

	assert.Equal(t, 3, perf.Trades)
	assert.Equal(t, 1, perf.Wins)
	assert.Equal(t, 1, perf.Losses)
	assert.Equal(t, 1, perf.Breakevens)
	assert.InDelta(t, 5.2, perf.PnLPips, 1e-9)
}

func TestSettingsEncoding(t *testing.T) {
	s := types.DefaultSettings()
	s.AccountID = "101-001-1"
	s.RiskPercentage = 1
	s.PreferredPairs = []string{"EUR/USD"}

	payload, err := encodeSettings(s)
	require.NoError(t, err)
	got, err := decodeSettings(payload)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	partial, err := decodeSettings(`{"risk_percentage":0.25}`)
	require.NoError(t, err)
	assert.Equal(t, 0.25, partial.RiskPercentage)
	assert.Equal(t, 5, partial.MaxTradesPerSession)
	assert.Equal(t, 30*time.Second, partial.RefreshInterval)

	_, err = decodeSettings("{")
	assert.Error(t, err)
}
