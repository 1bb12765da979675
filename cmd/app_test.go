package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fx-session-sentry/internal/gate"
	"fx-session-sentry/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *types.Config {
	return &types.Config{
		OANDA: types.OANDAConfig{Environment: "practice"},
		Trading: types.TradingConfig{
			Pairs:                 []string{"EUR/USD", "USD/JPY"},
			RefreshInterval:       20 * time.Second,
			BatchSize:             2,
			MaxTradesPerSession:   3,
			RiskPercentage:        0.4,
			MinRiskReward:         1.5,
			MaxRiskReward:         2.5,
			EnableThreeStrikeRule: true,
			Timezone:              "Asia/Singapore",
		},
		Server: types.ServerConfig{PingInterval: time.Second, ReportEvery: time.Minute},
	}
}

func TestSettingsFromConfig(t *testing.T) {
	s := settingsFromConfig(testConfig())

	assert.Equal(t, []string{"EUR/USD", "USD/JPY"}, s.PreferredPairs)
	assert.Equal(t, 3, s.MaxTradesPerSession)
	assert.InDelta(t, 0.4, s.RiskPercentage, 1e-9)
	assert.InDelta(t, 2.5, s.MaxRiskReward, 1e-9)
	assert.Equal(t, 20*time.Second, s.RefreshInterval)
	assert.Equal(t, "practice", s.AccountType)
	assert.NoError(t, s.Validate())
}

func TestRoutesEmergencyStop(t *testing.T) {
	app, err := NewApp(testConfig())
	require.NoError(t, err)
	defer app.closeStores()

	srv := httptest.NewServer(app.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/emergency-stop")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/emergency-stop", "application/json", nil)
	require.NoError(t, err)
	var snap gate.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.True(t, snap.State.AutoTradingStopped)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/report")
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Contains(t, report, "pair_stats")

	// no database configured
	resp, err = http.Get(srv.URL + "/api/report/daily?pair=EUR_USD")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/resume", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, app.gate.Snapshot().State.AutoTradingStopped)
}
