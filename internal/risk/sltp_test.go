package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateSLTP(t *testing.T) {
	cases := []struct {
		name   string
		atr    float64
		pair   string
		rr     float64
		sl, tp float64
	}{
		{"quiet market uses base stop", 0.0005, "EUR/USD", 0, 7, 11.9},
		{"atr scaled stop", 0.0008, "EUR/USD", 0, 10.4, 17.7},
		{"volatile market capped", 0.0020, "GBP/USD", 2, 12, 24},
		{"jpy base", 0.05, "USD/JPY", 0, 10, 17},
		{"jpy capped", 0.20, "EUR/JPY", 1.7, 15, 25.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateSLTP(tc.atr, tc.pair, tc.rr)
			assert.InDelta(t, tc.sl, got.StopLossPips, 1e-9)
			assert.InDelta(t, tc.tp, got.TakeProfitPips, 1e-9)
		})
	}
}

func TestCalculateSLTPDefaultRiskReward(t *testing.T) {
	assert.Equal(t, DefaultRiskReward, CalculateSLTP(0, "EUR/USD", 0).RiskReward)
}
