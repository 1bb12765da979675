package gate

import (
	"testing"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/stretchr/testify/assert"
)

func closed(pair string, units int64, open, close float64, at time.Time) types.ClosedTrade {
	return types.ClosedTrade{Pair: pair, Units: units, OpenPrice: open, ClosePrice: close, CloseTime: at}
}

func TestConsecutiveLossesFromHistory(t *testing.T) {
	base := londonOpen()
	trades := []types.ClosedTrade{
		closed("EUR/USD", 1000, 1.1000, 1.1020, base.Add(-4*time.Hour)), // win, ends the streak
		closed("EUR/USD", 1000, 1.1000, 1.0990, base.Add(-3*time.Hour)),
		closed("EUR/USD", 1000, 1.1000, 1.1000, base.Add(-2*time.Hour)), // breakeven
		closed("EUR/USD", -1000, 1.1000, 1.1010, base.Add(-1*time.Hour)),
		closed("USD/JPY", 1000, 150.00, 150.30, base.Add(-30*time.Minute)),
		closed("USD/JPY", 1000, 150.00, 149.90, base.Add(-20*time.Minute)),
	}

	got := ConsecutiveLossesFromHistory(trades)

	assert.Equal(t, 2, got["EUR/USD"].Count)
	assert.True(t, got["EUR/USD"].LastLoss.Equal(base.Add(-1*time.Hour)))
	assert.Equal(t, 1, got["USD/JPY"].Count)
	_, ok := got["GBP/USD"]
	assert.False(t, ok)
}

func TestSeedLossStreaksBlocksTodayOnly(t *testing.T) {
	g, clk := newGate(t, nil)
	now := clk.Now()

	g.SeedLossStreaks(map[string]LossStreak{
		"EUR/USD": {Count: 3, LastLoss: now.Add(-10 * time.Minute)},
		"GBP/USD": {Count: 4, LastLoss: now.Add(-24 * time.Hour)},
		"AUD/USD": {Count: 3, LastLoss: now.Add(-2 * time.Hour)},
	})

	st := g.Snapshot().State
	assert.Equal(t, 3, st.ConsecutiveLosses["EUR/USD"])
	assert.True(t, hasReason(g.Evaluate(input("EUR/USD")), CheckThreeStrike))
	assert.Zero(t, st.ConsecutiveLosses["GBP/USD"])
	assert.Equal(t, 3, st.ConsecutiveLosses["AUD/USD"])
	assert.True(t, g.Evaluate(input("AUD/USD")).Allow)
}
