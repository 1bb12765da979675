package risk

import (
	"math"
	"testing"

	"fx-session-sentry/pkg/types"

	"github.com/stretchr/testify/assert"
)

func TestPositionSizeReferenceTable(t *testing.T) {
	sizer := NewSizer(types.SizingConfig{})

	cases := []struct {
		name     string
		in       SizingInput
		want     int64
		fallback bool
	}{
		{
			name: "USD quoted",
			in:   SizingInput{Balance: 100000, RiskPercent: 0.5, StopLossPips: 10, Pair: "EUR/USD"},
			// 500 / (10 * 10) * 100000
			want: 500000,
		},
		{
			name: "JPY cross with quote rate",
			in:   SizingInput{Balance: 100000, RiskPercent: 0.5, StopLossPips: 10, Pair: "EUR/JPY", USDJPYRate: 125},
			// pip value 1000/125 = 8; 500 / 80 * 100000
			want: 625000,
		},
		{
			name:     "JPY cross without rate",
			in:       SizingInput{Balance: 100000, RiskPercent: 0.5, StopLossPips: 10, Pair: "EUR/JPY"},
			want:     int64(math.Floor(500 / (10 * (1000.0 / 150)) * 100000)),
			fallback: true,
		},
		{
			name: "USD/JPY with its own rate",
			in:   SizingInput{Balance: 50000, RiskPercent: 1, StopLossPips: 20, Pair: "USD/JPY", USDJPYRate: 160},
			// 500 / (20 * 6.25) * 100000
			want: 400000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := sizer.PositionSize(tc.in)
			assert.Equal(t, tc.want, got.Units)
			assert.Equal(t, tc.fallback, got.FallbackRateUsed)
			assert.False(t, got.MarginLimited)
		})
	}
}

func TestPositionSizeFallbackIsFlaggedAndConfigurable(t *testing.T) {
	in := SizingInput{Balance: 100000, RiskPercent: 0.5, StopLossPips: 10, Pair: "GBP/JPY"}

	got := NewSizer(types.SizingConfig{}).PositionSize(in)
	assert.True(t, got.FallbackRateUsed)
	assert.InDelta(t, 750000, got.Units, 1)
	assert.NotEmpty(t, got.Warnings)

	got = NewSizer(types.SizingConfig{FallbackUSDJPY: 125}).PositionSize(in)
	assert.True(t, got.FallbackRateUsed)
	assert.Equal(t, int64(625000), got.Units)
}

func TestPositionSizeClamps(t *testing.T) {
	got := NewSizer(types.SizingConfig{}).PositionSize(SizingInput{
		Balance: 10000, RiskPercent: 5, StopLossPips: 3, Pair: "EUR/USD",
	})

	assert.Equal(t, MinStopLossPips, got.StopLossPips)
	assert.Equal(t, MaxRiskPercent, got.RiskPercent)
	assert.Equal(t, 200.0, got.RiskAmount)
	// 200 / (5 * 10) * 100000
	assert.Equal(t, int64(400000), got.Units)
	assert.Len(t, got.Warnings, 2)
}

func TestPositionSizeMarginEnvelope(t *testing.T) {
	sizer := NewSizer(types.SizingConfig{})
	base := SizingInput{Balance: 100000, RiskPercent: 0.5, StopLossPips: 10, Pair: "EUR/USD", MarginRate: 0.25}

	t.Run("shrinks to 90 percent of available", func(t *testing.T) {
		in := base
		in.MarginAvailable = 100000
		got := sizer.PositionSize(in)
		assert.True(t, got.MarginLimited)
		assert.Equal(t, int64(360000), got.Units)
	})

	t.Run("required between 90 and 100 percent still shrinks", func(t *testing.T) {
		in := base
		in.MarginAvailable = 130000
		got := sizer.PositionSize(in)
		assert.True(t, got.MarginLimited)
		assert.Equal(t, int64(468000), got.Units)
	})

	t.Run("fits", func(t *testing.T) {
		in := base
		in.MarginAvailable = 1000000
		got := sizer.PositionSize(in)
		assert.False(t, got.MarginLimited)
		assert.Equal(t, int64(500000), got.Units)
	})

	t.Run("default margin rate", func(t *testing.T) {
		in := base
		in.MarginRate = 0
		in.MarginAvailable = 1000000
		got := sizer.PositionSize(in)
		assert.False(t, got.MarginLimited, "500000 * 0.05 is well inside the envelope")
	})
}

func TestPositionSizeUnconvertedQuote(t *testing.T) {
	got := NewSizer(types.SizingConfig{}).PositionSize(SizingInput{
		Balance: 100000, RiskPercent: 0.5, StopLossPips: 10, Pair: "EUR/GBP",
	})
	assert.True(t, got.ApproximatePipValue)
	assert.Equal(t, int64(500000), got.Units)
}

func TestPositionSizeNoBalance(t *testing.T) {
	got := NewSizer(types.SizingConfig{}).PositionSize(SizingInput{RiskPercent: 0.5, StopLossPips: 10, Pair: "EUR/USD"})
	assert.Zero(t, got.Units)
}
