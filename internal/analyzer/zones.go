package analyzer

import (
	"sort"

	"fx-session-sentry/internal/strategy/indicators"
	"fx-session-sentry/pkg/types"

	"github.com/shopspring/decimal"
)

const (
	ZoneMinCandles = 20
	zoneLookback   = 50
	maxZoneLevels  = 5
	killZonePips   = 15
)

// IdentifyZones swing levels of the most recent M15 candles.
func IdentifyZones(candles []types.Candle) types.KeyZones {
	if len(candles) < ZoneMinCandles {
		return types.KeyZones{Support: []float64{}, Resistance: []float64{}}
	}

	window := candles
	if len(window) > zoneLookback {
		window = window[len(window)-zoneLookback:]
	}

	return types.KeyZones{
		Support:    topLevels(indicators.SwingLows(window)),
		Resistance: topLevels(indicators.SwingHighs(window)),
	}
}

// topLevels dedupe, sort descending, keep the first five.
func topLevels(levels []float64) []float64 {
	seen := make(map[float64]struct{}, len(levels))
	out := make([]float64, 0, len(levels))
	for _, l := range levels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	if len(out) > maxZoneLevels {
		out = out[:maxZoneLevels]
	}
	return out
}

// KillZoneThreshold 15 pips in price units.
func KillZoneThreshold(pair string) decimal.Decimal {
	return decimal.NewFromFloat(types.PipSize(pair)).Mul(decimal.NewFromInt(killZonePips))
}

// IsPriceInKillZone price within 15 pips of any level, boundary included. Distances are
// compared in decimal so a quote exactly 15 pips away is not lost to float rounding.
func IsPriceInKillZone(price float64, zones types.KeyZones, pair string) bool {
	threshold := KillZoneThreshold(pair)
	p := decimal.NewFromFloat(price)

	for _, side := range [][]float64{zones.Support, zones.Resistance} {
		for _, level := range side {
			if p.Sub(decimal.NewFromFloat(level)).Abs().LessThanOrEqual(threshold) {
				return true
			}
		}
	}
	return false
}
