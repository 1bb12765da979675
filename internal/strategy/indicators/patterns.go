package indicators

import (
	"math"

	"fx-session-sentry/pkg/types"
)

// Zone a price band around a key level, zoneLow <= zoneHigh.
type Zone struct {
	Low  float64
	High float64
}

// BreakAndRetest the previous candle closed beyond the zone and the last candle confirms
// in the breakout direction.
func BreakAndRetest(candles []types.Candle, zone Zone, dir types.Direction) bool {
	n := len(candles)
	if n < 3 {
		return false
	}
	last, prev := candles[n-1], candles[n-2]
	switch dir {
	case types.DirectionLong:
		return prev.Close > zone.High && last.IsBullish()
	case types.DirectionShort:
		return prev.Close < zone.Low && last.IsBearish()
	}
	return false
}

// LiquiditySweep the last candle runs the stops beyond the previous five candles, closes
// back in the far 30% of its range with a larger body than the previous candle, and its
// range touches the zone.
func LiquiditySweep(candles []types.Candle, zone Zone, dir types.Direction) bool {
	n := len(candles)
	if n < 6 {
		return false
	}
	last, prev := candles[n-1], candles[n-2]
	window := candles[n-6 : n-1]

	rng := last.Range()
	if rng <= 0 {
		return false
	}
	closePos := (last.Close - last.Low) / rng
	nearZone := last.Low <= zone.High && last.High >= zone.Low
	if !nearZone || last.Body() <= prev.Body() {
		return false
	}

	switch dir {
	case types.DirectionLong:
		lowest := math.Inf(1)
		for _, c := range window {
			lowest = math.Min(lowest, c.Low)
		}
		return last.Low < lowest && closePos > 0.7
	case types.DirectionShort:
		highest := math.Inf(-1)
		for _, c := range window {
			highest = math.Max(highest, c.High)
		}
		return last.High > highest && closePos < 0.3
	}
	return false
}

// AverageBody mean absolute body of the last `lookback` candles.
func AverageBody(candles []types.Candle, lookback int) float64 {
	if lookback > len(candles) {
		lookback = len(candles)
	}
	if lookback <= 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-lookback:] {
		sum += c.Body()
	}
	return sum / float64(lookback)
}

// IsStrongBody last candle body at least 1.5x the average body of the last 10 candles.
func IsStrongBody(candles []types.Candle) bool {
	if len(candles) == 0 {
		return false
	}
	avg := AverageBody(candles, 10)
	return avg > 0 && candles[len(candles)-1].Body() >= avg*1.5
}

func IsBullishEngulfing(candles []types.Candle) bool {
	n := len(candles)
	if n < 2 {
		return false
	}
	last, prev := candles[n-1], candles[n-2]
	return last.IsBullish() && last.Close > prev.High && last.Open < prev.Close
}

func IsBearishEngulfing(candles []types.Candle) bool {
	n := len(candles)
	if n < 2 {
		return false
	}
	last, prev := candles[n-1], candles[n-2]
	return last.IsBearish() && last.Close < prev.Low && last.Open > prev.Close
}
