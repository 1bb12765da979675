package analyzer

import (
	"math"

	"fx-session-sentry/internal/strategy/indicators"
	"fx-session-sentry/pkg/types"
)

const (
	SignalMinCandles      = 10
	minRangingConfidence  = 40
	strongTrendConfidence = 65
	bufferATRMultiplier   = 0.5
	breakRetestBase       = 75
	breakRetestCap        = 90
	sweepBase             = 70
	sweepCap              = 85
	engulfingBase         = 65
	engulfingCap          = 80
	alignmentBonus        = 5
)

// AnalyzeSignal M1 entry trigger. Nothing is evaluated outside a kill zone, and the
// direction always follows the trend bias.
func AnalyzeSignal(candles []types.Candle, zones types.KeyZones, trend types.TrendBias, inZone bool) types.EntrySignal {
	if len(candles) < SignalMinCandles || !inZone {
		return types.NoSignal()
	}
	if trend.Bias == types.BiasRanging && trend.Confidence < minRangingConfidence {
		return types.NoSignal()
	}

	var dir types.Direction
	switch trend.Bias {
	case types.BiasBullish:
		dir = types.DirectionLong
	case types.BiasBearish:
		dir = types.DirectionShort
	default:
		return types.NoSignal()
	}

	price := candles[len(candles)-1].Close
	buffer := indicators.ATR(candles, 14) * bufferATRMultiplier
	zone, ok := nearestZone(price, zones, buffer)
	if !ok {
		return types.NoSignal()
	}

	bonus := 0.0
	if ema20, ok := indicators.LastEMA(candles, 20); ok {
		if (dir == types.DirectionLong && price > ema20) || (dir == types.DirectionShort && price < ema20) {
			bonus += alignmentBonus
		}
	}
	if trend.Confidence >= strongTrendConfidence {
		bonus += alignmentBonus
	}

	best := types.NoSignal()

	if indicators.BreakAndRetest(candles, zone, dir) {
		best = newSignal(types.SignalBreakRetest, dir, breakRetestBase+bonus, breakRetestCap, price)
	}

	if best.Confidence < sweepBase && indicators.LiquiditySweep(candles, zone, dir) {
		best = newSignal(types.SignalLiquiditySweep, dir, sweepBase+bonus, sweepCap, price)
	}

	if best.Confidence < engulfingBase && indicators.IsStrongBody(candles) {
		engulf := (dir == types.DirectionLong && indicators.IsBullishEngulfing(candles)) ||
			(dir == types.DirectionShort && indicators.IsBearishEngulfing(candles))
		if engulf {
			best = newSignal(types.SignalEngulfing, dir, engulfingBase+bonus, engulfingCap, price)
		}
	}

	return best
}

func newSignal(kind types.SignalType, dir types.Direction, confidence, ceiling, price float64) types.EntrySignal {
	p := price
	return types.EntrySignal{
		Type:       kind,
		Direction:  dir,
		Confidence: math.Min(confidence, ceiling),
		Price:      &p,
	}
}

// nearestZone band of +-buffer around whichever of the nearest support and nearest
// resistance is closer to price.
func nearestZone(price float64, zones types.KeyZones, buffer float64) (indicators.Zone, bool) {
	support, hasSupport := nearestLevel(price, zones.Support)
	resistance, hasResistance := nearestLevel(price, zones.Resistance)

	var level float64
	switch {
	case hasSupport && hasResistance:
		level = support
		if math.Abs(resistance-price) < math.Abs(support-price) {
			level = resistance
		}
	case hasSupport:
		level = support
	case hasResistance:
		level = resistance
	default:
		return indicators.Zone{}, false
	}
	return indicators.Zone{Low: level - buffer, High: level + buffer}, true
}

func nearestLevel(price float64, levels []float64) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	best := levels[0]
	for _, l := range levels[1:] {
		if math.Abs(l-price) < math.Abs(best-price) {
			best = l
		}
	}
	return best, true
}
