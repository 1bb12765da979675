package analyzer

import (
	"math"

	"fx-session-sentry/internal/strategy/indicators"
	"fx-session-sentry/pkg/types"
)

const (
	TrendMinCandles  = 80
	trendLookback    = 10
	slopeThreshold   = 0.1  // percent
	volatilityFloor  = 0.05 // ATR as percent of price
	bullishThreshold = 50
	bearishThreshold = -50
)

func neutralTrend() types.TrendBias {
	return types.TrendBias{Bias: types.BiasRanging}
}

// AnalyzeTrend classifies the M30 bias from a composite score in [-100, 100].
func AnalyzeTrend(candles []types.Candle, w Weights) types.TrendBias {
	if len(candles) < TrendMinCandles {
		return neutralTrend()
	}

	ema200 := indicators.EMA(candles, 200)
	ema20 := indicators.EMA(candles, 20)
	if len(ema200) == 0 || len(ema20) < trendLookback {
		return neutralTrend()
	}

	price := candles[len(candles)-1].Close
	lastEMA200 := ema200[len(ema200)-1]
	above := price > lastEMA200

	score := 0.0
	if above {
		score += w.TrendEMA200
	} else {
		score -= w.TrendEMA200
	}

	recent := candles[len(candles)-trendLookback:]
	score += structureContribution(indicators.CountStructure(recent), w.TrendStructure)

	past := ema20[len(ema20)-trendLookback]
	if past != 0 {
		slope := (ema20[len(ema20)-1] - past) / past * 100
		if slope > slopeThreshold {
			score += w.TrendSlope
		} else if slope < -slopeThreshold {
			score -= w.TrendSlope
		}
	}

	period := int(math.Min(14, float64(len(recent)-1)))
	atr := indicators.ATR(recent, period)
	if indicators.Normalized(atr, price) > volatilityFloor {
		if score > 0 {
			score += w.TrendVolatility
		} else if score < 0 {
			score -= w.TrendVolatility
		}
	}

	bias := types.BiasRanging
	if score >= bullishThreshold {
		bias = types.BiasBullish
	} else if score <= bearishThreshold {
		bias = types.BiasBearish
	}

	return types.TrendBias{
		Bias:          bias,
		EMA200:        &lastEMA200,
		PriceAboveEMA: &above,
		Confidence:    clamp((math.Abs(score)+100)/2, 0, 100),
	}
}

// structureContribution strong structure scales the full weight, weak structure gives half.
func structureContribution(s indicators.StructureCounts, weight float64) float64 {
	full := float64(s.Comparisons * 2)
	switch {
	case full == 0:
		return 0
	case s.HigherHighs >= 5 && s.HigherLows >= 4:
		return float64(s.Bullish()) / full * weight
	case s.LowerLows >= 5 && s.LowerHighs >= 4:
		return -float64(s.Bearish()) / full * weight
	case s.HigherHighs >= 4:
		return weight / 2
	case s.LowerLows >= 4:
		return -weight / 2
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
