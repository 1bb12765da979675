package analyzer

import (
	"math"

	"fx-session-sentry/internal/strategy/indicators"
	"fx-session-sentry/pkg/types"
)

const (
	StructureWindow = 20
	recentATRBars   = 14
	maxWickRatio    = 2.0
)

// ScoreStructure rates how clean the last 20 M1 candles are.
func ScoreStructure(candles []types.Candle) types.PriceStructure {
	if len(candles) < StructureWindow {
		return types.PriceStructure{}
	}
	window := candles[len(candles)-StructureWindow:]
	pairs := float64(len(window) - 1)

	overlaps := 0
	for i := 1; i < len(window); i++ {
		cur, prev := window[i], window[i-1]
		if cur.Low < prev.High && cur.High > prev.Low {
			overlaps++
		}
	}
	overlap := (1 - float64(overlaps)/pairs) * 100

	ratioSum := 0.0
	for _, c := range window {
		body := c.Body()
		if body == 0 {
			ratioSum += maxWickRatio
			continue
		}
		ratioSum += (c.Range() - body) / body
	}
	avgRatio := math.Min(ratioSum/float64(len(window)), maxWickRatio)
	wickNoise := math.Max(0, (1-avgRatio/maxWickRatio)*100)

	counts := indicators.CountStructure(window)
	dominant := math.Max(float64(counts.Bullish()), float64(counts.Bearish()))
	swingClarity := dominant / (pairs * 2) * 100

	out := types.PriceStructure{
		OverlapScore:      round1(overlap),
		WickNoiseScore:    round1(wickNoise),
		SwingClarityScore: round1(swingClarity),
	}

	// full window: 19 true ranges; recent: the last 14 of them
	longer := indicators.ATR(window, len(window)-1)
	if longer == 0 {
		return out
	}
	recent := indicators.ATR(window[len(window)-recentATRBars-1:], recentATRBars)
	compression := compressionScore(recent / longer)
	out.ATRCompressionScore = round1(compression)
	out.StructureScore = round1(weightedStructure(overlap, wickNoise, swingClarity, compression))
	return out
}

// weightedStructure expects the unrounded component scores.
func weightedStructure(overlap, wickNoise, swingClarity, compression float64) float64 {
	return 0.30*overlap + 0.30*wickNoise + 0.25*swingClarity + 0.15*compression
}

func compressionScore(ratio float64) float64 {
	switch {
	case ratio < 0.7:
		return ratio / 0.7 * 50
	case ratio > 1.3:
		return math.Max(0, 100-(ratio-1.3)*100)
	}
	return 100
}
