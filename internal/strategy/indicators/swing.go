package indicators

import "fx-session-sentry/pkg/types"

// SwingHighs highs of candles that strictly exceed the two candles on each side.
// Only indices 2..n-3 qualify.
func SwingHighs(candles []types.Candle) []float64 {
	var levels []float64
	for i := 2; i <= len(candles)-3; i++ {
		h := candles[i].High
		if h > candles[i-1].High && h > candles[i-2].High &&
			h > candles[i+1].High && h > candles[i+2].High {
			levels = append(levels, h)
		}
	}
	return levels
}

// SwingLows mirror of SwingHighs on lows.
func SwingLows(candles []types.Candle) []float64 {
	var levels []float64
	for i := 2; i <= len(candles)-3; i++ {
		l := candles[i].Low
		if l < candles[i-1].Low && l < candles[i-2].Low &&
			l < candles[i+1].Low && l < candles[i+2].Low {
			levels = append(levels, l)
		}
	}
	return levels
}

// StructureCounts adjacent-candle comparisons over a window.
type StructureCounts struct {
	HigherHighs int
	HigherLows  int
	LowerLows   int
	LowerHighs  int
	Comparisons int
}

func (s StructureCounts) Bullish() int { return s.HigherHighs + s.HigherLows }

func (s StructureCounts) Bearish() int { return s.LowerLows + s.LowerHighs }

// CountStructure compares every candle with its predecessor.
func CountStructure(candles []types.Candle) StructureCounts {
	var s StructureCounts
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		if cur.High > prev.High {
			s.HigherHighs++
		}
		if cur.Low > prev.Low {
			s.HigherLows++
		}
		if cur.Low < prev.Low {
			s.LowerLows++
		}
		if cur.High < prev.High {
			s.LowerHighs++
		}
		s.Comparisons++
	}
	return s
}
