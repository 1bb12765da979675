package indicators

import (
	"fx-session-sentry/pkg/types"

	"github.com/markcheno/go-talib"
)

// Closes close prices in candle order.
func Closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// EMA exponential moving average of closes. The first value is the SMA of the first
// `period` closes, so len(out) == len(candles)-period+1; empty when there is not enough data.
func EMA(candles []types.Candle, period int) []float64 {
	if period <= 0 || len(candles) < period {
		return []float64{}
	}
	// talib pads the lookback with zeros
	return talib.Ema(Closes(candles), period)[period-1:]
}

// LastEMA latest EMA value, ok=false when the series is empty.
func LastEMA(candles []types.Candle, period int) (float64, bool) {
	series := EMA(candles, period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}
