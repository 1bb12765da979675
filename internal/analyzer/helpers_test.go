package analyzer

import (
	"time"

	"fx-session-sentry/pkg/types"
)

var t0 = time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)

func bar(o, h, l, c float64) types.Candle {
	return types.Candle{Open: o, High: h, Low: l, Close: c}
}

// trending builds n candles whose close moves by step per bar with a fixed shape:
// body 0.0002 in the direction of travel, 0.0003 wick beyond the close.
func trending(n int, start, step float64, interval time.Duration) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		c := start + step*float64(i)
		if step >= 0 {
			out[i] = types.Candle{Open: c - 0.0002, High: c + 0.0003, Low: c - 0.0005, Close: c}
		} else {
			out[i] = types.Candle{Open: c + 0.0002, High: c + 0.0005, Low: c - 0.0003, Close: c}
		}
		out[i].Time = t0.Add(time.Duration(i) * interval)
	}
	return out
}

func flat(n int, price float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		out[i] = types.Candle{Time: t0.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price}
	}
	return out
}

// zoneCandles M15 history with a single swing high at 1.1000.
func zoneCandles() []types.Candle {
	out := make([]types.Candle, 30)
	for i := range out {
		out[i] = bar(1.0985, 1.0990, 1.0980, 1.0985)
	}
	out[10].High = 1.1000
	return out
}

// breakRetestCandles ten M1 candles: the previous bar closes above 1.1000 and the last
// bar confirms bullish.
func breakRetestCandles() []types.Candle {
	out := make([]types.Candle, 0, 10)
	for i := 0; i < 8; i++ {
		out = append(out, bar(1.0996, 1.0999, 1.0994, 1.0997))
	}
	out = append(out,
		bar(1.0998, 1.1013, 1.0997, 1.1012),
		bar(1.1011, 1.1014, 1.1009, 1.1013),
	)
	for i := range out {
		out[i].Time = t0.Add(time.Duration(i) * time.Minute)
	}
	return out
}
