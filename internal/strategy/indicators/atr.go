package indicators

import (
	"math"

	"fx-session-sentry/pkg/types"
)

// ATRCalculator ATR指标计算器
type ATRCalculator struct {
	length int
}

// NewATRCalculator 创建ATR计算器
func NewATRCalculator(length int) *ATRCalculator {
	return &ATRCalculator{
		length: length,
	}
}

// Calculate simple mean of the last `length` true ranges, 0 when fewer than length+1 candles.
func (ac *ATRCalculator) Calculate(candles []types.Candle) float64 {
	if ac.length <= 0 || len(candles) < ac.length+1 {
		return 0
	}

	trValues := ac.calculateTrueRange(candles)
	if len(trValues) < ac.length {
		return 0
	}

	return ac.calculateSMA(trValues[len(trValues)-ac.length:])
}

// calculateTrueRange 计算真实波幅序列
func (ac *ATRCalculator) calculateTrueRange(candles []types.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}

	trValues := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trValues = append(trValues, TrueRange(candles[i], candles[i-1]))
	}

	return trValues
}

// calculateSMA 计算简单移动平均
func (ac *ATRCalculator) calculateSMA(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, value := range values {
		sum += value
	}

	return sum / float64(len(values))
}

// TrueRange max(high-low, |high-prevClose|, |low-prevClose|)
func TrueRange(current, previous types.Candle) float64 {
	hl := current.High - current.Low
	hc := math.Abs(current.High - previous.Close)
	lc := math.Abs(current.Low - previous.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR shorthand for NewATRCalculator(period).Calculate(candles).
func ATR(candles []types.Candle, period int) float64 {
	return NewATRCalculator(period).Calculate(candles)
}

// Normalized ATR as a percentage of price.
func Normalized(atrValue, price float64) float64 {
	if price == 0 {
		return 0
	}
	return (atrValue / price) * 100
}
