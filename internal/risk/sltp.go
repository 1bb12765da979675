package risk

import (
	"math"

	"fx-session-sentry/pkg/types"
)

const DefaultRiskReward = 1.7

// Levels stop-loss and take-profit distances in pips.
type Levels struct {
	StopLossPips   float64 `json:"stop_loss_pips"`
	TakeProfitPips float64 `json:"take_profit_pips"`
	RiskReward     float64 `json:"risk_reward"`
}

// CalculateSLTP SL = clamp(ATR*1.3 in pips, base, max); TP = SL*rr. JPY pairs use a
// 10..15 pip band, others 7..12.
func CalculateSLTP(atr float64, pair string, rr float64) Levels {
	if rr <= 0 {
		rr = DefaultRiskReward
	}
	base, ceiling := 7.0, 12.0
	if types.IsJPYPair(pair) {
		base, ceiling = 10.0, 15.0
	}

	atrPips := atr / types.PipSize(pair)
	sl := math.Min(math.Max(base, atrPips*1.3), ceiling)

	return Levels{
		StopLossPips:   math.Round(sl*10) / 10,
		TakeProfitPips: math.Round(sl*rr*10) / 10,
		RiskReward:     rr,
	}
}
