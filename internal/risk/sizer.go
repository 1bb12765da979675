package risk

import (
	"math"
	"strings"

	"fx-session-sentry/pkg/types"

	"go.uber.org/zap"
)

const (
	MinStopLossPips       = 5.0
	MaxRiskPercent        = 2.0
	DefaultFallbackUSDJPY = 150.0
	DefaultMarginRate     = 0.05
	MarginSafetyFraction  = 0.9

	lotUnits          = 100000
	usdPipValuePerLot = 10.0
)

// SizingInput everything the sizer needs; optional fields are zero when unknown.
type SizingInput struct {
	Balance         float64
	RiskPercent     float64
	StopLossPips    float64
	Pair            string
	USDJPYRate      float64 // quote rate for JPY-quoted pairs
	MarginAvailable float64
	MarginRate      float64
}

type SizingResult struct {
	Units               int64
	RiskAmount          float64
	PipValuePerLot      float64
	StopLossPips        float64
	RiskPercent         float64
	FallbackRateUsed    bool
	ApproximatePipValue bool
	MarginLimited       bool
	Warnings            []string
}

// Sizer converts account risk into order units. It holds configuration only.
type Sizer struct {
	fallbackUSDJPY    float64
	defaultMarginRate float64
}

func NewSizer(cfg types.SizingConfig) *Sizer {
	s := &Sizer{fallbackUSDJPY: cfg.FallbackUSDJPY, defaultMarginRate: cfg.DefaultMarginRate}
	if s.fallbackUSDJPY <= 0 {
		s.fallbackUSDJPY = DefaultFallbackUSDJPY
	}
	if s.defaultMarginRate <= 0 {
		s.defaultMarginRate = DefaultMarginRate
	}
	return s
}

// PositionSize units = floor(riskAmount / (stopLossPips * pipValuePerLot) * 100000),
// shrunk to 90% of available margin when margin data is supplied.
func (s *Sizer) PositionSize(in SizingInput) SizingResult {
	res := SizingResult{StopLossPips: in.StopLossPips, RiskPercent: in.RiskPercent}
	log := zap.L().With(zap.String("pair", in.Pair))

	if res.StopLossPips < MinStopLossPips {
		res.warn(log, "stop loss raised to minimum", zap.Float64("requested", in.StopLossPips), zap.Float64("used", MinStopLossPips))
		res.StopLossPips = MinStopLossPips
	}
	if res.RiskPercent > MaxRiskPercent {
		res.warn(log, "risk percent capped", zap.Float64("requested", in.RiskPercent), zap.Float64("used", MaxRiskPercent))
		res.RiskPercent = MaxRiskPercent
	}
	if in.Balance <= 0 || res.RiskPercent <= 0 {
		return res
	}

	res.RiskAmount = in.Balance * res.RiskPercent / 100
	res.PipValuePerLot = s.pipValuePerLot(in, &res, log)

	res.Units = int64(math.Floor(res.RiskAmount / (res.StopLossPips * res.PipValuePerLot) * lotUnits))

	if in.MarginAvailable > 0 {
		rate := in.MarginRate
		if rate <= 0 {
			rate = s.defaultMarginRate
		}
		envelope := in.MarginAvailable * MarginSafetyFraction
		if float64(res.Units)*rate > envelope {
			shrunk := int64(math.Floor(envelope / rate))
			res.warn(log, "units reduced to fit margin",
				zap.Int64("requested", res.Units), zap.Int64("used", shrunk), zap.Float64("margin_available", in.MarginAvailable))
			res.Units = shrunk
			res.MarginLimited = true
		}
	}
	return res
}

func (s *Sizer) pipValuePerLot(in SizingInput, res *SizingResult, log *zap.Logger) float64 {
	quote := types.QuoteCurrency(in.Pair)
	switch {
	case quote == "USD":
		return usdPipValuePerLot
	case quote == "JPY" || strings.HasSuffix(strings.ToUpper(in.Pair), "JPY"):
		rate := in.USDJPYRate
		if rate <= 0 {
			rate = s.fallbackUSDJPY
			res.FallbackRateUsed = true
			res.warn(log, "USD/JPY rate unavailable, using fallback", zap.Float64("fallback_rate", rate))
		}
		return 1000 / rate
	default:
		res.ApproximatePipValue = true
		res.warn(log, "no conversion for quote currency, assuming $10 per pip per lot", zap.String("quote", quote))
		return usdPipValuePerLot
	}
}

func (r *SizingResult) warn(log *zap.Logger, msg string, fields ...zap.Field) {
	r.Warnings = append(r.Warnings, msg)
	log.Warn("⚠️ "+msg, fields...)
}
