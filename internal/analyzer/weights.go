package analyzer

import "fx-session-sentry/pkg/types"

// Weights empirical scoring constants. Defaults reproduce the tuned model; they are
// configuration so they can be re-fit without code changes.
type Weights struct {
	TrendEMA200     float64
	TrendStructure  float64
	TrendSlope      float64
	TrendVolatility float64

	SetupTrend  float64
	SetupZone   float64
	SetupSignal float64
}

func DefaultWeights() Weights {
	return Weights{
		TrendEMA200:     40,
		TrendStructure:  30,
		TrendSlope:      20,
		TrendVolatility: 10,
		SetupTrend:      0.3,
		SetupZone:       20,
		SetupSignal:     0.5,
	}
}

// WeightsFromConfig falls back to the default for every zero field.
func WeightsFromConfig(cfg types.ScoringConfig) Weights {
	w := DefaultWeights()
	set := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	set(&w.TrendEMA200, cfg.TrendEMA200Weight)
	set(&w.TrendStructure, cfg.TrendStructureWeight)
	set(&w.TrendSlope, cfg.TrendSlopeWeight)
	set(&w.TrendVolatility, cfg.TrendVolatilityWeight)
	set(&w.SetupTrend, cfg.SetupTrendWeight)
	set(&w.SetupZone, cfg.SetupZoneBonus)
	set(&w.SetupSignal, cfg.SetupSignalWeight)
	return w
}
