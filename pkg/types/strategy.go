package types

import "time"

type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasRanging Bias = "ranging"
)

// TrendBias M30 directional bias
type TrendBias struct {
	Bias          Bias     `json:"bias"`
	EMA200        *float64 `json:"ema200"`
	PriceAboveEMA *bool    `json:"price_above_ema"`
	Confidence    float64  `json:"confidence"`
}

// KeyZones M15 swing levels, each side sorted descending, at most 5 levels.
type KeyZones struct {
	Support    []float64 `json:"support"`
	Resistance []float64 `json:"resistance"`
}

func (z KeyZones) Empty() bool { return len(z.Support) == 0 && len(z.Resistance) == 0 }

type SignalType string

const (
	SignalBreakRetest    SignalType = "break_retest"
	SignalLiquiditySweep SignalType = "liquidity_sweep"
	SignalEngulfing      SignalType = "engulfing"
	SignalNone           SignalType = "none"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = ""
)

// EntrySignal M1 trigger
type EntrySignal struct {
	Type       SignalType `json:"type"`
	Direction  Direction  `json:"direction,omitempty"`
	Confidence float64    `json:"confidence"`
	Price      *float64   `json:"price"`
}

// NoSignal the neutral EntrySignal.
func NoSignal() EntrySignal {
	return EntrySignal{Type: SignalNone, Direction: DirectionNone}
}

// PriceStructure M1 cleanliness sub-scores, each 0..100.
type PriceStructure struct {
	OverlapScore        float64 `json:"overlap_score"`
	WickNoiseScore      float64 `json:"wick_noise_score"`
	SwingClarityScore   float64 `json:"swing_clarity_score"`
	ATRCompressionScore float64 `json:"atr_compression_score"`
	StructureScore      float64 `json:"structure_score"`
}

type Recommendation string

const (
	RecommendStrongBuy  Recommendation = "strong_buy"
	RecommendBuy        Recommendation = "buy"
	RecommendStrongSell Recommendation = "strong_sell"
	RecommendSell       Recommendation = "sell"
	RecommendWait       Recommendation = "wait"
)

// Checklist human-readable quality indicators shown next to a setup.
type Checklist struct {
	TrendAligned   bool `json:"trend_aligned"`
	InKillZone     bool `json:"in_kill_zone"`
	EntryTrigger   bool `json:"entry_trigger"`
	CleanStructure bool `json:"clean_structure"`
	APlusSetup     bool `json:"a_plus_setup"`
}

// MultiTimeframeAnalysis the single artifact the gate consumes. Produced and discarded per cycle.
type MultiTimeframeAnalysis struct {
	Pair              string         `json:"pair"`
	CurrentPrice      float64        `json:"current_price"`
	ATR               float64        `json:"atr"` // M1 ATR(14), drives stop distances
	Trend             TrendBias      `json:"trend"`
	Zones             KeyZones       `json:"zones"`
	InKillZone        bool           `json:"in_kill_zone"`
	Signal            EntrySignal    `json:"signal"`
	Structure         PriceStructure `json:"structure"`
	SetupQualityScore float64        `json:"setup_quality_score"`
	Recommendation    Recommendation `json:"recommendation"`
	Checklist         Checklist      `json:"checklist"`
	AnalyzedAt        time.Time      `json:"analyzed_at"`
}
