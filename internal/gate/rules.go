package gate

import (
	"time"

	"fx-session-sentry/pkg/types"
)

// Named safety checks, in evaluation order. They double as the debug overlay rows.
const (
	CheckAutoTrading = "auto_trading_enabled"
	CheckSession     = "active_session"
	CheckNews        = "no_news"
	CheckSpread      = "spread_ok"
	CheckRisk        = "risk_ok"
	CheckRiskReward  = "tp_ok"
	CheckMaxTrades   = "max_trades_ok"
	CheckDuplicate   = "no_duplicate_pair"
	CheckCooldown    = "cooldown_ok"
	CheckThreeStrike = "three_strike_ok"
	CheckScore       = "score_ok"

	ReasonLockContention = "lock contention"
)

const (
	MinTradableScore = 60.0
	APlusScore       = 70.0
	Cooldown         = 2 * time.Minute
	MaxSpreadPips    = 2.0
	MaxRiskPercent   = 0.5
	MinRiskReward    = 1.5
	ThreeStrikeLimit = 3
	PairBlock        = 60 * time.Minute
)

// Config gate thresholds.
type Config struct {
	AutoTrading           bool
	MaxTradesPerSession   int
	MinTradableScore      float64
	APlusScore            float64
	Cooldown              time.Duration
	PairBlockDuration     time.Duration
	ThreeStrikeLimit      int
	EnableThreeStrikeRule bool
	MaxSpreadPips         float64
	MaxRiskPercent        float64
	MinRiskReward         float64
}

func DefaultConfig() Config {
	return Config{
		AutoTrading:           true,
		MaxTradesPerSession:   5,
		MinTradableScore:      MinTradableScore,
		APlusScore:            APlusScore,
		Cooldown:              Cooldown,
		PairBlockDuration:     PairBlock,
		ThreeStrikeLimit:      ThreeStrikeLimit,
		EnableThreeStrikeRule: true,
		MaxSpreadPips:         MaxSpreadPips,
		MaxRiskPercent:        MaxRiskPercent,
		MinRiskReward:         MinRiskReward,
	}
}

// ConfigFrom merges the trading config with the persisted user settings; settings win for
// the fields users can tune.
func ConfigFrom(t types.TradingConfig, s types.Settings) Config {
	cfg := DefaultConfig()
	cfg.AutoTrading = t.AutoTrading
	if t.Cooldown > 0 {
		cfg.Cooldown = t.Cooldown
	}
	if t.PairBlockDuration > 0 {
		cfg.PairBlockDuration = t.PairBlockDuration
	}
	if t.MaxSpreadPips > 0 {
		cfg.MaxSpreadPips = t.MaxSpreadPips
	}
	cfg.MaxTradesPerSession = s.MaxTradesPerSession
	cfg.EnableThreeStrikeRule = s.EnableThreeStrikeRule
	if s.MinRiskReward > 0 {
		cfg.MinRiskReward = s.MinRiskReward
	}
	return cfg
}

// RiskReward A+ setups target the larger reward ratio.
func (c Config) RiskReward(score float64, s types.Settings) float64 {
	if score >= c.APlusScore && s.MaxRiskReward > 0 {
		return s.MaxRiskReward
	}
	return s.MinRiskReward
}
