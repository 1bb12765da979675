package types

import (
	"errors"
	"fmt"
	"time"
)

// SessionState counters the gate mutates; persisted per account.
type SessionState struct {
	TradesExecutedToday int                  `json:"trades_executed_today"`
	ConsecutiveLosses   map[string]int       `json:"consecutive_losses"`
	PairBlockedUntil    map[string]time.Time `json:"pair_blocked_until"`
	LastTradeTime       map[string]time.Time `json:"last_trade_time"`
	AutoTradingStopped  bool                 `json:"auto_trading_stopped"`
	SessionDate         string               `json:"session_date"` // 2006-01-02 in the session time zone
}

func NewSessionState(date string) *SessionState {
	return &SessionState{
		ConsecutiveLosses: make(map[string]int),
		PairBlockedUntil:  make(map[string]time.Time),
		LastTradeTime:     make(map[string]time.Time),
		SessionDate:       date,
	}
}

// Clone deep copy, safe to hand out while the original keeps mutating.
func (s *SessionState) Clone() SessionState {
	out := SessionState{
		TradesExecutedToday: s.TradesExecutedToday,
		ConsecutiveLosses:   make(map[string]int, len(s.ConsecutiveLosses)),
		PairBlockedUntil:    make(map[string]time.Time, len(s.PairBlockedUntil)),
		LastTradeTime:       make(map[string]time.Time, len(s.LastTradeTime)),
		AutoTradingStopped:  s.AutoTradingStopped,
		SessionDate:         s.SessionDate,
	}
	for k, v := range s.ConsecutiveLosses {
		out.ConsecutiveLosses[k] = v
	}
	for k, v := range s.PairBlockedUntil {
		out.PairBlockedUntil[k] = v
	}
	for k, v := range s.LastTradeTime {
		out.LastTradeTime[k] = v
	}
	return out
}

// Normalize fills nil maps left by a decoder.
func (s *SessionState) Normalize() {
	if s.ConsecutiveLosses == nil {
		s.ConsecutiveLosses = make(map[string]int)
	}
	if s.PairBlockedUntil == nil {
		s.PairBlockedUntil = make(map[string]time.Time)
	}
	if s.LastTradeTime == nil {
		s.LastTradeTime = make(map[string]time.Time)
	}
}

// CanonicalizePairs rekeys the per-pair maps by EUR/USD names. Counts of keys that
// collapse together keep the larger value, times the later one.
func (s *SessionState) CanonicalizePairs() {
	losses := make(map[string]int, len(s.ConsecutiveLosses))
	for p, n := range s.ConsecutiveLosses {
		k := PairName(p)
		if n > losses[k] {
			losses[k] = n
		}
	}
	s.ConsecutiveLosses = losses
	s.PairBlockedUntil = canonicalTimes(s.PairBlockedUntil)
	s.LastTradeTime = canonicalTimes(s.LastTradeTime)
}

func canonicalTimes(m map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(m))
	for p, t := range m {
		k := PairName(p)
		if t.After(out[k]) {
			out[k] = t
		}
	}
	return out
}

// Settings user-tunable parameters.
type Settings struct {
	AccountID             string        `json:"account_id"`
	RiskPercentage        float64       `json:"risk_percentage"`
	MaxTradesPerSession   int           `json:"max_trades_per_session"`
	MinRiskReward         float64       `json:"min_risk_reward"`
	MaxRiskReward         float64       `json:"max_risk_reward"`
	EnableThreeStrikeRule bool          `json:"enable_three_strike_rule"`
	PreferredPairs        []string      `json:"preferred_pairs"`
	RefreshInterval       time.Duration `json:"refresh_interval"`
	AccountType           string        `json:"account_type"`
	AccountBalance        float64       `json:"account_balance"`
}

func DefaultSettings() Settings {
	return Settings{
		RiskPercentage:        0.5,
		MaxTradesPerSession:   5,
		MinRiskReward:         1.5,
		MaxRiskReward:         2.0,
		EnableThreeStrikeRule: true,
		PreferredPairs:        []string{"EUR/USD", "GBP/USD", "USD/JPY", "AUD/USD", "EUR/JPY"},
		RefreshInterval:       30 * time.Second,
		AccountType:           "practice",
		AccountBalance:        100000,
	}
}

var ErrInvalidSettings = errors.New("invalid settings")

func (s Settings) Validate() error {
	switch {
	case s.RiskPercentage <= 0 || s.RiskPercentage > 2:
		return fmt.Errorf("%w: risk_percentage %.2f outside (0, 2]", ErrInvalidSettings, s.RiskPercentage)
	case s.MaxTradesPerSession < 1:
		return fmt.Errorf("%w: max_trades_per_session must be positive", ErrInvalidSettings)
	case s.MinRiskReward <= 0 || s.MaxRiskReward < s.MinRiskReward:
		return fmt.Errorf("%w: risk reward range %.2f..%.2f", ErrInvalidSettings, s.MinRiskReward, s.MaxRiskReward)
	case s.RefreshInterval < 15*time.Second || s.RefreshInterval > 60*time.Second:
		return fmt.Errorf("%w: refresh_interval %s outside 15s..60s", ErrInvalidSettings, s.RefreshInterval)
	case s.AccountType != "practice" && s.AccountType != "live":
		return fmt.Errorf("%w: account_type %q", ErrInvalidSettings, s.AccountType)
	}
	return nil
}

// GateCheck one named row of the gate's debug overlay.
type GateCheck struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Value     string `json:"value"`
	Threshold string `json:"threshold,omitempty"`
	Note      string `json:"note,omitempty"`
}

// GateDecision structured allow/block outcome.
type GateDecision struct {
	ID      string      `json:"id"`
	Time    time.Time   `json:"time"`
	Pair    string      `json:"pair"`
	Allow   bool        `json:"allow"`
	Reasons []string    `json:"reasons"`
	Checks  []GateCheck `json:"checks"`
	Score   float64     `json:"score"`
}

// FinalDecision ALLOW or BLOCK.
func (d GateDecision) FinalDecision() string {
	if d.Allow {
		return "ALLOW"
	}
	return "BLOCK"
}

// TradeAlert notification payload for fills and pair blocks.
type TradeAlert struct {
	Kind           string         `json:"kind"` // filled | blocked
	Pair           string         `json:"pair"`
	Units          int64          `json:"units"`
	Price          float64        `json:"price"`
	StopLossPips   float64        `json:"stop_loss_pips"`
	TakeProfitPips float64        `json:"take_profit_pips"`
	Score          float64        `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	Note           string         `json:"note"`
	Time           time.Time      `json:"time"`
}

// CycleEvent what the dashboard feed receives per pair per cycle.
type CycleEvent struct {
	Pair     string                  `json:"pair"`
	Analysis *MultiTimeframeAnalysis `json:"analysis,omitempty"`
	Decision *GateDecision           `json:"decision,omitempty"`
	Trade    *Trade                  `json:"trade,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Time     time.Time               `json:"time"`
}
