// Package gate decides whether an analyzed setup may become an order. All session
// counters, the in-flight lock set and the gate-known open pairs sit behind one mutex so
// that "check then lock" is a single step.
package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fx-session-sentry/internal/clock"
	"fx-session-sentry/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionStore persists SessionState after every mutation.
type SessionStore interface {
	SaveSession(ctx context.Context, state types.SessionState) error
}

// NewsFilter reports a high-impact news blackout for a pair.
type NewsFilter interface {
	Blackout(pair string, at time.Time) (bool, string)
}

// DecisionRecorder receives every decision the gate produces.
type DecisionRecorder interface {
	RecordDecision(types.GateDecision)
}

// Recorders fans a decision out to several recorders in order.
type Recorders []DecisionRecorder

func (rs Recorders) RecordDecision(d types.GateDecision) {
	for _, r := range rs {
		r.RecordDecision(d)
	}
}

// SubmitFunc places the order. It runs outside the gate mutex while the pair lock is held.
type SubmitFunc func(ctx context.Context) (*types.Trade, error)

// Input what the caller knows about the candidate trade at decision time.
type Input struct {
	Pair        string
	Analysis    *types.MultiTimeframeAnalysis
	SpreadPips  float64 // negative when no quote is available
	RiskPercent float64
	RiskReward  float64
	OpenPairs   map[string]bool // positions reported by the broker
}

// canonical keys everything by EUR/USD so configured EUR_USD names meet broker-reported ones.
func (in Input) canonical() Input {
	in.Pair = types.PairName(in.Pair)
	in.OpenPairs = canonicalSet(in.OpenPairs)
	return in
}

func canonicalSet(pairs map[string]bool) map[string]bool {
	out := make(map[string]bool, len(pairs))
	for p, open := range pairs {
		if open {
			out[types.PairName(p)] = true
		}
	}
	return out
}

type Option func(*Gate)

func WithStore(s SessionStore) Option { return func(g *Gate) { g.store = s } }
func WithNewsFilter(n NewsFilter) Option { return func(g *Gate) { g.news = n } }
func WithRecorder(r DecisionRecorder) Option { return func(g *Gate) { g.recorder = r } }
func WithInitialState(s *types.SessionState) Option {
	return func(g *Gate) {
		if s != nil {
			c := s.Clone()
			c.Normalize()
			c.CanonicalizePairs()
			g.state = &c
		}
	}
}

type Gate struct {
	mu       sync.Mutex
	cfg      Config
	schedule *Schedule
	clock    clock.Clock
	state    *types.SessionState
	locks    map[string]struct{}
	open     map[string]bool

	store    SessionStore
	news     NewsFilter
	recorder DecisionRecorder
}

func New(cfg Config, schedule *Schedule, clk clock.Clock, opts ...Option) *Gate {
	if schedule == nil {
		schedule = DefaultSchedule()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	g := &Gate{
		cfg:      cfg,
		schedule: schedule,
		clock:    clk,
		locks:    make(map[string]struct{}),
		open:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.state == nil {
		g.state = types.NewSessionState(schedule.Date(clk.Now()))
	}
	return g
}

// Evaluate runs every check without acquiring anything. Used for dry runs and the overlay.
func (g *Gate) Evaluate(in Input) types.GateDecision {
	in = in.canonical()
	g.mu.Lock()
	now := g.clock.Now()
	rolled := g.rolloverLocked(now)
	d := g.evaluateLocked(in, now)
	snap := g.state.Clone()
	g.mu.Unlock()

	if rolled {
		g.persist(snap)
	}
	g.record(d)
	return d
}

// Execute re-validates and acquires the pair lock in one critical section, submits outside
// it and always releases the lock. A nil trade with a nil error means the gate blocked.
func (g *Gate) Execute(ctx context.Context, in Input, submit SubmitFunc) (d types.GateDecision, trade *types.Trade, err error) {
	in = in.canonical()
	g.mu.Lock()
	now := g.clock.Now()
	g.rolloverLocked(now)
	d = g.evaluateLocked(in, now)
	if !d.Allow {
		g.mu.Unlock()
		g.record(d)
		return d, nil, nil
	}
	g.locks[in.Pair] = struct{}{}
	g.mu.Unlock()
	g.record(d)

	defer func() {
		g.mu.Lock()
		delete(g.locks, in.Pair)
		if err == nil && trade != nil {
			g.state.TradesExecutedToday++
			g.state.LastTradeTime[in.Pair] = g.clock.Now()
			g.open[in.Pair] = true
		}
		snap := g.state.Clone()
		g.mu.Unlock()
		g.persist(snap)
	}()

	trade, err = submit(ctx)
	if err != nil {
		return d, nil, fmt.Errorf("submit %s: %w", in.Pair, err)
	}
	return d, trade, nil
}

func (g *Gate) evaluateLocked(in Input, now time.Time) types.GateDecision {
	d := types.GateDecision{
		ID:   uuid.NewString(),
		Time: now,
		Pair: in.Pair,
	}
	if in.Analysis != nil {
		d.Score = in.Analysis.SetupQualityScore
	}
	add := func(c types.GateCheck, reason string) {
		d.Checks = append(d.Checks, c)
		if !c.Passed {
			if reason == "" {
				reason = c.Name
				if c.Note != "" {
					reason += ": " + c.Note
				}
			}
			d.Reasons = append(d.Reasons, reason)
		}
	}

	st := g.state

	enabled := g.cfg.AutoTrading && !st.AutoTradingStopped
	note := ""
	if st.AutoTradingStopped {
		note = "emergency stop"
	} else if !g.cfg.AutoTrading {
		note = "auto trading disabled"
	}
	add(types.GateCheck{Name: CheckAutoTrading, Passed: enabled, Value: fmt.Sprint(enabled), Note: note}, "")

	w, active := g.schedule.Active(now)
	sess := types.GateCheck{Name: CheckSession, Passed: active, Value: "closed"}
	if active {
		sess.Value = w.Name
	} else if next, at := g.schedule.Next(now); !at.IsZero() {
		sess.Note = fmt.Sprintf("next %s at %s", next.Name, at.In(g.schedule.Location()).Format("15:04"))
	}
	add(sess, "")

	news := types.GateCheck{Name: CheckNews, Passed: true, Value: "clear"}
	if g.news != nil {
		if blackout, why := g.news.Blackout(in.Pair, now); blackout {
			news.Passed, news.Value, news.Note = false, "blackout", why
		}
	}
	add(news, "")

	spread := types.GateCheck{
		Name:      CheckSpread,
		Threshold: fmt.Sprintf("<= %.1f", g.cfg.MaxSpreadPips),
	}
	if in.SpreadPips < 0 {
		spread.Value, spread.Note = "n/a", "no quote"
	} else {
		spread.Value = fmt.Sprintf("%.1f", in.SpreadPips)
		spread.Passed = in.SpreadPips <= g.cfg.MaxSpreadPips
	}
	add(spread, "")

	add(types.GateCheck{
		Name:      CheckRisk,
		Passed:    in.RiskPercent > 0 && in.RiskPercent <= g.cfg.MaxRiskPercent,
		Value:     fmt.Sprintf("%.2f%%", in.RiskPercent),
		Threshold: fmt.Sprintf("<= %.2f%%", g.cfg.MaxRiskPercent),
	}, "")

	add(types.GateCheck{
		Name:      CheckRiskReward,
		Passed:    in.RiskReward >= g.cfg.MinRiskReward,
		Value:     fmt.Sprintf("%.2f", in.RiskReward),
		Threshold: fmt.Sprintf(">= %.2f", g.cfg.MinRiskReward),
	}, "")

	// in-flight orders count against the cap until they resolve
	committed := st.TradesExecutedToday + len(g.locks)
	add(types.GateCheck{
		Name:      CheckMaxTrades,
		Passed:    committed < g.cfg.MaxTradesPerSession,
		Value:     fmt.Sprint(committed),
		Threshold: fmt.Sprintf("< %d", g.cfg.MaxTradesPerSession),
	}, "")

	_, locked := g.locks[in.Pair]
	dup := types.GateCheck{Name: CheckDuplicate, Passed: true, Value: "none"}
	dupReason := ""
	switch {
	case locked:
		dup.Passed, dup.Value, dup.Note = false, "in flight", ReasonLockContention
		dupReason = ReasonLockContention
	case g.open[in.Pair] || in.OpenPairs[in.Pair]:
		dup.Passed, dup.Value, dup.Note = false, "open", "position already open"
	}
	add(dup, dupReason)

	cool := types.GateCheck{Name: CheckCooldown, Passed: true, Value: "ready", Threshold: g.cfg.Cooldown.String()}
	if last, ok := st.LastTradeTime[in.Pair]; ok {
		if wait := last.Add(g.cfg.Cooldown).Sub(now); wait > 0 {
			cool.Passed = false
			cool.Value = wait.Round(time.Second).String()
			cool.Note = fmt.Sprintf("%s remaining", cool.Value)
		}
	}
	add(cool, "")

	strike := types.GateCheck{
		Name:      CheckThreeStrike,
		Passed:    true,
		Value:     fmt.Sprint(st.ConsecutiveLosses[in.Pair]),
		Threshold: fmt.Sprintf("< %d", g.cfg.ThreeStrikeLimit),
	}
	if until, ok := st.PairBlockedUntil[in.Pair]; ok && until.After(now) {
		strike.Passed = false
		strike.Note = fmt.Sprintf("blocked until %s", until.In(g.schedule.Location()).Format("15:04"))
	}
	add(strike, "")

	score := types.GateCheck{Name: CheckScore, Threshold: fmt.Sprintf(">= %.0f", g.cfg.MinTradableScore)}
	if in.Analysis == nil {
		score.Value, score.Note = "n/a", "no analysis"
	} else {
		score.Value = fmt.Sprintf("%.1f", in.Analysis.SetupQualityScore)
		score.Passed = in.Analysis.SetupQualityScore >= g.cfg.MinTradableScore
		if score.Passed && in.Analysis.Signal.Direction == types.DirectionNone {
			score.Passed, score.Note = false, "no entry direction"
		}
	}
	add(score, "")

	d.Allow = len(d.Reasons) == 0
	return d
}

// RecordClose applies a closed trade to the loss streaks. It returns true when the loss
// just blocked the pair.
func (g *Gate) RecordClose(pair string, result types.TradeResult) bool {
	pair = types.PairName(pair)
	g.mu.Lock()
	now := g.clock.Now()
	g.rolloverLocked(now)
	delete(g.open, pair)

	blocked := false
	switch result {
	case types.ResultWin:
		g.state.ConsecutiveLosses[pair] = 0
		delete(g.state.PairBlockedUntil, pair)
	case types.ResultLoss:
		g.state.ConsecutiveLosses[pair]++
		if g.cfg.EnableThreeStrikeRule && g.state.ConsecutiveLosses[pair] >= g.cfg.ThreeStrikeLimit {
			g.state.PairBlockedUntil[pair] = now.Add(g.cfg.PairBlockDuration)
			blocked = true
		}
	}
	snap := g.state.Clone()
	g.mu.Unlock()

	if blocked {
		zap.L().Warn("三连亏, pair blocked",
			zap.String("pair", pair),
			zap.Int("losses", snap.ConsecutiveLosses[pair]),
			zap.Time("until", snap.PairBlockedUntil[pair]))
	}
	g.persist(snap)
	return blocked
}

// ReconcileOpen drops gate-known open pairs the broker no longer reports, once the
// cooldown since their fill has passed.
func (g *Gate) ReconcileOpen(brokerOpen map[string]bool) {
	brokerOpen = canonicalSet(brokerOpen)
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	for pair := range g.open {
		if brokerOpen[pair] {
			continue
		}
		if last, ok := g.state.LastTradeTime[pair]; ok && now.Sub(last) < g.cfg.Cooldown {
			continue
		}
		delete(g.open, pair)
	}
}

// SeedLossStreaks merges streaks rebuilt from broker history, counting only losses from
// the current session date.
func (g *Gate) SeedLossStreaks(streaks map[string]LossStreak) {
	g.mu.Lock()
	now := g.clock.Now()
	g.rolloverLocked(now)
	for name, s := range streaks {
		pair := types.PairName(name)
		if s.Count == 0 || g.schedule.Date(s.LastLoss) != g.state.SessionDate {
			continue
		}
		if s.Count > g.state.ConsecutiveLosses[pair] {
			g.state.ConsecutiveLosses[pair] = s.Count
		}
		if g.cfg.EnableThreeStrikeRule && s.Count >= g.cfg.ThreeStrikeLimit {
			if until := s.LastLoss.Add(g.cfg.PairBlockDuration); until.After(now) {
				g.state.PairBlockedUntil[pair] = until
			}
		}
	}
	snap := g.state.Clone()
	g.mu.Unlock()
	g.persist(snap)
}

// EmergencyStop halts automated trading until Resume; it survives the daily reset.
func (g *Gate) EmergencyStop() {
	g.setStopped(true)
	zap.L().Warn("紧急停止, auto trading stopped")
}

func (g *Gate) Resume() {
	g.setStopped(false)
	zap.L().Info("auto trading resumed")
}

// Stopped reports whether the emergency stop is active.
func (g *Gate) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.AutoTradingStopped
}

func (g *Gate) setStopped(v bool) {
	g.mu.Lock()
	g.state.AutoTradingStopped = v
	snap := g.state.Clone()
	g.mu.Unlock()
	g.persist(snap)
}

// Snapshot a consistent copy of the gate state.
type Snapshot struct {
	State    types.SessionState `json:"state"`
	InFlight []string           `json:"in_flight"`
	Open     []string           `json:"open"`
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{State: g.state.Clone()}
	for p := range g.locks {
		s.InFlight = append(s.InFlight, p)
	}
	for p := range g.open {
		s.Open = append(s.Open, p)
	}
	sort.Strings(s.InFlight)
	sort.Strings(s.Open)
	return s
}

// rolloverLocked resets the daily counters when the session date changes. Blocks that
// have not yet expired and the emergency stop carry over.
func (g *Gate) rolloverLocked(now time.Time) bool {
	date := g.schedule.Date(now)
	if g.state.SessionDate == date {
		return false
	}
	next := types.NewSessionState(date)
	next.AutoTradingStopped = g.state.AutoTradingStopped
	for pair, until := range g.state.PairBlockedUntil {
		if until.After(now) {
			next.PairBlockedUntil[pair] = until
		}
	}
	for pair, last := range g.state.LastTradeTime {
		if now.Sub(last) < g.cfg.Cooldown {
			next.LastTradeTime[pair] = last
		}
	}
	zap.L().Info("session rollover",
		zap.String("from", g.state.SessionDate),
		zap.String("to", date),
		zap.Int("trades", g.state.TradesExecutedToday))
	g.state = next
	return true
}

func (g *Gate) persist(state types.SessionState) {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.store.SaveSession(ctx, state); err != nil {
		zap.L().Warn("persist session state failed", zap.Error(err))
	}
}

func (g *Gate) record(d types.GateDecision) {
	if g.recorder != nil {
		g.recorder.RecordDecision(d)
	}
	if d.Allow {
		zap.L().Info("gate decision",
			zap.String("pair", d.Pair),
			zap.String("final", d.FinalDecision()),
			zap.Float64("score", d.Score))
		return
	}
	zap.L().Debug("gate decision",
		zap.String("pair", d.Pair),
		zap.String("final", d.FinalDecision()),
		zap.Float64("score", d.Score),
		zap.Strings("reasons", d.Reasons))
}
