package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"fx-session-sentry/internal/broker"
	"fx-session-sentry/internal/clock"
	"fx-session-sentry/internal/gate"
	"fx-session-sentry/internal/notifier"
	"fx-session-sentry/internal/risk"
	"fx-session-sentry/pkg/types"

	"go.uber.org/zap"
)

const (
	usdJPY              = "USD/JPY"
	closedTradeLookback = 50
	defaultDebounce     = 5 * time.Second
)

// Analyzer produces one analysis per pair.
type Analyzer interface {
	AnalyzePair(ctx context.Context, pair string) (*types.MultiTimeframeAnalysis, error)
}

// Broker the account and order calls one cycle makes.
type Broker interface {
	Configured() bool
	GetPrices(ctx context.Context, pairs []string) (map[string]types.Price, error)
	GetAccount(ctx context.Context) (*types.Account, error)
	GetOpenPositions(ctx context.Context) ([]types.Position, error)
	GetClosedTrades(ctx context.Context, count int) ([]types.ClosedTrade, error)
	PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (*types.Trade, error)
}

// Journal durable trade records.
type Journal interface {
	SaveTrade(trade *types.Trade, a *types.MultiTimeframeAnalysis) error
	RecordTradeClose(ct types.ClosedTrade, day time.Time) error
	BatchSaveDecisions(decisions []types.GateDecision) error
}

// Publisher receives one event per pair per cycle.
type Publisher interface {
	Broadcast(ev types.CycleEvent)
}

type Metrics interface {
	RecordAnalysis(a *types.MultiTimeframeAnalysis)
	RecordAnalysisError(pair string)
	RecordOrder(pair string, err error)
	RecordPairBlocked(pair string)
	ObserveCycle(d time.Duration)
}

// Deps collaborators of the scheduler. Journal, Decisions, Feed and Metrics are optional.
type Deps struct {
	Broker    Broker
	Analyzer  Analyzer
	Gate      *gate.Gate
	Sizer     *risk.Sizer
	Notifier  notifier.Interface
	Journal   Journal
	Decisions *DecisionLog
	Feed      Publisher
	Metrics   Metrics
	Clock     clock.Clock
}

// CycleSummary what one tick did.
type CycleSummary struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Analyzed int           `json:"analyzed"`
	Allowed  int           `json:"allowed"`
	Blocked  int           `json:"blocked"`
	Filled   int           `json:"filled"`
	Errors   int           `json:"errors"`
	Skipped  string        `json:"skipped,omitempty"`
}

// Scheduler 调度器: drives analysis → gate → order for every configured pair.
type Scheduler struct {
	deps     Deps
	cfg      types.TradingConfig
	settings types.Settings
	gateCfg  gate.Config

	mu           sync.Mutex
	analyzing    map[string]bool
	lastAnalyzed map[string]time.Time
	seenClosed   map[string]bool
	primed       bool
	fills        []*types.TradeAlert
	last         CycleSummary
	hooks        []func(CycleSummary)

	stopped atomic.Bool
}

func NewScheduler(deps Deps, cfg types.TradingConfig, settings types.Settings) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.NewConsoleNotifier()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 2
	}
	if cfg.AnalyzeDebounce <= 0 {
		cfg.AnalyzeDebounce = defaultDebounce
	}
	// gate, broker and journal all key pairs as EUR/USD
	cfg.Pairs = types.NormalizePairs(cfg.Pairs)
	settings.PreferredPairs = types.NormalizePairs(settings.PreferredPairs)
	return &Scheduler{
		deps:         deps,
		cfg:          cfg,
		settings:     settings,
		gateCfg:      gate.ConfigFrom(cfg, settings),
		analyzing:    make(map[string]bool),
		lastAnalyzed: make(map[string]time.Time),
		seenClosed:   make(map[string]bool),
	}
}

// OnCycleTick registers a callback run after every cycle.
func (s *Scheduler) OnCycleTick(fn func(CycleSummary)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *Scheduler) pairs() []string {
	if len(s.settings.PreferredPairs) > 0 {
		return s.settings.PreferredPairs
	}
	return s.cfg.Pairs
}

func (s *Scheduler) interval() time.Duration {
	if s.settings.RefreshInterval > 0 {
		return s.settings.RefreshInterval
	}
	return s.cfg.RefreshInterval
}

// Start runs cycles until ctx is cancelled, each aligned to the next interval boundary.
func (s *Scheduler) Start(ctx context.Context) {
	zap.L().Info("🚀 调度器启动",
		zap.Strings("pairs", s.pairs()),
		zap.Duration("interval", s.interval()),
		zap.Int("batch_size", s.cfg.BatchSize))

	for {
		s.RunCycle(ctx)

		next := s.nextCycleTime()
		wait := next.Sub(s.deps.Clock.Now())
		zap.L().Debug("⏰ 下次分析时间", zap.Time("next", next), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			zap.L().Info("📴 调度器已停止")
			return
		case <-time.After(wait):
		}
	}
}

// Stop makes later cycles no-ops. An order already submitted completes.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
}

// nextCycleTime 计算下一个对齐的时间点
func (s *Scheduler) nextCycleTime() time.Time {
	interval := s.interval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return s.deps.Clock.Now().Truncate(interval).Add(interval)
}

// environment account-level data shared by every pair of one cycle.
type environment struct {
	account   *types.Account
	openPairs map[string]bool
	prices    map[string]types.Price
}

func (e *environment) usdJPYRate() float64 {
	if p, ok := e.prices[usdJPY]; ok {
		return p.Mid()
	}
	return 0
}

type pairOutcome struct {
	analyzed bool
	allowed  bool
	filled   bool
	err      error
}

// RunCycle one tick: close tracking, account snapshot, then pairs in batches.
func (s *Scheduler) RunCycle(ctx context.Context) (sum CycleSummary) {
	sum.Started = s.deps.Clock.Now()
	defer func() { s.finish(&sum) }()

	if s.stopped.Load() {
		sum.Skipped = "stopped"
		return sum
	}
	if s.deps.Broker == nil || !s.deps.Broker.Configured() {
		zap.L().Warn("⚠️ 未配置OANDA凭证, 跳过本轮分析")
		sum.Skipped = "broker not configured"
		return sum
	}
	pairs := s.pairs()
	if len(pairs) == 0 {
		zap.L().Warn("⚠️ 未配置交易对, 跳过本轮分析")
		sum.Skipped = "no pairs"
		return sum
	}

	s.SyncClosedTrades(ctx)

	// closes are still tracked while stopped, nothing is analyzed
	if s.deps.Gate.Stopped() {
		sum.Skipped = "emergency stop"
		return sum
	}

	env, err := s.loadEnvironment(ctx, pairs)
	if err != nil {
		zap.L().Warn("⚠️ 账户数据获取失败, 跳过本轮", zap.Error(err))
		sum.Skipped = err.Error()
		sum.Errors++
		return sum
	}
	s.deps.Gate.ReconcileOpen(env.openPairs)

	outcomes := make(chan pairOutcome, len(pairs))
	for i := 0; i < len(pairs); i += s.cfg.BatchSize {
		if i > 0 && !s.sleep(ctx, s.cfg.BatchDelay) {
			break
		}
		end := i + s.cfg.BatchSize
		if end > len(pairs) {
			end = len(pairs)
		}

		var wg sync.WaitGroup
		for _, pair := range pairs[i:end] {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				outcomes <- s.processPair(ctx, p, env)
			}(pair)
		}
		wg.Wait()
	}
	close(outcomes)

	for o := range outcomes {
		switch {
		case o.err != nil:
			sum.Errors++
		case o.filled:
			sum.Filled++
		}
		if !o.analyzed {
			continue
		}
		sum.Analyzed++
		if o.allowed {
			sum.Allowed++
		} else {
			sum.Blocked++
		}
	}
	return sum
}

func (s *Scheduler) finish(sum *CycleSummary) {
	sum.Duration = s.deps.Clock.Now().Sub(sum.Started)
	if s.deps.Decisions != nil {
		s.deps.Decisions.Flush()
	}
	if s.deps.Metrics != nil && sum.Skipped == "" {
		s.deps.Metrics.ObserveCycle(sum.Duration)
	}

	s.mu.Lock()
	s.last = *sum
	hooks := append([]func(CycleSummary){}, s.hooks...)
	fills := s.fills
	s.fills = nil
	s.mu.Unlock()

	s.alertBatch(fills)

	if sum.Skipped == "" {
		zap.L().Info("--- 分析任务完成 ---",
			zap.Int("analyzed", sum.Analyzed),
			zap.Int("allowed", sum.Allowed),
			zap.Int("filled", sum.Filled),
			zap.Int("errors", sum.Errors),
			zap.Duration("took", sum.Duration))
	}
	for _, fn := range hooks {
		fn(*sum)
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Scheduler) loadEnvironment(ctx context.Context, pairs []string) (*environment, error) {
	account, err := s.deps.Broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	positions, err := s.deps.Broker.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}

	env := &environment{
		account:   account,
		openPairs: broker.OpenPairs(positions),
		prices:    map[string]types.Price{},
	}

	quotes := append([]string{}, pairs...)
	needRate := false
	for _, p := range pairs {
		if types.QuoteCurrency(p) == "JPY" {
			needRate = true
		}
		if types.PairName(p) == usdJPY {
			needRate = false
			break
		}
	}
	if needRate {
		quotes = append(quotes, usdJPY)
	}
	prices, err := s.deps.Broker.GetPrices(ctx, quotes)
	if err != nil {
		// spread_ok blocks every pair without a quote
		zap.L().Warn("⚠️ 报价获取失败", zap.Error(err))
	} else {
		env.prices = prices
	}
	return env, nil
}

// beginAnalysis Idle → Analyzing, refused while analyzing or within the debounce window.
func (s *Scheduler) beginAnalysis(pair string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Clock.Now()
	if s.analyzing[pair] {
		return false
	}
	if last, ok := s.lastAnalyzed[pair]; ok && now.Sub(last) < s.cfg.AnalyzeDebounce {
		return false
	}
	s.analyzing[pair] = true
	s.lastAnalyzed[pair] = now
	return true
}

func (s *Scheduler) endAnalysis(pair string) {
	s.mu.Lock()
	delete(s.analyzing, pair)
	s.mu.Unlock()
}

func (s *Scheduler) processPair(ctx context.Context, pair string, env *environment) (out pairOutcome) {
	if s.deps.Gate.Stopped() {
		return out
	}
	if !s.beginAnalysis(pair) {
		zap.L().Debug("analysis debounced", zap.String("pair", pair))
		return out
	}
	defer s.endAnalysis(pair)

	ev := types.CycleEvent{Pair: pair}
	defer func() {
		ev.Time = s.deps.Clock.Now()
		if s.deps.Feed != nil {
			s.deps.Feed.Broadcast(ev)
		}
	}()

	analysis, err := s.deps.Analyzer.AnalyzePair(ctx, pair)
	if err != nil {
		zap.L().Warn("⚠️ 分析失败", zap.String("pair", pair), zap.Error(err))
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordAnalysisError(pair)
		}
		ev.Error = err.Error()
		out.err = err
		return out
	}
	out.analyzed = true
	ev.Analysis = analysis
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordAnalysis(analysis)
	}

	in, levels := s.gateInput(pair, analysis, env)
	d, trade, err := s.deps.Gate.Execute(ctx, in, s.submitter(pair, analysis, levels, env))
	ev.Decision = &d
	out.allowed = d.Allow
	if !d.Allow {
		return out
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordOrder(pair, err)
	}
	if err != nil {
		zap.L().Error("❌ 下单失败", zap.String("pair", pair), zap.Error(err))
		ev.Error = err.Error()
		out.err = err
		return out
	}
	out.filled = true
	ev.Trade = trade

	s.queueFill(&types.TradeAlert{
		Kind:           notifier.KindFilled,
		Pair:           pair,
		Units:          trade.Units,
		Price:          trade.Price,
		StopLossPips:   levels.StopLossPips,
		TakeProfitPips: levels.TakeProfitPips,
		Score:          analysis.SetupQualityScore,
		Recommendation: analysis.Recommendation,
		Time:           s.deps.Clock.Now(),
	})
	if s.deps.Journal != nil {
		if err := s.deps.Journal.SaveTrade(trade, analysis); err != nil {
			zap.L().Warn("保存成交记录失败", zap.String("pair", pair), zap.Error(err))
		}
	}
	return out
}

func (s *Scheduler) gateInput(pair string, a *types.MultiTimeframeAnalysis, env *environment) (gate.Input, risk.Levels) {
	spread := -1.0
	if p, ok := env.prices[types.PairName(pair)]; ok {
		spread = p.SpreadPips()
	}
	rr := s.gateCfg.RiskReward(a.SetupQualityScore, s.settings)
	levels := risk.CalculateSLTP(a.ATR, pair, rr)

	return gate.Input{
		Pair:        pair,
		Analysis:    a,
		SpreadPips:  spread,
		RiskPercent: s.settings.RiskPercentage,
		RiskReward:  levels.RiskReward,
		OpenPairs:   env.openPairs,
	}, levels
}

// submitter sizes the order at submit time; it runs while the gate holds the pair lock.
func (s *Scheduler) submitter(pair string, a *types.MultiTimeframeAnalysis, levels risk.Levels, env *environment) gate.SubmitFunc {
	return func(ctx context.Context) (*types.Trade, error) {
		sizing := s.deps.Sizer.PositionSize(risk.SizingInput{
			Balance:         env.account.Balance,
			RiskPercent:     s.settings.RiskPercentage,
			StopLossPips:    levels.StopLossPips,
			Pair:            pair,
			USDJPYRate:      env.usdJPYRate(),
			MarginAvailable: env.account.MarginAvailable,
			MarginRate:      env.account.MarginRate,
		})
		if sizing.Units <= 0 {
			return nil, fmt.Errorf("%s: position size is zero", pair)
		}

		units := sizing.Units
		if a.Signal.Direction == types.DirectionShort {
			units = -units
		}
		return s.deps.Broker.PlaceMarketOrder(ctx, broker.OrderRequest{
			Pair:           pair,
			Units:          units,
			StopLossPips:   sizing.StopLossPips,
			TakeProfitPips: levels.TakeProfitPips,
		})
	}
}

func (s *Scheduler) alert(a *types.TradeAlert) {
	if err := s.deps.Notifier.SendAlert(a); err != nil {
		zap.L().Warn("通知发送失败", zap.String("pair", a.Pair), zap.Error(err))
	}
}

// queueFill fill alerts of one cycle go out together when the cycle finishes.
func (s *Scheduler) queueFill(a *types.TradeAlert) {
	s.mu.Lock()
	s.fills = append(s.fills, a)
	s.mu.Unlock()
}

func (s *Scheduler) alertBatch(alerts []*types.TradeAlert) {
	if len(alerts) == 0 {
		return
	}
	if err := s.deps.Notifier.SendBatchAlerts(alerts); err != nil {
		zap.L().Warn("批量通知发送失败", zap.Int("count", len(alerts)), zap.Error(err))
	}
}

// EmergencyStop stops automated trading and announces it. Orders already submitted
// complete; analysis resumes only after Resume.
func (s *Scheduler) EmergencyStop(note string) {
	s.deps.Gate.EmergencyStop()
	s.alert(&types.TradeAlert{
		Kind: notifier.KindStopped,
		Note: note,
		Time: s.deps.Clock.Now(),
	})
}

func (s *Scheduler) Resume() {
	s.deps.Gate.Resume()
}

// SyncClosedTrades feeds newly closed trades to the loss-streak rule. The first call only
// seeds today's streaks from history.
func (s *Scheduler) SyncClosedTrades(ctx context.Context) {
	trades, err := s.deps.Broker.GetClosedTrades(ctx, closedTradeLookback)
	if err != nil {
		zap.L().Warn("⚠️ 平仓记录获取失败", zap.Error(err))
		return
	}

	s.mu.Lock()
	primed := s.primed
	var fresh []types.ClosedTrade
	seen := make(map[string]bool, len(trades))
	for _, t := range trades {
		seen[t.ID] = true
		if primed && !s.seenClosed[t.ID] {
			fresh = append(fresh, t)
		}
	}
	// ids that slid out of the lookback window never come back
	s.seenClosed = seen
	s.primed = true
	s.mu.Unlock()

	if !primed {
		s.deps.Gate.SeedLossStreaks(gate.ConsecutiveLossesFromHistory(trades))
		zap.L().Info("loss streaks seeded from history", zap.Int("trades", len(trades)))
		return
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].CloseTime.Before(fresh[j].CloseTime) })
	var blocks []*types.TradeAlert
	defer func() { s.alertBatch(blocks) }()
	for _, t := range fresh {
		pips := t.PnLPips()
		result := types.ClassifyResult(pips)
		blocked := s.deps.Gate.RecordClose(t.Pair, result)
		zap.L().Info("trade closed",
			zap.String("pair", t.Pair),
			zap.String("trade_id", t.ID),
			zap.String("result", string(result)),
			zap.Float64("pips", pips))

		if s.deps.Journal != nil {
			if err := s.deps.Journal.RecordTradeClose(t, t.CloseTime); err != nil {
				zap.L().Warn("保存平仓记录失败", zap.String("trade_id", t.ID), zap.Error(err))
			}
		}
		if !blocked {
			continue
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordPairBlocked(t.Pair)
		}
		blocks = append(blocks, &types.TradeAlert{
			Kind: notifier.KindBlocked,
			Pair: types.PairName(t.Pair),
			Note: fmt.Sprintf("%d consecutive losses, paused for %s", s.gateCfg.ThreeStrikeLimit, s.gateCfg.PairBlockDuration),
			Time: s.deps.Clock.Now(),
		})
	}
}

// DryRun analyzes one pair and evaluates the gate without acquiring anything.
func (s *Scheduler) DryRun(ctx context.Context, pair string) (*types.MultiTimeframeAnalysis, types.GateDecision, error) {
	pair = types.PairName(pair)
	analysis, err := s.deps.Analyzer.AnalyzePair(ctx, pair)
	if err != nil {
		return nil, types.GateDecision{}, err
	}
	env, err := s.loadEnvironment(ctx, []string{pair})
	if err != nil {
		return analysis, types.GateDecision{}, err
	}
	in, _ := s.gateInput(pair, analysis, env)
	return analysis, s.deps.Gate.Evaluate(in), nil
}

// Snapshot 运行状态
type Snapshot struct {
	Gate      gate.Snapshot `json:"gate"`
	Pairs     []string      `json:"pairs"`
	Analyzing []string      `json:"analyzing"`
	LastCycle CycleSummary  `json:"last_cycle"`
	Stopped   bool          `json:"stopped"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Pairs:     append([]string{}, s.pairs()...),
		LastCycle: s.last,
		Stopped:   s.stopped.Load(),
	}
	for p := range s.analyzing {
		snap.Analyzing = append(snap.Analyzing, p)
	}
	s.mu.Unlock()

	sort.Strings(snap.Analyzing)
	snap.Gate = s.deps.Gate.Snapshot()
	return snap
}
