package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"fx-session-sentry/internal/database"
	"fx-session-sentry/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "fxsentry"

// PerformanceStore daily rows backing the per-pair report.
type PerformanceStore interface {
	GetDailyPerformance(pair string, days int) ([]database.DailyPerformance, error)
}

// PerformanceMonitor 运行指标: prometheus collectors plus an in-memory summary for the
// periodic log report.
type PerformanceMonitor struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	blockedChecks  *prometheus.CounterVec
	setupScore     *prometheus.GaugeVec
	orders         *prometheus.CounterVec
	analysisErrors *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	pairsBlocked   prometheus.Counter

	store       PerformanceStore
	reportEvery time.Duration
	now         func() time.Time

	mu      sync.Mutex
	metrics *PerformanceMetrics

	ctx    context.Context
	cancel context.CancelFunc
}

// PerformanceMetrics 性能指标
type PerformanceMetrics struct {
	StartTime       time.Time               `json:"start_time"`
	Cycles          int64                   `json:"cycles"`
	AvgCycleSeconds float64                 `json:"avg_cycle_seconds"`
	TotalDecisions  int64                   `json:"total_decisions"`
	Allowed         int64                   `json:"allowed"`
	Blocked         int64                   `json:"blocked"`
	OrdersFilled    int64                   `json:"orders_filled"`
	OrdersFailed    int64                   `json:"orders_failed"`
	PairStats       map[string]*PairMetrics `json:"pair_stats"`
	LastUpdateTime  time.Time               `json:"last_update_time"`
}

// PairMetrics 单个货币对的指标
type PairMetrics struct {
	Pair             string         `json:"pair"`
	Decisions        int            `json:"decisions"`
	Allowed          int            `json:"allowed"`
	LastScore        float64        `json:"last_score"`
	LastDecision     string         `json:"last_decision"`
	LastReasons      []string       `json:"last_reasons,omitempty"`
	LastDecisionTime time.Time      `json:"last_decision_time"`
	BlockedBy        map[string]int `json:"blocked_by,omitempty"`
}

// NewPerformanceMonitor 创建性能监控器. store may be nil when MySQL is disabled.
func NewPerformanceMonitor(store PerformanceStore, reportEvery time.Duration) *PerformanceMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if reportEvery <= 0 {
		reportEvery = 5 * time.Minute
	}

	pm := &PerformanceMonitor{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_decisions_total",
				Help:      "Trade gate decisions by outcome",
			},
			[]string{"decision"},
		),
		blockedChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_failed_checks_total",
				Help:      "Failed gate checks by check name",
			},
			[]string{"check"},
		),
		setupScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "setup_quality_score",
				Help:      "Latest setup quality score per pair (0-100)",
			},
			[]string{"pair"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Market orders submitted by result",
			},
			[]string{"result"},
		),
		analysisErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_errors_total",
				Help:      "Pairs whose analysis cycle failed",
			},
			[]string{"pair"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of one full analysis cycle",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),
		pairsBlocked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pair_blocks_total",
				Help:      "Pairs blocked by the three-strike rule",
			},
		),
		store:       store,
		reportEvery: reportEvery,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
	pm.metrics = &PerformanceMetrics{
		StartTime: pm.now(),
		PairStats: make(map[string]*PairMetrics),
	}

	pm.registry.MustRegister(
		pm.decisions,
		pm.blockedChecks,
		pm.setupScore,
		pm.orders,
		pm.analysisErrors,
		pm.cycleDuration,
		pm.pairsBlocked,
		collectors.NewGoCollector(),
	)
	return pm
}

// Handler serves the registry in the prometheus exposition format.
func (pm *PerformanceMonitor) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Start 启动报告协程
func (pm *PerformanceMonitor) Start() {
	zap.L().Info("📊 启动性能监控器", zap.Duration("report_every", pm.reportEvery))
	go pm.reportLoop()
}

func (pm *PerformanceMonitor) reportLoop() {
	ticker := time.NewTicker(pm.reportEvery)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.generateReport()
		}
	}
}

func (pm *PerformanceMonitor) pair(name string) *PairMetrics {
	p := pm.metrics.PairStats[name]
	if p == nil {
		p = &PairMetrics{Pair: name, BlockedBy: make(map[string]int)}
		pm.metrics.PairStats[name] = p
	}
	return p
}

// RecordDecision implements the gate's decision recorder.
func (pm *PerformanceMonitor) RecordDecision(d types.GateDecision) {
	label := strings.ToLower(d.FinalDecision())
	pm.decisions.WithLabelValues(label).Inc()

	var failed []string
	for _, c := range d.Checks {
		if !c.Passed {
			pm.blockedChecks.WithLabelValues(c.Name).Inc()
			failed = append(failed, c.Name)
		}
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.metrics.TotalDecisions++
	p := pm.pair(d.Pair)
	p.Decisions++
	p.LastScore = d.Score
	p.LastDecision = d.FinalDecision()
	p.LastReasons = d.Reasons
	p.LastDecisionTime = d.Time
	if d.Allow {
		pm.metrics.Allowed++
		p.Allowed++
	} else {
		pm.metrics.Blocked++
		for _, name := range failed {
			p.BlockedBy[name]++
		}
	}
	pm.metrics.LastUpdateTime = pm.now()
}

// RecordAnalysis exports the latest setup score of a pair.
func (pm *PerformanceMonitor) RecordAnalysis(a *types.MultiTimeframeAnalysis) {
	if a == nil {
		return
	}
	pm.setupScore.WithLabelValues(a.Pair).Set(a.SetupQualityScore)
}

func (pm *PerformanceMonitor) RecordAnalysisError(pair string) {
	pm.analysisErrors.WithLabelValues(pair).Inc()
}

// RecordOrder counts a submitted order; err nil means filled.
func (pm *PerformanceMonitor) RecordOrder(pair string, err error) {
	result := "filled"
	if err != nil {
		result = "failed"
	}
	pm.orders.WithLabelValues(result).Inc()

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if err != nil {
		pm.metrics.OrdersFailed++
	} else {
		pm.metrics.OrdersFilled++
	}
}

func (pm *PerformanceMonitor) RecordPairBlocked(pair string) {
	pm.pairsBlocked.Inc()
	zap.L().Debug("pair block counted", zap.String("pair", pair))
}

// ObserveCycle records one scheduler cycle.
func (pm *PerformanceMonitor) ObserveCycle(d time.Duration) {
	pm.cycleDuration.Observe(d.Seconds())

	pm.mu.Lock()
	defer pm.mu.Unlock()
	n := float64(pm.metrics.Cycles)
	pm.metrics.AvgCycleSeconds = (pm.metrics.AvgCycleSeconds*n + d.Seconds()) / (n + 1)
	pm.metrics.Cycles++
}

// GetMetrics 获取当前性能指标 (deep copy)
func (pm *PerformanceMonitor) GetMetrics() PerformanceMetrics {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := *pm.metrics
	out.PairStats = make(map[string]*PairMetrics, len(pm.metrics.PairStats))
	for k, v := range pm.metrics.PairStats {
		cp := *v
		cp.LastReasons = append([]string(nil), v.LastReasons...)
		cp.BlockedBy = make(map[string]int, len(v.BlockedBy))
		for name, n := range v.BlockedBy {
			cp.BlockedBy[name] = n
		}
		out.PairStats[k] = &cp
	}
	return out
}

// GetMetricsJSON 获取JSON格式的性能指标
func (pm *PerformanceMonitor) GetMetricsJSON() (string, error) {
	metrics := pm.GetMetrics()
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (pm *PerformanceMonitor) generateReport() {
	m := pm.GetMetrics()

	zap.L().Info("📈 运行报告",
		zap.Duration("run_time", pm.now().Sub(m.StartTime).Truncate(time.Second)),
		zap.Int64("cycles", m.Cycles),
		zap.Float64("avg_cycle_seconds", m.AvgCycleSeconds),
		zap.Int64("decisions", m.TotalDecisions),
		zap.Int64("allowed", m.Allowed),
		zap.Int64("blocked", m.Blocked),
		zap.Int64("orders_filled", m.OrdersFilled),
		zap.Int64("orders_failed", m.OrdersFailed))

	for _, name := range sortedPairs(m.PairStats) {
		p := m.PairStats[name]
		zap.L().Info("📊 货币对",
			zap.String("pair", name),
			zap.Int("decisions", p.Decisions),
			zap.Int("allowed", p.Allowed),
			zap.Float64("last_score", p.LastScore),
			zap.String("last_decision", p.LastDecision),
			zap.Strings("last_reasons", p.LastReasons))
	}
}

func sortedPairs(stats map[string]*PairMetrics) []string {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DailyReport 日报告
type DailyReport struct {
	Pair       string    `json:"pair"`
	Date       time.Time `json:"date"`
	Trades     int       `json:"trades"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	Breakevens int       `json:"breakevens"`
	PnLPips    float64   `json:"pnl_pips"`
	WinRate    float64   `json:"win_rate"`
}

// GetDailyReport 获取日报告 from the closed-trade aggregates.
func (pm *PerformanceMonitor) GetDailyReport(pair string) (*DailyReport, error) {
	if pm.store == nil {
		return nil, fmt.Errorf("daily report for %s: database disabled", pair)
	}
	rows, err := pm.store.GetDailyPerformance(pair, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &DailyReport{Pair: pair, Date: pm.now().UTC().Truncate(24 * time.Hour)}, nil
	}

	perf := rows[0]
	report := &DailyReport{
		Pair:       pair,
		Date:       perf.Date,
		Trades:     perf.Trades,
		Wins:       perf.Wins,
		Losses:     perf.Losses,
		Breakevens: perf.Breakevens,
		PnLPips:    perf.PnLPips,
	}
	if decided := perf.Wins + perf.Losses; decided > 0 {
		report.WinRate = float64(perf.Wins) / float64(decided) * 100
	}
	return report, nil
}

// PrintFormattedReport 打印格式化报告
func (pm *PerformanceMonitor) PrintFormattedReport(w io.Writer) {
	m := pm.GetMetrics()

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "📈 FX Session Sentry 运行报告")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "🕐 运行时间: %s\n", pm.now().Sub(m.StartTime).Truncate(time.Second))
	fmt.Fprintf(w, "🔄 分析周期: %d (avg %.2fs)\n", m.Cycles, m.AvgCycleSeconds)
	fmt.Fprintf(w, "🎯 决策: %d allow / %d block\n", m.Allowed, m.Blocked)
	fmt.Fprintf(w, "💹 订单: %d filled / %d failed\n", m.OrdersFilled, m.OrdersFailed)
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, name := range sortedPairs(m.PairStats) {
		p := m.PairStats[name]
		fmt.Fprintf(w, "%s: score %.1f %s (%d decisions) 最近: %s\n",
			name, p.LastScore, p.LastDecision, p.Decisions,
			p.LastDecisionTime.Format("01-02 15:04"))
	}

	fmt.Fprintln(w, strings.Repeat("=", 80)+"\n")
}

// Stop 停止性能监控
func (pm *PerformanceMonitor) Stop() {
	zap.L().Info("🛑 停止性能监控器")
	pm.cancel()
}
