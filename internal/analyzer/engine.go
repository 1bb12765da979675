package analyzer

import (
	"context"
	"fmt"
	"sync"

	"fx-session-sentry/internal/strategy/indicators"
	"fx-session-sentry/pkg/types"

	"go.uber.org/zap"
)

// Candle history requested per timeframe.
const (
	GranularityTrend  = "M30"
	GranularityZones  = "M15"
	GranularitySignal = "M1"

	TrendCandles  = 250
	ZoneCandles   = 100
	SignalCandles = 100

	cleanStructureScore = 60
	strongSetupScore    = 70
	stopATRPeriod       = 14
)

// CandleSource the subset of the broker the engine needs.
type CandleSource interface {
	GetCandles(ctx context.Context, pair, granularity string, count int) ([]types.Candle, error)
}

// AnalysisEngine composes the four analyzers into one MultiTimeframeAnalysis.
type AnalysisEngine struct {
	source  CandleSource
	weights Weights
}

func NewAnalysisEngine(source CandleSource, weights Weights) *AnalysisEngine {
	return &AnalysisEngine{
		source:  source,
		weights: weights,
	}
}

// Analyze is pure: identical candles produce an identical result.
func (ae *AnalysisEngine) Analyze(pair string, m30, m15, m1 []types.Candle) types.MultiTimeframeAnalysis {
	result := types.MultiTimeframeAnalysis{
		Pair:           pair,
		Trend:          AnalyzeTrend(m30, ae.weights),
		Zones:          IdentifyZones(m15),
		Signal:         types.NoSignal(),
		Recommendation: types.RecommendWait,
	}

	if len(m1) > 0 {
		last := m1[len(m1)-1]
		result.CurrentPrice = last.Close
		result.AnalyzedAt = last.Time
		result.ATR = indicators.ATR(m1, stopATRPeriod)
		result.InKillZone = IsPriceInKillZone(result.CurrentPrice, result.Zones, pair)
	}

	result.Signal = AnalyzeSignal(m1, result.Zones, result.Trend, result.InKillZone)
	result.Structure = ScoreStructure(m1)
	result.SetupQualityScore = ae.setupQualityScore(result)
	result.Recommendation = recommend(result)
	result.Checklist = types.Checklist{
		TrendAligned:   directionMatchesBias(result.Signal.Direction, result.Trend.Bias),
		InKillZone:     result.InKillZone,
		EntryTrigger:   result.Signal.Type != types.SignalNone,
		CleanStructure: result.Structure.StructureScore >= cleanStructureScore,
		APlusSetup:     result.SetupQualityScore >= strongSetupScore,
	}
	return result
}

func (ae *AnalysisEngine) setupQualityScore(a types.MultiTimeframeAnalysis) float64 {
	score := 0.0
	if a.Trend.Bias != types.BiasRanging {
		score += ae.weights.SetupTrend * a.Trend.Confidence
	}
	if a.InKillZone {
		score += ae.weights.SetupZone
	}
	score += ae.weights.SetupSignal * a.Signal.Confidence
	return round1(clamp(score, 0, 100))
}

func recommend(a types.MultiTimeframeAnalysis) types.Recommendation {
	if !a.InKillZone || !directionMatchesBias(a.Signal.Direction, a.Trend.Bias) {
		return types.RecommendWait
	}
	strong := a.SetupQualityScore >= strongSetupScore
	switch a.Signal.Direction {
	case types.DirectionLong:
		if strong {
			return types.RecommendStrongBuy
		}
		return types.RecommendBuy
	case types.DirectionShort:
		if strong {
			return types.RecommendStrongSell
		}
		return types.RecommendSell
	}
	return types.RecommendWait
}

func directionMatchesBias(dir types.Direction, bias types.Bias) bool {
	return (dir == types.DirectionLong && bias == types.BiasBullish) ||
		(dir == types.DirectionShort && bias == types.BiasBearish)
}

// AnalyzePair fetches the three timeframes concurrently and analyzes them.
func (ae *AnalysisEngine) AnalyzePair(ctx context.Context, pair string) (*types.MultiTimeframeAnalysis, error) {
	requests := []struct {
		granularity string
		count       int
	}{
		{GranularityTrend, TrendCandles},
		{GranularityZones, ZoneCandles},
		{GranularitySignal, SignalCandles},
	}

	candles := make([][]types.Candle, len(requests))
	errs := make([]error, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, granularity string, count int) {
			defer wg.Done()
			candles[i], errs[i] = ae.source.GetCandles(ctx, pair, granularity, count)
		}(i, req.granularity, req.count)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s candles: %w", pair, requests[i].granularity, err)
		}
	}

	result := ae.Analyze(pair, candles[0], candles[1], candles[2])
	zap.L().Debug("🔍 analysis complete",
		zap.String("pair", pair),
		zap.String("bias", string(result.Trend.Bias)),
		zap.Float64("trend_confidence", result.Trend.Confidence),
		zap.Bool("in_zone", result.InKillZone),
		zap.String("signal", string(result.Signal.Type)),
		zap.Float64("score", result.SetupQualityScore),
		zap.String("recommendation", string(result.Recommendation)))
	return &result, nil
}

// AnalyzeAll analyzes every pair concurrently. Failed pairs are logged and left out.
func (ae *AnalysisEngine) AnalyzeAll(ctx context.Context, pairs []string) map[string]*types.MultiTimeframeAnalysis {
	results := make(map[string]*types.MultiTimeframeAnalysis, len(pairs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, pair := range pairs {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			analysis, err := ae.AnalyzePair(ctx, p)
			if err != nil {
				zap.L().Warn("⚠️ analysis failed", zap.String("pair", p), zap.Error(err))
				return
			}
			mu.Lock()
			results[p] = analysis
			mu.Unlock()
		}(pair)
	}
	wg.Wait()

	return results
}
