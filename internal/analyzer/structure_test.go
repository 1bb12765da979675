package analyzer

import (
	"testing"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/stretchr/testify/assert"
)

func TestScoreStructureInsufficientHistory(t *testing.T) {
	assert.Equal(t, types.PriceStructure{}, ScoreStructure(flat(StructureWindow-1, 1.1)))
}

func TestScoreStructureTrendingWindow(t *testing.T) {
	got := ScoreStructure(trending(40, 1.1, 0.0005, time.Minute))

	assert.Equal(t, 0.0, got.OverlapScore, "every bar overlaps its predecessor")
	assert.Equal(t, 0.0, got.WickNoiseScore, "wick/body ratio of 3 is clamped to 2")
	assert.Equal(t, 100.0, got.SwingClarityScore)
	assert.Equal(t, 100.0, got.ATRCompressionScore)
	assert.InDelta(t, 40.0, got.StructureScore, 1e-9)
}

func TestScoreStructureFlatWindow(t *testing.T) {
	got := ScoreStructure(flat(25, 1.1))

	assert.Equal(t, 100.0, got.OverlapScore, "touching ranges do not overlap")
	assert.Equal(t, 0.0, got.WickNoiseScore, "dojis count as maximum noise")
	assert.Equal(t, 0.0, got.SwingClarityScore)
	assert.Equal(t, 0.0, got.ATRCompressionScore)
	assert.Equal(t, 0.0, got.StructureScore)
}

func TestScoreStructureCleanSteps(t *testing.T) {
	// non-overlapping marubozu staircase: each bar opens where the previous closed
	candles := make([]types.Candle, 20)
	for i := range candles {
		o := 100 + float64(i)
		candles[i] = bar(o, o+1, o, o+1)
	}

	got := ScoreStructure(candles)

	assert.Equal(t, 100.0, got.OverlapScore)
	assert.Equal(t, 100.0, got.WickNoiseScore)
	assert.Equal(t, 100.0, got.SwingClarityScore)
	assert.Equal(t, 100.0, got.ATRCompressionScore)
	assert.InDelta(t, 100.0, got.StructureScore, 1e-9)
}

func TestCompressionScore(t *testing.T) {
	assert.InDelta(t, 25, compressionScore(0.35), 1e-9)
	assert.Equal(t, 100.0, compressionScore(0.7))
	assert.Equal(t, 100.0, compressionScore(1.0))
	assert.Equal(t, 100.0, compressionScore(1.3))
	assert.InDelta(t, 80, compressionScore(1.5), 1e-9)
	assert.Equal(t, 0.0, compressionScore(3))
}

func TestStructureScoreRoundsOnce(t *testing.T) {
	// swing clarity 6/38 rounds to 15.8, which would push the total to 79.0
	swing := 6.0 / 38 * 100
	assert.InDelta(t, 78.9, round1(weightedStructure(100, 100, swing, 100)), 1e-9)
}
