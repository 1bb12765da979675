package gate

import (
	"sort"
	"time"

	"fx-session-sentry/pkg/types"
)

// LossStreak trailing losses for one pair and when the latest of them closed.
type LossStreak struct {
	Count    int
	LastLoss time.Time
}

// ConsecutiveLossesFromHistory rebuilds per-pair loss streaks from closed trades, newest
// first. A win ends the streak; breakevens are skipped.
func ConsecutiveLossesFromHistory(trades []types.ClosedTrade) map[string]LossStreak {
	sorted := make([]types.ClosedTrade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CloseTime.After(sorted[j].CloseTime)
	})

	out := make(map[string]LossStreak)
	done := make(map[string]bool)
	for _, t := range sorted {
		if done[t.Pair] {
			continue
		}
		switch types.ClassifyResult(t.PnLPips()) {
		case types.ResultWin:
			done[t.Pair] = true
		case types.ResultLoss:
			s := out[t.Pair]
			if s.Count == 0 {
				s.LastLoss = t.CloseTime
			}
			s.Count++
			out[t.Pair] = s
		}
	}
	return out
}
