package scheduler

import (
	"context"
	"sync"
	"time"

	"fx-session-sentry/pkg/types"

	"go.uber.org/zap"
)

// DecisionHistory recent decisions per pair for the overlay.
type DecisionHistory interface {
	AppendDecision(ctx context.Context, d types.GateDecision) error
}

// DecisionLog implements the gate's recorder: each decision goes to the history store
// right away and is buffered for one batched journal write per cycle.
type DecisionLog struct {
	history DecisionHistory
	journal Journal

	mu      sync.Mutex
	pending []types.GateDecision
}

// NewDecisionLog either argument may be nil.
func NewDecisionLog(history DecisionHistory, journal Journal) *DecisionLog {
	return &DecisionLog{history: history, journal: journal}
}

func (l *DecisionLog) RecordDecision(d types.GateDecision) {
	if l.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := l.history.AppendDecision(ctx, d); err != nil {
			zap.L().Warn("保存决策历史失败", zap.String("pair", d.Pair), zap.Error(err))
		}
		cancel()
	}
	if l.journal == nil {
		return
	}
	l.mu.Lock()
	l.pending = append(l.pending, d)
	l.mu.Unlock()
}

// Flush writes the buffered decisions in one transaction.
func (l *DecisionLog) Flush() {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 || l.journal == nil {
		return
	}
	if err := l.journal.BatchSaveDecisions(batch); err != nil {
		zap.L().Warn("批量保存决策失败", zap.Int("count", len(batch)), zap.Error(err))
	}
}

func (l *DecisionLog) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
