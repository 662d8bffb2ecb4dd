package db

import (
	"context"
	"time"
)

// HistoryChecker is the slice of Repository the history ledger needs.
type HistoryChecker interface {
	NotifiedSince(ctx context.Context, key FireKey, since time.Time) (bool, error)
}

// HistoryLedger decides whether an alert may fire by looking at notification history:
// it fires unless a matching notification was created within the window.
// It is the fallback when Redis is not available and is only safe with a single scheduler.
type HistoryLedger struct {
	history HistoryChecker
}

func NewHistoryLedger(history HistoryChecker) *HistoryLedger {
	return &HistoryLedger{history: history}
}

func (l *HistoryLedger) ShouldFire(ctx context.Context, key FireKey, at time.Time, window time.Duration) (bool, error) {
	seen, err := l.history.NotifiedSince(ctx, key, at.Add(-window))
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// Release is a no-op: the history only records notifications that were actually written.
func (l *HistoryLedger) Release(ctx context.Context, key FireKey) error {
	return nil
}
