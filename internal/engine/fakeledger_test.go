package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"ordercore/internal/models"
)

// fakeLedger is an in-memory LedgerPort test double. It returns refPrefix
// plus the trade id for every call, or an empty reference when refPrefix
// is empty, unless failNext is set, in which case the next call fails
// once and failNext resets itself.
type fakeLedger struct {
	mu        sync.Mutex
	refPrefix string
	failNext  bool
	calls     []models.Trade
}

func (l *fakeLedger) RecordTrade(ctx context.Context, trade models.Trade) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, trade)
	if l.failNext {
		l.failNext = false
		return "", errors.New("fake ledger: simulated failure")
	}
	if l.refPrefix == "" {
		return "", nil
	}
	return l.refPrefix + strconv.FormatInt(trade.ID, 10), nil
}
