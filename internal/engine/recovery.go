package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ordercore/internal/models"
)

// OpenOrderLister is the read-only slice of OrderRepository Recovery
// needs: every order still eligible to rest on a book, oldest first.
type OpenOrderLister interface {
	ListOpenOrdersOrderedByCreatedAt(ctx context.Context) ([]*models.Order, error)
}

// Recovery rebuilds in-memory book state from the store at startup
// (spec §4.3). It never re-runs matching: every persisted NEW/PARTIAL
// order is, by construction, already the result of a prior match_all
// pass that ran to fixed point, so replaying matches would either be a
// no-op or would violate the durable record of who traded with whom.
type Recovery struct {
	logger *zap.Logger
}

// NewRecovery constructs a Recovery helper.
func NewRecovery(logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{logger: logger}
}

// RebuildFromStore loads every open order and adds it to the
// appropriate symbol's book, in the exact order the store returns them
// (creation time, then id), so that sequence numbers assigned during
// rebuild preserve original time priority. It returns the number of
// orders actually restored, for callers that want to surface it as a
// startup metric.
func (r *Recovery) RebuildFromStore(ctx context.Context, engine *MatchingEngine, repo OpenOrderLister) (int, error) {
	orders, err := repo.ListOpenOrdersOrderedByCreatedAt(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open orders for recovery: %w", err)
	}

	restored := 0
	for _, o := range orders {
		if o.Status.IsTerminal() {
			continue
		}
		book := engine.EnsureBook(o.Symbol)
		if err := book.Add(o); err != nil {
			r.logger.Warn("skipping malformed order during recovery",
				zap.Int64("order_id", o.ID), zap.Error(err))
			continue
		}
		restored++
	}

	r.logger.Info("recovery complete", zap.Int("orders_restored", restored), zap.Int("orders_seen", len(orders)))
	return restored, nil
}
