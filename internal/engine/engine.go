package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ordercore/internal/models"
)

// MatchingEngine owns the registry of per-symbol order books (spec
// §4.2). It holds no durable state itself and no long-lived store
// reference: every call is handed a StoreContext scoped to the
// caller's transaction. A single registryMutex protects only the
// symbol->book map; once a book is resolved, concurrent operations on
// different symbols proceed without contention, and each book
// serializes its own submissions internally.
type MatchingEngine struct {
	registryMutex sync.RWMutex
	books         map[string]*OrderBook

	logger *zap.Logger
	ledger LedgerPort
}

// NewMatchingEngine constructs an engine with an empty book registry.
// ledger may be nil, in which case trades are never ledgered.
func NewMatchingEngine(logger *zap.Logger, ledger LedgerPort) *MatchingEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchingEngine{
		books:  make(map[string]*OrderBook),
		logger: logger,
		ledger: ledger,
	}
}

// bookFor returns the OrderBook for symbol, creating it under the
// registry lock if this is the first order ever seen for it.
func (m *MatchingEngine) bookFor(symbol string) *OrderBook {
	m.registryMutex.RLock()
	b, ok := m.books[symbol]
	m.registryMutex.RUnlock()
	if ok {
		return b
	}

	m.registryMutex.Lock()
	defer m.registryMutex.Unlock()
	if b, ok = m.books[symbol]; ok {
		return b
	}
	b = NewOrderBook(symbol, m.logger.With(zap.String("symbol", symbol)))
	m.books[symbol] = b
	return b
}

// SubmitAndMatch places a freshly persisted NEW order into its book and
// runs the matching loop against it. The caller is responsible for
// having already inserted order via storeCtx (or an equivalent
// OrderRepository) before calling this; SubmitAndMatch only adds the
// order to memory and matches. Returns the trades produced, in the
// order they were executed.
func (m *MatchingEngine) SubmitAndMatch(ctx context.Context, storeCtx StoreContext, order *models.Order) ([]models.Trade, error) {
	book := m.bookFor(order.Symbol)
	if err := book.Add(order); err != nil {
		return nil, err
	}
	return book.MatchAll(ctx, storeCtx, m.ledger)
}

// Cancel tombstones orderID's resting entry in symbol's book, if any.
// It does not touch durable state; callers update the store row
// themselves (spec §5), flipping the row to CANCELLED before calling
// Cancel so that a racing MatchAll observes the cancelled state.
func (m *MatchingEngine) Cancel(symbol string, orderID int64) bool {
	m.registryMutex.RLock()
	b, ok := m.books[symbol]
	m.registryMutex.RUnlock()
	if !ok {
		return false
	}
	return b.Cancel(orderID)
}

// BookFor exposes the OrderBook for read-path queries (best bid/ask,
// aggregated depth). Returns nil if no order has ever been submitted
// for symbol in this process's lifetime.
func (m *MatchingEngine) BookFor(symbol string) *OrderBook {
	m.registryMutex.RLock()
	defer m.registryMutex.RUnlock()
	return m.books[symbol]
}

// EnsureBook returns the OrderBook for symbol, creating an empty one if
// none exists yet. Used by Recovery and by read-path handlers that want
// a consistent empty response rather than a nil book.
func (m *MatchingEngine) EnsureBook(symbol string) *OrderBook {
	return m.bookFor(symbol)
}
