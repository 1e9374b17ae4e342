package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/trees/binaryheap"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ordercore/internal/models"
)

// OrderBook is the per-symbol in-memory book: two priority queues (bids,
// asks) plus an id->entry index for O(1) cancel, guarded by a single
// mutex (spec §3/§4.1). The priority queues are binary heaps from
// gods/v2, ordered by (-price, sequence) for bids and (price, sequence)
// for asks, matching the price/time priority rule exactly.
type OrderBook struct {
	Symbol string

	mu       sync.Mutex
	bids     *binaryheap.Heap[*BookEntry]
	asks     *binaryheap.Heap[*BookEntry]
	entries  map[int64]*BookEntry
	sequence uint64

	logger *zap.Logger
}

// NewOrderBook constructs an empty book for symbol.
func NewOrderBook(symbol string, logger *zap.Logger) *OrderBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBook{
		Symbol:  symbol,
		bids:    binaryheap.New(bidLess),
		asks:    binaryheap.New(askLess),
		entries: make(map[int64]*BookEntry),
		logger:  logger,
	}
}

// Add inserts a resting entry for order. Preconditions from spec §4.1:
// price must be strictly positive and filled quantity must not exceed
// quantity (both return ErrInvalidOrder). If the computed remaining
// quantity is exactly zero this is a no-op, not an error (the order is
// already fully filled).
//
// Add is non-idempotent: calling it twice for the same order id leaves
// two live heap entries, only the most recent of which is reachable
// from the id->entry map. The caller (MatchingEngine/Recovery) must
// never call Add twice for the same order id.
func (b *OrderBook) Add(order *models.Order) error {
	if !order.Price.IsPositive() {
		return ErrInvalidOrder
	}
	if order.FilledQuantity.IsNegative() {
		return ErrInvalidOrder
	}
	remaining := order.Quantity.Sub(order.FilledQuantity)
	if remaining.IsNegative() {
		return ErrInvalidOrder
	}
	if !remaining.IsPositive() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sequence++
	entry := &BookEntry{
		OrderID:   order.ID,
		Side:      order.Side,
		Price:     order.Price,
		Remaining: remaining,
		Sequence:  b.sequence,
	}
	b.entries[order.ID] = entry

	if order.Side == models.OrderSideBuy {
		b.bids.Push(entry)
	} else {
		b.asks.Push(entry)
	}
	return nil
}

// Cancel tombstones a live entry. Returns true if the entry existed and
// was marked cancelled; false if unknown to this book. The entry is not
// removed from its heap immediately — it is evicted lazily the next
// time it surfaces at the top (spec §4.1, §5 cancellation semantics).
func (b *OrderBook) Cancel(orderID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[orderID]
	if !ok {
		return false
	}
	e.Cancelled = true
	return true
}

// bestValidBid pops and discards invalid top-of-heap entries (stale,
// cancelled, or exhausted) until either the heap is empty or a live
// entry surfaces. Must be called with mu held.
func (b *OrderBook) bestValidBid() *BookEntry {
	for {
		top, ok := b.bids.Peek()
		if !ok {
			return nil
		}
		if !b.validTop(top) {
			b.bids.Pop()
			continue
		}
		return top
	}
}

func (b *OrderBook) bestValidAsk() *BookEntry {
	for {
		top, ok := b.asks.Peek()
		if !ok {
			return nil
		}
		if !b.validTop(top) {
			b.asks.Pop()
			continue
		}
		return top
	}
}

// validTop reports whether a heap-top entry still represents a live,
// current resting order: it must be the entry currently indexed for its
// order id (an order can only have one live entry at a time) and live.
func (b *OrderBook) validTop(e *BookEntry) bool {
	current, ok := b.entries[e.OrderID]
	if !ok || current != e {
		return false
	}
	return e.Live()
}

// logInconsistent records a self-healed book/store disagreement: a
// resting order that is missing from the store, or that the store
// already reports CANCELLED before the book's Cancel call has observed
// it. They are not escalated beyond a warning (spec §9).
func (b *OrderBook) logInconsistent(e *InconsistentStateError) {
	b.logger.Warn(e.Error(), zap.Int64("order_id", e.OrderID))
}

// MatchAll runs the matching loop to fixed point against storeCtx,
// inserting Trade rows and mutating Order rows for every cross it finds
// (spec §4.1). It returns the trades produced; on a store failure the
// loop stops immediately and the caller is expected to roll back its
// transaction. Missing orders and orders the store reports CANCELLED
// are self-healed: the offending entry is tombstoned and the loop
// retries without producing a trade (spec §9 Open Questions).
func (b *OrderBook) MatchAll(ctx context.Context, storeCtx StoreContext, ledger LedgerPort) ([]models.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var trades []models.Trade

	for {
		bid := b.bestValidBid()
		ask := b.bestValidAsk()
		if bid == nil || ask == nil {
			return trades, nil
		}
		if bid.Price.LessThan(ask.Price) {
			return trades, nil
		}

		buyOrder, err := storeCtx.GetOrder(ctx, bid.OrderID)
		if err != nil {
			if err == ErrOrderNotFound {
				b.logInconsistent(&InconsistentStateError{OrderID: bid.OrderID, Reason: "missing from store"})
				bid.Cancelled = true
				continue
			}
			return trades, err
		}
		sellOrder, err := storeCtx.GetOrder(ctx, ask.OrderID)
		if err != nil {
			if err == ErrOrderNotFound {
				b.logInconsistent(&InconsistentStateError{OrderID: ask.OrderID, Reason: "missing from store"})
				ask.Cancelled = true
				continue
			}
			return trades, err
		}

		if buyOrder.Status == models.OrderStatusCancelled {
			b.logInconsistent(&InconsistentStateError{OrderID: bid.OrderID, Reason: "cancelled in store"})
			bid.Cancelled = true
			continue
		}
		if sellOrder.Status == models.OrderStatusCancelled {
			b.logInconsistent(&InconsistentStateError{OrderID: ask.OrderID, Reason: "cancelled in store"})
			ask.Cancelled = true
			continue
		}

		qty := bid.Remaining
		if ask.Remaining.LessThan(qty) {
			qty = ask.Remaining
		}
		tradePrice := ask.Price

		trade := &models.Trade{
			BuyOrderID:  buyOrder.ID,
			SellOrderID: sellOrder.ID,
			Symbol:      b.Symbol,
			Price:       tradePrice,
			Quantity:    qty,
			ExecutedAt:  time.Now(),
		}
		if _, err := storeCtx.InsertTrade(ctx, trade); err != nil {
			return trades, err
		}

		if ledger != nil {
			ref, lerr := ledger.RecordTrade(ctx, *trade)
			if lerr != nil {
				b.logger.Warn("ledger record_trade failed, continuing without reference",
					zap.Error(&LedgerError{TradeID: trade.ID, Err: lerr}))
			} else if ref != "" {
				trade.LedgerRef = &ref
				if err := storeCtx.SetTradeLedgerRef(ctx, trade.ID, ref); err != nil {
					return trades, err
				}
			}
		}

		buyOrder.FilledQuantity = buyOrder.FilledQuantity.Add(qty)
		sellOrder.FilledQuantity = sellOrder.FilledQuantity.Add(qty)
		buyOrder.UpdatedAt = trade.ExecutedAt
		sellOrder.UpdatedAt = trade.ExecutedAt
		buyOrder.Status = deriveStatus(buyOrder)
		sellOrder.Status = deriveStatus(sellOrder)

		if err := storeCtx.UpdateOrder(ctx, buyOrder); err != nil {
			return trades, err
		}
		if err := storeCtx.UpdateOrder(ctx, sellOrder); err != nil {
			return trades, err
		}

		bid.Remaining = bid.Remaining.Sub(qty)
		ask.Remaining = ask.Remaining.Sub(qty)
		if !bid.Remaining.IsPositive() {
			b.bids.Pop()
		}
		if !ask.Remaining.IsPositive() {
			b.asks.Pop()
		}

		trades = append(trades, *trade)
	}
}

// deriveStatus computes an order's lifecycle status from its quantity
// and filled_quantity after a fill has been applied.
func deriveStatus(o *models.Order) models.OrderStatus {
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		return models.OrderStatusFilled
	}
	if o.FilledQuantity.IsPositive() {
		return models.OrderStatusPartial
	}
	return models.OrderStatusNew
}

// GetBestBidAsk returns the best live bid and ask prices, if any.
func (b *OrderBook) GetBestBidAsk() (bid, ask *decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e := b.bestValidBid(); e != nil {
		p := e.Price
		bid = &p
	}
	if e := b.bestValidAsk(); e != nil {
		p := e.Price
		ask = &p
	}
	return bid, ask
}

// GetTopLevels returns up to depth aggregated price levels per side,
// bids descending by price and asks ascending by price. depth <= 0
// means unbounded.
func (b *OrderBook) GetTopLevels(depth int) (bids, asks []models.OrderBookLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bidTotals := map[string]decimal.Decimal{}
	bidPrices := map[string]decimal.Decimal{}
	askTotals := map[string]decimal.Decimal{}
	askPrices := map[string]decimal.Decimal{}

	for _, e := range b.entries {
		if !e.Live() {
			continue
		}
		key := e.Price.String()
		if e.Side == models.OrderSideBuy {
			bidTotals[key] = bidTotals[key].Add(e.Remaining)
			bidPrices[key] = e.Price
		} else {
			askTotals[key] = askTotals[key].Add(e.Remaining)
			askPrices[key] = e.Price
		}
	}

	bids = sortedLevels(bidPrices, bidTotals, true)
	asks = sortedLevels(askPrices, askTotals, false)
	if depth > 0 {
		if len(bids) > depth {
			bids = bids[:depth]
		}
		if len(asks) > depth {
			asks = asks[:depth]
		}
	}
	return bids, asks
}

func sortedLevels(prices map[string]decimal.Decimal, totals map[string]decimal.Decimal, desc bool) []models.OrderBookLevel {
	levels := make([]models.OrderBookLevel, 0, len(prices))
	for key, p := range prices {
		levels = append(levels, models.OrderBookLevel{Price: p, Quantity: totals[key]})
	}
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}
