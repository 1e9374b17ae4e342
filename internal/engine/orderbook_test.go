package engine

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/models"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newRestingOrder(id int64, side models.OrderSide, qty, filled, price int64, status models.OrderStatus, createdAt time.Time) *models.Order {
	return &models.Order{
		ID:             id,
		Symbol:         "AAPL",
		Side:           side,
		Type:           models.OrderTypeLimit,
		Price:          d(price),
		Quantity:       d(qty),
		FilledQuantity: d(filled),
		Status:         status,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

// S1 — Crossing produces partial+filled, price = ask.
func TestMatchAll_CrossingProducesPartialAndFilled(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(sell))

	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, nil)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, "AAPL", trade.Symbol)
	assert.True(t, trade.Quantity.Equal(d(3)))
	assert.True(t, trade.Price.Equal(d(100)))
	assert.Equal(t, int64(2), trade.BuyOrderID)
	assert.Equal(t, int64(1), trade.SellOrderID)

	order1, _ := fs.GetOrder(ctx, 1)
	assert.Equal(t, models.OrderStatusPartial, order1.Status)
	assert.True(t, order1.FilledQuantity.Equal(d(3)))

	order2, _ := fs.GetOrder(ctx, 2)
	assert.Equal(t, models.OrderStatusFilled, order2.Status)
	assert.True(t, order2.FilledQuantity.Equal(d(3)))
}

// S2 — No cross, no trade.
func TestMatchAll_NoCrossNoTrade(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 150, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(sell))
	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, nil)
	require.NoError(t, err)
	assert.Empty(t, trades)

	order1, _ := fs.GetOrder(ctx, 1)
	order2, _ := fs.GetOrder(ctx, 2)
	assert.Equal(t, models.OrderStatusNew, order1.Status)
	assert.Equal(t, models.OrderStatusNew, order2.Status)
	assert.True(t, order1.FilledQuantity.IsZero())
	assert.True(t, order2.FilledQuantity.IsZero())
}

// S3 — Cancel before cross.
func TestMatchAll_CancelBeforeCross(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(sell))

	sell.Status = models.OrderStatusCancelled
	fs.put(sell)
	require.True(t, book.Cancel(1))

	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, nil)
	require.NoError(t, err)
	assert.Empty(t, trades)

	order2, _ := fs.GetOrder(ctx, 2)
	assert.Equal(t, models.OrderStatusNew, order2.Status)
}

// S4 — Time priority at equal price.
func TestMatchAll_TimePriorityAtEqualPrice(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)

	base := time.Now()
	sell1 := fs.put(newRestingOrder(1, models.OrderSideSell, 4, 0, 100, models.OrderStatusNew, base))
	require.NoError(t, book.Add(sell1))
	sell2 := fs.put(newRestingOrder(2, models.OrderSideSell, 4, 0, 100, models.OrderStatusNew, base.Add(time.Second)))
	require.NoError(t, book.Add(sell2))

	buy := fs.put(newRestingOrder(3, models.OrderSideBuy, 6, 0, 100, models.OrderStatusNew, base.Add(2*time.Second)))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, nil)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, int64(1), trades[0].SellOrderID)
	assert.True(t, trades[0].Quantity.Equal(d(4)))
	assert.Equal(t, int64(2), trades[1].SellOrderID)
	assert.True(t, trades[1].Quantity.Equal(d(2)))

	o3, _ := fs.GetOrder(ctx, 3)
	o1, _ := fs.GetOrder(ctx, 1)
	o2, _ := fs.GetOrder(ctx, 2)
	assert.Equal(t, models.OrderStatusFilled, o3.Status)
	assert.True(t, o3.FilledQuantity.Equal(d(6)))
	assert.Equal(t, models.OrderStatusFilled, o1.Status)
	assert.Equal(t, models.OrderStatusPartial, o2.Status)
	assert.True(t, o2.FilledQuantity.Equal(d(2)))
}

// S5 — Walk the book across multiple prices.
func TestMatchAll_WalksMultiplePriceLevels(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)

	base := time.Now()
	sell1 := fs.put(newRestingOrder(1, models.OrderSideSell, 2, 0, 100, models.OrderStatusNew, base))
	require.NoError(t, book.Add(sell1))
	sell2 := fs.put(newRestingOrder(2, models.OrderSideSell, 3, 0, 101, models.OrderStatusNew, base.Add(time.Second)))
	require.NoError(t, book.Add(sell2))

	buy := fs.put(newRestingOrder(3, models.OrderSideBuy, 4, 0, 101, models.OrderStatusNew, base.Add(2*time.Second)))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, nil)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.True(t, trades[0].Quantity.Equal(d(2)))
	assert.True(t, trades[0].Price.Equal(d(100)))
	assert.True(t, trades[1].Quantity.Equal(d(2)))
	assert.True(t, trades[1].Price.Equal(d(101)))

	o1, _ := fs.GetOrder(ctx, 1)
	o2, _ := fs.GetOrder(ctx, 2)
	o3, _ := fs.GetOrder(ctx, 3)
	assert.Equal(t, models.OrderStatusFilled, o1.Status)
	assert.Equal(t, models.OrderStatusPartial, o2.Status)
	assert.True(t, o2.FilledQuantity.Equal(d(2)))
	assert.Equal(t, models.OrderStatusFilled, o3.Status)
}

// Property #6 — cancel safety: after Cancel(id) returns true, no
// subsequent MatchAll produces a trade referencing id.
func TestMatchAll_CancelSafety(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(sell))
	require.True(t, book.Cancel(1))

	sell.Status = models.OrderStatusCancelled
	fs.put(sell)

	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, nil)
	require.NoError(t, err)
	for _, tr := range trades {
		assert.NotEqual(t, int64(1), tr.SellOrderID)
		assert.NotEqual(t, int64(1), tr.BuyOrderID)
	}
}

// A successful ledger record is backfilled onto the persisted trade
// row, not just the in-memory struct MatchAll returns (spec §4.1:
// "attaches the returned reference to the Trade").
func TestMatchAll_LedgerSuccessPersistsReference(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)
	led := &fakeLedger{refPrefix: "0xtrade"}

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(sell))
	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, led)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Len(t, led.calls, 1)

	want := "0xtrade" + strconv.FormatInt(trades[0].ID, 10)
	require.NotNil(t, trades[0].LedgerRef)
	assert.Equal(t, want, *trades[0].LedgerRef)

	persisted, ok := fs.trade(trades[0].ID)
	require.True(t, ok)
	require.NotNil(t, persisted.LedgerRef, "store must carry the backfilled ledger reference, not just the in-memory trade")
	assert.Equal(t, want, *persisted.LedgerRef)
}

// A failed ledger call leaves LedgerRef nil on both the returned and the
// persisted trade, and never aborts the match (spec §4.1/§7).
func TestMatchAll_LedgerFailureLeavesReferenceNil(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)
	led := &fakeLedger{failNext: true}

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(sell))
	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, led)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Nil(t, trades[0].LedgerRef)

	persisted, ok := fs.trade(trades[0].ID)
	require.True(t, ok)
	assert.Nil(t, persisted.LedgerRef)
}

// A ledger that "succeeds" with an empty reference (the no-op ledger's
// behavior with no chain configured) must not turn into a non-nil
// pointer to an empty string on the trade.
func TestMatchAll_EmptyLedgerReferenceLeavesLedgerRefNil(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)
	led := &fakeLedger{refPrefix: ""}

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(sell))
	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, led)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Nil(t, trades[0].LedgerRef)

	persisted, ok := fs.trade(trades[0].ID)
	require.True(t, ok)
	assert.Nil(t, persisted.LedgerRef)
}

// MatchAll self-heals when a resting order has gone missing from the
// store between Add and match (spec §9 inconsistent-state handling).
func TestMatchAll_SelfHealsOnMissingOrder(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	book := NewOrderBook("AAPL", nil)

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(sell))
	fs.removeOrder(1)

	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	require.NoError(t, book.Add(buy))

	trades, err := book.MatchAll(ctx, fs, nil)
	require.NoError(t, err)
	assert.Empty(t, trades)

	bid, ask := book.GetBestBidAsk()
	require.NotNil(t, bid)
	assert.Nil(t, ask)
}
