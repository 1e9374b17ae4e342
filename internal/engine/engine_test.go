package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/models"
)

func TestMatchingEngine_SubmitAndMatchCrossesAgainstRestingOrder(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	me := NewMatchingEngine(nil, nil)

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	_, err := me.SubmitAndMatch(ctx, fs, sell)
	require.NoError(t, err)

	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	trades, err := me.SubmitAndMatch(ctx, fs, buy)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d(100)))
}

func TestMatchingEngine_SymbolsAreIndependent(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	me := NewMatchingEngine(nil, nil)

	btc := fs.put(&models.Order{ID: 1, Symbol: "BTCUSD", Side: models.OrderSideSell, Type: models.OrderTypeLimit, Price: d(50000), Quantity: d(1), Status: models.OrderStatusNew, CreatedAt: time.Now(), UpdatedAt: time.Now()})
	_, err := me.SubmitAndMatch(ctx, fs, btc)
	require.NoError(t, err)

	aapl := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	trades, err := me.SubmitAndMatch(ctx, fs, aapl)
	require.NoError(t, err)
	assert.Empty(t, trades)

	btcBook := me.BookFor("BTCUSD")
	require.NotNil(t, btcBook)
	bid, ask := btcBook.GetBestBidAsk()
	assert.Nil(t, bid)
	require.NotNil(t, ask)
	assert.True(t, ask.Equal(d(50000)))
}

func TestMatchingEngine_CancelRemovesUnknownSymbolSafely(t *testing.T) {
	me := NewMatchingEngine(nil, nil)
	assert.False(t, me.Cancel("AAPL", 999))
}

func TestMatchingEngine_CancelTombstonesRestingOrder(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	me := NewMatchingEngine(nil, nil)

	sell := fs.put(newRestingOrder(1, models.OrderSideSell, 5, 0, 100, models.OrderStatusNew, time.Now()))
	_, err := me.SubmitAndMatch(ctx, fs, sell)
	require.NoError(t, err)

	require.True(t, me.Cancel("AAPL", 1))

	buy := fs.put(newRestingOrder(2, models.OrderSideBuy, 3, 0, 120, models.OrderStatusNew, time.Now()))
	trades, err := me.SubmitAndMatch(ctx, fs, buy)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
