package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/models"
)

func TestPriceToCents(t *testing.T) {
	tests := []struct {
		name  string
		price decimal.Decimal
		want  int64
	}{
		{name: "whole dollars", price: decimal.NewFromInt(42), want: 4200},
		{name: "two decimal places", price: decimal.RequireFromString("19.99"), want: 1999},
		{name: "rounds to nearest cent", price: decimal.RequireFromString("19.995"), want: 2000},
		{name: "sub-cent fraction rounds down", price: decimal.RequireFromString("19.991"), want: 1999},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := priceToCents(tc.price)
			assert.Equal(t, tc.want, got.Int64())
		})
	}
}

func TestNoopLedger_AlwaysSucceedsWithNoReference(t *testing.T) {
	var l NoopLedger
	ref, err := l.RecordTrade(context.Background(), models.Trade{ID: 1, Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "", ref)
}

type stubRecorder struct {
	calls   int
	fail    bool
	lastRef string
}

func (s *stubRecorder) RecordTrade(ctx context.Context, trade models.Trade) (string, error) {
	s.calls++
	if s.fail {
		return "", errors.New("stub: simulated chain failure")
	}
	return "0xdeadbeef", nil
}

func TestCircuitBreakingLedger_PassesThroughOnSuccess(t *testing.T) {
	stub := &stubRecorder{}
	cb := NewCircuitBreakingLedger("test", stub, nil)

	ref, err := cb.RecordTrade(context.Background(), models.Trade{ID: 1, Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", ref)
	assert.Equal(t, 1, stub.calls)
}

func TestCircuitBreakingLedger_TripsAfterSustainedFailures(t *testing.T) {
	stub := &stubRecorder{fail: true}
	cb := NewCircuitBreakingLedger("test-trip", stub, nil)

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = cb.RecordTrade(context.Background(), models.Trade{ID: int64(i), Symbol: "AAPL"})
	}
	require.Error(t, lastErr)

	callsBeforeTrip := stub.calls
	_, err := cb.RecordTrade(context.Background(), models.Trade{ID: 99, Symbol: "AAPL"})
	require.Error(t, err)
	assert.Equal(t, callsBeforeTrip, stub.calls, "breaker should fail fast without calling inner once open")
}
