package engine

import (
	"github.com/shopspring/decimal"

	"ordercore/internal/models"
)

// BookEntry is the OrderBook's own record of a resting order: its
// residual quantity and priority key. It is weakly coupled to the
// store's Order row by id only. A BookEntry is cancelled in place
// (tombstoned) rather than removed from its heap, since the binary
// heap backing the book has no efficient arbitrary-delete operation;
// it is evicted lazily the next time it reaches the top (spec §4.1,
// §9 "Tombstone-on-cancel").
type BookEntry struct {
	OrderID   int64
	Side      models.OrderSide
	Price     decimal.Decimal
	Remaining decimal.Decimal
	Sequence  uint64
	Cancelled bool
}

// Live reports whether the entry still represents a matchable resting
// order: not cancelled and with positive remaining quantity.
func (e *BookEntry) Live() bool {
	return e != nil && !e.Cancelled && e.Remaining.IsPositive()
}

// bidLess orders bids by (-price, sequence): highest price first, and
// at equal price the smaller (older) sequence number first.
func bidLess(a, b *BookEntry) int {
	if c := b.Price.Cmp(a.Price); c != 0 {
		return c
	}
	if a.Sequence < b.Sequence {
		return -1
	}
	if a.Sequence > b.Sequence {
		return 1
	}
	return 0
}

// askLess orders asks by (price, sequence): lowest price first, and at
// equal price the smaller (older) sequence number first.
func askLess(a, b *BookEntry) int {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c
	}
	if a.Sequence < b.Sequence {
		return -1
	}
	if a.Sequence > b.Sequence {
		return 1
	}
	return 0
}
