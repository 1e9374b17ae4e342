package engine

import (
	"errors"
	"strconv"
)

// ErrInvalidOrder is returned synchronously by OrderBook.Add when an
// order's preconditions are violated. It surfaces to HTTP callers as a
// 4xx; the engine never logs it, since that's the caller's UX.
var ErrInvalidOrder = errors.New("invalid order")

// ErrOrderNotFound is returned by store lookups that find no row.
var ErrOrderNotFound = errors.New("order not found")

// StoreError wraps a failure from the OrderRepository/TradeRepository
// port during match_all. It is fatal to the surrounding batch: callers
// are expected to roll back the transaction and the in-memory book may
// be left inconsistent with the store until the next rebuild.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store failure during " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a StoreError tagged with the failing operation.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// LedgerError records a best-effort external ledger failure. It is never
// propagated out of match_all; it only carries the trade id and cause
// into match_all's warning log.
type LedgerError struct {
	TradeID int64
	Err     error
}

func (e *LedgerError) Error() string { return e.Err.Error() }

func (e *LedgerError) Unwrap() error { return e.Err }

// InconsistentStateError records a self-healed book/store disagreement
// (missing order, or an order the store already marked CANCELLED). Like
// LedgerError it is never propagated; match_all logs and continues.
type InconsistentStateError struct {
	OrderID int64
	Reason  string
}

func (e *InconsistentStateError) Error() string {
	return "inconsistent state for order " + strconv.FormatInt(e.OrderID, 10) + ": " + e.Reason
}
