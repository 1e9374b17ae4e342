package engine

import (
	"context"

	"ordercore/internal/models"
)

// StoreContext is the narrow port OrderBook.MatchAll consumes (spec §6):
// order lookup, trade insertion, order update, and the ledger-reference
// backfill described in spec §4.1 ("attaches the returned reference to
// the Trade"). It is declared here, independently of package store, so
// that engine has no dependency on store; store.TxContext and
// store.MySQLStore satisfy it structurally.
type StoreContext interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	InsertTrade(ctx context.Context, t *models.Trade) (int64, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	SetTradeLedgerRef(ctx context.Context, tradeID int64, ref string) error
}

// LedgerPort is the external, best-effort trade ledger (spec §11 domain
// stack / Open Questions). RecordTrade returns an opaque reference
// string (e.g. a transaction hash) on success; match_all treats any
// error as non-fatal and leaves Trade.LedgerRef nil.
type LedgerPort interface {
	RecordTrade(ctx context.Context, trade models.Trade) (string, error)
}
