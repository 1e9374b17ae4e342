// Package models defines the domain types shared by the matching engine,
// the store port, and the HTTP boundary.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is kept as a field for store-schema compatibility; the engine
// only ever operates on LIMIT orders (market/iceberg/stop orders are
// explicit non-goals).
type OrderType string

const (
	OrderTypeLimit OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order. FILLED, CANCELLED and
// REJECTED are absorbing: no further fills are applied once an order
// reaches one of them.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether status admits no further fills or cancels.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is the store's row; the engine reads and mutates it through the
// OrderRepository port, it never owns durable state itself.
type Order struct {
	ID             int64           `json:"id" db:"id"`
	UserID         int64           `json:"user_id" db:"user_id"`
	ClientOrderID  *string         `json:"client_order_id,omitempty" db:"client_order_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Side           OrderSide       `json:"side" db:"side"`
	Type           OrderType       `json:"type" db:"type"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity" db:"filled_quantity"`
	Status         OrderStatus     `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining returns quantity - filled_quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is immutable once inserted; LedgerRef is populated best-effort and
// is nil when the external ledger call failed or was never attempted.
type Trade struct {
	ID          int64           `json:"id" db:"id"`
	BuyOrderID  int64           `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID int64           `json:"sell_order_id" db:"sell_order_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	ExecutedAt  time.Time       `json:"executed_at" db:"executed_at"`
	LedgerRef   *string         `json:"ledger_ref,omitempty" db:"ledger_ref"`
}

// CreateOrderRequest is the JSON payload accepted at the submission
// boundary (internal/httpapi). ClientOrderID doubles as an idempotency
// key: a caller may look up GetOrderByClientOrderID before ever calling
// the engine to detect a retried submission.
type CreateOrderRequest struct {
	ClientOrderID *string         `json:"client_order_id,omitempty"`
	UserID        int64           `json:"user_id" binding:"required" validate:"required"`
	Symbol        string          `json:"symbol" binding:"required" validate:"required,uppercase,min=1,max=16"`
	Side          OrderSide       `json:"side" binding:"required" validate:"required,oneof=BUY SELL"`
	Price         decimal.Decimal `json:"price" binding:"required" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required" validate:"required"`
}

// CreateOrderResponse is returned after an order has been submitted and
// matched (zero or more trades may have been produced).
type CreateOrderResponse struct {
	Order   Order   `json:"order"`
	Trades  []Trade `json:"trades,omitempty"`
	Message string  `json:"message"`
}

// OrderBookLevel is a single aggregated price level.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBookResponse is the aggregated read-path view of a symbol's book.
type OrderBookResponse struct {
	Symbol string           `json:"symbol"`
	Bids   []OrderBookLevel `json:"bids"`
	Asks   []OrderBookLevel `json:"asks"`
}

// TradeResponse wraps a trade listing.
type TradeResponse struct {
	Trades []Trade `json:"trades"`
}
