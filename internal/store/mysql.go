package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"

	"ordercore/internal/engine"
	"ordercore/internal/models"
)

// convertURIToDSN accepts either a traditional MySQL DSN or a
// mysql:// URI (as used by managed MySQL/TiDB Cloud offerings) and
// normalizes it to the DSN form the driver expects.
func convertURIToDSN(connectionString string) (string, error) {
	if !strings.HasPrefix(connectionString, "mysql://") {
		return connectionString, nil
	}

	u, err := url.Parse(connectionString)
	if err != nil {
		return "", fmt.Errorf("failed to parse URI: %w", err)
	}
	if u.Scheme != "mysql" {
		return "", fmt.Errorf("unsupported scheme: %s (expected mysql)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("host is required")
	}

	var userInfo string
	if u.User != nil {
		username := u.User.Username()
		password, _ := u.User.Password()
		if password != "" {
			userInfo = username + ":" + password
		} else {
			userInfo = username
		}
	}

	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		database = "test"
	}

	dsn := fmt.Sprintf("%s@tcp(%s)/%s", userInfo, u.Host, database)

	params := url.Values{
		"parseTime": []string{"true"},
		"charset":   []string{"utf8mb4"},
		"collation": []string{"utf8mb4_unicode_ci"},
	}
	existing := u.Query()
	for key, values := range params {
		if !existing.Has(key) {
			existing[key] = values
		}
	}
	if len(existing) > 0 {
		dsn += "?" + existing.Encode()
	}
	return dsn, nil
}

// MySQLStore is the MySQL-backed OrderRepository/TradeRepository. It
// also implements StoreContext directly (auto-committing) for callers
// that don't need explicit transaction control; PlaceOrder-style flows
// should instead open a transaction-scoped TxContext with BeginTx.
type MySQLStore struct {
	db *sqlx.DB
}

// Connect opens a MySQL connection pool for dsn, accepting either a
// plain DSN or a mysql:// URI.
func Connect(dsn string) (*MySQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	normalized, err := convertURIToDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to process connection string: %w", err)
	}

	db, err := sqlx.Connect("mysql", normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	return &MySQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// Ping verifies connectivity, used by the health endpoint.
func (s *MySQLStore) Ping() error { return s.db.Ping() }

// BeginTx starts a transaction-scoped StoreContext for a submission or
// cancel boundary to use across the insert/match/commit sequence.
func (s *MySQLStore) BeginTx(ctx context.Context) (*TxContext, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &TxContext{tx: tx}, nil
}

func (s *MySQLStore) InsertOrder(ctx context.Context, o *models.Order) (int64, error) {
	return insertOrder(ctx, s.db, o)
}

func (s *MySQLStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, s.db, id)
}

func (s *MySQLStore) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*models.Order, error) {
	return getOrderByClientOrderID(ctx, s.db, clientOrderID)
}

func (s *MySQLStore) InsertTrade(ctx context.Context, t *models.Trade) (int64, error) {
	return insertTrade(ctx, s.db, t)
}

func (s *MySQLStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	return updateOrder(ctx, s.db, o)
}

func (s *MySQLStore) SetTradeLedgerRef(ctx context.Context, tradeID int64, ref string) error {
	return setTradeLedgerRef(ctx, s.db, tradeID, ref)
}

func (s *MySQLStore) ListOpenOrdersOrderedByCreatedAt(ctx context.Context) ([]*models.Order, error) {
	return listOpenOrders(ctx, s.db)
}

func (s *MySQLStore) ListTradesBySymbol(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	query := `
		SELECT id, symbol, buy_order_id, sell_order_id, price, quantity, executed_at, ledger_ref
		FROM trades
		WHERE symbol = ?
		ORDER BY executed_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var trades []models.Trade
	if err := s.db.SelectContext(ctx, &trades, s.db.Rebind(query), symbol); err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	return trades, nil
}

// TxContext implements engine.StoreContext against a single in-flight
// transaction; callers commit or roll it back themselves once the
// engine call returns.
type TxContext struct {
	tx *sqlx.Tx
}

func (t *TxContext) InsertOrder(ctx context.Context, o *models.Order) (int64, error) {
	return insertOrder(ctx, t.tx, o)
}

func (t *TxContext) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, t.tx, id)
}

func (t *TxContext) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*models.Order, error) {
	return getOrderByClientOrderID(ctx, t.tx, clientOrderID)
}

func (t *TxContext) InsertTrade(ctx context.Context, tr *models.Trade) (int64, error) {
	return insertTrade(ctx, t.tx, tr)
}

func (t *TxContext) UpdateOrder(ctx context.Context, o *models.Order) error {
	return updateOrder(ctx, t.tx, o)
}

func (t *TxContext) SetTradeLedgerRef(ctx context.Context, tradeID int64, ref string) error {
	return setTradeLedgerRef(ctx, t.tx, tradeID, ref)
}

func (t *TxContext) Commit() error   { return t.tx.Commit() }
func (t *TxContext) Rollback() error { return t.tx.Rollback() }

// sqlxExt is satisfied by both *sqlx.DB and *sqlx.Tx, letting the
// statement helpers below run against either.
type sqlxExt interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}

func insertOrder(ctx context.Context, ext sqlxExt, o *models.Order) (int64, error) {
	res, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO orders (
			user_id, client_order_id, symbol, side, type, price,
			quantity, filled_quantity, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.UserID, o.ClientOrderID, o.Symbol, o.Side, o.Type, o.Price,
		o.Quantity, o.FilledQuantity, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return 0, engine.NewStoreError("insert_order", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, engine.NewStoreError("insert_order_id", err)
	}
	o.ID = id
	return id, nil
}

func getOrder(ctx context.Context, ext sqlxExt, id int64) (*models.Order, error) {
	var o models.Order
	err := ext.GetContext(ctx, &o, ext.Rebind(`
		SELECT id, user_id, client_order_id, symbol, side, type, price,
		       quantity, filled_quantity, status, created_at, updated_at
		FROM orders WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrOrderNotFound
	}
	if err != nil {
		return nil, engine.NewStoreError("get_order", err)
	}
	return &o, nil
}

func getOrderByClientOrderID(ctx context.Context, ext sqlxExt, clientOrderID string) (*models.Order, error) {
	var o models.Order
	err := ext.GetContext(ctx, &o, ext.Rebind(`
		SELECT id, user_id, client_order_id, symbol, side, type, price,
		       quantity, filled_quantity, status, created_at, updated_at
		FROM orders WHERE client_order_id = ?`), clientOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrOrderNotFound
	}
	if err != nil {
		return nil, engine.NewStoreError("get_order_by_client_order_id", err)
	}
	return &o, nil
}

func insertTrade(ctx context.Context, ext sqlxExt, t *models.Trade) (int64, error) {
	res, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO trades (
			symbol, buy_order_id, sell_order_id, price, quantity, executed_at, ledger_ref
		) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		t.Symbol, t.BuyOrderID, t.SellOrderID, t.Price, t.Quantity, t.ExecutedAt, t.LedgerRef,
	)
	if err != nil {
		return 0, engine.NewStoreError("insert_trade", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, engine.NewStoreError("insert_trade_id", err)
	}
	t.ID = id
	return id, nil
}

func updateOrder(ctx context.Context, ext sqlxExt, o *models.Order) error {
	_, err := ext.ExecContext(ctx, ext.Rebind(`
		UPDATE orders SET filled_quantity = ?, status = ?, updated_at = ? WHERE id = ?`),
		o.FilledQuantity, o.Status, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return engine.NewStoreError("update_order", err)
	}
	return nil
}

// setTradeLedgerRef backfills a trade row's ledger_ref once the
// best-effort external ledger call returns a reference (spec §4.1: "...
// attaches the returned reference to the Trade"). InsertTrade always
// writes a nil ledger_ref, since the ledger call happens after the
// trade row is flushed to obtain its id.
func setTradeLedgerRef(ctx context.Context, ext sqlxExt, tradeID int64, ref string) error {
	_, err := ext.ExecContext(ctx, ext.Rebind(`
		UPDATE trades SET ledger_ref = ? WHERE id = ?`),
		ref, tradeID,
	)
	if err != nil {
		return engine.NewStoreError("set_trade_ledger_ref", err)
	}
	return nil
}

func listOpenOrders(ctx context.Context, ext sqlxExt) ([]*models.Order, error) {
	var orders []*models.Order
	err := ext.SelectContext(ctx, &orders, `
		SELECT id, user_id, client_order_id, symbol, side, type, price,
		       quantity, filled_quantity, status, created_at, updated_at
		FROM orders
		WHERE status IN ('NEW', 'PARTIAL')
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, engine.NewStoreError("list_open_orders", err)
	}
	return orders, nil
}
