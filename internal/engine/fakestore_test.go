package engine

import (
	"context"
	"sync"

	"ordercore/internal/models"
)

// fakeStore is an in-memory StoreContext/OpenOrderLister used by engine
// tests so matching semantics can be exercised without a database.
type fakeStore struct {
	mu      sync.Mutex
	orders  map[int64]*models.Order
	trades  []models.Trade
	nextID  int64
	failGet map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:  make(map[int64]*models.Order),
		failGet: make(map[int64]bool),
	}
}

func (f *fakeStore) put(o *models.Order) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.ID == 0 {
		f.nextID++
		o.ID = f.nextID
	}
	cp := *o
	f.orders[o.ID] = &cp
	return &cp
}

func (f *fakeStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) InsertTrade(ctx context.Context, t *models.Trade) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	f.trades = append(f.trades, *t)
	return t.ID, nil
}

func (f *fakeStore) SetTradeLedgerRef(ctx context.Context, tradeID int64, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.trades {
		if f.trades[i].ID == tradeID {
			f.trades[i].LedgerRef = &ref
			return nil
		}
	}
	return ErrOrderNotFound
}

// trade returns a copy of the persisted trade with the given id, for
// tests that want to assert on store state rather than the in-memory
// Trade struct MatchAll returns.
func (f *fakeStore) trade(id int64) (models.Trade, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trades {
		if t.ID == id {
			return t, true
		}
	}
	return models.Trade{}, false
}

func (f *fakeStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	existing.FilledQuantity = o.FilledQuantity
	existing.Status = o.Status
	existing.UpdatedAt = o.UpdatedAt
	return nil
}

func (f *fakeStore) ListOpenOrdersOrderedByCreatedAt(ctx context.Context) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for _, o := range f.orders {
		if !o.Status.IsTerminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sortOrdersByCreatedThenID(out)
	return out, nil
}

func sortOrdersByCreatedThenID(orders []*models.Order) {
	for i := 1; i < len(orders); i++ {
		for j := i; j > 0; j-- {
			a, b := orders[j-1], orders[j]
			if a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID > b.ID) {
				orders[j-1], orders[j] = orders[j], orders[j-1]
			} else {
				break
			}
		}
	}
}

// removeOrder drops an order the test wants to simulate as missing from
// the store (e.g. deleted between book-add and match).
func (f *fakeStore) removeOrder(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, id)
}
