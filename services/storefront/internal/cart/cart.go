// Package cart keeps a visitor's purchased-item records in durable client
// storage.
//
// Every mutation rewrites the whole sequence. Two writers sharing a storage
// namespace (two tabs, two replicas) race and the last write wins.
package cart

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"bookstore/pkg/clientstore"
	"bookstore/pkg/domain"
)

// Change is delivered to subscribers after a successful add.
type Change struct {
	VisitorID string
	Count     int
	Added     domain.CartItem
}

// Store reads and appends cart items for one visitor.
type Store struct {
	visitorID string
	storage   clientstore.Storage

	mu        sync.Mutex
	observers map[int]func(Change)
	nextID    int
}

// New binds a cart to a visitor's storage.
func New(visitorID string, storage clientstore.Storage) *Store {
	return &Store{
		visitorID: visitorID,
		storage:   storage,
		observers: make(map[int]func(Change)),
	}
}

// Items returns the stored items in insertion order. Missing, malformed or
// unreadable storage yields an empty slice.
func (s *Store) Items(ctx context.Context) []domain.CartItem {
	raw, ok, err := s.storage.Get(ctx, clientstore.CartItemsKey)
	if err != nil {
		slog.Warn("read cart items failed", "visitor_id", s.visitorID, "err", err)
		return []domain.CartItem{}
	}
	if !ok || raw == "" {
		return []domain.CartItem{}
	}
	var items []domain.CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		slog.Warn("malformed cart items ignored", "visitor_id", s.visitorID, "err", err)
		return []domain.CartItem{}
	}
	if items == nil {
		return []domain.CartItem{}
	}
	return items
}

// Add appends a snapshot of book. Duplicates are kept as separate entries.
func (s *Store) Add(ctx context.Context, book domain.Book) error {
	s.mu.Lock()
	items := append(s.Items(ctx), domain.Snapshot(book))
	data, err := json.Marshal(items)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.storage.Set(ctx, clientstore.CartItemsKey, string(data)); err != nil {
		s.mu.Unlock()
		return err
	}
	observers := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	change := Change{VisitorID: s.visitorID, Count: len(items), Added: domain.Snapshot(book)}
	for _, fn := range observers {
		fn(change)
	}
	return nil
}

// Count returns the number of stored items.
func (s *Store) Count(ctx context.Context) int {
	return len(s.Items(ctx))
}

// Total returns the exact sum of item prices.
func (s *Store) Total(ctx context.Context) decimal.Decimal {
	return Sum(s.Items(ctx))
}

// TotalPrice returns the sum formatted with two decimals. Only the sum is
// rounded; stored prices are kept as they are.
func (s *Store) TotalPrice(ctx context.Context) string {
	return s.Total(ctx).StringFixed(2)
}

// Subscribe registers fn for changes and returns a function removing it.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Sum adds the prices of items.
func Sum(items []domain.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price)
	}
	return total
}
