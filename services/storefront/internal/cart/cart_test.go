package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bookstore/pkg/clientstore"
	"bookstore/pkg/domain"
)

func newCart(t *testing.T) (*Store, clientstore.Storage) {
	t.Helper()
	storage, err := clientstore.NewMemoryBackend().Namespace("v1")
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	return New("v1", storage), storage
}

func book(id, price string) domain.Book {
	return domain.Book{ID: domain.ID(id), Title: "Book " + id, Price: decimal.RequireFromString(price)}
}

func TestItemsDefaultsToEmpty(t *testing.T) {
	c, _ := newCart(t)
	items := c.Items(context.Background())
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}
}

func TestItemsIgnoresMalformedStorage(t *testing.T) {
	payloads := []string{
		"{not json",
		`{"id":1}`,
		`"a string"`,
		`[{"price":"abc"}]`,
		`null`,
		``,
	}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			c, storage := newCart(t)
			if err := storage.Set(context.Background(), clientstore.CartItemsKey, payload); err != nil {
				t.Fatalf("seed: %v", err)
			}
			if got := c.Items(context.Background()); len(got) != 0 {
				t.Fatalf("expected empty items for %q, got %#v", payload, got)
			}
			if got := c.TotalPrice(context.Background()); got != "0.00" {
				t.Fatalf("expected 0.00 total, got %s", got)
			}
		})
	}
}

type brokenStorage struct{}

func (brokenStorage) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}
func (brokenStorage) Set(context.Context, string, string) error { return errors.New("disk on fire") }
func (brokenStorage) Delete(context.Context, string) error     { return errors.New("disk on fire") }

func TestUnreadableStorageDegradesToEmpty(t *testing.T) {
	c := New("v1", brokenStorage{})
	if got := c.Items(context.Background()); len(got) != 0 {
		t.Fatalf("expected empty items, got %#v", got)
	}
	if err := c.Add(context.Background(), book("1", "1")); err == nil {
		t.Fatalf("expected write error to surface")
	}
}

func TestAddIsAppendOnly(t *testing.T) {
	c, _ := newCart(t)
	b := book("1", "3.50")
	for i := 0; i < 2; i++ {
		if err := c.Add(context.Background(), b); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	items := c.Items(context.Background())
	if len(items) != 2 {
		t.Fatalf("expected two entries for the same book, got %d", len(items))
	}
	if items[0].ID != "1" || items[1].ID != "1" {
		t.Fatalf("unexpected items %#v", items)
	}
}

func TestAddStoresSnapshot(t *testing.T) {
	c, _ := newCart(t)
	b := book("1", "3.50")
	if err := c.Add(context.Background(), b); err != nil {
		t.Fatalf("add: %v", err)
	}
	b.Title = "Renamed"
	if got := c.Items(context.Background())[0].Title; got != "Book 1" {
		t.Fatalf("cart item must be a snapshot, got title %q", got)
	}
}

func TestTotalPriceRoundsTheSum(t *testing.T) {
	c, _ := newCart(t)
	_ = c.Add(context.Background(), book("1", "10.005"))
	_ = c.Add(context.Background(), book("2", "5"))
	if got := c.TotalPrice(context.Background()); got != "15.01" {
		t.Fatalf("total = %s, want 15.01", got)
	}
	if got := c.Items(context.Background())[0].Price.String(); got != "10.005" {
		t.Fatalf("stored price must not be rounded, got %s", got)
	}
}

func TestReadsNumericPricesFromStorage(t *testing.T) {
	c, storage := newCart(t)
	_ = storage.Set(context.Background(), clientstore.CartItemsKey, `[{"id":1,"title":"A","price":10.005},{"id":2,"title":"B","price":5}]`)
	if got := c.TotalPrice(context.Background()); got != "15.01" {
		t.Fatalf("total = %s, want 15.01", got)
	}
}

func TestSubscribeReceivesCount(t *testing.T) {
	c, _ := newCart(t)
	var changes []Change
	cancel := c.Subscribe(func(ch Change) { changes = append(changes, ch) })

	_ = c.Add(context.Background(), book("1", "1"))
	_ = c.Add(context.Background(), book("2", "2"))
	cancel()
	_ = c.Add(context.Background(), book("3", "3"))

	if len(changes) != 2 {
		t.Fatalf("expected two notifications before cancel, got %d", len(changes))
	}
	if changes[1].Count != 2 || changes[1].Added.ID != "2" || changes[1].VisitorID != "v1" {
		t.Fatalf("unexpected change %+v", changes[1])
	}
	if c.Count(context.Background()) != 3 {
		t.Fatalf("expected count 3")
	}
}
