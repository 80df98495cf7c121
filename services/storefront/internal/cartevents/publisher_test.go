package cartevents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bookstore/pkg/clientstore"
	"bookstore/pkg/domain"
	"bookstore/services/storefront/internal/cart"
)

type recordingPublisher struct {
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestObserverPublishesItemAdded(t *testing.T) {
	storage, _ := clientstore.NewMemoryBackend().Namespace("v1")
	c := cart.New("v1", storage)
	pub := &recordingPublisher{}
	c.Subscribe(Observer(pub))

	book := domain.Book{ID: "7", Title: "Dune", Price: decimal.RequireFromString("9.99")}
	if err := c.Add(context.Background(), book); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != ItemAdded || ev.VisitorID != "v1" || ev.BookID != "7" || ev.Price != "9.99" || ev.CartCount != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.ID == "" {
		t.Fatalf("event id must be set")
	}
}

func TestObserverSwallowsPublishErrors(t *testing.T) {
	storage, _ := clientstore.NewMemoryBackend().Namespace("v1")
	c := cart.New("v1", storage)
	c.Subscribe(Observer(&recordingPublisher{err: errors.New("broker down")}))
	if err := c.Add(context.Background(), domain.Book{ID: "1"}); err != nil {
		t.Fatalf("publish failure must not fail the add: %v", err)
	}
	if c.Count(context.Background()) != 1 {
		t.Fatalf("item must be stored")
	}
}

func TestNewItemAddedTimestamp(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewItemAdded(cart.Change{VisitorID: "v", Count: 3}, at)
	if !ev.OccurredAt.Equal(at) || ev.CartCount != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestNewPublisherRequiresURL(t *testing.T) {
	if _, err := NewPublisher(" ", ""); err == nil {
		t.Fatalf("expected error without url")
	}
}
