// Package cartevents publishes cart changes to RabbitMQ.
package cartevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"bookstore/services/storefront/internal/cart"
)

// ItemAdded is the routing key of add events.
const ItemAdded = "cart.item_added"

// Event is the JSON body of a published message.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	VisitorID  string    `json:"visitorId"`
	BookID     string    `json:"bookId"`
	Title      string    `json:"title"`
	Price      string    `json:"price"`
	CartCount  int       `json:"cartCount"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher sends one event.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Publisher writes events to a durable topic exchange.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher dials url and declares exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "bookstore.cart"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends ev as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
}

// Close shuts the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Observer adapts pub to a cart subscriber. Publish failures are logged and
// never reach the purchase.
func Observer(pub EventPublisher) func(cart.Change) {
	return func(change cart.Change) {
		ev := NewItemAdded(change, time.Now().UTC())
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, ev); err != nil {
			slog.Warn("publish cart event failed", "visitor_id", change.VisitorID, "event_id", ev.ID, "err", err)
		}
	}
}

// NewItemAdded builds the event for change.
func NewItemAdded(change cart.Change, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       ItemAdded,
		VisitorID:  change.VisitorID,
		BookID:     change.Added.ID.String(),
		Title:      change.Added.Title,
		Price:      change.Added.Price.String(),
		CartCount:  change.Count,
		OccurredAt: at,
	}
}
