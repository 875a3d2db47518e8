package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
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

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         b,
	})
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// ActionEvent is published once per required action.
type ActionEvent struct {
	Event      string    `json:"event"`
	Version    int       `json:"version"`
	BookingRef string    `json:"bookingId"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurredAt"`
}

// RoutingKey returns the topic an action is published under, e.g.
// booking.action.process_refund.
func RoutingKey(a flow.Action) string {
	return "booking.action." + strings.ToLower(string(a))
}

// Notify implements booking.Notifier: required actions go to the exchange and
// delivery is left to subscribers.
func (p *Publisher) Notify(ctx context.Context, ref string, actions []flow.Action) error {
	now := time.Now().UTC()
	for _, a := range actions {
		evt := ActionEvent{Event: "booking.action", Version: 1, BookingRef: ref, Action: string(a), OccurredAt: now}
		if err := p.PublishJSON(ctx, RoutingKey(a), evt); err != nil {
			return fmt.Errorf("publish %s: %w", a, err)
		}
	}
	return nil
}
