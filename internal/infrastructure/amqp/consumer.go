package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/sessionflow/flowguard/internal/domain/callback"
	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// CallbackRoutingKey is the key gateway callbacks are bound with.
const CallbackRoutingKey = "payment.callback"

type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	keys     []string
}

func NewConsumer(url, exchange, queue string, keys []string) (*Consumer, error) {
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
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, exchange: exchange, queue: q.Name, keys: keys}, nil
}

func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// CallbackHandler applies one gateway callback.
type CallbackHandler func(ctx context.Context, cb callback.GatewayCallback) error

// CallbackConsumer feeds gateway callbacks from the broker into the engine.
// Redeliveries are safe because the engine admits each transaction once.
type CallbackConsumer struct {
	cons   *Consumer
	handle CallbackHandler
	logger zerolog.Logger
}

func NewCallbackConsumer(cons *Consumer, handle CallbackHandler, logger zerolog.Logger) *CallbackConsumer {
	return &CallbackConsumer{
		cons:   cons,
		handle: handle,
		logger: logger.With().Str("component", "callback-consumer").Logger(),
	}
}

// Run consumes until ctx is cancelled or the channel closes.
func (cc *CallbackConsumer) Run(ctx context.Context) error {
	msgs, err := cc.cons.Deliveries(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			cc.process(ctx, d)
		}
	}
}

// disposition is what to do with a delivery after handling it.
type disposition int

const (
	ack disposition = iota
	requeue
	reject
)

func (cc *CallbackConsumer) process(ctx context.Context, d amqp.Delivery) {
	switch cc.dispose(ctx, d.RoutingKey, d.Body) {
	case ack:
		_ = d.Ack(false)
	case requeue:
		_ = d.Nack(false, true)
	default:
		_ = d.Nack(false, false)
	}
}

func (cc *CallbackConsumer) dispose(ctx context.Context, key string, body []byte) disposition {
	if key != CallbackRoutingKey {
		return ack
	}
	var cb callback.GatewayCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		cc.logger.Error().Err(err).Msg("unmarshal callback")
		return reject
	}
	if err := cb.Validate(); err != nil {
		cc.logger.Error().Err(err).Str("externalTxId", cb.ExternalTransactionID).Msg("invalid callback payload")
		return reject
	}

	err := cc.handle(ctx, cb)
	switch {
	case err == nil:
		return ack
	case errors.Is(err, flow.ErrStaleState), errors.Is(err, flow.ErrVerificationTimeout):
		cc.logger.Warn().Err(err).Str("externalTxId", cb.ExternalTransactionID).Msg("callback deferred")
		return requeue
	case errors.Is(err, flow.ErrVerificationMismatch),
		errors.Is(err, flow.ErrForbiddenTransition),
		errors.Is(err, flow.ErrInvalidTransition),
		errors.Is(err, flow.ErrSyncViolation):
		// Dead-lettered for manual review; never retried automatically.
		cc.logger.Error().Err(err).Str("externalTxId", cb.ExternalTransactionID).Msg("callback rejected")
		return reject
	default:
		cc.logger.Error().Err(err).Str("externalTxId", cb.ExternalTransactionID).Msg("callback failed")
		return requeue
	}
}
