package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPConfig names the broker resources the bus uses.
type AMQPConfig struct {
	URL        string
	Exchange   string
	Queue      string
	MaxRetries int
	Prefetch   int
}

// AMQPBus publishes envelopes to a durable RabbitMQ queue and consumes them
// with manual acknowledgement.
type AMQPBus struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	cfg    AMQPConfig
	logger *slog.Logger
	mu     sync.Mutex
}

func NewAMQPBus(cfg AMQPConfig, logger *slog.Logger) (*AMQPBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPBus{conn: conn, ch: ch, cfg: cfg, logger: logger}, nil
}

func declare(ch *amqp.Channel, cfg AMQPConfig) error {
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.Queue, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return ch.Qos(cfg.Prefetch, 0, false)
}

func (b *AMQPBus) Publish(ctx context.Context, ev Event) error {
	env, body, err := Encode(ev)
	if err != nil {
		return err
	}
	return b.publish(publishing(env, body, 0))
}

func (b *AMQPBus) publish(msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.Publish(b.cfg.Exchange, b.cfg.Queue, false, false, msg)
}

func publishing(env Envelope, body []byte, retries int) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Name,
		Timestamp:    env.PublishedAt,
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	}
}

// Consume dispatches deliveries to h until ctx is cancelled. A failed
// delivery is republished with an incremented retry header up to MaxRetries
// times, then dropped.
func (b *AMQPBus) Consume(ctx context.Context, h Handler) error {
	msgs, err := b.ch.Consume(
		b.cfg.Queue,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			b.handleDelivery(ctx, h, d)
		}
	}
}

func (b *AMQPBus) handleDelivery(ctx context.Context, h Handler, d amqp.Delivery) {
	env, ev, err := Decode(d.Body)
	if err != nil {
		b.logger.Error("dropping invalid event", "message_id", d.MessageId, "err", err)
		d.Ack(false)
		return
	}

	if err := Dispatch(ctx, h, ev); err != nil {
		retries := retryCount(d.Headers)
		if retries < b.cfg.MaxRetries {
			b.logger.Warn("event failed, requeueing", "event", env.Name, "id", env.ID, "retry", retries+1, "err", err)
			if perr := b.publish(publishing(env, d.Body, retries+1)); perr != nil {
				b.logger.Error("requeue failed", "event", env.Name, "id", env.ID, "err", perr)
				d.Nack(false, true)
				return
			}
		} else {
			b.logger.Error("event permanently failed", "event", env.Name, "id", env.ID, "err", err)
		}
	}
	d.Ack(false)
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (b *AMQPBus) Close() error {
	if err := b.ch.Close(); err != nil {
		_ = b.conn.Close()
		return err
	}
	return b.conn.Close()
}
