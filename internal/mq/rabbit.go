package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Rabbit — Broker поверх RabbitMQ.
type Rabbit struct {
	conn     *Connection
	logger   *slog.Logger
	prefetch int
}

// RabbitConfig — конфигурация Rabbit.
type RabbitConfig struct {
	// URL — адрес брокера (пусто — URL()).
	URL string

	// Prefetch — сообщений на потребителя без подтверждения (default: 1).
	Prefetch int

	Logger *slog.Logger
}

// NewRabbit подключается к RabbitMQ и объявляет топологию.
func NewRabbit(ctx context.Context, cfg RabbitConfig) (*Rabbit, error) {
	url := cfg.URL
	if url == "" {
		url = URL()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	conn, err := NewConnection(url, logger)
	if err != nil {
		return nil, err
	}
	if err := SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup topology: %w", err)
	}
	logger.Debug("rabbitmq topology ready", "topology", TopologyInfo())

	return &Rabbit{conn: conn, logger: logger, prefetch: prefetch}, nil
}

// Connection возвращает соединение (для health-check).
func (r *Rabbit) Connection() *Connection {
	return r.conn
}

// PublishTaskReady публикует task.ready.
func (r *Rabbit) PublishTaskReady(ctx context.Context, payload TaskReadyPayload) error {
	return r.publish(ctx, RoutingKeyReady, MessageTypeTaskReady, payload)
}

// PublishTaskCompleted публикует task.completed.
func (r *Rabbit) PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error {
	return r.publish(ctx, RoutingKeyCompleted, MessageTypeTaskCompleted, payload)
}

func (r *Rabbit) publish(ctx context.Context, key RoutingKey, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return r.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx,
			string(ExchangeTasks),
			string(key),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", ExchangeTasks, key, err)
		}

		r.logger.Debug("published message",
			"routing_key", key,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// ConsumeTasksReady потребляет task.ready.
func (r *Rabbit) ConsumeTasksReady(ctx context.Context, handler Handler) error {
	return r.consume(ctx, QueueTasksReady, handler)
}

// ConsumeTasksCompleted потребляет task.completed.
func (r *Rabbit) ConsumeTasksCompleted(ctx context.Context, handler Handler) error {
	return r.consume(ctx, QueueTasksCompleted, handler)
}

// consume читает очередь, переживая переподключения.
func (r *Rabbit) consume(ctx context.Context, queue Queue, handler Handler) error {
	for {
		// Канал переподключения берём до попытки: иначе его можно пропустить.
		reconnected := r.conn.Reconnected()

		deliveries, err := r.subscribe(queue)
		if err != nil {
			r.logger.Error("failed to setup consume", "queue", queue, "error", err)
		} else {
			r.logger.Info("consumer started", "queue", queue)
			for raw := range channelUntil(ctx, deliveries) {
				r.handle(ctx, queue, raw, handler)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", queue)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
		}
	}
}

func (r *Rabbit) subscribe(queue Queue) (<-chan amqp.Delivery, error) {
	ch := r.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(
		string(queue),
		"",    // consumer tag (auto-generated)
		false, // auto-ack (подтверждаем вручную)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// handle обрабатывает одно сообщение: неразбираемое уходит в DLQ,
// ошибка обработчика возвращает его в очередь один раз.
func (r *Rabbit) handle(ctx context.Context, queue Queue, raw amqp.Delivery, handler Handler) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		r.logger.Error("failed to unmarshal message",
			"queue", queue,
			"error", err,
			"body", string(raw.Body),
		)
		raw.Nack(false, false)
		return
	}

	r.logger.Debug("received message",
		"queue", queue,
		"message_id", msg.ID,
		"type", msg.Type,
	)

	if err := handler(ctx, &Delivery{Message: msg, Redelivered: raw.Redelivered}); err != nil {
		r.logger.Error("handler failed",
			"queue", queue,
			"message_id", msg.ID,
			"type", msg.Type,
			"redelivered", raw.Redelivered,
			"error", err,
		)
		raw.Nack(false, !raw.Redelivered)
		return
	}

	raw.Ack(false)
}

// Close закрывает соединение.
func (r *Rabbit) Close() error {
	return r.conn.Close()
}

// channelUntil пересылает сообщения из in, пока не отменён ctx.
func channelUntil(ctx context.Context, in <-chan amqp.Delivery) <-chan amqp.Delivery {
	out := make(chan amqp.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out
}

var _ Broker = (*Rabbit)(nil)
