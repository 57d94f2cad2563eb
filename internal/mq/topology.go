package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeTasks Exchange = "alignflow.tasks"
	ExchangeDLQ   Exchange = "alignflow.dlq"
)

// Queues — имена очередей.
const (
	QueueTasksReady     Queue = "alignflow.tasks.ready"
	QueueTasksCompleted Queue = "alignflow.tasks.completed"
	QueueDLQTasks       Queue = "alignflow.dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyReady     RoutingKey = "ready"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQTasks  RoutingKey = "tasks"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Повторный вызов безопасен: объявления идемпотентны.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeTasks, ExchangeDLQ} {
			err := ch.ExchangeDeclare(
				string(ex), // name
				"direct",   // type
				true,       // durable
				false,      // auto-deleted
				false,      // internal
				false,      // no-wait
				nil,        // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		// Обе очереди задач уходят в DLQ: сообщение, дважды не
		// обработанное, разбирается вручную.
		dlqArgs := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
		}

		bindings := []struct {
			queue      Queue
			routingKey RoutingKey
			exchange   Exchange
			args       amqp.Table
		}{
			{QueueTasksReady, RoutingKeyReady, ExchangeTasks, dlqArgs},
			{QueueTasksCompleted, RoutingKeyCompleted, ExchangeTasks, dlqArgs},
			{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ, nil},
		}

		for _, b := range bindings {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  alignflow RabbitMQ topology:

    alignflow.tasks (direct)
    ├── alignflow.tasks.ready [routing: ready]
    │       Consumer: Worker
    │       DLQ: alignflow.dlq.tasks
    └── alignflow.tasks.completed [routing: completed]
            Consumer: Orchestrator
            DLQ: alignflow.dlq.tasks

    alignflow.dlq (direct)
    └── alignflow.dlq.tasks [routing: tasks]
            Manual processing
  `
}
