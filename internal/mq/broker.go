package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskReady     MessageType = "task.ready"
	MessageTypeTaskCompleted MessageType = "task.completed"
)

// Message — сообщение в очереди.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload json.RawMessage `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage собирает сообщение с JSON-payload.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now(),
	}, nil
}

// TaskReadyPayload — payload для сообщения о готовой задаче.
type TaskReadyPayload struct {
	TaskID uuid.UUID `json:"task_id"`
	RunID  uuid.UUID `json:"run_id"`
}

// TaskCompletedPayload — payload для сообщения о завершённой задаче.
type TaskCompletedPayload struct {
	TaskID  uuid.UUID `json:"task_id"`
	RunID   uuid.UUID `json:"run_id"`
	NodeID  string    `json:"node_id"`
	Status  string    `json:"status"` // SUCCEEDED или FAILED
	Error   string    `json:"error,omitempty"`
	Fatal   bool      `json:"fatal,omitempty"`
	Attempt int       `json:"attempt"`
}

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message

	// Redelivered — сообщение уже доставлялось и не было подтверждено.
	Redelivered bool
}

// Handler — функция обработки сообщения.
// Ошибка означает, что сообщение не обработано: брокер вернёт его
// в очередь один раз, при повторной неудаче отправит в DLQ.
type Handler func(ctx context.Context, d *Delivery) error

// Broker — транспорт событий задач.
type Broker interface {
	PublishTaskReady(ctx context.Context, payload TaskReadyPayload) error
	PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error

	// ConsumeTasksReady обрабатывает task.ready до отмены ctx.
	// Несколько вызовов конкурируют за сообщения одной очереди.
	ConsumeTasksReady(ctx context.Context, handler Handler) error

	// ConsumeTasksCompleted обрабатывает task.completed до отмены ctx.
	ConsumeTasksCompleted(ctx context.Context, handler Handler) error

	Close() error
}

// ParsePayload разбирает payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return result, fmt.Errorf("unmarshal %s payload: %w", msg.Type, err)
	}
	return result, nil
}
