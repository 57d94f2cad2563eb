package mq

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokerClosed — брокер закрыт.
var ErrBrokerClosed = errors.New("broker closed")

// Local — Broker в памяти процесса.
//
// Очереди не ограничены по размеру: публикация никогда не блокируется,
// поэтому оркестратор и воркеры одного процесса не могут взаимно
// заблокироваться на полных очередях.
type Local struct {
	ready     *memQueue
	completed *memQueue

	closeOnce sync.Once
}

// NewLocal создаёт локальный брокер.
func NewLocal() *Local {
	return &Local{
		ready:     newMemQueue(),
		completed: newMemQueue(),
	}
}

// PublishTaskReady публикует task.ready.
func (l *Local) PublishTaskReady(_ context.Context, payload TaskReadyPayload) error {
	msg, err := NewMessage(MessageTypeTaskReady, payload)
	if err != nil {
		return err
	}
	return l.ready.push(msg)
}

// PublishTaskCompleted публикует task.completed.
func (l *Local) PublishTaskCompleted(_ context.Context, payload TaskCompletedPayload) error {
	msg, err := NewMessage(MessageTypeTaskCompleted, payload)
	if err != nil {
		return err
	}
	return l.completed.push(msg)
}

// ConsumeTasksReady потребляет task.ready.
func (l *Local) ConsumeTasksReady(ctx context.Context, handler Handler) error {
	return l.ready.consume(ctx, handler)
}

// ConsumeTasksCompleted потребляет task.completed.
func (l *Local) ConsumeTasksCompleted(ctx context.Context, handler Handler) error {
	return l.completed.consume(ctx, handler)
}

// Close закрывает очереди; потребители возвращают ErrBrokerClosed.
func (l *Local) Close() error {
	l.closeOnce.Do(func() {
		l.ready.close()
		l.completed.close()
	})
	return nil
}

// memQueue — неограниченная FIFO-очередь с конкурирующими потребителями.
type memQueue struct {
	mu     sync.Mutex
	items  []queued
	notify chan struct{}
	done   chan struct{}
	closed bool
}

type queued struct {
	msg         *Message
	redelivered bool
}

func newMemQueue() *memQueue {
	return &memQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *memQueue) push(msg *Message) error {
	return q.enqueue(queued{msg: msg})
}

func (q *memQueue) enqueue(item queued) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrBrokerClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *memQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop возвращает следующий элемент, если он есть. Если после извлечения
// в очереди что-то осталось, будит следующего потребителя.
func (q *memQueue) pop() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return queued{}, false
	}
	item := q.items[0]
	q.items[0] = queued{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true
}

func (q *memQueue) consume(ctx context.Context, handler Handler) error {
	for {
		if item, ok := q.pop(); ok {
			err := handler(ctx, &Delivery{Message: *item.msg, Redelivered: item.redelivered})
			if err != nil && !item.redelivered && ctx.Err() == nil {
				q.enqueue(queued{msg: item.msg, redelivered: true})
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrBrokerClosed
		case <-q.notify:
		}
	}
}

func (q *memQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

var _ Broker = (*Local)(nil)
