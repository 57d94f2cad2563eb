package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLocal_CompetingConsumers(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 50
	var (
		mu   sync.Mutex
		seen = make(map[uuid.UUID]int)
		wg   sync.WaitGroup
	)
	wg.Add(n)

	handler := func(_ context.Context, d *Delivery) error {
		p, err := ParsePayload[TaskReadyPayload](&d.Message)
		if err != nil {
			return err
		}
		mu.Lock()
		seen[p.TaskID]++
		mu.Unlock()
		wg.Done()
		return nil
	}
	for i := 0; i < 4; i++ {
		go b.ConsumeTasksReady(ctx, handler)
	}

	runID := uuid.New()
	for i := 0; i < n; i++ {
		if err := b.PublishTaskReady(ctx, TaskReadyPayload{TaskID: uuid.New(), RunID: runID}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitGroup(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("expected %d distinct tasks, got %d", n, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("task %s delivered %d times", id, count)
		}
	}
}

func TestLocal_RedeliversOnce(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu          sync.Mutex
		attempts    int
		redelivered []bool
	)
	done := make(chan struct{})
	go b.ConsumeTasksCompleted(ctx, func(_ context.Context, d *Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		redelivered = append(redelivered, d.Redelivered)
		if attempts == 2 {
			close(done)
		}
		return errors.New("not yet")
	})

	err := b.PublishTaskCompleted(ctx, TaskCompletedPayload{TaskID: uuid.New(), NodeID: "setup", Status: "SUCCEEDED"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not redelivered")
	}

	// Дать шанс третьей доставке, которой быть не должно.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if redelivered[0] || !redelivered[1] {
		t.Errorf("unexpected redelivered flags %v", redelivered)
	}
}

func TestLocal_Close(t *testing.T) {
	b := NewLocal()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.ConsumeTasksReady(context.Background(), func(context.Context, *Delivery) error { return nil })
	}()

	b.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrBrokerClosed) {
			t.Errorf("expected ErrBrokerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	if err := b.PublishTaskReady(context.Background(), TaskReadyPayload{}); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("expected ErrBrokerClosed on publish, got %v", err)
	}
}

func TestParsePayload(t *testing.T) {
	taskID := uuid.New()
	msg, err := NewMessage(MessageTypeTaskCompleted, TaskCompletedPayload{
		TaskID: taskID, NodeID: "rewrite.primary", Status: "FAILED", Error: "boom", Fatal: true, Attempt: 2,
	})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	p, err := ParsePayload[TaskCompletedPayload](msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.TaskID != taskID || p.NodeID != "rewrite.primary" || !p.Fatal || p.Attempt != 2 {
		t.Errorf("unexpected payload %+v", p)
	}

	msg.Payload = []byte("[")
	if _, err := ParsePayload[TaskCompletedPayload](msg); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}
