package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
	"github.com/shaiso/Alignflow/internal/mq"
	"github.com/shaiso/Alignflow/internal/repo"
	"github.com/shaiso/Alignflow/internal/steps"
	"github.com/shaiso/Alignflow/internal/telemetry"
)

// handleTaskReady обрабатывает событие о новой task из очереди tasks.ready.
func (w *Worker) handleTaskReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse task.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received task.ready event",
		"task_id", payload.TaskID,
		"run_id", payload.RunID,
	)

	if err := w.processTask(ctx, payload.TaskID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTaskNotQueued) {
			w.logger.Debug("task not processed", "task_id", payload.TaskID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process task", "task_id", payload.TaskID, "error", err)
		return err
	}

	return nil
}

// processTask забирает task, выполняет шаг и сохраняет результат.
func (w *Worker) processTask(ctx context.Context, taskID uuid.UUID) error {
	// 1. Забираем task: QUEUED → RUNNING атомарно
	task, err := w.store.ClaimTask(ctx, taskID)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		case errors.Is(err, repo.ErrInvalidState):
			return fmt.Errorf("%w: %s", ErrTaskNotQueued, taskID)
		default:
			return fmt.Errorf("claim task: %w", err)
		}
	}

	logger := telemetry.WithTask(w.logger, task)
	ctx = telemetry.WithLogger(ctx, logger)
	logger.Info("task started", "attempt", task.Attempt)

	// 2. Выполняем с retry
	resp, execErr := w.execute(ctx, task, logger)

	// 3. Остановка воркера: task вернётся в очередь
	if execErr != nil && ctx.Err() != nil {
		return w.requeue(ctx, task, logger)
	}

	// 4. Фиксируем результат
	if execErr == nil {
		result, err := marshalResult(resp)
		if err != nil {
			execErr = steps.Fatal(err)
		} else {
			task.MarkSucceeded(result)
		}
	}
	if execErr != nil {
		task.MarkFailed(execErr.Error(), steps.IsFatal(execErr))
	}

	if err := w.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("update task to %s: %w", task.Status, err)
	}
	telemetry.TasksFinished.WithLabelValues(task.Kind, string(task.Status)).Inc()

	if execErr == nil {
		logger.Info("task succeeded", "attempt", task.Attempt, "duration", task.Duration())
	} else {
		logger.Warn("task failed",
			"attempt", task.Attempt,
			"fatal", task.Fatal,
			"error", task.Error,
		)
	}

	w.publishCompletion(ctx, task, logger)
	return nil
}

// execute находит узел графа и шаг task и выполняет его с повторами.
func (w *Worker) execute(ctx context.Context, task *domain.Task, logger *slog.Logger) (*steps.Response, error) {
	rc, err := w.runContext(ctx, task.RunID)
	if err != nil {
		return nil, err
	}

	node := rc.dag.GetNode(task.NodeID)
	if node == nil {
		return nil, steps.Fatal(fmt.Errorf("%w: %s", ErrNodeNotFound, task.NodeID))
	}

	step, err := w.registry.Get(task.Kind)
	if err != nil {
		return nil, steps.Fatal(err)
	}

	tasks, err := w.store.ListTasks(ctx, task.RunID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	req := &steps.Request{
		RunID:     task.RunID,
		NodeID:    task.NodeID,
		Args:      task.Args,
		Results:   engine.ResultsFromTasks(tasks),
		Resources: node.Resources,
		Store:     rc.store,
		Logger:    logger,
	}

	return w.executeWithRetry(ctx, task, step, req, rc.dag.RetryPolicy(node), logger)
}

// executeWithRetry выполняет шаг с retry согласно RetryPolicy.
// Фатальная ошибка не повторяется.
func (w *Worker) executeWithRetry(
	ctx context.Context,
	task *domain.Task,
	step steps.Step,
	req *steps.Request,
	policy *domain.RetryPolicy,
	logger *slog.Logger,
) (*steps.Response, error) {
	maxAttempts := 1
	if policy != nil && policy.MaxAttempts > 0 {
		maxAttempts = policy.MaxAttempts
	}

	for {
		req.Attempt = task.Attempt

		start := time.Now()
		resp, err := step.Execute(ctx, req)
		telemetry.TaskDuration.WithLabelValues(task.Kind).Observe(time.Since(start).Seconds())

		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || steps.IsFatal(err) || !task.CanRetry(maxAttempts) {
			return nil, err
		}

		delay := calculateBackoff(task.Attempt, policy)

		logger.Warn("task attempt failed, retrying",
			"attempt", task.Attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// Сброс и новая попытка
		task.ResetForRetry()
		task.MarkRunning()
		if err := w.store.UpdateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("update task for retry: %w", err)
		}
		telemetry.TaskRetries.WithLabelValues(task.Kind).Inc()
	}
}

// requeue возвращает прерванную task в QUEUED.
func (w *Worker) requeue(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	task.ResetForRetry()
	if err := w.store.UpdateTask(context.WithoutCancel(ctx), task); err != nil {
		return fmt.Errorf("requeue interrupted task: %w", err)
	}
	logger.Info("task interrupted, returned to queue", "attempt", task.Attempt)
	return ctx.Err()
}

// publishCompletion публикует событие task.completed.
// Ошибка публикации не фатальна: оркестратор подхватит результат через polling.
func (w *Worker) publishCompletion(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	if w.broker == nil {
		return
	}

	payload := mq.TaskCompletedPayload{
		TaskID:  task.ID,
		RunID:   task.RunID,
		NodeID:  task.NodeID,
		Status:  string(task.Status),
		Error:   task.Error,
		Fatal:   task.Fatal,
		Attempt: task.Attempt,
	}

	if err := w.broker.PublishTaskCompleted(ctx, payload); err != nil {
		logger.Warn("failed to publish task.completed", "error", err)
	}
}

func marshalResult(resp *steps.Response) (json.RawMessage, error) {
	var v any
	if resp != nil {
		v = resp.Result
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return raw, nil
}

// calculateBackoff вычисляет задержку перед retry.
func calculateBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return time.Second
	}

	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		// "fixed" или неизвестный — используем initialDelay
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}
