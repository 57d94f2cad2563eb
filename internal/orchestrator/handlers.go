package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
	"github.com/shaiso/Alignflow/internal/mq"
	"github.com/shaiso/Alignflow/internal/repo"
	"github.com/shaiso/Alignflow/internal/telemetry"
)

// handleTaskCompleted обрабатывает событие о завершённом task.
func (o *Orchestrator) handleTaskCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskCompletedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse task.completed payload", "error", err)
		return err
	}

	o.logger.Debug("received task.completed event",
		"task_id", payload.TaskID,
		"run_id", payload.RunID,
		"node_id", payload.NodeID,
		"status", payload.Status,
	)

	// Run другого процесса или уже завершённый: сверка хранилища
	// его владельцем подхватит результат.
	state := o.getActiveRun(payload.RunID)
	if state == nil {
		o.logger.Debug("run not active, ignoring completion", "run_id", payload.RunID)
		return nil
	}

	task, err := o.store.GetTask(ctx, payload.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			o.logger.Warn("completed task not found", "task_id", payload.TaskID)
			return nil
		}
		return fmt.Errorf("get task: %w", err)
	}

	state.progress.Lock()
	defer state.progress.Unlock()

	if err := o.applyCompletion(ctx, state, task); err != nil {
		o.logger.Error("failed to process task completion",
			"task_id", payload.TaskID,
			"run_id", payload.RunID,
			"error", err,
		)
		return err
	}
	return nil
}

// reconcile применяет завершения tasks run'а, сохранённые в хранилище.
func (o *Orchestrator) reconcile(ctx context.Context, state *RunState) error {
	tasks, err := o.store.ListTasks(ctx, state.RunID())
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	state.progress.Lock()
	defer state.progress.Unlock()

	for i := range tasks {
		if state.IsFinished() {
			return nil
		}
		task := &tasks[i]
		if !task.IsFinished() || !state.IsNodeRunning(task.NodeID) {
			continue
		}
		if err := o.applyCompletion(ctx, state, task); err != nil {
			return err
		}
	}

	// Граф мог продвинуться без сообщений (например, после Restart).
	if !state.IsFinished() {
		return o.advance(ctx, state)
	}
	return nil
}

// applyCompletion учитывает завершённую task и продвигает run.
// Вызывается под state.progress.
func (o *Orchestrator) applyCompletion(ctx context.Context, state *RunState, task *domain.Task) error {
	if state.IsFinished() || !state.IsNodeRunning(task.NodeID) {
		return nil
	}
	// Устаревшее сообщение о task, которую заменили при restart.
	if current := state.Task(task.NodeID); current != nil && current.ID != task.ID {
		return nil
	}

	switch task.Status {
	case domain.TaskStatusSucceeded:
		state.MarkNodeCompleted(task.NodeID)
		o.logger.Debug("node completed",
			"run_id", task.RunID,
			"node_id", task.NodeID,
		)
	case domain.TaskStatusFailed:
		state.MarkNodeFailed(task.NodeID, task.Error)
		o.logger.Warn("node failed",
			"run_id", task.RunID,
			"node_id", task.NodeID,
			"attempt", task.Attempt,
			"fatal", task.Fatal,
			"error", task.Error,
		)
	default:
		return nil
	}

	return o.advance(ctx, state)
}

// advance завершает run или создаёт tasks для готовых узлов.
// Вызывается под state.progress.
func (o *Orchestrator) advance(ctx context.Context, state *RunState) error {
	if state.IsFinished() {
		return nil
	}

	if state.HasFailed() {
		state.Run.MarkFailed(state.FailureMessage())
		return o.finishRun(ctx, state)
	}

	if state.IsComplete() {
		state.Run.MarkSucceeded()
		return o.finishRun(ctx, state)
	}

	ready := state.GetReadyNodes()
	if len(ready) == 0 {
		return nil
	}

	o.logger.Debug("dispatching ready nodes",
		"run_id", state.RunID(),
		"count", len(ready),
	)

	var errs []error
	for _, node := range ready {
		if err := o.dispatchNode(ctx, state, node); err != nil {
			o.logger.Error("failed to dispatch node",
				"run_id", state.RunID(),
				"node_id", node.ID,
				"error", err,
			)
			// Продолжаем с другими узлами; сверка повторит попытку
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatchNode создаёт task для узла и публикует task.ready.
// Join-узлы тоже исполняются: они собирают результаты подзадач.
func (o *Orchestrator) dispatchNode(ctx context.Context, state *RunState, node *engine.Node) error {
	task := &domain.Task{
		ID:        uuid.New(),
		RunID:     state.RunID(),
		NodeID:    node.ID,
		Kind:      node.Kind,
		Status:    domain.TaskStatusQueued,
		Args:      node.Args,
		CreatedAt: time.Now(),
	}

	if err := o.store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	state.MarkNodeDispatched(task)
	telemetry.TasksDispatched.WithLabelValues(task.Kind).Inc()

	o.publishTaskReady(ctx, task)

	o.logger.Debug("task dispatched",
		"task_id", task.ID,
		"run_id", task.RunID,
		"node_id", task.NodeID,
		"kind", task.Kind,
	)
	return nil
}

// publishTaskReady публикует task.ready. Ошибка не фатальна:
// task уже в хранилище, worker заберёт её через polling.
func (o *Orchestrator) publishTaskReady(ctx context.Context, task *domain.Task) {
	if o.broker == nil {
		return
	}
	err := o.broker.PublishTaskReady(ctx, mq.TaskReadyPayload{TaskID: task.ID, RunID: task.RunID})
	if err != nil {
		o.logger.Warn("failed to publish task.ready",
			"task_id", task.ID,
			"run_id", task.RunID,
			"error", err,
		)
	}
}

// finishRun сохраняет финальный статус run и убирает его из активных.
func (o *Orchestrator) finishRun(ctx context.Context, state *RunState) error {
	run := state.Run
	logger := telemetry.WithRun(o.logger, run)

	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	o.removeActiveRun(run.ID)
	state.finish()
	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()

	switch run.Status {
	case domain.RunStatusSucceeded:
		logger.Info("run succeeded", "duration", run.Duration())
	case domain.RunStatusCancelled:
		logger.Warn("run cancelled", "duration", run.Duration())
	default:
		logger.Warn("run failed", "error", run.Error, "duration", run.Duration())
	}
	return nil
}
