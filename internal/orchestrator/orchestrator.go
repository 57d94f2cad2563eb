package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/mq"
	"github.com/shaiso/Alignflow/internal/repo"
	"github.com/shaiso/Alignflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
)

// Orchestrator управляет выполнением runs.
//
// Orchestrator — центральный компонент системы, который:
//   - Строит DAG для каждого run
//   - Создаёт tasks для готовых узлов и публикует task.ready
//   - Отслеживает завершение tasks (tasks.completed и polling хранилища)
//   - Продолжает прерванные runs из сохранённых tasks
//   - Финализирует runs (SUCCEEDED/FAILED/CANCELLED)
//
// Сам Orchestrator шаги не выполняет, это делают workers.
type Orchestrator struct {
	store  repo.Store
	broker mq.Broker

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	// Configuration
	pollInterval time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Store — состояние runs и tasks.
	Store repo.Store

	// Broker — очереди tasks (nil — только polling).
	Broker mq.Broker

	// PollInterval — интервал сверки активных runs с хранилищем (default: 10s).
	PollInterval time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:        cfg.Store,
		broker:       cfg.Broker,
		activeRuns:   make(map[uuid.UUID]*RunState),
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для tasks.completed (если есть брокер)
//   - Polling горутину: сверка активных runs с хранилищем
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.store == nil {
		return errors.New("orchestrator: store is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"broker", o.broker != nil,
	)

	if o.broker != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			err := o.broker.ConsumeTasksCompleted(ctx, o.handleTaskCompleted)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, mq.ErrBrokerClosed) {
				o.logger.Error("task consumer error", "error", err)
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator. Активные runs остаются RUNNING
// в хранилище и продолжаются через Restart.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_runs", o.ActiveRunsCount(),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Submit сохраняет новый run и запускает готовые узлы его графа.
func (o *Orchestrator) Submit(ctx context.Context, run *domain.Run) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = domain.RunStatusPending
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	state, err := NewRunState(run)
	if err != nil {
		return err
	}

	if err := o.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	if err := o.addActiveRun(state); err != nil {
		return err
	}

	run.MarkRunning()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.removeActiveRun(run.ID)
		return fmt.Errorf("update run to running: %w", err)
	}

	telemetry.WithRun(o.logger, run).Info("run started", "nodes", state.DAG.Size())

	state.progress.Lock()
	defer state.progress.Unlock()
	return o.advance(ctx, state)
}

// Restart продолжает прерванный run.
//
// Граф не перестраивается: succeeded tasks остаются завершёнными со своими
// результатами, остальные возвращаются в QUEUED с нулевым счётчиком
// попыток. Для уже успешного run ничего не делается.
func (o *Orchestrator) Restart(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}
	if o.isRunActive(runID) {
		return nil, fmt.Errorf("%w: %s", ErrRunAlreadyActive, runID)
	}

	run, err := o.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	logger := telemetry.WithRun(o.logger, run)

	if !run.Status.IsRestartable() {
		logger.Info("run already succeeded, nothing to restart")
		return run, nil
	}

	state, err := NewRunState(run)
	if err != nil {
		return nil, err
	}

	tasks, err := o.store.ListTasks(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	requeued := 0
	for i := range tasks {
		task := &tasks[i]
		if task.Status == domain.TaskStatusSucceeded {
			continue
		}
		task.ResetForRetry()
		task.Attempt = 0
		if err := o.store.UpdateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("requeue task %s: %w", task.NodeID, err)
		}
		requeued++
	}
	state.RestoreFromTasks(tasks)

	state.progress.Lock()
	defer state.progress.Unlock()

	if err := o.addActiveRun(state); err != nil {
		return nil, err
	}

	run.MarkRestarted()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.removeActiveRun(runID)
		return nil, fmt.Errorf("update run to running: %w", err)
	}
	telemetry.RunsRestarted.Inc()

	stats := state.Stats()
	logger.Info("run restarted",
		"restarts", run.Restarts,
		"completed_nodes", stats.CompletedNodes,
		"requeued_tasks", requeued,
	)

	for i := range tasks {
		if tasks[i].Status == domain.TaskStatusQueued {
			o.publishTaskReady(ctx, &tasks[i])
		}
	}

	if err := o.advance(ctx, state); err != nil {
		return nil, err
	}
	return run, nil
}

// Wait ждёт завершения run и возвращает его финальное состояние.
func (o *Orchestrator) Wait(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	if state := o.getActiveRun(runID); state != nil {
		select {
		case <-state.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	run, err := o.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.IsFinished() {
		return run, fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	return run, nil
}

// Cancel отменяет активный run. Tasks, которые уже выполняются,
// доработают, но их результаты не используются.
func (o *Orchestrator) Cancel(ctx context.Context, runID uuid.UUID) error {
	state := o.getActiveRun(runID)
	if state == nil {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}

	state.progress.Lock()
	defer state.progress.Unlock()

	if state.IsFinished() {
		return nil
	}
	state.Run.MarkCancelled()
	return o.finishRun(ctx, state)
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll сверяет активные runs с хранилищем: подхватывает завершения,
// о которых не пришло сообщение.
func (o *Orchestrator) poll(ctx context.Context) {
	for _, state := range o.activeStates() {
		if err := o.reconcile(ctx, state); err != nil && ctx.Err() == nil {
			o.logger.Error("failed to reconcile run",
				"run_id", state.RunID(),
				"error", err,
			)
		}
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// getActiveRun возвращает активный RunState.
func (o *Orchestrator) getActiveRun(runID uuid.UUID) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeRuns[runID]
}

func (o *Orchestrator) activeStates() []*RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	states := make([]*RunState, 0, len(o.activeRuns))
	for _, s := range o.activeRuns {
		states = append(states, s)
	}
	return states
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID()]; exists {
		return fmt.Errorf("%w: %s", ErrRunAlreadyActive, state.RunID())
	}

	o.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	state := o.getActiveRun(runID)
	if state == nil {
		return RunStats{}, false
	}
	return state.Stats(), true
}

func (o *Orchestrator) getRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}
