package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/engine"
	"github.com/shaiso/Alignflow/internal/mq"
	"github.com/shaiso/Alignflow/internal/repo"
	"github.com/shaiso/Alignflow/internal/steps"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultConcurrency  = 1
)

// Worker выполняет отдельные tasks.
//
// Worker — stateless компонент системы, который:
//   - Получает tasks из брокера (event-driven)
//   - Периодически проверяет queued tasks в хранилище (polling fallback)
//   - Выполняет шаг графа по типу task
//   - Повторяет упавший шаг с backoff, если ошибка не фатальна
//   - Отправляет результат обратно в очередь tasks.completed
//
// Workers масштабируются горизонтально: task забирается атомарно
// (repo.TaskStore.ClaimTask), поэтому один task не выполнится дважды.
type Worker struct {
	store    repo.Store
	broker   mq.Broker
	registry *steps.Registry

	// Configuration
	concurrency  int
	pollInterval time.Duration
	batchSize    int

	runsMu sync.Mutex
	runs   map[uuid.UUID]*runContext

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Store — состояние runs и tasks.
	Store repo.Store

	// Broker — очереди tasks (nil — только polling).
	Broker mq.Broker

	// Registry — реестр шагов (nil — steps.DefaultRegistry с контрольными
	// точками в Store).
	Registry *steps.Registry

	// WorkDir — каталог временных файлов шагов (для реестра по умолчанию).
	WorkDir string

	// Concurrency — сколько tasks выполняется одновременно (default: 1).
	Concurrency int

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество tasks за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// runContext — то, что нужно шагам run'а и не меняется между tasks.
type runContext struct {
	dag   *engine.DAG
	store artifact.Store
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = steps.DefaultRegistry(steps.Deps{
			Checkpoints: cfg.Store,
			WorkDir:     cfg.WorkDir,
			Logger:      logger,
		})
	}

	return &Worker{
		store:        cfg.Store,
		broker:       cfg.Broker,
		registry:     registry,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		runs:         make(map[uuid.UUID]*runContext),
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Concurrency потребителей tasks.ready (если есть брокер)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	if w.store == nil {
		return errors.New("worker: store is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"broker", w.broker != nil,
	)

	if w.broker != nil {
		for i := 0; i < w.concurrency; i++ {
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				err := w.broker.ConsumeTasksReady(ctx, w.handleTaskReady)
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, mq.ErrBrokerClosed) {
					w.logger.Error("task consumer error", "error", err)
				}
			}()
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения выполняемых tasks.
// Прерванные tasks возвращаются в QUEUED.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем tasks созданные пока были выключены)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling: до Concurrency tasks параллельно.
func (w *Worker) poll(ctx context.Context) {
	tasks, err := w.store.ListQueued(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list queued tasks", "error", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	w.logger.Debug("poll found queued tasks", "count", len(tasks))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for i := range tasks {
		if ctx.Err() != nil {
			break
		}
		taskID := tasks[i].ID

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			err := w.processTask(ctx, taskID)
			if err != nil && !errors.Is(err, ErrTaskNotQueued) && !errors.Is(err, context.Canceled) {
				w.logger.Error("failed to process task from poll",
					"task_id", taskID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// runContext возвращает граф и хранилище артефактов run'а.
func (w *Worker) runContext(ctx context.Context, runID uuid.UUID) (*runContext, error) {
	w.runsMu.Lock()
	defer w.runsMu.Unlock()

	if rc, ok := w.runs[runID]; ok {
		return rc, nil
	}

	run, err := w.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	dag, err := engine.BuildDAG(&run.Graph)
	if err != nil {
		return nil, steps.Fatal(fmt.Errorf("build graph of run %s: %w", runID, err))
	}
	store, err := artifact.OpenStore(ctx, run.JobStore)
	if err != nil {
		return nil, fmt.Errorf("open job store %s: %w", run.JobStore, err)
	}

	rc := &runContext{dag: dag, store: store}
	w.runs[runID] = rc
	return rc, nil
}
