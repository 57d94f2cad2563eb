package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Alignflow/internal/api"
	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/export"
	"github.com/shaiso/Alignflow/internal/mq"
	"github.com/shaiso/Alignflow/internal/orchestrator"
	"github.com/shaiso/Alignflow/internal/pipeline"
	"github.com/shaiso/Alignflow/internal/repo"
	"github.com/shaiso/Alignflow/internal/seqfile"
	"github.com/shaiso/Alignflow/internal/steps"
	"github.com/shaiso/Alignflow/internal/worker"
)

const stateFileName = "state.json"

// AlignOptions — параметры локального выравнивания.
type AlignOptions struct {
	JobStore   string
	SeqFile    string
	Alignments string
	OutputHal  string
	Root       string

	ConfigFile    string
	NonBlastInput bool
	Database      string
	Restart       bool

	// RetryCount — повторов после первой попытки; < 0 — из конфигурации.
	RetryCount int

	// Workers — сколько tasks выполняется одновременно.
	Workers int

	// StatusAddr — адрес API состояния (пусто — не поднимается).
	StatusAddr string

	// StateFile — файл состояния runs (пусто — <jobStore>/state.json).
	StateFile string

	// Distributed — состояние в Postgres, tasks через RabbitMQ: их
	// выполняют процессы alignflow-worker. Локальные воркеры запускаются,
	// только если Workers > 0.
	Distributed bool

	// DatabaseURL — DSN Postgres (пусто — DB_URL).
	DatabaseURL string

	// PollInterval — интервал сверки оркестратора и воркеров с состоянием.
	PollInterval time.Duration

	// Steps строит реестр шагов (nil — steps.DefaultRegistry).
	Steps func(checkpoints repo.CheckpointStore) *steps.Registry

	Logger *slog.Logger
}

// StatePath возвращает путь файла состояния runs job store'а.
func StatePath(jobStore, stateFile string) (string, error) {
	if stateFile != "" {
		return stateFile, nil
	}
	if artifact.IsS3URL(jobStore) {
		return "", ErrStateFileRequired
	}
	return filepath.Join(jobStore, stateFileName), nil
}

// Align выполняет выравнивание события в этом процессе: оркестратор
// и воркеры работают через локальный брокер, состояние сохраняется
// в файл, поэтому прерванный run продолжается с Restart.
//
// Успешный run выгружает HAL корня в OutputHal.
func Align(ctx context.Context, opts AlignOptions) (*domain.Run, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.RetryCount >= 0 {
		cfg.Set(config.KeyRetryCount, strconv.Itoa(opts.RetryCount))
	}

	be, err := openBackend(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	defer be.close()
	store := be.store

	artifacts, err := artifact.OpenStore(ctx, opts.JobStore)
	if err != nil {
		return nil, err
	}

	var workDir string
	if !artifact.IsS3URL(opts.JobStore) {
		workDir = filepath.Join(opts.JobStore, "work")
	}
	var registry *steps.Registry
	if opts.Steps != nil {
		registry = opts.Steps(store)
	} else {
		registry = steps.DefaultRegistry(steps.Deps{Checkpoints: store, WorkDir: workDir, Logger: logger})
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:        store,
		Broker:       be.broker,
		PollInterval: opts.PollInterval,
		Logger:       logger,
	})

	if err := orch.Start(ctx); err != nil {
		return nil, err
	}
	defer orch.Stop()

	if !opts.Distributed || opts.Workers > 0 {
		w := worker.New(worker.Config{
			Store:        store,
			Broker:       be.broker,
			Registry:     registry,
			WorkDir:      workDir,
			Concurrency:  opts.Workers,
			PollInterval: opts.PollInterval,
			Logger:       logger,
		})
		if err := w.Start(ctx); err != nil {
			return nil, err
		}
		defer w.Stop()
	}

	run, err := startRun(ctx, orch, store, artifacts, cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	final, err := waitServing(ctx, orch, store, run.ID, opts.StatusAddr, logger)
	if errors.Is(err, context.Canceled) {
		return final, fmt.Errorf("run %s interrupted, continue it with --restart: %w", run.ID, err)
	}
	if err != nil {
		return final, err
	}
	if final.Status != domain.RunStatusSucceeded {
		return final, fmt.Errorf("%w: %s: %s", ErrRunFailed, final.Status, final.Error)
	}

	if err := exportHal(ctx, store, artifacts, final, opts.OutputHal); err != nil {
		return final, err
	}

	elapsed := time.Since(start).Seconds()
	logger.Info("alignment has finished",
		"root", final.Name,
		"run_id", final.ID,
		"output", opts.OutputHal,
		"seconds", elapsed,
	)
	return final, nil
}

type backend struct {
	store  repo.Store
	broker mq.Broker
	close  func()
}

// openBackend открывает состояние runs и брокер: файл и mq.Local
// локально, Postgres и RabbitMQ в распределённом режиме.
func openBackend(ctx context.Context, opts AlignOptions, logger *slog.Logger) (*backend, error) {
	if !opts.Distributed {
		statePath, err := StatePath(opts.JobStore, opts.StateFile)
		if err != nil {
			return nil, err
		}
		store, err := repo.OpenMemoryStore(statePath)
		if err != nil {
			return nil, err
		}
		broker := mq.NewLocal()
		return &backend{store: store, broker: broker, close: func() { broker.Close() }}, nil
	}

	pool, err := repo.NewPool(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repo.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	rabbit, err := mq.NewRabbit(ctx, mq.RabbitConfig{Logger: logger})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	logger.Info("distributed backend ready")
	return &backend{
		store:  repo.NewPgStore(pool),
		broker: rabbit,
		close: func() {
			rabbit.Close()
			pool.Close()
		},
	}, nil
}

// startRun запускает новый run или продолжает последний.
func startRun(ctx context.Context, orch *orchestrator.Orchestrator, store repo.Store, artifacts artifact.Store, cfg *config.Config, opts AlignOptions, logger *slog.Logger) (*domain.Run, error) {
	if opts.Restart {
		latest, err := store.LatestRun(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNothingToRestart, opts.JobStore)
		}
		if err != nil {
			return nil, err
		}
		if opts.Root != "" && latest.Name != opts.Root {
			return nil, fmt.Errorf("%w: stored %q, requested %q", ErrRootMismatch, latest.Name, opts.Root)
		}
		return orch.Restart(ctx, latest.ID)
	}

	sf, err := seqfile.ReadFile(opts.SeqFile)
	if err != nil {
		return nil, err
	}
	in, err := pipeline.ImportInputs(ctx, artifacts, pipeline.Options{
		SeqFile:       sf,
		Root:          opts.Root,
		Alignments:    opts.Alignments,
		NonBlastInput: opts.NonBlastInput,
		Database:      opts.Database,
		Config:        cfg,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	graph, err := pipeline.BuildGraph(in, cfg)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{Name: opts.Root, JobStore: opts.JobStore, Graph: *graph}
	if err := orch.Submit(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// waitServing ждёт завершения run'а; если задан addr, пока run
// выполняется, отвечает API состояния.
func waitServing(ctx context.Context, orch *orchestrator.Orchestrator, store repo.Store, runID uuid.UUID, addr string, logger *slog.Logger) (*domain.Run, error) {
	g, gctx := errgroup.WithContext(ctx)
	waitCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	if addr != "" {
		handler := api.NewHandler(api.Config{Runs: store, Tasks: store, Canceler: orch, Logger: logger})
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("status api listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-waitCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var final *domain.Run
	g.Go(func() error {
		defer stopServing()
		run, err := orch.Wait(waitCtx, runID)
		final = run
		return err
	})

	err := g.Wait()
	return final, err
}

// exportHal копирует HAL, опубликованный узлом export, в path.
func exportHal(ctx context.Context, store repo.TaskStore, artifacts artifact.Store, run *domain.Run, path string) error {
	tasks, err := store.ListTasks(ctx, run.ID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.NodeID != pipeline.PhaseExport {
			continue
		}
		var res export.Result
		if err := json.Unmarshal(t.Result, &res); err != nil {
			return fmt.Errorf("decode export result: %w", err)
		}
		if err := res.Validate(run.Name); err != nil {
			return err
		}
		if err := artifacts.Export(ctx, res.HalID, path); err != nil {
			return fmt.Errorf("export hal to %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("%w: run %s has no %s task", export.ErrEmptyResult, run.ID, pipeline.PhaseExport)
}

// NewAlignCmd создаёт команду align.
func NewAlignCmd(outputFn func() *Output, loggerFn func() *slog.Logger) *cobra.Command {
	opts := AlignOptions{}

	cmd := &cobra.Command{
		Use:   "align JOB_STORE SEQ_FILE BLAST_OUTPUT OUTPUT_HAL",
		Short: "Align the genomes of one event and export the result to HAL",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.JobStore, opts.SeqFile, opts.Alignments, opts.OutputHal = args[0], args[1], args[2], args[3]
			if !cmd.Flags().Changed("retryCount") {
				opts.RetryCount = -1
			}
			if opts.Distributed && !cmd.Flags().Changed("workers") {
				opts.Workers = 0
			}
			opts.Logger = loggerFn()
			out := outputFn()

			start := time.Now()
			run, err := Align(cmd.Context(), opts)
			if run != nil && (err != nil || out.jsonMode) {
				out.RunSummary(api.RunFromDomain(run))
			}
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("alignment of %s has finished after %.2f seconds", run.Name, time.Since(start).Seconds()))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "Name of the ancestral event to align")
	cmd.Flags().StringVar(&opts.ConfigFile, "configFile", "", "JSON configuration file (defaults built in)")
	cmd.Flags().BoolVar(&opts.NonBlastInput, "nonBlastInput", false, "Alignments were not produced by the blast phase: uniquify identifiers and compute fragments and coverage")
	cmd.Flags().StringVar(&opts.Database, "database", "", "Auxiliary database type: kyoto_tycoon or redis (default from config)")
	cmd.Flags().BoolVar(&opts.Restart, "restart", false, "Continue the latest run of the job store")
	cmd.Flags().IntVar(&opts.RetryCount, "retryCount", 5, "Retries of a failed task after the first attempt")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "Tasks executed concurrently")
	cmd.Flags().StringVar(&opts.StatusAddr, "statusAddr", "", "Serve the status API on this address while running (e.g. :8080)")
	cmd.Flags().StringVar(&opts.StateFile, "stateFile", "", "Run state file (default <jobStore>/state.json)")
	cmd.Flags().BoolVar(&opts.Distributed, "distributed", false, "Keep run state in Postgres and dispatch tasks to alignflow-worker processes over RabbitMQ")
	cmd.Flags().StringVar(&opts.DatabaseURL, "databaseUrl", "", "Postgres DSN for --distributed (default DB_URL)")
	cmd.MarkFlagRequired("root")

	return cmd
}
