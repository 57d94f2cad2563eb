package assembly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
)

// Ошибки фазы сборки.
var (
	// ErrNoSteps — фаза без шагов.
	ErrNoSteps = errors.New("assembly phase has no steps")

	// ErrCheckpointMismatch — записанные контрольные точки не совпадают
	// с шагами фазы (изменился список шагов между запусками).
	ErrCheckpointMismatch = errors.New("checkpoints do not match phase steps")

	// ErrNoRunner — не задан исполнитель шагов.
	ErrNoRunner = errors.New("assembly step runner is not configured")
)

// CheckpointStore — долговременное хранилище контрольных точек.
type CheckpointStore interface {
	// ListCheckpoints возвращает контрольные точки узла в порядке Seq.
	ListCheckpoints(ctx context.Context, runID uuid.UUID, nodeID string) ([]domain.Checkpoint, error)

	// SaveCheckpoint записывает контрольную точку. Запись должна быть
	// durable к моменту возврата.
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
}

// StepInput — входные данные одного шага сборки.
type StepInput struct {
	Step       string            `json:"step"`
	Seq        int               `json:"seq"`
	Experiment domain.Experiment `json:"experiment"`
	Database   domain.DbConf     `json:"database"`
}

// StepRunner выполняет один шаг сборки и возвращает обновлённый эксперимент.
type StepRunner interface {
	RunStep(ctx context.Context, in *StepInput) (domain.Experiment, error)
}

// Database — вспомогательная база, поднимаемая на время одного шага.
type Database interface {
	// Start поднимает сервер, загружая снимок conf.SnapshotID (если есть),
	// и возвращает conf с адресом сервера.
	Start(ctx context.Context, conf domain.DbConf) (domain.DbConf, error)

	// Stop останавливает сервер и возвращает дескриптор снимка базы.
	Stop(ctx context.Context) (domain.ArtifactID, error)
}

// Config — конфигурация фазы.
type Config struct {
	RunID  uuid.UUID
	NodeID string

	// Steps — шаги фазы по порядку.
	Steps []string

	Runner      StepRunner
	Checkpoints CheckpointStore

	// Database — опционально; nil — шаги выполняются без базы.
	Database Database

	Logger *slog.Logger
}

// Phase — многошаговая фаза сборки с контрольными точками.
//
// После каждого шага записывается контрольная точка. Повторный вход
// продолжает работу после последнего записанного шага; записанные шаги
// не выполняются повторно.
type Phase struct {
	runID       uuid.UUID
	nodeID      string
	steps       []string
	runner      StepRunner
	checkpoints CheckpointStore
	db          Database
	logger      *slog.Logger
}

// New создаёт фазу.
func New(cfg Config) (*Phase, error) {
	if len(cfg.Steps) == 0 {
		return nil, ErrNoSteps
	}
	if cfg.Runner == nil {
		return nil, ErrNoRunner
	}
	if cfg.Checkpoints == nil {
		return nil, errors.New("assembly checkpoint store is not configured")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Phase{
		runID:       cfg.RunID,
		nodeID:      cfg.NodeID,
		steps:       append([]string(nil), cfg.Steps...),
		runner:      cfg.Runner,
		checkpoints: cfg.Checkpoints,
		db:          cfg.Database,
		logger:      logger.With("node_id", cfg.NodeID),
	}, nil
}

// Steps возвращает шаги фазы.
func (p *Phase) Steps() []string {
	return append([]string(nil), p.steps...)
}

// Resume загружает контрольные точки и возвращает состояние после
// последнего записанного шага и номер следующего шага.
// Без контрольных точек возвращает initial и 0.
func (p *Phase) Resume(ctx context.Context, initial domain.Experiment) (domain.Experiment, int, error) {
	cps, err := p.checkpoints.ListCheckpoints(ctx, p.runID, p.nodeID)
	if err != nil {
		return domain.Experiment{}, 0, fmt.Errorf("load checkpoints: %w", err)
	}
	if len(cps) == 0 {
		return initial, 0, nil
	}

	sort.Slice(cps, func(i, j int) bool { return cps[i].Seq < cps[j].Seq })
	if len(cps) > len(p.steps) {
		return domain.Experiment{}, 0, fmt.Errorf("%w: %d checkpoints for %d steps", ErrCheckpointMismatch, len(cps), len(p.steps))
	}
	for i, cp := range cps {
		if cp.Seq != i || cp.Step != p.steps[i] {
			return domain.Experiment{}, 0, fmt.Errorf("%w: checkpoint %d is %q, step %d is %q",
				ErrCheckpointMismatch, cp.Seq, cp.Step, i, p.steps[i])
		}
	}

	var state domain.Experiment
	last := cps[len(cps)-1]
	if err := json.Unmarshal(last.State, &state); err != nil {
		return domain.Experiment{}, 0, fmt.Errorf("decode checkpoint %s: %w", last.Step, err)
	}
	return state, len(cps), nil
}

// Run выполняет фазу с начала или с места остановки.
func (p *Phase) Run(ctx context.Context, initial domain.Experiment) (domain.Experiment, error) {
	state, next, err := p.Resume(ctx, initial)
	if err != nil {
		return domain.Experiment{}, err
	}
	if next > 0 {
		p.logger.Info("resuming assembly phase",
			"completed_steps", next,
			"next_step", stepName(p.steps, next),
		)
	}

	for seq := next; seq < len(p.steps); seq++ {
		step := p.steps[seq]
		started := time.Now()

		out, err := p.runStep(ctx, seq, step, state)
		if err != nil {
			return domain.Experiment{}, fmt.Errorf("assembly step %s: %w", step, err)
		}

		if err := p.saveCheckpoint(ctx, seq, step, out); err != nil {
			return domain.Experiment{}, err
		}
		state = out

		p.logger.Info("assembly step finished",
			"step", step,
			"seq", seq,
			"duration", time.Since(started),
		)
	}

	return state, nil
}

func (p *Phase) runStep(ctx context.Context, seq int, step string, state domain.Experiment) (domain.Experiment, error) {
	conf := state.Database
	running := conf

	if p.db != nil {
		var err error
		running, err = p.db.Start(ctx, conf)
		if err != nil {
			return domain.Experiment{}, fmt.Errorf("start database: %w", err)
		}
	}

	in := &StepInput{
		Step:       step,
		Seq:        seq,
		Experiment: state.Clone(),
		Database:   running,
	}
	out, runErr := p.runner.RunStep(ctx, in)

	if p.db != nil {
		snapshot, err := p.db.Stop(ctx)
		if runErr != nil {
			if err != nil {
				p.logger.Warn("failed to stop database after step failure", "step", step, "error", err)
			}
			return domain.Experiment{}, runErr
		}
		if err != nil {
			return domain.Experiment{}, fmt.Errorf("stop database: %w", err)
		}
		if !snapshot.IsZero() {
			conf.SnapshotID = snapshot
		}
	}
	if runErr != nil {
		return domain.Experiment{}, runErr
	}

	// Адрес сервера действителен только на время шага
	conf.Host = ""
	conf.Port = 0
	out.Database = conf
	return out, nil
}

func (p *Phase) saveCheckpoint(ctx context.Context, seq int, step string, state domain.Experiment) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", step, err)
	}
	cp := &domain.Checkpoint{
		RunID:     p.runID,
		NodeID:    p.nodeID,
		Step:      step,
		Seq:       seq,
		State:     data,
		CreatedAt: time.Now(),
	}
	if err := p.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", step, err)
	}
	return nil
}

func stepName(steps []string, i int) string {
	if i < len(steps) {
		return steps[i]
	}
	return ""
}
