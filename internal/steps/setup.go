package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/assembly"
	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
)

// KindSetup — многошаговая фаза сборки выравнивания.
const KindSetup = "setup"

// SetupArgs — аргументы фазы сборки.
type SetupArgs struct {
	State engine.Promise[domain.WorkflowState] `json:"state"`
}

// DatabaseFactory создаёт сервис вспомогательной базы для фазы.
// nil в результате — фаза работает без базы.
type DatabaseFactory func(store artifact.Store, cfg *config.Config) assembly.Database

// RunnerFactory создаёт исполнителя шагов сборки.
type RunnerFactory func(cfg *config.Config) assembly.StepRunner

// SetupStep выполняет фазу сборки с контрольными точками.
//
// Повтор задачи или restart run'а продолжают фазу после последнего
// записанного шага.
type SetupStep struct {
	checkpoints assembly.CheckpointStore
	runners     RunnerFactory
	databases   DatabaseFactory
}

// NewSetupStep создаёт шаг.
func NewSetupStep(checkpoints assembly.CheckpointStore, runners RunnerFactory, databases DatabaseFactory) *SetupStep {
	return &SetupStep{
		checkpoints: checkpoints,
		runners:     runners,
		databases:   databases,
	}
}

// Type возвращает тип шага.
func (s *SetupStep) Type() string {
	return KindSetup
}

// Execute запускает (или продолжает) фазу сборки.
func (s *SetupStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	args, err := DecodeArgs[SetupArgs](req)
	if err != nil {
		return nil, err
	}
	state, err := resolve(args.State, req)
	if err != nil {
		return nil, err
	}

	cfg := config.FromSnapshot(state.Config)
	if state.Database.Type == "" {
		state.Database.Type = cfg.Get(config.KeyDatabaseType)
	}

	var db assembly.Database
	if s.databases != nil {
		db = s.databases(req.Store, cfg)
	}

	phase, err := assembly.New(assembly.Config{
		RunID:       req.RunID,
		NodeID:      req.NodeID,
		Steps:       cfg.Strings(config.KeyAssemblySteps),
		Runner:      s.runners(cfg),
		Checkpoints: s.checkpoints,
		Database:    db,
		Logger:      req.logger(),
	})
	if err != nil {
		return nil, Fatal(err)
	}

	started := time.Now()
	exp, err := phase.Run(ctx, assembly.ExperimentFromState(state))
	if err != nil {
		return nil, fmt.Errorf("assembly of %s: %w", state.Root, err)
	}
	if exp.Root == "" {
		exp.Root = state.Root
	}

	req.logger().Info("assembly finished",
		"root", exp.Root,
		"steps", len(phase.Steps()),
		"duration", time.Since(started),
	)
	return NewResponse(exp), nil
}

// ExecRunners — фабрика исполнителей по умолчанию: программа
// assembly.binary из конфигурации.
func ExecRunners(workDir string) RunnerFactory {
	return func(cfg *config.Config) assembly.StepRunner {
		return &assembly.ExecRunner{
			Binary:  cfg.Get(config.KeyAssemblyBinary),
			WorkDir: workDir,
		}
	}
}
