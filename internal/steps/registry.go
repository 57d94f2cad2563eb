package steps

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/assembly"
	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/dbserver"
)

// Registry — реестр типов шагов.
//
// Позволяет регистрировать и получать реализации Step по типу.
// Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
	}
}

// Deps — зависимости стандартных шагов.
type Deps struct {
	// Checkpoints — хранилище контрольных точек фазы сборки.
	Checkpoints assembly.CheckpointStore

	// Runners — исполнители шагов сборки. По умолчанию ExecRunners.
	Runners RunnerFactory

	// Databases — сервис вспомогательной базы. По умолчанию dbserver.Service.
	Databases DatabaseFactory

	// WorkDir — каталог для временных файлов (пусто — системный).
	WorkDir string

	Logger *slog.Logger
}

// DefaultRegistry создаёт реестр со всеми шагами графа выравнивания.
func DefaultRegistry(deps Deps) *Registry {
	if deps.Runners == nil {
		deps.Runners = ExecRunners(deps.WorkDir)
	}
	if deps.Databases == nil {
		deps.Databases = func(store artifact.Store, cfg *config.Config) assembly.Database {
			return dbserver.NewService(store, cfg, deps.WorkDir, deps.Logger)
		}
	}

	r := NewRegistry()

	r.Register(NewUniquifyStep(deps.WorkDir))
	r.Register(NewRewriteStep(deps.WorkDir))
	r.Register(NewRewriteJoinStep())
	r.Register(NewCoverageStep(deps.WorkDir))
	r.Register(NewCoverageJoinStep())
	r.Register(NewSetupStep(deps.Checkpoints, deps.Runners, deps.Databases))
	r.Register(NewPrepareExportStep())
	r.Register(NewExportStep(deps.WorkDir))

	return r
}

// Register регистрирует шаг в реестре.
// Если шаг с таким типом уже существует, он будет перезаписан.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Type()] = step
}

// Get возвращает шаг по типу.
// Возвращает ErrStepNotFound, если шаг не найден.
func (r *Registry) Get(stepType string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[stepType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}

	return step, nil
}

// Has проверяет, зарегистрирован ли шаг.
// Подходит как engine.KindChecker.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.steps[stepType]
	return exists
}

// Types возвращает список всех зарегистрированных типов шагов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.steps))
	for t := range r.steps {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных шагов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}
