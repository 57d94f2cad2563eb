package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
)

// RunStore — хранилище runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// LatestRun возвращает последний созданный run.
	LatestRun(ctx context.Context) (*domain.Run, error)

	UpdateRun(ctx context.Context, run *domain.Run) error

	// ListActiveRuns возвращает runs в статусах PENDING и RUNNING.
	ListActiveRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

// TaskStore — хранилище tasks.
type TaskStore interface {
	// CreateTask создаёт task. Второй task для того же узла run'а
	// даёт ErrAlreadyExists.
	CreateTask(ctx context.Context, task *domain.Task) error

	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListTasks возвращает tasks run'а в порядке создания.
	ListTasks(ctx context.Context, runID uuid.UUID) ([]domain.Task, error)

	UpdateTask(ctx context.Context, task *domain.Task) error

	// ClaimTask атомарно переводит task из QUEUED в RUNNING и увеличивает
	// Attempt. Task в другом статусе даёт ErrInvalidState: его уже забрал
	// другой воркер.
	ClaimTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListQueued возвращает tasks в статусе QUEUED.
	ListQueued(ctx context.Context, limit int) ([]domain.Task, error)
}

// CheckpointStore — контрольные точки фаз с несколькими шагами.
type CheckpointStore interface {
	// ListCheckpoints возвращает контрольные точки узла по возрастанию Seq.
	ListCheckpoints(ctx context.Context, runID uuid.UUID, nodeID string) ([]domain.Checkpoint, error)

	// SaveCheckpoint записывает контрольную точку; повторная запись
	// того же Seq заменяет предыдущую.
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
}

// Store — всё состояние выполнения runs.
type Store interface {
	RunStore
	TaskStore
	CheckpointStore
}
