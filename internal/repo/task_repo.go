package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Alignflow/internal/domain"
)

const taskColumns = `id, run_id, node_id, kind, attempt, status, args, result, fatal,
       started_at, finished_at, error, created_at`

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// CreateTask создаёт новый task.
func (r *TaskRepo) CreateTask(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO tasks (id, run_id, node_id, kind, attempt, status, args, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.RunID,
		task.NodeID,
		task.Kind,
		task.Attempt,
		task.Status,
		nullJSON(task.Args),
		task.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task for %s", ErrAlreadyExists, task.NodeID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask возвращает task по ID.
func (r *TaskRepo) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListTasks возвращает все tasks run'а.
func (r *TaskRepo) ListTasks(ctx context.Context, runID uuid.UUID) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE run_id = $1
		ORDER BY created_at ASC, node_id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by run_id: %w", err)
	}
	return collectTasks(rows)
}

// UpdateTask обновляет task.
func (r *TaskRepo) UpdateTask(ctx context.Context, task *domain.Task) error {
	query := `
		UPDATE tasks
		SET attempt = $2, status = $3, result = $4, fatal = $5,
		    started_at = $6, finished_at = $7, error = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Attempt,
		task.Status,
		nullJSON(task.Result),
		task.Fatal,
		task.StartedAt,
		task.FinishedAt,
		nullString(task.Error),
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimTask забирает task из QUEUED одним UPDATE: из нескольких
// воркеров его получит ровно один.
func (r *TaskRepo) ClaimTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'RUNNING', attempt = attempt + 1, started_at = now(),
		    finished_at = NULL, error = NULL, fatal = FALSE
		WHERE id = $1 AND status = 'QUEUED'
		RETURNING ` + taskColumns
	task, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetTask(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: task %s is not queued", ErrInvalidState, id)
	}
	return task, err
}

// ListQueued возвращает tasks в статусе QUEUED.
func (r *TaskRepo) ListQueued(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'QUEUED'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued tasks: %w", err)
	}
	return collectTasks(rows)
}

// --- Helpers ---

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var argsJSON, resultJSON []byte
	var taskError *string

	err := row.Scan(
		&task.ID,
		&task.RunID,
		&task.NodeID,
		&task.Kind,
		&task.Attempt,
		&task.Status,
		&argsJSON,
		&resultJSON,
		&task.Fatal,
		&task.StartedAt,
		&task.FinishedAt,
		&taskError,
		&task.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if argsJSON != nil {
		task.Args = json.RawMessage(argsJSON)
	}
	if resultJSON != nil {
		task.Result = json.RawMessage(resultJSON)
	}
	if taskError != nil {
		task.Error = *taskError
	}

	return &task, nil
}

// nullJSON возвращает nil для пустого JSON (для NULL в БД).
func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// isUniqueViolation проверяет код ошибки Postgres 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
