package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Alignflow/internal/domain"
)

const runColumns = `id, name, job_store, status, graph, started_at, finished_at, error, restarts, created_at`

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// CreateRun создаёт новый run.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run) error {
	graphJSON, err := json.Marshal(run.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	query := `
		INSERT INTO runs (id, name, job_store, status, graph, restarts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Name,
		run.JobStore,
		run.Status,
		graphJSON,
		run.Restarts,
		run.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: run %s", ErrAlreadyExists, run.ID)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun возвращает run по ID.
func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// LatestRun возвращает последний созданный run.
func (r *RunRepo) LatestRun(ctx context.Context) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC LIMIT 1`
	return scanRun(r.pool.QueryRow(ctx, query))
}

// UpdateRun обновляет статус run.
func (r *RunRepo) UpdateRun(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, started_at = $3, finished_at = $4, error = $5, restarts = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		run.Restarts,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveRuns возвращает runs в статусах PENDING и RUNNING.
func (r *RunRepo) ListActiveRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

// scanRun сканирует одну строку в Run. Подходит и для pgx.Rows.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var graphJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.Name,
		&run.JobStore,
		&run.Status,
		&graphJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&run.Restarts,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if graphJSON != nil {
		if err := json.Unmarshal(graphJSON, &run.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
