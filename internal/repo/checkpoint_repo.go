package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Alignflow/internal/domain"
)

// CheckpointRepo — контрольные точки фазы сборки в Postgres.
type CheckpointRepo struct {
	pool *pgxpool.Pool
}

// NewCheckpointRepo создаёт новый CheckpointRepo.
func NewCheckpointRepo(pool *pgxpool.Pool) *CheckpointRepo {
	return &CheckpointRepo{pool: pool}
}

// ListCheckpoints возвращает контрольные точки узла по возрастанию seq.
func (r *CheckpointRepo) ListCheckpoints(ctx context.Context, runID uuid.UUID, nodeID string) ([]domain.Checkpoint, error) {
	query := `
		SELECT run_id, node_id, step, seq, state, created_at
		FROM checkpoints
		WHERE run_id = $1 AND node_id = $2
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, runID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		var state []byte
		if err := rows.Scan(&cp.RunID, &cp.NodeID, &cp.Step, &cp.Seq, &state, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.State = state
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// SaveCheckpoint записывает контрольную точку.
func (r *CheckpointRepo) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (run_id, node_id, seq, step, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, node_id, seq)
		DO UPDATE SET step = EXCLUDED.step, state = EXCLUDED.state, created_at = EXCLUDED.created_at
	`
	_, err := r.pool.Exec(ctx, query,
		cp.RunID,
		cp.NodeID,
		cp.Seq,
		cp.Step,
		[]byte(cp.State),
		cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// PgStore собирает репозитории Postgres в Store.
type PgStore struct {
	*RunRepo
	*TaskRepo
	*CheckpointRepo
}

// NewPgStore создаёт Store поверх пула.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{
		RunRepo:        NewRunRepo(pool),
		TaskRepo:       NewTaskRepo(pool),
		CheckpointRepo: NewCheckpointRepo(pool),
	}
}
