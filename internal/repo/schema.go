package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	job_store   TEXT NOT NULL,
	status      TEXT NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'SUCCEEDED', 'FAILED', 'CANCELLED')),
	graph       JSONB NOT NULL,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error       TEXT,
	restarts    INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id          UUID PRIMARY KEY,
	run_id      UUID NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	node_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	attempt     INT NOT NULL DEFAULT 0,
	status      TEXT NOT NULL CHECK (status IN ('QUEUED', 'RUNNING', 'SUCCEEDED', 'FAILED')),
	args        JSONB,
	result      JSONB,
	fatal       BOOLEAN NOT NULL DEFAULT FALSE,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, node_id)
);

CREATE INDEX IF NOT EXISTS tasks_queued_idx ON tasks (created_at) WHERE status = 'QUEUED';

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     UUID NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	node_id    TEXT NOT NULL,
	seq        INT NOT NULL,
	step       TEXT NOT NULL,
	state      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, node_id, seq)
);
`

// Migrate создаёт таблицы, если их ещё нет.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
