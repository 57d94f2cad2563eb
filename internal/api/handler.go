package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/repo"
)

// Canceler отменяет активный run (реализуется Orchestrator'ом).
type Canceler interface {
	Cancel(ctx context.Context, runID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runs     repo.RunStore
	tasks    repo.TaskStore
	canceler Canceler
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runs  repo.RunStore
	Tasks repo.TaskStore

	// Canceler — nil, если процесс не владеет runs (отдельный API-сервер);
	// тогда POST /cancel отвечает 405.
	Canceler Canceler

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runs:     cfg.Runs,
		tasks:    cfg.Tasks,
		canceler: cfg.Canceler,
		logger:   logger,
	}
}
