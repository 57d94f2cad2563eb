package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
)

// RunResponse — ответ с run. Граф не включается: его форма видна
// по списку tasks.
type RunResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	JobStore   string     `json:"job_store"`
	Status     string     `json:"status"`
	Phases     []string   `json:"phases"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
	Restarts   int        `json:"restarts"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r *domain.Run) RunResponse {
	phases := make([]string, len(r.Graph.Phases))
	for i, p := range r.Graph.Phases {
		phases[i] = p.ID
	}
	return RunResponse{
		ID:         r.ID,
		Name:       r.Name,
		JobStore:   r.JobStore,
		Status:     string(r.Status),
		Phases:     phases,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
		Error:      r.Error,
		Restarts:   r.Restarts,
		CreatedAt:  r.CreatedAt,
	}
}

// TaskResponse — ответ с task. Аргументы и результат не включаются,
// они бывают большими.
type TaskResponse struct {
	ID         uuid.UUID  `json:"id"`
	RunID      uuid.UUID  `json:"run_id"`
	NodeID     string     `json:"node_id"`
	Kind       string     `json:"kind"`
	Attempt    int        `json:"attempt"`
	Status     string     `json:"status"`
	Fatal      bool       `json:"fatal,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		RunID:      t.RunID,
		NodeID:     t.NodeID,
		Kind:       t.Kind,
		Attempt:    t.Attempt,
		Status:     string(t.Status),
		Fatal:      t.Fatal,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		DurationMs: t.Duration().Milliseconds(),
		Error:      t.Error,
		CreatedAt:  t.CreatedAt,
	}
}
