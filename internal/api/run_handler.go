package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

const defaultListLimit = 50

// ListActiveRuns возвращает runs в статусах PENDING и RUNNING.
// GET /api/v1/runs?limit=...
func (h *Handler) ListActiveRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListActiveRuns(r.Context(), limit)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i := range runs {
		result[i] = RunFromDomain(&runs[i])
	}
	List(w, result, len(result))
}

// LatestRun возвращает последний созданный run.
// GET /api/v1/runs/latest
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.LatestRun(r.Context())
	if HandleStoreError(w, h.logger, err, "no runs") {
		return
	}
	Success(w, RunFromDomain(run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathRunID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "run not found") {
		return
	}
	Success(w, RunFromDomain(run))
}

// CancelRun отменяет активный run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if h.canceler == nil {
		MethodNotAllowed(w)
		return
	}
	id, ok := pathRunID(w, r)
	if !ok {
		return
	}

	if _, err := h.runs.GetRun(r.Context(), id); HandleStoreError(w, h.logger, err, "run not found") {
		return
	}
	if err := h.canceler.Cancel(r.Context(), id); HandleStoreError(w, h.logger, err, "run not found") {
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "run not found") {
		return
	}
	h.logger.Info("run cancelled via api", "run_id", id)
	Success(w, RunFromDomain(run))
}

// ListRunTasks возвращает tasks run'а в порядке создания.
// GET /api/v1/runs/{id}/tasks
func (h *Handler) ListRunTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathRunID(w, r)
	if !ok {
		return
	}

	if _, err := h.runs.GetRun(r.Context(), id); HandleStoreError(w, h.logger, err, "run not found") {
		return
	}

	tasks, err := h.tasks.ListTasks(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i := range tasks {
		result[i] = TaskFromDomain(&tasks[i])
	}
	List(w, result, len(result))
}

func pathRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}
