package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.HandleFunc("GET /healthz", Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListActiveRuns)))
	mux.Handle("GET /api/v1/runs/latest", chain(http.HandlerFunc(h.LatestRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/tasks", chain(http.HandlerFunc(h.ListRunTasks)))
}

// Routes возвращает готовый http.Handler со всеми маршрутами.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

// Healthz отвечает 200, пока процесс жив.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
