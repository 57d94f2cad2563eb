package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики выполнения runs. Регистрируются в глобальном реестре и
// отдаются на /metrics.
var (
	// TasksDispatched — tasks, созданные оркестратором.
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alignflow",
		Name:      "tasks_dispatched_total",
		Help:      "Tasks created for ready graph nodes.",
	}, []string{"kind"})

	// TasksFinished — завершённые tasks по типу шага и статусу.
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alignflow",
		Name:      "tasks_finished_total",
		Help:      "Tasks finished by workers.",
	}, []string{"kind", "status"})

	// TaskRetries — повторные попытки.
	TaskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alignflow",
		Name:      "task_retries_total",
		Help:      "Task attempts after the first one.",
	}, []string{"kind"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "alignflow",
		Name:      "task_duration_seconds",
		Help:      "Wall time of a single task attempt.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
	}, []string{"kind"})

	// RunsFinished — завершённые runs по статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alignflow",
		Name:      "runs_finished_total",
		Help:      "Runs that reached a terminal status.",
	}, []string{"status"})

	// RunsRestarted — продолженные после прерывания runs.
	RunsRestarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alignflow",
		Name:      "runs_restarted_total",
		Help:      "Runs resumed from the state store.",
	})
)
