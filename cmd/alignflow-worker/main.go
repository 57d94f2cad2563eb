// alignflow-worker — выполняет tasks распределённых runs.
//
// Worker:
//   - Получает tasks из RabbitMQ (или только polling, если брокер недоступен)
//   - Выполняет шаги графа выравнивания над артефактами job store run'а
//   - Повторяет временные ошибки с backoff, фатальные сразу завершают task
//   - Отправляет результат Orchestrator'у (alignflow align --distributed)
//
// Workers масштабируются горизонтально. Job store должен быть доступен
// всем процессам (общий каталог или s3://).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Alignflow/internal/mq"
	"github.com/shaiso/Alignflow/internal/repo"
	"github.com/shaiso/Alignflow/internal/telemetry"
	"github.com/shaiso/Alignflow/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting alignflow-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, "")
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	store := repo.NewPgStore(pool)

	var broker mq.Broker
	rabbit, err := mq.NewRabbit(ctx, mq.RabbitConfig{Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer rabbit.Close()
		logger.Info("RabbitMQ connected")
		broker = rabbit
	}

	concurrency := 1
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	w := worker.New(worker.Config{
		Store:       store,
		Broker:      broker,
		WorkDir:     os.Getenv("WORKER_WORK_DIR"),
		Concurrency: concurrency,
		Logger:      logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if rabbit != nil && !rabbit.Connection().IsConnected() {
			http.Error(w, "rabbitmq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()
	logger.Info("alignflow-worker stopped")
}
