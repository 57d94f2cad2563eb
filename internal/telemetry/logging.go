package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shaiso/Alignflow/internal/domain"
)

// LogOptions — параметры логгера. Пустые поля берутся из окружения.
type LogOptions struct {
	// Level — DEBUG, INFO, WARN, ERROR (пусто — LOG_LEVEL).
	Level string

	// Format — "json" или "text" (пусто — LOG_FORMAT, по умолчанию json).
	Format string

	// Output — куда писать (nil — stderr).
	Output io.Writer
}

// ParseLevel разбирает уровень логирования. Неизвестное значение — INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogLevel определяет уровень логирования из переменной окружения LOG_LEVEL.
func LogLevel() slog.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// SetupLogger инициализирует глобальный логгер по переменным окружения.
func SetupLogger() *slog.Logger {
	return NewLogger(LogOptions{})
}

// NewLogger создаёт логгер и делает его глобальным.
//
// Формат вывода:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
func NewLogger(opts LogOptions) *slog.Logger {
	level := LogLevel()
	if opts.Level != "" {
		level = ParseLevel(opts.Level)
	}
	format := opts.Format
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(out, hopts)
	} else {
		handler = slog.NewJSONHandler(out, hopts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// Ключи контекста для передачи данных в логгер.
type ctxKey string

const (
	// CtxLogger — ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithRun возвращает логгер с атрибутами run'а.
func WithRun(logger *slog.Logger, run *domain.Run) *slog.Logger {
	return logger.With("run_id", run.ID.String(), "run", run.Name)
}

// WithTask возвращает логгер с атрибутами task.
func WithTask(logger *slog.Logger, task *domain.Task) *slog.Logger {
	return logger.With(
		"task_id", task.ID.String(),
		"run_id", task.RunID.String(),
		"node_id", task.NodeID,
		"kind", task.Kind,
	)
}
