// Package dbserver поднимает вспомогательную key-value базу на время
// шага сборки: kyoto_tycoon (ktserver) или redis.
//
// Сервер стартует из снимка предыдущего шага (если он есть) и при
// остановке оставляет новый снимок на диске.
package dbserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/domain"
)

// Ошибки сервера базы.
var (
	// ErrUnsupportedType — неизвестный тип базы.
	ErrUnsupportedType = errors.New("unsupported database type")

	// ErrStartTimeout — сервер не стал готов за отведённое время.
	ErrStartTimeout = errors.New("database server did not start in time")

	// ErrServerFailed — сервер упал или сообщил об ошибке.
	ErrServerFailed = errors.New("database server failed")

	// ErrSnapshot — после остановки нет снимка (или их несколько).
	ErrSnapshot = errors.New("database snapshot is missing")
)

const (
	// Диапазон портов ktserver: старше 32767 он не принимает.
	minPort = 1025
	maxPort = 32767

	defaultStartTimeout = 5 * time.Minute
	defaultStopTimeout  = 5 * time.Minute
	pollInterval        = 100 * time.Millisecond
)

// Options — параметры запуска сервера.
type Options struct {
	// Binary — исполняемый файл сервера.
	Binary string

	// ServerOptions — дополнительные аргументы командной строки.
	ServerOptions string

	// TuningOptions — параметры базы ktserver (":#opts=...").
	TuningOptions string

	StartTimeout time.Duration
	StopTimeout  time.Duration

	Logger *slog.Logger
}

// OptionsFromConfig собирает параметры для типа typ из конфигурации.
func OptionsFromConfig(cfg *config.Config, typ string) Options {
	var opts Options
	switch typ {
	case domain.DatabaseKyotoTycoon:
		opts.Binary = cfg.Get(config.KeyKTBinary)
		opts.ServerOptions = cfg.Get(config.KeyKTServerOptions)
		opts.TuningOptions = cfg.Get(config.KeyKTTuningOptions)
	case domain.DatabaseRedis:
		opts.Binary = cfg.Get(config.KeyRedisBinary)
		opts.ServerOptions = cfg.Get(config.KeyRedisServerOptions)
	}
	return opts
}

func (o Options) withDefaults() Options {
	if o.StartTimeout <= 0 {
		o.StartTimeout = defaultStartTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = defaultStopTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Server — запущенный сервер базы.
type Server interface {
	// Conf возвращает описание базы с адресом сервера.
	Conf() domain.DbConf

	// Stop останавливает сервер и возвращает путь к файлу снимка.
	Stop(ctx context.Context) (string, error)
}

// Start запускает сервер типа conf.Type в каталоге conf.Dir.
// snapshot — путь к снимку, из которого загружается база (пусто — новая база).
func Start(ctx context.Context, conf domain.DbConf, snapshot string, opts Options) (Server, error) {
	opts = opts.withDefaults()
	if conf.Dir == "" {
		return nil, errors.New("database directory is not set")
	}
	if err := os.MkdirAll(conf.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	switch conf.Type {
	case domain.DatabaseKyotoTycoon:
		return startKT(ctx, conf, snapshot, opts)
	case domain.DatabaseRedis:
		return startRedis(ctx, conf, snapshot, opts)
	default:
		return nil, fmt.Errorf("%w: the database type, %s, is not supported", ErrUnsupportedType, conf.Type)
	}
}

// FreePort выбирает свободный TCP-порт в диапазоне, который принимают
// все поддерживаемые серверы.
func FreePort() (int, error) {
	span := maxPort - minPort + 1
	port := minPort + int(time.Now().UnixNano()%int64(span))
	for tries := 0; tries < span; tries++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			l.Close()
			return port, nil
		}
		port++
		if port > maxPort {
			port = minPort
		}
	}
	return 0, errors.New("no free port")
}

// process — дочерний процесс сервера.
type process struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

func startProcess(binary string, args []string, dir string, stdout io.Writer) (*process, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	p := &process{cmd: cmd, exited: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// wait ждёт завершения процесса; по таймауту убивает его.
func (p *process) wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = p.cmd.Process.Kill()
	<-p.exited
	return fmt.Errorf("%w: server did not exit in time", ErrServerFailed)
}

func splitOptions(s string) []string {
	return strings.Fields(s)
}

func readLog(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
