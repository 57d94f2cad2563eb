package dbserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Alignflow/internal/domain"
)

// RedisSnapshotName — имя RDB-файла в каталоге базы.
const RedisSnapshotName = "dump.rdb"

// RedisCommand возвращает аргументы redis-server (без имени программы).
func RedisCommand(port int, dir string, opts Options) []string {
	args := []string{
		"--port", strconv.Itoa(port),
		"--bind", "127.0.0.1",
		"--dir", dir,
		"--dbfilename", RedisSnapshotName,
	}
	return append(args, splitOptions(opts.ServerOptions)...)
}

type redisServer struct {
	conf    domain.DbConf
	proc    *process
	client  *redis.Client
	logPath string
	opts    Options
	logger  *slog.Logger
}

func startRedis(ctx context.Context, conf domain.DbConf, snapshot string, opts Options) (*redisServer, error) {
	dump := filepath.Join(conf.Dir, RedisSnapshotName)
	_ = os.Remove(dump)
	if snapshot != "" {
		if err := copyFile(snapshot, dump); err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
	}

	port, err := FreePort()
	if err != nil {
		return nil, err
	}
	conf.Host = "127.0.0.1"
	conf.Port = port

	logPath := filepath.Join(conf.Dir, "redis.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create redis log: %w", err)
	}
	defer logFile.Close()

	proc, err := startProcess(opts.Binary, RedisCommand(port, conf.Dir, opts), conf.Dir, logFile)
	if err != nil {
		return nil, err
	}

	s := &redisServer{
		conf:    conf,
		proc:    proc,
		client:  redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", conf.Host, port)}),
		logPath: logPath,
		opts:    opts,
		logger:  opts.Logger.With("db", domain.DatabaseRedis, "port", port),
	}
	if err := s.waitRunning(ctx); err != nil {
		s.client.Close()
		_ = proc.cmd.Process.Kill()
		<-proc.exited
		return nil, err
	}

	s.logger.Info("database server started", "snapshot", snapshot != "")
	return s, nil
}

// waitRunning ждёт ответа на PING.
func (s *redisServer) waitRunning(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.StartTimeout)
	for {
		err := s.client.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		if !s.proc.alive() {
			return fmt.Errorf("%w: server exited: %v; log: %s", ErrServerFailed, s.proc.err, readLog(s.logPath))
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %v", ErrStartTimeout, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *redisServer) Conf() domain.DbConf {
	return s.conf
}

// Stop сохраняет базу (SAVE), останавливает сервер и возвращает RDB-файл.
func (s *redisServer) Stop(ctx context.Context) (string, error) {
	defer s.client.Close()

	if err := s.client.Save(ctx).Err(); err != nil {
		return "", fmt.Errorf("%w: save: %v", ErrServerFailed, err)
	}
	// Сервер закрывает соединение в ответ на SHUTDOWN, ошибка здесь ожидаема
	if err := s.client.ShutdownNoSave(ctx).Err(); err != nil && !errors.Is(err, redis.ErrClosed) {
		s.logger.Debug("shutdown returned", "error", err)
	}
	if err := s.proc.wait(ctx, s.opts.StopTimeout); err != nil {
		return "", err
	}

	dump := filepath.Join(s.conf.Dir, RedisSnapshotName)
	if _, err := os.Stat(dump); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSnapshot, err)
	}

	s.logger.Info("database server stopped", "snapshot", dump)
	return dump, nil
}
