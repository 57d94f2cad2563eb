package dbserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shaiso/Alignflow/internal/domain"
)

// KTSnapshotName — имя файла снимка, который ktserver загружает при старте.
const KTSnapshotName = "00000000.ktss"

// KTCommand возвращает аргументы ktserver (без имени программы).
//
// Фоновые снимки включены с интервалом, который никогда не наступит:
// нужен только снимок, записываемый при остановке.
func KTCommand(port int, snapshotDir, logPath string, opts Options) []string {
	args := []string{"-port", strconv.Itoa(port)}
	args = append(args, splitOptions(opts.ServerOptions)...)
	args = append(args, "-bgs", snapshotDir, "-bgsc", "lzo", "-bgsi", "1000000")
	args = append(args, "-log", logPath)
	args = append(args, ":"+opts.TuningOptions)
	return args
}

type ktServer struct {
	conf        domain.DbConf
	proc        *process
	snapshotDir string
	logPath     string
	opts        Options
	logger      *slog.Logger
}

func startKT(ctx context.Context, conf domain.DbConf, snapshot string, opts Options) (*ktServer, error) {
	snapshotDir := filepath.Join(conf.Dir, "snapshot")
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if snapshot != "" {
		if err := copyFile(snapshot, filepath.Join(snapshotDir, KTSnapshotName)); err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
	}

	port, err := FreePort()
	if err != nil {
		return nil, err
	}
	conf.Host = "127.0.0.1"
	conf.Port = port

	logPath := filepath.Join(conf.Dir, "ktserver.log")
	// Лог предыдущего шага не должен влиять на проверку готовности
	_ = os.Remove(logPath)

	proc, err := startProcess(opts.Binary, KTCommand(port, snapshotDir, logPath, opts), conf.Dir, nil)
	if err != nil {
		return nil, err
	}

	s := &ktServer{
		conf:        conf,
		proc:        proc,
		snapshotDir: snapshotDir,
		logPath:     logPath,
		opts:        opts,
		logger:      opts.Logger.With("db", domain.DatabaseKyotoTycoon, "port", port),
	}
	if err := s.waitRunning(ctx); err != nil {
		_ = proc.cmd.Process.Kill()
		<-proc.exited
		return nil, err
	}

	s.logger.Info("database server started", "snapshot", snapshot != "")
	return s, nil
}

// waitRunning ждёт строку "listening" в логе. Строка с "error" или
// завершение процесса — отказ.
func (s *ktServer) waitRunning(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.StartTimeout)
	for {
		log := strings.ToLower(readLog(s.logPath))
		if strings.Contains(log, "error") {
			return fmt.Errorf("%w: log: %s", ErrServerFailed, readLog(s.logPath))
		}
		if strings.Contains(log, "listening") {
			return nil
		}
		if !s.proc.alive() {
			return fmt.Errorf("%w: server exited: %v; log: %s", ErrServerFailed, s.proc.err, readLog(s.logPath))
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: log: %s", ErrStartTimeout, readLog(s.logPath))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *ktServer) Conf() domain.DbConf {
	return s.conf
}

// Stop посылает SIGINT, ждёт "[FINISH]" в логе и возвращает снимок.
// В каталоге снимков должен остаться ровно один *.ktss.
func (s *ktServer) Stop(ctx context.Context) (string, error) {
	if !s.proc.alive() {
		return "", fmt.Errorf("%w: server exited before stop: %v; log: %s", ErrServerFailed, s.proc.err, readLog(s.logPath))
	}
	if err := s.proc.cmd.Process.Signal(syscall.SIGINT); err != nil {
		return "", fmt.Errorf("signal ktserver: %w", err)
	}
	if err := s.proc.wait(ctx, s.opts.StopTimeout); err != nil {
		return "", err
	}
	if !strings.Contains(readLog(s.logPath), "[FINISH]") {
		return "", fmt.Errorf("%w: ktserver did not finish cleanly; log: %s", ErrServerFailed, readLog(s.logPath))
	}

	snaps, err := filepath.Glob(filepath.Join(s.snapshotDir, "*.ktss"))
	if err != nil {
		return "", fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) != 1 {
		return "", fmt.Errorf("%w: expected one snapshot in %s, found %d", ErrSnapshot, s.snapshotDir, len(snaps))
	}

	s.logger.Info("database server stopped", "snapshot", snaps[0])
	return snaps[0], nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
