package dbserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/domain"
)

// ErrNotRunning — Stop без предшествующего Start.
var ErrNotRunning = errors.New("database server is not running")

// Service поднимает сервер базы и хранит его снимки в хранилище артефактов.
// Одновременно работает не больше одного сервера.
type Service struct {
	store   artifact.Store
	cfg     *config.Config
	baseDir string
	logger  *slog.Logger

	mu     sync.Mutex
	server Server
	dir    string
}

// NewService создаёт сервис. baseDir — каталог для рабочих файлов
// серверов (пусто — системный временный каталог).
func NewService(store artifact.Store, cfg *config.Config, baseDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		cfg:     cfg,
		baseDir: baseDir,
		logger:  logger,
	}
}

// Start поднимает сервер типа conf.Type; снимок conf.SnapshotID, если
// задан, загружается из хранилища.
func (s *Service) Start(ctx context.Context, conf domain.DbConf) (domain.DbConf, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return domain.DbConf{}, errors.New("database server is already running")
	}
	if conf.Type == "" {
		conf.Type = s.cfg.Get(config.KeyDatabaseType)
	}

	dir, err := os.MkdirTemp(s.baseDir, "db-")
	if err != nil {
		return domain.DbConf{}, fmt.Errorf("create database dir: %w", err)
	}

	snapshot := ""
	if !conf.SnapshotID.IsZero() {
		snapshot = filepath.Join(dir, "snapshot.in")
		if err := s.store.Export(ctx, conf.SnapshotID, snapshot); err != nil {
			os.RemoveAll(dir)
			return domain.DbConf{}, fmt.Errorf("fetch database snapshot: %w", err)
		}
	}

	conf.Dir = filepath.Join(dir, "server")
	opts := OptionsFromConfig(s.cfg, conf.Type)
	opts.Logger = s.logger

	srv, err := Start(ctx, conf, snapshot, opts)
	if err != nil {
		os.RemoveAll(dir)
		return domain.DbConf{}, err
	}

	s.server = srv
	s.dir = dir
	return srv.Conf(), nil
}

// Stop останавливает сервер и сохраняет снимок в хранилище.
func (s *Service) Stop(ctx context.Context) (domain.ArtifactID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return "", ErrNotRunning
	}
	defer func() {
		os.RemoveAll(s.dir)
		s.server = nil
		s.dir = ""
	}()

	path, err := s.server.Stop(ctx)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open database snapshot: %w", err)
	}
	defer f.Close()

	id, err := s.store.Put(ctx, f)
	if err != nil {
		return "", fmt.Errorf("store database snapshot: %w", err)
	}
	return id, nil
}
