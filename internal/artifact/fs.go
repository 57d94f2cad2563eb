package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shaiso/Alignflow/internal/domain"
)

// FSStore — хранилище артефактов в локальном каталоге (или на общей ФС).
//
// Раскладка: <root>/objects/<первые 2 символа>/<дескриптор>.
type FSStore struct {
	root string
}

// NewFSStore создаёт хранилище в каталоге root.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Root возвращает каталог хранилища.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) path(id domain.ArtifactID) string {
	return filepath.Join(s.root, "objects", string(id[:2]), string(id))
}

// Put сохраняет данные и возвращает их дескриптор.
func (s *FSStore) Put(ctx context.Context, r io.Reader) (domain.ArtifactID, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "put-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := newHash()
	if _, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	id := idFromHash(h)
	dst := s.path(id)
	if _, err := os.Stat(dst); err == nil {
		// Те же данные уже сохранены
		return id, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return id, nil
}

// Open открывает артефакт на чтение.
func (s *FSStore) Open(ctx context.Context, id domain.ArtifactID) (io.ReadCloser, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("open artifact %s: %w", id, err)
	}
	return f, nil
}

// Exists проверяет наличие артефакта.
func (s *FSStore) Exists(ctx context.Context, id domain.ArtifactID) (bool, error) {
	if validID(id) != nil {
		return false, nil
	}
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if isNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat artifact %s: %w", id, err)
}

// Import копирует локальный файл или каталог в хранилище.
func (s *FSStore) Import(ctx context.Context, location string) (domain.ArtifactID, bool, error) {
	rc, err := openLocal(location)
	if err != nil {
		if isNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("import %s: %w", location, err)
	}
	defer rc.Close()

	id, err := s.Put(ctx, rc)
	if err != nil {
		return "", false, fmt.Errorf("import %s: %w", location, err)
	}
	return id, true, nil
}

// Export копирует артефакт в локальный файл.
func (s *FSStore) Export(ctx context.Context, id domain.ArtifactID, path string) error {
	return exportTo(ctx, s, id, path)
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
