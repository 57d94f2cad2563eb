package artifact

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/minio/highwayhash"

	"github.com/shaiso/Alignflow/internal/domain"
)

// ErrNotFound — артефакт с таким дескриптором отсутствует в хранилище.
var ErrNotFound = errors.New("artifact not found")

// Store — общее хранилище артефактов.
//
// Артефакты адресуются по содержимому: одинаковые данные дают одинаковый
// дескриптор, поэтому повторная запись того же результата безопасна.
type Store interface {
	// Put сохраняет данные и возвращает их дескриптор.
	Put(ctx context.Context, r io.Reader) (domain.ArtifactID, error)

	// Open открывает артефакт на чтение. ErrNotFound, если его нет.
	Open(ctx context.Context, id domain.ArtifactID) (io.ReadCloser, error)

	// Exists проверяет наличие артефакта.
	Exists(ctx context.Context, id domain.ArtifactID) (bool, error)

	// Import копирует внешний файл (или каталог) в хранилище.
	// found == false без ошибки, если файла нет.
	Import(ctx context.Context, location string) (id domain.ArtifactID, found bool, err error)

	// Export копирует артефакт в локальный файл path.
	Export(ctx context.Context, id domain.ArtifactID, path string) error
}

// hashKey — фиксированный ключ highwayhash: дескрипторы должны совпадать
// между процессами и запусками.
var hashKey = []byte("alignflow/artifact/content/key/1")

func newHash() hash.Hash {
	h, err := highwayhash.New(hashKey)
	if err != nil {
		// Ключ фиксированной длины 32 байта
		panic(err)
	}
	return h
}

// Digest вычисляет дескриптор данных так же, как его вычисляет Put.
func Digest(data []byte) domain.ArtifactID {
	sum := highwayhash.Sum(data, hashKey)
	return domain.ArtifactID(hex.EncodeToString(sum[:]))
}

func idFromHash(h hash.Hash) domain.ArtifactID {
	return domain.ArtifactID(hex.EncodeToString(h.Sum(nil)))
}

// validID проверяет, что дескриптор — hex-строка нужной длины.
func validID(id domain.ArtifactID) error {
	if len(id) != 2*highwayhash.Size {
		return fmt.Errorf("%w: malformed id %q", ErrNotFound, id)
	}
	if _, err := hex.DecodeString(string(id)); err != nil {
		return fmt.Errorf("%w: malformed id %q", ErrNotFound, id)
	}
	return nil
}

// PutBytes сохраняет срез байт.
func PutBytes(ctx context.Context, s Store, data []byte) (domain.ArtifactID, error) {
	return s.Put(ctx, bytes.NewReader(data))
}

// ReadAll читает артефакт целиком.
func ReadAll(ctx context.Context, s Store, id domain.ArtifactID) ([]byte, error) {
	rc, err := s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return data, nil
}

// PutJSON сериализует v в JSON и сохраняет.
func PutJSON(ctx context.Context, s Store, v any) (domain.ArtifactID, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	return PutBytes(ctx, s, data)
}

// GetJSON читает артефакт и разбирает его как JSON в v.
func GetJSON(ctx context.Context, s Store, id domain.ArtifactID, v any) error {
	data, err := ReadAll(ctx, s, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal artifact %s: %w", id, err)
	}
	return nil
}

// exportTo копирует артефакт в файл path через временный файл.
func exportTo(ctx context.Context, s Store, id domain.ArtifactID, path string) (err error) {
	rc, err := s.Open(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(f, rc); err != nil {
		return fmt.Errorf("export artifact %s: %w", id, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
