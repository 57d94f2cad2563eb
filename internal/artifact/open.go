package artifact

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// OpenStore возвращает хранилище для job store: s3://bucket/prefix или локальный каталог.
func OpenStore(ctx context.Context, jobStore string) (Store, error) {
	if IsS3URL(jobStore) {
		store, err := NewS3Store(S3Config{URL: jobStore})
		if err != nil {
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		return store, nil
	}
	store, err := NewFSStore(filepath.Join(jobStore, "artifacts"))
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	return store, nil
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}
