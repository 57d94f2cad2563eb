package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// openLocal открывает локальный путь для импорта.
//
// Каталог читается как конкатенация его обычных файлов в порядке имён,
// файлы с суффиксом .gz распаковываются. Отсутствующий путь даёт
// ошибку, для которой errors.Is(err, fs.ErrNotExist) истинно.
func openLocal(path string) (io.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return openFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	files := make([]io.ReadCloser, 0, len(names))
	for _, name := range names {
		rc, err := openFile(filepath.Join(path, name))
		if err != nil {
			closeAll(files)
			return nil, err
		}
		files = append(files, rc)
	}
	return newMultiReadCloser(files), nil
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip %s: %w", path, err)
	}
	return &gzipReadCloser{Reader: zr, file: f}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if ferr := g.file.Close(); err == nil {
		err = ferr
	}
	return err
}

type multiReadCloser struct {
	io.Reader
	closers []io.ReadCloser
}

func newMultiReadCloser(rcs []io.ReadCloser) *multiReadCloser {
	readers := make([]io.Reader, len(rcs))
	for i, rc := range rcs {
		readers[i] = rc
	}
	return &multiReadCloser{Reader: io.MultiReader(readers...), closers: rcs}
}

func (m *multiReadCloser) Close() error {
	return closeAll(m.closers)
}

func closeAll(rcs []io.ReadCloser) error {
	var first error
	for _, rc := range rcs {
		if err := rc.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
