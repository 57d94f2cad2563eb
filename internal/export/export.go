// Package export готовит итоговый проект выравнивания и выгружает
// результат события в HAL.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/domain"
)

// Ошибки экспорта.
var (
	// ErrNoRoot — у эксперимента не указан корень события.
	ErrNoRoot = errors.New("experiment has no root")

	// ErrEmptyResult — экспорт не дал артефакта.
	ErrEmptyResult = errors.New("export produced no result")

	// ErrRootMismatch — результат помечен не тем корнем.
	ErrRootMismatch = errors.New("export result is tagged with another root")

	// ErrUnknownEvent — в проекте нет эксперимента для корня.
	ErrUnknownEvent = errors.New("project has no experiment for root")
)

// Result — результат экспорта события.
type Result struct {
	HalID domain.ArtifactID `json:"hal_id"`
	Root  string            `json:"root"`
}

// Validate проверяет, что результат непустой и помечен корнем root.
func (r Result) Validate(root string) error {
	if r.HalID.IsZero() {
		return ErrEmptyResult
	}
	if r.Root != root {
		return fmt.Errorf("%w: got %q, want %q", ErrRootMismatch, r.Root, root)
	}
	return nil
}

// Prepare сохраняет эксперимент в хранилище и возвращает проект, в ExpMap
// которого ровно одна запись: корень события → эксперимент.
func Prepare(ctx context.Context, store artifact.Store, project domain.Project, exp domain.Experiment) (domain.Project, string, error) {
	if exp.Root == "" {
		return domain.Project{}, "", ErrNoRoot
	}

	id, err := artifact.PutJSON(ctx, store, exp)
	if err != nil {
		return domain.Project{}, "", fmt.Errorf("store experiment: %w", err)
	}

	out := project.Clone()
	out.Root = exp.Root
	out.ExpMap = map[string]domain.ArtifactID{exp.Root: id}
	return out, exp.Root, nil
}

// HalExporter выгружает выравнивание события root в HAL.
type HalExporter interface {
	ExportHal(ctx context.Context, store artifact.Store, project domain.Project, root string) (Result, error)
}

// LoadExperiment читает эксперимент события root из проекта.
func LoadExperiment(ctx context.Context, store artifact.Store, project domain.Project, root string) (domain.Experiment, error) {
	id, ok := project.ExpMap[root]
	if !ok {
		return domain.Experiment{}, fmt.Errorf("%w: %s", ErrUnknownEvent, root)
	}
	var exp domain.Experiment
	if err := artifact.GetJSON(ctx, store, id, &exp); err != nil {
		return domain.Experiment{}, fmt.Errorf("load experiment %s: %w", root, err)
	}
	return exp, nil
}

// StoreExporter публикует HAL-артефакт, который уже оставила сборка.
type StoreExporter struct{}

// ExportHal реализует HalExporter.
func (StoreExporter) ExportHal(ctx context.Context, store artifact.Store, project domain.Project, root string) (Result, error) {
	exp, err := LoadExperiment(ctx, store, project, root)
	if err != nil {
		return Result{}, err
	}
	res := Result{HalID: exp.HalID, Root: root}
	if err := res.Validate(root); err != nil {
		return Result{}, err
	}
	return res, nil
}

// CommandExporter вызывает внешнюю программу:
//
//	<Binary> <input.hal> <output.hal> <root>
//
// и сохраняет полученный HAL-файл в хранилище.
type CommandExporter struct {
	Binary string

	// WorkDir — каталог для временных файлов (пусто — системный).
	WorkDir string
}

// ExportHal реализует HalExporter.
func (c *CommandExporter) ExportHal(ctx context.Context, store artifact.Store, project domain.Project, root string) (Result, error) {
	exp, err := LoadExperiment(ctx, store, project, root)
	if err != nil {
		return Result{}, err
	}
	if exp.HalID.IsZero() {
		return Result{}, fmt.Errorf("%w: experiment %s has no hal", ErrEmptyResult, root)
	}

	dir, err := os.MkdirTemp(c.WorkDir, "export-")
	if err != nil {
		return Result{}, fmt.Errorf("create export dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.hal")
	out := filepath.Join(dir, "output.hal")
	if err := store.Export(ctx, exp.HalID, in); err != nil {
		return Result{}, fmt.Errorf("fetch hal: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Binary, in, out, root)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("%s: %w: %s", c.Binary, err, strings.TrimSpace(stderr.String()))
	}

	f, err := os.Open(out)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEmptyResult, err)
	}
	defer f.Close()

	id, err := store.Put(ctx, f)
	if err != nil {
		return Result{}, fmt.Errorf("store hal: %w", err)
	}
	res := Result{HalID: id, Root: root}
	return res, res.Validate(root)
}

// NewExporter выбирает экспортёр: внешняя программа, если она задана,
// иначе публикация HAL-артефакта сборки.
func NewExporter(binary, workDir string) HalExporter {
	if binary == "" {
		return StoreExporter{}
	}
	return &CommandExporter{Binary: binary, WorkDir: workDir}
}
