package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
	"github.com/shaiso/Alignflow/internal/export"
)

// Типы шагов экспорта.
const (
	KindPrepareExport = "prepare_export"
	KindExport        = "export"
)

// PrepareExportArgs — аргументы prepare_export.
type PrepareExportArgs struct {
	// Project — проект, встроенный в граф статически.
	Project domain.Project `json:"project"`

	Experiment engine.Promise[domain.Experiment] `json:"experiment"`
}

// PrepareExportResult — результат prepare_export. Поля потребляются
// узлом export по отдельности.
type PrepareExportResult struct {
	Project domain.Project `json:"project"`
	Root    string         `json:"root"`
}

// ExportArgs — аргументы export.
type ExportArgs struct {
	Project engine.Promise[domain.Project] `json:"project"`
	Root    engine.Promise[string]         `json:"root"`

	// HalBinary — программа экспорта (пусто — публикуется HAL сборки).
	HalBinary string `json:"hal_binary,omitempty"`
}

// PrepareExportStep собирает проект для экспорта.
type PrepareExportStep struct{}

// NewPrepareExportStep создаёт шаг.
func NewPrepareExportStep() *PrepareExportStep {
	return &PrepareExportStep{}
}

// Type возвращает тип шага.
func (s *PrepareExportStep) Type() string {
	return KindPrepareExport
}

// Execute сохраняет эксперимент и возвращает проект с одним событием.
func (s *PrepareExportStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	args, err := DecodeArgs[PrepareExportArgs](req)
	if err != nil {
		return nil, err
	}
	exp, err := resolve(args.Experiment, req)
	if err != nil {
		return nil, err
	}

	project, root, err := export.Prepare(ctx, req.Store, args.Project, exp)
	if err != nil {
		return nil, Fatal(err)
	}
	return NewResponse(PrepareExportResult{Project: project, Root: root}), nil
}

// ExportStep выгружает HAL события.
type ExportStep struct {
	WorkDir string
}

// NewExportStep создаёт шаг.
func NewExportStep(workDir string) *ExportStep {
	return &ExportStep{WorkDir: workDir}
}

// Type возвращает тип шага.
func (s *ExportStep) Type() string {
	return KindExport
}

// Execute вызывает HalExporter и проверяет результат.
func (s *ExportStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	args, err := DecodeArgs[ExportArgs](req)
	if err != nil {
		return nil, err
	}
	project, err := resolve(args.Project, req)
	if err != nil {
		return nil, err
	}
	root, err := resolve(args.Root, req)
	if err != nil {
		return nil, err
	}

	if req.Resources != nil {
		req.logger().Debug("export resources",
			"memory_bytes", req.Resources.MemoryBytes,
			"disk_bytes", req.Resources.DiskBytes,
			"preemptable", req.Resources.Preemptable,
		)
	}

	res, err := export.NewExporter(args.HalBinary, s.WorkDir).ExportHal(ctx, req.Store, project, root)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", root, err)
	}
	if err := res.Validate(root); err != nil {
		return nil, Fatal(err)
	}
	return NewResponse(res), nil
}
