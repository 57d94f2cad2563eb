package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/dbserver"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/seqfile"
)

// Суффиксы сопутствующих файлов выравниваний.
const (
	SecondarySuffix = ".secondary"
	FragmentSuffix  = ".og_fragment_"
	CoverageSuffix  = ".ig_coverage_"
)

// Options — параметры подготовки run'а.
type Options struct {
	// SeqFile — разобранный seq-файл.
	SeqFile *seqfile.SeqFile

	// Root — корень события.
	Root string

	// Alignments — путь к первичным выравниваниям; сопутствующие файлы
	// ищутся рядом по суффиксам.
	Alignments string

	// NonBlastInput — выравнивания получены не из предыдущего этапа
	// pipeline: идентификаторы в них исходные, фрагментов outgroup'ов
	// и покрытий нет.
	NonBlastInput bool

	// Database — тип вспомогательной базы (пусто — из конфигурации).
	Database string

	// Name — имя проекта (пусто — корень события).
	Name string

	Config *config.Config
	Logger *slog.Logger
}

// Inputs — всё, что нужно для построения графа run'а.
type Inputs struct {
	State   domain.WorkflowState
	Project domain.Project

	// Upstream — выравнивания пришли из предыдущего этапа pipeline
	// (идентификаторы уже уникальны).
	Upstream bool
}

// FragmentLocation возвращает путь фрагмента outgroup'а i.
func FragmentLocation(alignments string, i int) string {
	return alignments + FragmentSuffix + strconv.Itoa(i)
}

// CoverageLocation возвращает путь покрытия ingroup'а i.
func CoverageLocation(alignments string, i int) string {
	return alignments + CoverageSuffix + strconv.Itoa(i)
}

// ImportInputs импортирует входные файлы события в хранилище и строит
// начальное состояние.
//
// Выравнивания из предыдущего этапа (без NonBlastInput): для каждого
// outgroup'а обязателен фрагмент <alignments>.og_fragment_<i>, он же
// служит последовательностью outgroup'а; при наличии outgroup'ов для
// каждого ingroup'а обязательно покрытие <alignments>.ig_coverage_<i>.
// Отсутствие — *MissingArtifactError.
//
// С NonBlastInput последовательности outgroup'ов импортируются как
// обычные входы, а фрагменты и покрытия вычисляются в run'е.
func ImportInputs(ctx context.Context, store artifact.Store, opts Options) (*Inputs, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	event, err := opts.SeqFile.Event(opts.Root)
	if err != nil {
		return nil, err
	}
	if len(event.Ingroups) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoIngroups, opts.Root)
	}

	dbType := opts.Database
	if dbType == "" {
		dbType = cfg.Get(config.KeyDatabaseType)
	}
	if dbType != domain.DatabaseKyotoTycoon && dbType != domain.DatabaseRedis {
		return nil, fmt.Errorf("%w: the database type, %s, is not supported", dbserver.ErrUnsupportedType, dbType)
	}

	upstream := !opts.NonBlastInput
	imp := importer{ctx: ctx, store: store}

	state := domain.WorkflowState{
		Root:     event.Root,
		Tree:     event.Tree,
		Database: domain.DbConf{Type: dbType},
		Config:   cfg.Snapshot(),
	}
	inputSeqs := make(map[string]domain.ArtifactID)

	for _, g := range event.Ingroups {
		id, err := imp.required(g.Name, g.Path)
		if err != nil {
			return nil, err
		}
		state.Ingroups = append(state.Ingroups, domain.Genome{Name: g.Name, Role: domain.RoleIngroup, SequenceID: id})
		inputSeqs[g.Name] = id
	}

	for i, g := range event.Outgroups {
		og := domain.Genome{Name: g.Name, Role: domain.RoleOutgroup}
		if upstream {
			id, err := imp.required(fragmentName(i), FragmentLocation(opts.Alignments, i))
			if err != nil {
				return nil, err
			}
			og.SequenceID = id
			state.OutgroupFragmentIDs = append(state.OutgroupFragmentIDs, id)
		} else {
			id, err := imp.required(g.Name, g.Path)
			if err != nil {
				return nil, err
			}
			og.SequenceID = id
			inputSeqs[g.Name] = id
		}
		state.Outgroups = append(state.Outgroups, og)
	}

	if state.AlignmentsID, err = imp.required("alignments", opts.Alignments); err != nil {
		return nil, err
	}
	if state.SecondaryAlignmentsID, err = imp.optional(opts.Alignments + SecondarySuffix); err != nil {
		return nil, err
	}

	if upstream && len(state.Outgroups) > 0 {
		for i := range state.Ingroups {
			id, err := imp.required(coverageName(i), CoverageLocation(opts.Alignments, i))
			if err != nil {
				return nil, err
			}
			state.IngroupCoverageIDs = append(state.IngroupCoverageIDs, id)
		}
	}

	configID, err := artifact.PutJSON(ctx, store, cfg.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("store config: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = event.Root
	}
	project := domain.Project{
		Name:             name,
		Tree:             opts.SeqFile.Newick,
		Root:             event.Root,
		ConfigID:         configID,
		InputSequenceIDs: inputSeqs,
	}

	logger.Info("inputs imported",
		"root", event.Root,
		"ingroups", len(state.Ingroups),
		"outgroups", len(state.Outgroups),
		"upstream", upstream,
		"secondary", !state.SecondaryAlignmentsID.IsZero(),
	)
	return &Inputs{State: state, Project: project, Upstream: upstream}, nil
}

func fragmentName(i int) string {
	return "og_fragment_" + strconv.Itoa(i)
}

func coverageName(i int) string {
	return "ig_coverage_" + strconv.Itoa(i)
}

type importer struct {
	ctx   context.Context
	store artifact.Store
}

// required импортирует файл; отсутствие — *MissingArtifactError.
func (im importer) required(name, location string) (domain.ArtifactID, error) {
	id, found, err := im.store.Import(im.ctx, location)
	if err != nil {
		return "", fmt.Errorf("import %s: %w", name, err)
	}
	if !found {
		return "", &MissingArtifactError{Name: name, Location: location}
	}
	return id, nil
}

// optional импортирует файл; отсутствие — пустой дескриптор без ошибки.
func (im importer) optional(location string) (domain.ArtifactID, error) {
	id, found, err := im.store.Import(im.ctx, location)
	if err != nil {
		return "", fmt.Errorf("import %s: %w", location, err)
	}
	if !found {
		return "", nil
	}
	return id, nil
}
