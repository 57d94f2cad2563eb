// Package seqfile разбирает seq-файл выравнивания: дерево в формате
// Newick и пути к последовательностям геномов.
//
// Формат:
//
//	# комментарий
//	((A:0.1,B:0.2)anc1:0.1,C:0.3)anc0;
//	A  /data/a.fa
//	B  /data/b/        (каталог: файлы склеиваются по порядку имён)
//	*C /data/c.fa.gz   (* — outgroup)
package seqfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Ошибки seq-файла.
var (
	// ErrInvalidSeqFile — файл не соответствует формату.
	ErrInvalidSeqFile = errors.New("invalid seq file")

	// ErrUnknownRoot — корня события нет в дереве.
	ErrUnknownRoot = errors.New("root is not in the tree")

	// ErrMissingSequence — для генома события не указан путь.
	ErrMissingSequence = errors.New("genome has no sequence path")
)

// Genome — строка seq-файла.
type Genome struct {
	Name     string
	Path     string
	Outgroup bool
}

// SeqFile — разобранный seq-файл.
type SeqFile struct {
	// Newick — дерево в исходной записи.
	Newick string

	// Tree — разобранное дерево.
	Tree *Node

	// Genomes — геномы в порядке файла.
	Genomes []Genome
}

// ReadFile читает seq-файл с диска.
func ReadFile(path string) (*SeqFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seq file: %w", err)
	}
	defer f.Close()

	sf, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sf, nil
}

// Parse разбирает seq-файл.
func Parse(r io.Reader) (*SeqFile, error) {
	sf := &SeqFile{}
	seen := make(map[string]bool)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if sf.Tree == nil {
			tree, err := ParseNewick(line)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidSeqFile, lineNo, err)
			}
			sf.Newick = line
			sf.Tree = tree
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected \"name path\"", ErrInvalidSeqFile, lineNo)
		}
		g := Genome{Name: fields[0], Path: fields[1]}
		if strings.HasPrefix(g.Name, "*") {
			g.Outgroup = true
			g.Name = strings.TrimPrefix(g.Name, "*")
		}
		if g.Name == "" {
			return nil, fmt.Errorf("%w: line %d: empty genome name", ErrInvalidSeqFile, lineNo)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("%w: line %d: duplicate genome %q", ErrInvalidSeqFile, lineNo, g.Name)
		}
		seen[g.Name] = true
		sf.Genomes = append(sf.Genomes, g)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seq file: %w", err)
	}
	if sf.Tree == nil {
		return nil, fmt.Errorf("%w: no tree", ErrInvalidSeqFile)
	}
	return sf, nil
}

// Genome возвращает геном по имени.
func (sf *SeqFile) Genome(name string) (Genome, bool) {
	for _, g := range sf.Genomes {
		if g.Name == name {
			return g, true
		}
	}
	return Genome{}, false
}

// Event — геномы одного события выравнивания.
type Event struct {
	// Root — корень события.
	Root string

	// Tree — поддерево события в формате Newick (без длин ветвей).
	Tree string

	// Ingroups — листья поддерева в порядке дерева.
	Ingroups []Genome

	// Outgroups — отмеченные '*' геномы вне поддерева в порядке файла.
	Outgroups []Genome
}

// Event выделяет событие с корнем root.
//
// Порядок Ingroups и Outgroups канонический: позиция i здесь — индекс
// в суффиксах .ig_coverage_<i> и .og_fragment_<i>.
func (sf *SeqFile) Event(root string) (*Event, error) {
	node := sf.Tree.Find(root)
	if node == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoot, root)
	}

	inSubtree := make(map[string]bool)
	for _, name := range node.Names() {
		inSubtree[name] = true
	}

	ev := &Event{Root: root, Tree: format(node) + ";"}
	for _, leaf := range node.Leaves() {
		g, ok := sf.Genome(leaf)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSequence, leaf)
		}
		ev.Ingroups = append(ev.Ingroups, g)
	}
	for _, g := range sf.Genomes {
		if g.Outgroup && !inSubtree[g.Name] {
			ev.Outgroups = append(ev.Outgroups, g)
		}
	}
	return ev, nil
}

func format(n *Node) string {
	if n.IsLeaf() {
		return n.Name
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = format(c)
	}
	return "(" + strings.Join(parts, ",") + ")" + n.Name
}
