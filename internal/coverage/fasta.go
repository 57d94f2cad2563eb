package coverage

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Sequence — имя и длина последовательности из FASTA.
type Sequence struct {
	Name string
	Len  int64
}

// ReadSequences читает имена и длины последовательностей FASTA в порядке появления.
//
// Имя — текст заголовка после '>' до первого пробела. Сами основания
// не сохраняются, поэтому память не зависит от размера генома.
func ReadSequences(r io.Reader) ([]Sequence, error) {
	var seqs []Sequence
	br := bufio.NewReaderSize(r, 1<<20)
	seen := make(map[string]bool)

	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if len(line) > 0 {
			if line[0] == '>' {
				name := line[1:]
				if i := strings.IndexAny(name, " \t"); i >= 0 {
					name = name[:i]
				}
				if seen[name] {
					return nil, fmt.Errorf("duplicate sequence name %q", name)
				}
				seen[name] = true
				seqs = append(seqs, Sequence{Name: name})
			} else {
				if len(seqs) == 0 {
					return nil, fmt.Errorf("malformed FASTA: sequence data before first header")
				}
				seqs[len(seqs)-1].Len += int64(len(strings.TrimSpace(line)))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read FASTA: %w", err)
		}
	}
	return seqs, nil
}

// SequenceNames возвращает множество имён последовательностей.
func SequenceNames(seqs []Sequence) map[string]bool {
	names := make(map[string]bool, len(seqs))
	for _, s := range seqs {
		names[s.Name] = true
	}
	return names
}
