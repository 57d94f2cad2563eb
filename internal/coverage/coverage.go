package coverage

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Позиции полей в строке записи выравнивания.
const (
	queryIDToken    = 1
	queryStartToken = 2
	queryEndToken   = 3
	targetIDToken   = 5
	targetStart     = 6
	targetEnd       = 7

	minTokens = targetEnd + 1
)

// Stats — сводка расчёта покрытия одного ingroup-генома.
type Stats struct {
	Records   int   // записей выравнивания прочитано
	Used      int   // записей ingroup ↔ outgroup учтено
	Intervals int   // интервалов в результате
	Covered   int64 // покрыто оснований
}

// Compute вычисляет, какие интервалы последовательностей ingroup-генома
// покрыты выравниваниями на любую последовательность outgroup'ов, и пишет
// результат в w в формате BED3 ("name\tstart\tend"), в порядке
// последовательностей ingroup и по возрастанию start.
//
// Учитываются записи, где одна сторона — последовательность ingroup, а
// другая — последовательность outgroup. Интервал на стороне ingroup
// берётся как [min(start,end), max(start,end)) и обрезается по длине
// последовательности.
func Compute(w io.Writer, ingroup []Sequence, outgroups map[string]bool, records io.Reader) (Stats, error) {
	var stats Stats

	lengths := make(map[string]int64, len(ingroup))
	for _, s := range ingroup {
		lengths[s.Name] = s.Len
	}
	bySeq := make(map[string][]Interval)

	br := bufio.NewReaderSize(records, 1<<20)
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			lineNo++
			if toks := strings.Fields(line); len(toks) > 0 {
				stats.Records++
				used, perr := addRecord(bySeq, lengths, outgroups, toks)
				if perr != nil {
					return stats, fmt.Errorf("alignment record at line %d: %w", lineNo, perr)
				}
				if used {
					stats.Used++
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read alignments: %w", err)
		}
	}

	Merge(bySeq)

	bw := bufio.NewWriter(w)
	for _, s := range ingroup {
		for _, iv := range bySeq[s.Name] {
			if _, err := fmt.Fprintf(bw, "%s\t%d\t%d\n", s.Name, iv.Start, iv.End); err != nil {
				return stats, fmt.Errorf("write coverage: %w", err)
			}
			stats.Intervals++
			stats.Covered += iv.End - iv.Start
		}
	}
	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("write coverage: %w", err)
	}
	return stats, nil
}

// addRecord добавляет интервал записи, если она связывает ingroup и outgroup.
func addRecord(bySeq map[string][]Interval, lengths map[string]int64, outgroups map[string]bool, toks []string) (bool, error) {
	if len(toks) < minTokens {
		return false, fmt.Errorf("%d tokens, need at least %d", len(toks), minTokens)
	}

	query, target := toks[queryIDToken], toks[targetIDToken]

	var seq, startTok, endTok string
	switch {
	case hasSeq(lengths, query) && outgroups[target]:
		seq, startTok, endTok = query, toks[queryStartToken], toks[queryEndToken]
	case hasSeq(lengths, target) && outgroups[query]:
		seq, startTok, endTok = target, toks[targetStart], toks[targetEnd]
	default:
		return false, nil
	}

	start, err := strconv.ParseInt(startTok, 10, 64)
	if err != nil {
		return false, fmt.Errorf("bad start %q: %w", startTok, err)
	}
	end, err := strconv.ParseInt(endTok, 10, 64)
	if err != nil {
		return false, fmt.Errorf("bad end %q: %w", endTok, err)
	}
	if start > end {
		start, end = end, start
	}
	if start < 0 {
		start = 0
	}
	if limit := lengths[seq]; end > limit {
		end = limit
	}
	if start >= end {
		return true, nil
	}

	bySeq[seq] = append(bySeq[seq], Interval{Start: start, End: end})
	return true, nil
}

func hasSeq(lengths map[string]int64, name string) bool {
	_, ok := lengths[name]
	return ok
}
