package coverage

import (
	"sort"

	"github.com/exascience/pargo/parallel"
	psort "github.com/exascience/pargo/sort"
)

// Interval — полуоткрытый интервал [Start, End) на последовательности.
type Interval struct {
	Start, End int64
}

// SortByStart сортирует интервалы по Start (стабильно).
func SortByStart(intervals []Interval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		return intervals[i].Start < intervals[j].Start
	})
}

type stableIntervalSorter []Interval

func (s stableIntervalSorter) SequentialSort(i, j int) {
	SortByStart(s[i:j])
}

func (s stableIntervalSorter) NewTemp() psort.StableSorter {
	return stableIntervalSorter(make([]Interval, len(s)))
}

func (s stableIntervalSorter) Len() int {
	return len(s)
}

func (s stableIntervalSorter) Less(i, j int) bool {
	return s[i].Start < s[j].Start
}

func (s stableIntervalSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(stableIntervalSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// parallelGrainSize — ниже этого размера параллельная сортировка не окупается.
const parallelGrainSize = 0x1000

// ParallelSortByStart сортирует интервалы по Start параллельной стабильной сортировкой.
func ParallelSortByStart(intervals []Interval) {
	if len(intervals) < parallelGrainSize {
		SortByStart(intervals)
		return
	}
	psort.StableSort(stableIntervalSorter(intervals))
}

// extend расширяет a, если b с ним пересекается или касается.
// b.Start >= a.Start обязательно.
func (a *Interval) extend(b Interval) bool {
	if b.Start > a.End {
		return false
	}
	if b.End > a.End {
		a.End = b.End
	}
	return true
}

// Flatten сливает пересекающиеся и соприкасающиеся интервалы.
// Интервалы должны быть отсортированы по Start. Результат делит память
// с аргументом, отсортирован по Start и не содержит пересечений.
func Flatten(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return intervals
	}
	out := intervals[:1]
	for _, iv := range intervals[1:] {
		last := &out[len(out)-1]
		if !last.extend(iv) {
			out = append(out, iv)
		}
	}
	return out
}

// Merge сортирует и сливает интервалы каждой последовательности.
// Последовательности обрабатываются параллельно.
func Merge(bySeq map[string][]Interval) {
	names := make([]string, 0, len(bySeq))
	for name := range bySeq {
		names = append(names, name)
	}
	merged := make([][]Interval, len(names))

	parallel.Range(0, len(names), 0, func(low, high int) {
		for i := low; i < high; i++ {
			ivs := bySeq[names[i]]
			ParallelSortByStart(ivs)
			merged[i] = Flatten(ivs)
		}
	})

	for i, name := range names {
		bySeq[name] = merged[i]
	}
}

// Length возвращает суммарную длину непересекающихся интервалов.
func Length(intervals []Interval) int64 {
	var n int64
	for _, iv := range intervals {
		n += iv.End - iv.Start
	}
	return n
}
