package seqid

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniquifyStrings(t *testing.T, fastas ...string) ([]string, *Result) {
	t.Helper()
	outs := make([]*bytes.Buffer, len(fastas))
	inputs := make([]Input, len(fastas))
	for i, f := range fastas {
		outs[i] = &bytes.Buffer{}
		inputs[i] = Input{R: strings.NewReader(f), W: outs[i]}
	}
	res, err := Uniquify(inputs)
	require.NoError(t, err)
	rewritten := make([]string, len(outs))
	for i, o := range outs {
		rewritten[i] = o.String()
	}
	return rewritten, res
}

func TestUniquify(t *testing.T) {
	a := ">chr1 human chromosome 1\nACGT\nAC\n>chr2\nGGGG\n"
	b := ">scaffold_1\nTTTT\n"

	out, res := uniquifyStrings(t, a, b)

	assert.Equal(t, ">id=0|chr1 human chromosome 1\nACGT\nAC\n>id=0|chr2\nGGGG\n", out[0])
	assert.Equal(t, ">id=1|scaffold_1\nTTTT\n", out[1])

	assert.Equal(t, 3, res.Table.Len())
	for orig, want := range map[string]string{
		"chr1":       "id=0|chr1",
		"chr2":       "id=0|chr2",
		"scaffold_1": "id=1|scaffold_1",
	} {
		got, err := res.Table.Lookup(orig)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []int64{int64(len(a)), int64(len(b))}, res.Sizes)
	assert.Equal(t, int64(len(a)+len(b)), res.TotalSize())
}

func TestUniquifyEmpty(t *testing.T) {
	res, err := Uniquify(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Table.Len())
	assert.Empty(t, res.Sizes)
}

// Таблица содержит ровно по записи на входную последовательность, все
// уникальные имена различны и зависят только от (позиция, исходное имя).
func TestUniquifyUniqueness(t *testing.T) {
	const nInputs, nRecords = 7, 25
	fastas := make([]string, nInputs)
	for i := range fastas {
		var sb strings.Builder
		for j := 0; j < nRecords; j++ {
			// Одни и те же имена во всех входах
			fmt.Fprintf(&sb, ">seq%d\nACGT\n", j)
		}
		fastas[i] = sb.String()
	}

	_, first := uniquifyStrings(t, fastas...)
	_, second := uniquifyStrings(t, fastas...)

	require.Equal(t, nInputs*nRecords, first.Table.Len())
	seen := make(map[string]bool)
	for _, e := range first.Table.Entries() {
		assert.False(t, seen[e.Unique], "duplicate unique id %s", e.Unique)
		seen[e.Unique] = true
		assert.Equal(t, UniqueID(e.Index, e.Original), e.Unique)
	}
	assert.Equal(t, first.Table.Entries(), second.Table.Entries())
}

func TestUniquifyDuplicateInOneInput(t *testing.T) {
	_, err := Uniquify([]Input{{
		R: strings.NewReader(">x\nA\n>x\nC\n"),
		W: &bytes.Buffer{},
	}})
	require.Error(t, err)
	var dup *DuplicateRecordError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "x", dup.ID)
	assert.True(t, errors.Is(err, ErrInconsistentInput))
}

func TestUniquifyNoTrailingNewline(t *testing.T) {
	out, res := uniquifyStrings(t, ">last")
	assert.Equal(t, ">id=0|last", out[0])
	got, err := res.Table.Lookup("last")
	require.NoError(t, err)
	assert.Equal(t, "id=0|last", got)
}

func TestTableAmbiguous(t *testing.T) {
	_, res := uniquifyStrings(t, ">chrM\nA\n", ">chrM\nC\n", ">chr1\nG\n")

	assert.Equal(t, []string{"chrM"}, res.Table.Ambiguous())

	_, err := res.Table.Lookup("chrM")
	var amb *AmbiguousIdentifierError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, []string{"id=0|chrM", "id=1|chrM"}, amb.Candidates)

	got, err := res.Table.Lookup("chr1")
	require.NoError(t, err)
	assert.Equal(t, "id=2|chr1", got)
}

func TestTableRoundTrip(t *testing.T) {
	_, res := uniquifyStrings(t, ">a\nA\n>b\nC\n", ">c\nG\n")

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, res.Table))
	table, err := ReadTable(&buf)
	require.NoError(t, err)

	assert.Equal(t, res.Table.Entries(), table.Entries())
	got, err := table.Lookup("c")
	require.NoError(t, err)
	assert.Equal(t, "id=1|c", got)

	_, err = ReadTable(strings.NewReader("not json"))
	assert.Error(t, err)
}
