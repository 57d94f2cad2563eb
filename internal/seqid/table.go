package seqid

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Entry — одна запись таблицы: заголовок последовательности из входа Index.
type Entry struct {
	Index    int    `json:"index"`
	Original string `json:"original"`
	Unique   string `json:"unique"`
}

// Table — таблица переименования: исходный идентификатор → уникальный.
//
// После построения таблица только читается, поэтому конкурентные
// Lookup без синхронизации безопасны.
type Table struct {
	entries    []Entry
	byOriginal map[string][]int
}

// NewTable создаёт пустую таблицу.
func NewTable() *Table {
	return &Table{byOriginal: make(map[string][]int)}
}

// Len возвращает число записей (по одной на входную последовательность).
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries возвращает копию записей в порядке (вход, порядок в файле).
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Lookup возвращает уникальную форму исходного идентификатора.
func (t *Table) Lookup(original string) (string, error) {
	idx := t.byOriginal[original]
	switch len(idx) {
	case 0:
		return "", &MissingIdentifierError{ID: original}
	case 1:
		return t.entries[idx[0]].Unique, nil
	default:
		candidates := make([]string, len(idx))
		for i, j := range idx {
			candidates[i] = t.entries[j].Unique
		}
		return "", &AmbiguousIdentifierError{ID: original, Candidates: candidates}
	}
}

// Ambiguous возвращает исходные идентификаторы, встречающиеся в нескольких входах.
func (t *Table) Ambiguous() []string {
	var ids []string
	for id, idx := range t.byOriginal {
		if len(idx) > 1 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *Table) add(e Entry) {
	t.byOriginal[e.Original] = append(t.byOriginal[e.Original], len(t.entries))
	t.entries = append(t.entries, e)
}

// merge дописывает записи other в конец таблицы.
func (t *Table) merge(other *Table) {
	for _, e := range other.entries {
		t.add(e)
	}
}

// has сообщает, есть ли уже запись с этим именем из того же входа.
func (t *Table) has(index int, original string) bool {
	for _, j := range t.byOriginal[original] {
		if t.entries[j].Index == index {
			return true
		}
	}
	return false
}

type tableJSON struct {
	Entries []Entry `json:"entries"`
}

// MarshalJSON реализует json.Marshaler.
func (t *Table) MarshalJSON() ([]byte, error) {
	entries := t.entries
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(tableJSON{Entries: entries})
}

// UnmarshalJSON реализует json.Unmarshaler.
func (t *Table) UnmarshalJSON(data []byte) error {
	var v tableJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = *NewTable()
	for _, e := range v.Entries {
		t.add(e)
	}
	return nil
}

// WriteTable сериализует таблицу в w.
func WriteTable(w io.Writer, t *Table) error {
	if err := json.NewEncoder(w).Encode(t); err != nil {
		return fmt.Errorf("encode id map: %w", err)
	}
	return nil
}

// ReadTable читает таблицу, записанную WriteTable.
func ReadTable(r io.Reader) (*Table, error) {
	t := NewTable()
	if err := json.NewDecoder(r).Decode(t); err != nil {
		return nil, fmt.Errorf("decode id map: %w", err)
	}
	return t, nil
}
