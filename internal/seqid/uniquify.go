package seqid

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/traverse"
)

// TokenPrefix — начало уникального префикса идентификатора.
const TokenPrefix = "id="

// Token возвращает уникальный префикс для входа с позицией index: "id=<index>|".
// Префикс зависит только от позиции входа, не от содержимого.
func Token(index int) string {
	return TokenPrefix + strconv.Itoa(index) + "|"
}

// UniqueID возвращает уникальную форму имени последовательности из входа index.
func UniqueID(index int, original string) string {
	return Token(index) + original
}

// Input — одна входная последовательность и место для её переписанной копии.
type Input struct {
	R io.Reader
	W io.Writer
}

// Result — итог уникализации набора входов.
type Result struct {
	// Table — таблица переименования по всем входам.
	Table *Table

	// Sizes — число прочитанных байт по каждому входу.
	Sizes []int64
}

// TotalSize возвращает суммарный размер входов.
func (r *Result) TotalSize() int64 {
	var n int64
	for _, s := range r.Sizes {
		n += s
	}
	return n
}

// Uniquify переписывает заголовки всех входов, добавляя префикс Token(i)
// к входу с позицией i, и строит общую таблицу переименования.
//
// Входы обрабатываются параллельно; записи таблицы всегда идут в порядке
// входов, поэтому результат детерминирован. Пустой набор входов даёт
// пустую таблицу без ошибки.
func Uniquify(inputs []Input) (*Result, error) {
	tables := make([]*Table, len(inputs))
	sizes := make([]int64, len(inputs))

	err := traverse.Each(len(inputs), func(i int) error {
		t, n, err := UniquifyOne(inputs[i].W, inputs[i].R, i)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		tables[i] = t
		sizes[i] = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	table := NewTable()
	for _, t := range tables {
		table.merge(t)
	}
	return &Result{Table: table, Sizes: sizes}, nil
}

// UniquifyOne переписывает один FASTA-поток для входа с позицией index.
//
// Заголовок ">name rest" становится ">id=<index>|name rest", строки
// последовательности копируются как есть. Возвращает таблицу этого входа
// и число прочитанных байт.
func UniquifyOne(w io.Writer, r io.Reader, index int) (*Table, int64, error) {
	table := NewTable()
	br := bufio.NewReaderSize(r, 1<<20)
	bw := bufio.NewWriterSize(w, 1<<20)
	token := Token(index)

	var read int64
	for {
		line, err := br.ReadString('\n')
		read += int64(len(line))
		if len(line) > 0 {
			if line[0] == '>' {
				name := headerName(line[1:])
				if name != "" {
					if table.has(index, name) {
						return nil, read, &DuplicateRecordError{ID: name, Index: index}
					}
					table.add(Entry{Index: index, Original: name, Unique: token + name})
				}
				line = ">" + token + line[1:]
			}
			if _, werr := bw.WriteString(line); werr != nil {
				return nil, read, fmt.Errorf("write sequence: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, read, fmt.Errorf("read sequence: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return nil, read, fmt.Errorf("write sequence: %w", err)
	}
	return table, read, nil
}

// headerName возвращает имя последовательности: текст заголовка до первого пробела.
func headerName(header string) string {
	header = strings.TrimRight(header, "\r\n")
	if i := strings.IndexAny(header, " \t"); i >= 0 {
		header = header[:i]
	}
	return header
}
