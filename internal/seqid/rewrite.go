package seqid

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Позиции идентификаторов в строке записи выравнивания.
const (
	queryToken  = 1
	targetToken = 5

	minRecordTokens = targetToken + 1
)

// RewriteStats — сводка по переписанному файлу записей.
type RewriteStats struct {
	Records int // переписано записей
	Blank   int // пустых строк (копируются как есть)
}

// RewriteRecords переписывает записи выравнивания: токены 1 и 5 каждой
// строки заменяются на их формы из таблицы. Остальные токены копируются
// без изменений; число и порядок токенов сохраняются, разделитель — один пробел.
//
// Строка полностью разрешается до записи, поэтому запись с неизвестным
// идентификатором никогда не попадает в w даже частично.
// Ошибка — *MissingIdentifierError, *AmbiguousIdentifierError или
// *MalformedRecordError.
func RewriteRecords(w io.Writer, r io.Reader, table *Table) (RewriteStats, error) {
	var stats RewriteStats
	br := bufio.NewReaderSize(r, 1<<20)
	bw := bufio.NewWriterSize(w, 1<<20)

	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			lineNo++
			out, rerr := rewriteLine(line, lineNo, table)
			if rerr != nil {
				return stats, rerr
			}
			if out == "" {
				stats.Blank++
			} else {
				stats.Records++
			}
			if _, werr := bw.WriteString(out + "\n"); werr != nil {
				return stats, fmt.Errorf("write records: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read records: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("write records: %w", err)
	}
	return stats, nil
}

// rewriteLine возвращает переписанную строку без перевода строки.
func rewriteLine(line string, lineNo int, table *Table) (string, error) {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return "", nil
	}
	if len(toks) < minRecordTokens {
		return "", &MalformedRecordError{Line: lineNo, Tokens: len(toks)}
	}

	for _, pos := range [...]int{queryToken, targetToken} {
		id, err := table.Lookup(toks[pos])
		if err != nil {
			return "", withLine(err, lineNo)
		}
		toks[pos] = id
	}
	return strings.Join(toks, " "), nil
}

func withLine(err error, lineNo int) error {
	switch e := err.(type) {
	case *MissingIdentifierError:
		e.Line = lineNo
	case *AmbiguousIdentifierError:
		e.Line = lineNo
	}
	return err
}
