package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ErrHeaderMismatch is returned when a definition's headers do not cover
// the columns the query produced.
var ErrHeaderMismatch = errors.New("header count does not match column count")

// Table is a query result labelled with the definition's headers.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable stringifies rows under headers.
func NewTable(headers []string, rows [][]any) (*Table, error) {
	t := &Table{Headers: headers, Rows: make([][]string, 0, len(rows))}
	for i, row := range rows {
		if len(row) != len(headers) {
			return nil, fmt.Errorf("row %d has %d columns, %d headers: %w", i+1, len(row), len(headers), ErrHeaderMismatch)
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// formatCell renders a scanned database value as CSV text. NULL becomes an
// empty cell.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// WriteCSV writes a header row followed by every data row, comma separated,
// with no index column.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// ReadCSV reads a file produced by WriteCSV back into a Table.
func ReadCSV(r io.Reader) (*Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header row")
	}
	return &Table{Headers: records[0], Rows: records[1:]}, nil
}
