package core

// table.go holds the in-memory tabular form every input source is read into.
//
// Cells are untyped: CSV input yields strings, SQL input yields driver values
// (int64, float64, time.Time, ...). A nil cell is null.

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Table is a set of rows with named columns.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// NewTable builds a table. Column names must be unique and non-empty, and
// every row must have one cell per column.
func NewTable(columns []string, rows [][]any) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if c == "" {
			return nil, fmt.Errorf("column %d has an empty name", i+1)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", i+1, len(r), len(columns))
		}
	}
	return &Table{columns: columns, index: index, rows: rows}, nil
}

func newTableUnchecked(columns []string, rows [][]any) *Table {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return &Table{columns: columns, index: index, rows: rows}
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows. A nil table has none.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Has reports whether the table has the named column.
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Row returns the i-th row.
func (t *Table) Row(i int) Row {
	return Row{t: t, cells: t.rows[i]}
}

// Row is a read-only view of one table row.
type Row struct {
	t     *Table
	cells []any
}

// Get returns the cell in the named column, or nil if the column is absent.
func (r Row) Get(column string) any {
	i, ok := r.t.index[column]
	if !ok {
		return nil
	}
	return r.cells[i]
}

// WriteCSV writes the table as comma-separated text with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return err
	}
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			record[i] = FormatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// IsNull reports whether a cell holds no value: nil or a NaN float.
func IsNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

// FormatCell renders a cell as text. Null cells render as "".
func FormatCell(v any) string {
	if IsNull(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// CellString returns the trimmed text of a cell, "" for null.
func CellString(v any) string {
	return strings.TrimSpace(FormatCell(v))
}
