package core

import (
	"bytes"
	"math"
	"testing"
	"time"
)

// mustTable builds a table from string cells. An empty string becomes null,
// matching what the CSV reader produces.
func mustTable(t *testing.T, columns []string, rows ...[]string) *Table {
	t.Helper()
	cells := make([][]any, len(rows))
	for i, r := range rows {
		cells[i] = make([]any, len(r))
		for j, v := range r {
			if v != "" {
				cells[i][j] = v
			}
		}
	}
	table, err := NewTable(columns, cells)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return table
}

func TestNewTable(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		rows    [][]any
		wantErr bool
	}{
		{name: "valid", columns: []string{"a", "b"}, rows: [][]any{{"1", "2"}}},
		{name: "no rows", columns: []string{"a"}},
		{name: "duplicate column", columns: []string{"a", "a"}, wantErr: true},
		{name: "empty column name", columns: []string{"a", ""}, wantErr: true},
		{name: "short row", columns: []string{"a", "b"}, rows: [][]any{{"1"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.columns, tt.rows)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTable() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTable_RowGet(t *testing.T) {
	table := mustTable(t, []string{"id", "value"}, []string{"x", ""})

	row := table.Row(0)
	if got := row.Get("id"); got != "x" {
		t.Errorf("Get(id) = %v, want x", got)
	}
	if got := row.Get("value"); got != nil {
		t.Errorf("Get(value) = %v, want nil", got)
	}
	if got := row.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v, want nil", got)
	}

	var nilTable *Table
	if nilTable.Len() != 0 {
		t.Error("nil table should have no rows")
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		input any
		want  string
	}{
		{nil, ""},
		{math.NaN(), ""},
		{"text", "text"},
		{1.5, "1.5"},
		{100.0, "100"},
		{int64(42), "42"},
		{true, "true"},
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "2024-01-01"},
		{time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC), "2024-01-01T12:30:00Z"},
	}

	for _, tt := range tests {
		if got := FormatCell(tt.input); got != tt.want {
			t.Errorf("FormatCell(%#v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTable_WriteCSV(t *testing.T) {
	table, err := NewTable([]string{"EventId", "Loss"}, [][]any{
		{"1", "100"},
		{int64(2), 50.5},
		{"3", nil},
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	want := "EventId,Loss\n1,100\n2,50.5\n3,\n"
	if buf.String() != want {
		t.Errorf("WriteCSV() = %q, want %q", buf.String(), want)
	}
}
