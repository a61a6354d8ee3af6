package retriever

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/batchupload/internal/core"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func utf16LE(s string) []byte {
	out := []byte{0xFF, 0xFE}
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		columns []string
		rows    [][]any
	}{
		{
			name:    "plain",
			input:   []byte("layer_id,premium\nL1,100\nL2,200\n"),
			columns: []string{"layer_id", "premium"},
			rows:    [][]any{{"L1", "100"}, {"L2", "200"}},
		},
		{
			name:    "utf8 bom",
			input:   append([]byte{0xEF, 0xBB, 0xBF}, "layer_id,premium\nL1,100\n"...),
			columns: []string{"layer_id", "premium"},
			rows:    [][]any{{"L1", "100"}},
		},
		{
			name:    "utf16 bom",
			input:   utf16LE("layer_id,description\nL1,Zürich\n"),
			columns: []string{"layer_id", "description"},
			rows:    [][]any{{"L1", "Zürich"}},
		},
		{
			name:    "invalid utf8",
			input:   []byte("layer_id,description\nL1,caf\xe9\n"),
			columns: []string{"layer_id", "description"},
			rows:    [][]any{{"L1", "caf?"}},
		},
		{
			name:    "empty cells are null",
			input:   []byte("layer_id,premium,limit\nL1,,  \n"),
			columns: []string{"layer_id", "premium", "limit"},
			rows:    [][]any{{"L1", nil, nil}},
		},
		{
			name:    "headers trimmed",
			input:   []byte(" layer_id , premium\nL1,1\n"),
			columns: []string{"layer_id", "premium"},
			rows:    [][]any{{"L1", "1"}},
		},
		{
			name:    "blank header named",
			input:   []byte("layer_id,\nL1,x\n"),
			columns: []string{"layer_id", "column_2"},
			rows:    [][]any{{"L1", "x"}},
		},
		{
			name:    "short rows padded and blank rows skipped",
			input:   []byte("a,b,c\n1\n,,\n2,3,4\n"),
			columns: []string{"a", "b", "c"},
			rows:    [][]any{{"1", nil, nil}, {"2", "3", "4"}},
		},
		{
			name:    "lazy quotes",
			input:   []byte("layer_id,description\nL1,a \"quoted\" word\n"),
			columns: []string{"layer_id", "description"},
			rows:    [][]any{{"L1", "a \"quoted\" word"}},
		},
		{
			name:    "header only",
			input:   []byte("layer_id,premium\n"),
			columns: []string{"layer_id", "premium"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ReadCSV(bytes.NewReader(tt.input))
			require.NoError(t, err)

			assert.Equal(t, tt.columns, table.Columns())
			require.Equal(t, len(tt.rows), table.Len())
			for i, want := range tt.rows {
				row := table.Row(i)
				for j, c := range tt.columns {
					assert.Equal(t, want[j], row.Get(c), "row %d column %s", i, c)
				}
			}
		})
	}
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrEmptyInput))

	code, ok := core.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, core.CodeValidationFailed, code)
}

func TestReadCSV_LongRow(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b\n1,2\n3,4,5\n"))
	require.Error(t, err)

	var perr *core.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "line 3", perr.Record)
}

func TestReadCSV_DuplicateHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,a\n1,2\n"))
	assert.ErrorContains(t, err, "duplicate column")
}

func TestSanitizer_SplitSequence(t *testing.T) {
	// "é" is two bytes; a one-byte reader splits it across reads.
	input := "x,é,\xff\n"
	r := newSanitizer(iotest.OneByteReader(strings.NewReader(input)))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "x,é,?\n", buf.String())
}

func TestDecode_CountsBytes(t *testing.T) {
	r := decode(strings.NewReader("abc"))
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r)
	require.NoError(t, err)
	assert.EqualValues(t, 3, r.BytesRead)
}

func TestCSV_Retriever(t *testing.T) {
	layers := writeFile(t, "layers.csv", []byte("layer_id,loss_set_id\nL1,L1\n"))
	losses := writeFile(t, "elt.csv", []byte("loss_set_id,event_id,loss,rate\nL1,1,100,0.1\n"))

	r, err := New(SourceCSV, Options{LayersPath: layers, LossesPath: losses, LossType: core.LossELT})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, core.LossELT, r.LossType())

	lt, err := r.Layers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lt.Len())

	ls, err := r.Losses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"loss_set_id", "event_id", "loss", "rate"}, ls.Columns())
}

func TestNewCSV_Errors(t *testing.T) {
	layers := writeFile(t, "layers.csv", []byte("layer_id\n"))

	_, err := NewCSV("", core.LossELT, layers)
	assert.ErrorContains(t, err, "layers file is required")

	_, err = NewCSV(layers, core.LossYELT, "")
	assert.ErrorContains(t, err, "loss file is required")

	_, err = NewCSV(layers, core.LossYLT, filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_UnknownSource(t *testing.T) {
	_, err := New("xlsx", Options{})
	var cerr *core.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "source", cerr.Key)
}
