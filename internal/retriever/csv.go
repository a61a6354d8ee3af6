package retriever

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/JonMunkholm/batchupload/internal/core"
	"github.com/JonMunkholm/batchupload/internal/logging"
)

// CSV reads a layers file and one loss file from disk.
type CSV struct {
	layersPath string
	lossesPath string
	lossType   core.LossType
}

// NewCSV checks that both files exist and returns a CSV retriever.
func NewCSV(layersPath string, lossType core.LossType, lossesPath string) (*CSV, error) {
	if layersPath == "" {
		return nil, &core.ConfigError{Key: "layers", Message: "a layers file is required"}
	}
	if lossesPath == "" {
		return nil, &core.ConfigError{Key: lossType.String(), Message: "a loss file is required"}
	}
	for _, p := range []string{layersPath, lossesPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("input file: %w", err)
		}
	}
	return &CSV{layersPath: layersPath, lossesPath: lossesPath, lossType: lossType}, nil
}

func (c *CSV) Layers(ctx context.Context) (*core.Table, error) {
	return readFile(ctx, c.layersPath)
}

func (c *CSV) Losses(ctx context.Context) (*core.Table, error) {
	return readFile(ctx, c.lossesPath)
}

func (c *CSV) LossType() core.LossType { return c.lossType }

func (c *CSV) Close() error { return nil }

func readFile(ctx context.Context, path string) (*core.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	in := decode(f)
	t, err := readTable(in)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	logging.FromContext(ctx).Debug("read input file",
		slog.String("path", path),
		slog.Int64("bytes", in.BytesRead),
		slog.Int("rows", t.Len()),
		slog.Int("columns", len(t.Columns())))
	return t, nil
}

// ReadCSV parses r into a table. The first record is the header; headers
// are trimmed and a blank header becomes column_N. Empty cells become null,
// short rows are padded with nulls and long rows are rejected.
func ReadCSV(r io.Reader) (*core.Table, error) {
	return readTable(decode(r))
}

func readTable(r io.Reader) (*core.Table, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &core.ValidationError{Message: "file has no header row", Err: core.ErrEmptyInput}
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
		if columns[i] == "" {
			columns[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	var rows [][]any
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(record) {
			continue
		}
		if len(record) > len(columns) {
			line, _ := cr.FieldPos(0)
			return nil, &core.ParseError{
				Record: fmt.Sprintf("line %d", line),
				Err:    fmt.Errorf("%d cells for %d columns", len(record), len(columns)),
			}
		}

		row := make([]any, len(columns))
		for i, cell := range record {
			if strings.TrimSpace(cell) != "" {
				row[i] = cell
			}
		}
		rows = append(rows, row)
	}

	return core.NewTable(columns, rows)
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
