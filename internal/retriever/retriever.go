// Package retriever reads layer terms and loss data into tables.
//
// Two sources exist: CSV files named on the command line and SQL queries
// named in the configuration. Both hand back untyped core.Tables; column
// mapping and coercion happen later in the extractors.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/batchupload/internal/core"
)

// Source names accepted by New.
const (
	SourceCSV = "csv"
	SourceSQL = "sql"
)

// Retriever yields the layers table and the losses table for one run.
type Retriever interface {
	Layers(ctx context.Context) (*core.Table, error)
	Losses(ctx context.Context) (*core.Table, error)
	LossType() core.LossType
	Close() error
}

// Options carries the settings of every source; each source reads only its own.
type Options struct {
	// CSV
	LayersPath string
	LossesPath string
	LossType   core.LossType

	// SQL
	SQL SQLOptions
}

// New returns the retriever for the named source.
func New(source string, opts Options) (Retriever, error) {
	switch strings.ToLower(source) {
	case SourceCSV:
		return NewCSV(opts.LayersPath, opts.LossType, opts.LossesPath)
	case SourceSQL:
		return NewSQL(opts.SQL)
	default:
		return nil, &core.ConfigError{Key: "source", Message: fmt.Sprintf("unknown input source %q (use csv or sql)", source)}
	}
}
