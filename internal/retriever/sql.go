package retriever

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/batchupload/internal/core"
	"github.com/JonMunkholm/batchupload/internal/logging"
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLOptions configures the SQL source.
type SQLOptions struct {
	Driver string

	// DSN is used as-is when set; otherwise it is built from the parts below.
	DSN      string
	Server   string
	Database string
	Username string
	Password string

	LayersQuery string
	LossesQuery string
	LossType    core.LossType

	// MaxConns caps the postgres pool (default: 2)
	MaxConns int32
}

// SQL runs the configured queries. The connection is opened on first use.
type SQL struct {
	opts SQLOptions

	mu   sync.Mutex
	pool *pgxpool.Pool
	db   *sql.DB
}

// NewSQL validates the options and returns a SQL retriever.
func NewSQL(opts SQLOptions) (*SQL, error) {
	opts.Driver = strings.ToLower(opts.Driver)
	if opts.Driver == "" {
		opts.Driver = DriverPostgres
	}
	if opts.Driver != DriverPostgres && opts.Driver != DriverSQLite {
		return nil, &core.ConfigError{Section: "sql", Key: "driver", Message: fmt.Sprintf("unsupported driver %q", opts.Driver)}
	}
	if strings.TrimSpace(opts.LayersQuery) == "" {
		return nil, &core.ConfigError{Section: "sql", Key: "layers_query", Message: "is required"}
	}
	if strings.TrimSpace(opts.LossesQuery) == "" {
		return nil, &core.ConfigError{Section: "sql", Key: "losses_query", Message: "is required"}
	}
	if opts.DSN == "" {
		opts.DSN = buildDSN(opts)
	}
	if opts.DSN == "" {
		return nil, &core.ConfigError{Section: "sql", Key: "dsn", Message: "set dsn or server and database"}
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 2
	}
	return &SQL{opts: opts}, nil
}

func buildDSN(opts SQLOptions) string {
	switch opts.Driver {
	case DriverSQLite:
		return opts.Database
	default:
		if opts.Server == "" || opts.Database == "" {
			return ""
		}
		u := url.URL{Scheme: "postgres", Host: opts.Server, Path: "/" + opts.Database}
		if opts.Username != "" {
			u.User = url.UserPassword(opts.Username, opts.Password)
		}
		return u.String()
	}
}

func (s *SQL) Layers(ctx context.Context) (*core.Table, error) {
	t, err := s.query(ctx, s.opts.LayersQuery)
	if err != nil {
		return nil, fmt.Errorf("layers query: %w", err)
	}
	return t, nil
}

func (s *SQL) Losses(ctx context.Context) (*core.Table, error) {
	t, err := s.query(ctx, s.opts.LossesQuery)
	if err != nil {
		return nil, fmt.Errorf("losses query: %w", err)
	}
	return t, nil
}

func (s *SQL) LossType() core.LossType { return s.opts.LossType }

// Close releases the connection if one was opened.
func (s *SQL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *SQL) query(ctx context.Context, q string) (*core.Table, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		t   *core.Table
		err error
	)
	if s.pool != nil {
		t, err = queryPostgres(ctx, s.pool, q)
	} else {
		t, err = queryDB(ctx, s.db, q)
	}
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug("query complete",
		slog.String("driver", s.opts.Driver),
		slog.Int("rows", t.Len()),
		slog.Duration("elapsed", time.Since(start)))
	return t, nil
}

func (s *SQL) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil || s.db != nil {
		return nil
	}

	switch s.opts.Driver {
	case DriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(s.opts.DSN)
		if err != nil {
			return &core.ConfigError{Section: "sql", Key: "dsn", Message: err.Error()}
		}
		poolConfig.MaxConns = s.opts.MaxConns

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping database: %w", err)
		}
		s.pool = pool

	case DriverSQLite:
		db, err := sql.Open("sqlite", s.opts.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return fmt.Errorf("ping database: %w", err)
		}
		s.db = db
	}

	logging.FromContext(ctx).Info("connected to database", slog.String("driver", s.opts.Driver))
	return nil
}

func queryPostgres(ctx context.Context, pool *pgxpool.Pool, q string) (*core.Table, error) {
	rows, err := pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = normalizeValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return core.NewTable(columns, out)
}

func queryDB(ctx context.Context, db *sql.DB, q string) (*core.Table, error) {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return core.NewTable(columns, out)
}

// normalizeValue converts driver values to the cell types the extractors
// understand: string, int64, float64, bool, time.Time or nil.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Text:
		if !val.Valid {
			return nil
		}
		return val.String
	case pgtype.Date:
		if !val.Valid {
			return nil
		}
		return val.Time
	case [16]byte:
		return uuid.UUID(val).String()
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	case int:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return normalizeValue(string(val))
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return val
	default:
		return v
	}
}
