// Package config provides centralized configuration management for the uploader.
// It loads an INI file, environment variables and command-line overrides into
// one typed struct and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all uploader configuration.
// Struct fields tagged ini name a section; leaf fields name a key within it.
type Config struct {
	Server         ServerConfig   `ini:"server"`
	Defaults       DefaultsConfig `ini:"defaults"`
	LayerColumns   LayerColumns   `ini:"layer_columns"`
	LossSetColumns LossSetColumns `ini:"loss_set_columns"`
	SQL            SQLConfig      `ini:"sql"`
	Upload         UploadConfig   `ini:"upload"`
	Logging        LoggingConfig  `ini:"logging"`
}

// ServerConfig holds the platform connection settings.
type ServerConfig struct {
	// BaseURL is the platform API root, e.g. https://api.analyzere.net/
	BaseURL string `ini:"base_url" iniAlt:"url" env:"ARE_BASE_URL"`

	Username string `ini:"username" env:"ARE_USERNAME"`

	Password string `ini:"password" env:"ARE_PASSWORD"`

	// PasswordSecretID names an AWS Secrets Manager secret holding the
	// password. Used only when Password is empty.
	PasswordSecretID string `ini:"password_secret_id" env:"ARE_PASSWORD_SECRET_ID"`
}

// DefaultsConfig holds the values used when the input does not supply them.
type DefaultsConfig struct {
	// Currency is the default ISO currency code (default: USD)
	Currency string `ini:"currency" env:"ARE_DEFAULT_CURRENCY" default:"USD"`

	// StartDate is the default YELT loss set start date
	StartDate string `ini:"start_date" env:"ARE_DEFAULT_START_DATE"`

	// TrialCount is required for YELT and YLT uploads
	TrialCount int `ini:"trial_count" env:"ARE_DEFAULT_TRIAL_COUNT"`

	// LossPerspective is the loss set loss_type (default: LossGrossOfFilters)
	LossPerspective string `ini:"loss_perspective" iniAlt:"loss_position" env:"ARE_LOSS_PERSPECTIVE" default:"LossGrossOfFilters"`

	// AnalysisProfileUUID supplies the event catalogs for new loss sets (required)
	AnalysisProfileUUID string `ini:"analysis_profile_uuid" iniAlt:"analysis_profile" env:"ARE_ANALYSIS_PROFILE_UUID" required:"true"`
}

// LayerColumns maps canonical layer fields to source column names.
type LayerColumns struct {
	LayerID          string `ini:"layer_id" default:"layer_id"`
	LossSetID        string `ini:"loss_set_id" default:"loss_set_id"`
	LossSetCurrency  string `ini:"loss_set_currency" default:"loss_set_currency"`
	LossSetStartDate string `ini:"loss_set_start_date" default:"loss_set_start_date"`
	LayerType        string `ini:"layer_type" default:"layer_type"`
	Description      string `ini:"description" default:"description"`
	MetaData         string `ini:"meta_data" default:"meta_data"`
	Currency         string `ini:"currency" default:"currency"`

	InceptionDate string `ini:"inception_date" iniAlt:"inception" default:"inception_date"`
	ExpiryDate    string `ini:"expiry_date" iniAlt:"expiry" default:"expiry_date"`

	Premium                string `ini:"premium" default:"premium"`
	PremiumCcy             string `ini:"premium_ccy" default:"premium_ccy"`
	Participation          string `ini:"participation" default:"participation"`
	Attachment             string `ini:"attachment" default:"attachment"`
	AttachmentCcy          string `ini:"attachment_ccy" default:"attachment_ccy"`
	Limit                  string `ini:"limit" default:"limit"`
	LimitCcy               string `ini:"limit_ccy" default:"limit_ccy"`
	AggregateAttachment    string `ini:"aggregate_attachment" default:"aggregate_attachment"`
	AggregateAttachmentCcy string `ini:"aggregate_attachment_ccy" default:"aggregate_attachment_ccy"`
	AggregateLimit         string `ini:"aggregate_limit" default:"aggregate_limit"`
	AggregateLimitCcy      string `ini:"aggregate_limit_ccy" default:"aggregate_limit_ccy"`
	Franchise              string `ini:"franchise" default:"franchise"`
	FranchiseCcy           string `ini:"franchise_ccy" default:"franchise_ccy"`
	EventLimit             string `ini:"event_limit" default:"event_limit"`
	EventLimitCcy          string `ini:"event_limit_ccy" default:"event_limit_ccy"`
	Nth                    string `ini:"nth" default:"nth"`

	Reinstatements         string `ini:"reinstatements" default:"reinstatements"`
	ReinstatementCount     string `ini:"reinstatement_count" default:"reinstatement_count"`
	ReinstatementPremium   string `ini:"reinstatement_premium" default:"reinstatement_premium"`
	ReinstatementBrokerage string `ini:"reinstatement_brokerage" default:"reinstatement_brokerage"`
}

// LossSetColumns maps canonical loss fields to source column names.
type LossSetColumns struct {
	LossSetID              string `ini:"loss_set_id" default:"loss_set_id"`
	EventID                string `ini:"event_id" default:"event_id"`
	Loss                   string `ini:"loss" default:"loss"`
	TrialID                string `ini:"trial_id" default:"trial_id"`
	Day                    string `ini:"day" iniAlt:"sequence" default:"day"`
	ReinstatementPremium   string `ini:"reinstatement_premium" default:"reinstatement_premium"`
	ReinstatementBrokerage string `ini:"reinstatement_brokerage" default:"reinstatement_brokerage"`
}

// SQLConfig holds the settings for the sql input source.
type SQLConfig struct {
	// Driver is postgres or sqlite (default: postgres)
	Driver string `ini:"driver" env:"SQL_DRIVER" default:"postgres"`

	// DSN is a full connection string. When empty, one is built from the
	// server, database, username and password keys.
	DSN string `ini:"dsn" env:"SQL_DSN" envAlt:"DATABASE_URL"`

	Server   string `ini:"server" env:"SQL_SERVER"`
	Database string `ini:"database" env:"SQL_DATABASE"`
	Username string `ini:"username" env:"SQL_USERNAME"`
	Password string `ini:"password" env:"SQL_PASSWORD"`

	LayersQuery string `ini:"layers_query" env:"SQL_LAYERS_QUERY"`
	LossesQuery string `ini:"losses_query" env:"SQL_LOSSES_QUERY"`

	// LossType is elt, yelt or ylt
	LossType string `ini:"loss_type" env:"SQL_LOSS_TYPE"`
}

// UploadConfig holds the orchestration settings.
type UploadConfig struct {
	// PoolSize is the number of layers uploaded in parallel (default: 4)
	PoolSize int `ini:"pool_size" env:"UPLOAD_POOL_SIZE" default:"4"`

	// PollInterval is the delay between loss set status checks (default: 2s)
	PollInterval time.Duration `ini:"poll_interval" env:"UPLOAD_POLL_INTERVAL" default:"2s"`

	// PollTimeout bounds the wait for one loss set to finish processing;
	// 0 waits indefinitely (default: 1h)
	PollTimeout time.Duration `ini:"poll_timeout" env:"UPLOAD_POLL_TIMEOUT" default:"1h"`

	// RequestTimeout bounds every HTTP request (default: 60s)
	RequestTimeout time.Duration `ini:"request_timeout" env:"UPLOAD_REQUEST_TIMEOUT" default:"60s"`

	// RunTimeout bounds the whole upload; 0 means no limit (default: 0)
	RunTimeout time.Duration `ini:"run_timeout" env:"UPLOAD_RUN_TIMEOUT" default:"0s"`

	// RequestsPerSecond throttles calls to the platform (default: 10)
	RequestsPerSecond int `ini:"requests_per_second" env:"UPLOAD_REQUESTS_PER_SECOND" default:"10"`

	// Burst is the token bucket size for throttling (default: 20)
	Burst int `ini:"burst" env:"UPLOAD_BURST" default:"20"`

	// MaxRetries is the number of retries for throttled or failed requests (default: 3)
	MaxRetries int `ini:"max_retries" env:"UPLOAD_MAX_RETRIES" default:"3"`

	// ChunkSize is the loss data upload chunk size in bytes (default: 16MiB)
	ChunkSize int64 `ini:"chunk_size" env:"UPLOAD_CHUNK_SIZE" default:"16777216"`

	// ReportPath is where the layer mapping report is written (default: layer_mapping.csv)
	ReportPath string `ini:"report_path" env:"UPLOAD_REPORT_PATH" default:"layer_mapping.csv"`

	// DryRun uploads to an in-process platform instead of the server
	DryRun bool `ini:"dry_run" env:"UPLOAD_DRY_RUN" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `ini:"level" env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `ini:"format" env:"LOG_FORMAT" default:"text"`
}

// Map returns the canonical field to source column mapping.
func (c LayerColumns) Map() map[string]string {
	return map[string]string{
		"layer_id":                 c.LayerID,
		"loss_set_id":              c.LossSetID,
		"loss_set_currency":        c.LossSetCurrency,
		"loss_set_start_date":      c.LossSetStartDate,
		"layer_type":               c.LayerType,
		"description":              c.Description,
		"meta_data":                c.MetaData,
		"currency":                 c.Currency,
		"inception_date":           c.InceptionDate,
		"expiry_date":              c.ExpiryDate,
		"premium":                  c.Premium,
		"premium_ccy":              c.PremiumCcy,
		"participation":            c.Participation,
		"attachment":               c.Attachment,
		"attachment_ccy":           c.AttachmentCcy,
		"limit":                    c.Limit,
		"limit_ccy":                c.LimitCcy,
		"aggregate_attachment":     c.AggregateAttachment,
		"aggregate_attachment_ccy": c.AggregateAttachmentCcy,
		"aggregate_limit":          c.AggregateLimit,
		"aggregate_limit_ccy":      c.AggregateLimitCcy,
		"franchise":                c.Franchise,
		"franchise_ccy":            c.FranchiseCcy,
		"event_limit":              c.EventLimit,
		"event_limit_ccy":          c.EventLimitCcy,
		"nth":                      c.Nth,
		"reinstatements":           c.Reinstatements,
		"reinstatement_count":      c.ReinstatementCount,
		"reinstatement_premium":    c.ReinstatementPremium,
		"reinstatement_brokerage":  c.ReinstatementBrokerage,
	}
}

// Map returns the canonical field to source column mapping.
func (c LossSetColumns) Map() map[string]string {
	return map[string]string{
		"loss_set_id":             c.LossSetID,
		"event_id":                c.EventID,
		"loss":                    c.Loss,
		"trial_id":                c.TrialID,
		"day":                     c.Day,
		"reinstatement_premium":   c.ReinstatementPremium,
		"reinstatement_brokerage": c.ReinstatementBrokerage,
	}
}
