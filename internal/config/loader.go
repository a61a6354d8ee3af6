package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/JonMunkholm/batchupload/internal/core"
)

// iniOptions matches the conventions of hand-written uploader config files:
// case-insensitive names, "#" and ";" allowed inside values (SQL queries),
// and indented continuation lines for long queries.
var iniOptions = ini.LoadOptions{
	Insensitive:                true,
	IgnoreInlineComment:        true,
	AllowPythonMultilineValues: true,
}

// Override adjusts the loaded configuration. Overrides come from
// command-line flags and take precedence over every other source.
type Override func(*Config)

// WithServer overrides the connection settings that are non-empty.
func WithServer(url, username, password string) Override {
	return func(c *Config) {
		if url != "" {
			c.Server.BaseURL = url
		}
		if username != "" {
			c.Server.Username = username
		}
		if password != "" {
			c.Server.Password = password
		}
	}
}

// WithLogLevel overrides the log level when non-empty.
func WithLogLevel(level string) Override {
	return func(c *Config) {
		if level != "" {
			c.Logging.Level = level
		}
	}
}

// WithDryRun enables dry-run mode when set.
func WithDryRun(dryRun bool) Override {
	return func(c *Config) {
		if dryRun {
			c.Upload.DryRun = true
		}
	}
}

// Load reads configuration from the INI file at path (optional) and the
// environment, applies overrides and validates the result.
//
// Precedence, highest first: overrides, environment, INI file, default tag.
func Load(path string, overrides ...Override) (*Config, error) {
	var file *ini.File
	if path != "" {
		f, err := ini.LoadSources(iniOptions, path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		file = f
	}

	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), file, ""); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields. Nested structs name their
// INI section with the ini tag.
func loadStruct(v reflect.Value, file *ini.File, section string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, file, field.Tag.Get("ini")); err != nil {
				return err
			}
			continue
		}

		// Get tags
		iniKey := field.Tag.Get("ini")
		iniAlt := field.Tag.Get("iniAlt")
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if iniKey == "" && envName == "" {
			continue
		}

		// Try primary env var, then alternate
		var value string
		if envName != "" {
			value = os.Getenv(envName)
			if value == "" && envAlt != "" {
				value = os.Getenv(envAlt)
			}
		}

		// Then the INI file
		if value == "" {
			value = lookupINI(file, section, iniKey, iniAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return &core.ConfigError{
					Section: section,
					Key:     iniKey,
					Message: fmt.Sprintf("is required (or set %s)", envName),
				}
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return &core.ConfigError{
				Section: section,
				Key:     iniKey,
				Message: fmt.Sprintf("invalid value %q: %v", value, err),
			}
		}
	}

	return nil
}

// lookupINI returns the trimmed value of key (or its alternate) in section.
func lookupINI(file *ini.File, section, key, alt string) string {
	if file == nil || section == "" {
		return ""
	}
	sec, err := file.GetSection(section)
	if err != nil {
		return ""
	}
	for _, k := range []string{key, alt} {
		if k != "" && sec.HasKey(k) {
			return strings.TrimSpace(sec.Key(k).String())
		}
	}
	return ""
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns a ConfigError describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if !c.Upload.DryRun {
		if c.Server.BaseURL == "" {
			errs = append(errs, "server.base_url is required")
		}
		if c.Server.Username == "" {
			errs = append(errs, "server.username is required")
		}
	}

	// Defaults validation
	if strings.TrimSpace(c.Defaults.Currency) == "" {
		errs = append(errs, "defaults.currency must not be empty")
	}
	if c.Defaults.TrialCount < 0 {
		errs = append(errs, fmt.Sprintf("defaults.trial_count (%d) must be non-negative", c.Defaults.TrialCount))
	}
	if c.Defaults.LossPerspective == "" {
		errs = append(errs, "defaults.loss_perspective must not be empty")
	}

	// Upload validation
	if c.Upload.PoolSize <= 0 {
		errs = append(errs, "upload.pool_size must be positive")
	}
	if c.Upload.PollInterval <= 0 {
		errs = append(errs, "upload.poll_interval must be positive")
	}
	if c.Upload.PollTimeout < 0 {
		errs = append(errs, "upload.poll_timeout must be non-negative")
	}
	if c.Upload.RequestTimeout <= 0 {
		errs = append(errs, "upload.request_timeout must be positive")
	}
	if c.Upload.RunTimeout < 0 {
		errs = append(errs, "upload.run_timeout must be non-negative")
	}
	if c.Upload.RequestsPerSecond <= 0 {
		errs = append(errs, "upload.requests_per_second must be positive")
	}
	if c.Upload.Burst <= 0 {
		errs = append(errs, "upload.burst must be positive")
	}
	if c.Upload.MaxRetries < 0 {
		errs = append(errs, "upload.max_retries must be non-negative")
	}
	if c.Upload.ChunkSize <= 0 {
		errs = append(errs, "upload.chunk_size must be positive")
	}
	if c.Upload.ReportPath == "" {
		errs = append(errs, "upload.report_path must not be empty")
	}

	// SQL validation
	validDrivers := map[string]bool{"postgres": true, "sqlite": true}
	if !validDrivers[strings.ToLower(c.SQL.Driver)] {
		errs = append(errs, fmt.Sprintf("sql.driver (%q) must be one of: postgres, sqlite", c.SQL.Driver))
	}
	if c.SQL.LossType != "" {
		if _, err := core.ParseLossType(c.SQL.LossType); err != nil {
			errs = append(errs, fmt.Sprintf("sql.loss_type (%q) must be one of: elt, yelt, ylt", c.SQL.LossType))
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("logging.format (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return &core.ConfigError{Message: fmt.Sprintf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))}
	}

	return nil
}

// LayerSchema builds the layer column schema.
func (c *Config) LayerSchema() (core.ColumnSchema, error) {
	return core.NewColumnSchema("layer_columns", c.LayerColumns.Map())
}

// LossSetSchema builds the loss column schema.
func (c *Config) LossSetSchema() (core.ColumnSchema, error) {
	return core.NewColumnSchema("loss_set_columns", c.LossSetColumns.Map())
}

// String returns a safe string representation of the config for logging.
// Passwords and connection strings are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {BaseURL: %q, Username: %q, Password: [MASKED]}, ",
		c.Server.BaseURL, c.Server.Username))
	b.WriteString(fmt.Sprintf("Defaults: {Currency: %q, StartDate: %q, TrialCount: %d, LossPerspective: %q, AnalysisProfile: %q}, ",
		c.Defaults.Currency, c.Defaults.StartDate, c.Defaults.TrialCount, c.Defaults.LossPerspective, c.Defaults.AnalysisProfileUUID))
	b.WriteString(fmt.Sprintf("SQL: {Driver: %q, DSN: [MASKED]}, ", c.SQL.Driver))
	b.WriteString(fmt.Sprintf("Upload: {PoolSize: %d, PollInterval: %s, PollTimeout: %s, DryRun: %v}, ",
		c.Upload.PoolSize, c.Upload.PollInterval, c.Upload.PollTimeout, c.Upload.DryRun))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
