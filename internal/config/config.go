// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/morganforge/packmate/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete packmate configuration.
type Config struct {
	Version string `toml:"version"`

	// Backend connection
	API APIConfig `toml:"api"`

	// Source of the identity assertion
	Identity IdentityConfig `toml:"identity"`

	Chat    ChatConfig    `toml:"chat"`
	Audit   AuditConfig   `toml:"audit"`
	Log     LogConfig     `toml:"log"`
	Archive ArchiveConfig `toml:"archive"`
	UI      UIConfig      `toml:"ui"`
}

// APIConfig configures the backend client.
type APIConfig struct {
	// BaseURL is the mini-app API root, e.g. https://host/api/miniapp
	BaseURL string `toml:"base_url"`
	// TimeoutSecs bounds non-streaming requests
	TimeoutSecs int    `toml:"timeout_secs"`
	UserAgent   string `toml:"user_agent"`
	// RatePerSec limits outgoing requests; 0 disables the limiter
	RatePerSec float64 `toml:"rate_per_sec"`
	Burst      int     `toml:"burst"`
}

// Timeout returns TimeoutSecs as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// IdentityConfig says where the identity assertion comes from. InitData
// wins over InitDataFile; a file of "-" means stdin.
type IdentityConfig struct {
	InitData     string `toml:"init_data"`
	InitDataFile string `toml:"init_data_file"`
	// Haptics rings the terminal bell on errors
	Haptics bool `toml:"haptics"`
}

// ChatConfig contains chat settings.
type ChatConfig struct {
	HistoryPageSize int `toml:"history_page_size"`
}

// AuditConfig contains audit settings.
type AuditConfig struct {
	HistoryPageSize int `toml:"history_page_size"`
}

// LogConfig configures logging. Output is "stderr", "stdout" or "file".
type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	Output    string `toml:"output"`
	File      string `toml:"file"`
	AddSource bool   `toml:"add_source"`
}

// ArchiveConfig controls the local copy of finished exchanges.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// Theme is "auto", "dark" or "light"
	Theme string `toml:"theme"`
	// Markdown renders replies with glamour
	Markdown bool `toml:"markdown"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default page sizes and limits, mirrored from the backend.
const (
	DefaultChatPageSize  = 20
	DefaultAuditPageSize = 10
	MaxPageSize          = 50
)

// Default returns a Config with all defaults set.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".packmate"
	}
	return &Config{
		Version: "1",
		API: APIConfig{
			BaseURL:     "http://127.0.0.1:8000/api/miniapp",
			TimeoutSecs: 30,
			UserAgent:   "packmate/1.0",
			RatePerSec:  5,
			Burst:       5,
		},
		Identity: IdentityConfig{
			Haptics: true,
		},
		Chat:  ChatConfig{HistoryPageSize: DefaultChatPageSize},
		Audit: AuditConfig{HistoryPageSize: DefaultAuditPageSize},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
			File:   filepath.Join(dir, "packmate.log"),
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "archive.db"),
		},
		UI: UIConfig{
			Theme:    "auto",
			Markdown: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the packmate configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".packmate"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions narrows a config file to 0600. The file may hold
// an identity assertion.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file, or defaults when it does not exist,
// then applies .env and PACKMATE_* overrides and validates.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load with an explicit file. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg. Keys absent from the file keep the values
// already in cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Variables already set are not overridden
// and missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// SetDefaults fills zero values and clamps page sizes.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = d.API.UserAgent
	}
	if c.API.RatePerSec > 0 && c.API.Burst == 0 {
		c.API.Burst = d.API.Burst
	}

	if c.Chat.HistoryPageSize == 0 {
		c.Chat.HistoryPageSize = d.Chat.HistoryPageSize
	}
	if c.Chat.HistoryPageSize > MaxPageSize {
		c.Chat.HistoryPageSize = MaxPageSize
	}
	if c.Audit.HistoryPageSize == 0 {
		c.Audit.HistoryPageSize = d.Audit.HistoryPageSize
	}
	if c.Audit.HistoryPageSize > MaxPageSize {
		c.Audit.HistoryPageSize = MaxPageSize
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = d.Log.Output
	}
	if c.Log.File == "" {
		c.Log.File = d.Log.File
	}
	if c.Archive.Path == "" {
		c.Archive.Path = d.Archive.Path
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# packmate configuration file\n")
	buf.WriteString("# Generated by packmate - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"text", "json"}
	validOutputs = []string{"stderr", "stdout", "file"}
	validThemes  = []string{"auto", "dark", "light"}
)

// Validate checks the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil {
		add("api.base_url", fmt.Sprintf("invalid URL: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("api.base_url", "must use http or https")
	} else if u.Host == "" {
		add("api.base_url", "missing host")
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 600 {
		add("api.timeout_secs", "must be between 1 and 600")
	}
	if c.API.RatePerSec < 0 {
		add("api.rate_per_sec", "must not be negative")
	}
	if c.API.RatePerSec > 0 && c.API.Burst < 1 {
		add("api.burst", "must be at least 1 when rate_per_sec is set")
	}

	if c.Chat.HistoryPageSize < 1 || c.Chat.HistoryPageSize > MaxPageSize {
		add("chat.history_page_size", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	if c.Audit.HistoryPageSize < 1 || c.Audit.HistoryPageSize > MaxPageSize {
		add("audit.history_page_size", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}

	if !oneOf(strings.ToLower(c.Log.Level), validLevels) {
		add("log.level", "must be one of "+strings.Join(validLevels, ", "))
	}
	if !oneOf(c.Log.Format, validFormats) {
		add("log.format", "must be one of "+strings.Join(validFormats, ", "))
	}
	if !oneOf(c.Log.Output, validOutputs) {
		add("log.output", "must be one of "+strings.Join(validOutputs, ", "))
	}
	if c.Log.Output == "file" && c.Log.File == "" {
		add("log.file", "required when output is file")
	}

	if c.Archive.Enabled && c.Archive.Path == "" {
		add("archive.path", "required when the archive is enabled")
	}
	if !oneOf(c.UI.Theme, validThemes) {
		add("ui.theme", "must be one of "+strings.Join(validThemes, ", "))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// Environment variables read by ApplyEnvOverrides.
const (
	EnvServer       = "PACKMATE_SERVER"
	EnvInitData     = "PACKMATE_INIT_DATA"
	EnvInitDataFile = "PACKMATE_INIT_DATA_FILE"
	EnvLogLevel     = "PACKMATE_LOG_LEVEL"
	EnvArchive      = "PACKMATE_ARCHIVE"
)

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PACKMATE_SERVER: overrides api.base_url
//   - PACKMATE_INIT_DATA: overrides identity.init_data
//   - PACKMATE_INIT_DATA_FILE: overrides identity.init_data_file
//   - PACKMATE_LOG_LEVEL: overrides log.level
//   - PACKMATE_ARCHIVE: "0"/"false" disables the archive, any other value
//     enables it at that path
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvServer); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvInitData); v != "" {
		c.Identity.InitData = v
	}
	if v := os.Getenv(EnvInitDataFile); v != "" {
		c.Identity.InitDataFile = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvArchive); v != "" {
		switch strings.ToLower(v) {
		case "0", "false", "off":
			c.Archive.Enabled = false
		case "1", "true", "on":
			c.Archive.Enabled = true
		default:
			c.Archive.Enabled = true
			c.Archive.Path = v
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "api.base_url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent. "base_url" becomes "BaseUrl", matched case-insensitively.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				switch strings.ToLower(strVal) {
				case "yes", "on":
					boolVal = true
				case "no", "off":
					boolVal = false
				default:
					return fmt.Errorf("invalid boolean value: %q", strVal)
				}
			}
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Keys returns every settable key in dot notation, in declaration order.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("toml"), ",")[0]
		if f.Type.Kind() != reflect.Struct {
			keys = append(keys, tag)
			continue
		}
		for j := 0; j < f.Type.NumField(); j++ {
			sub := strings.Split(f.Type.Field(j).Tag.Get("toml"), ",")[0]
			keys = append(keys, tag+"."+sub)
		}
	}
	return keys
}

// Clone returns a copy of the config. Config holds no reference types, so a
// value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as TOML with the identity assertion redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Identity.InitData != "" {
		safe.Identity.InitData = "[REDACTED]"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
