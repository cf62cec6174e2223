// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	// SystemPrompt replaces the built-in system prompt when set.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`

	// Input limits
	Limits LimitsConfig `toml:"limits" json:"limits"`

	// Provider request retry and pacing
	Fetch FetchConfig `toml:"fetch" json:"fetch"`

	// Durable-save retry policy
	Save SaveConfig `toml:"save" json:"save"`

	// Chat and settings storage
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Sync between rigchat processes
	Sync SyncConfig `toml:"sync" json:"sync"`

	// Logging
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// LimitsConfig bounds user input.
type LimitsConfig struct {
	MaxTitleLength     int `toml:"max_title_length" json:"max_title_length"`
	TitlePreviewLength int `toml:"title_preview_length" json:"title_preview_length"`
	MaxMessageLength   int `toml:"max_message_length" json:"max_message_length"`
	MaxMessagesPerChat int `toml:"max_messages_per_chat" json:"max_messages_per_chat"`
	MaxImageBytes      int `toml:"max_image_bytes" json:"max_image_bytes"`
}

// FetchConfig controls provider request retries.
type FetchConfig struct {
	// MaxAttempts bounds attempts per request, first included (default: 3)
	MaxAttempts int `toml:"max_attempts" json:"max_attempts"`

	// BaseDelayMs is the first backoff delay; it doubles per retry (default: 500)
	BaseDelayMs int `toml:"base_delay_ms" json:"base_delay_ms"`

	// MaxDelayMs caps the backoff delay (default: 10000)
	MaxDelayMs int `toml:"max_delay_ms" json:"max_delay_ms"`

	// RequestsPerSecond paces requests client-side. Zero disables pacing.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`

	// Burst is the pacing bucket size (default: 1)
	Burst int `toml:"burst" json:"burst"`
}

// BaseDelay returns BaseDelayMs as a duration.
func (f FetchConfig) BaseDelay() time.Duration {
	return time.Duration(f.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns MaxDelayMs as a duration.
func (f FetchConfig) MaxDelay() time.Duration {
	return time.Duration(f.MaxDelayMs) * time.Millisecond
}

// SaveConfig controls durable saves.
type SaveConfig struct {
	MaxAttempts       int `toml:"max_attempts" json:"max_attempts"`
	RetryDelayMs      int `toml:"retry_delay_ms" json:"retry_delay_ms"`
	SweepIntervalSecs int `toml:"sweep_interval_secs" json:"sweep_interval_secs"`
}

// RetryDelay returns RetryDelayMs as a duration.
func (s SaveConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// SweepInterval returns SweepIntervalSecs as a duration.
func (s SaveConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSecs) * time.Second
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is file, sqlite or memory (default: file)
	Backend string `toml:"backend" json:"backend"`

	// DataDir holds chats, settings and sync notices (default: ~/.rigchat/data)
	DataDir string `toml:"data_dir" json:"data_dir"`
}

// Sync modes.
const (
	SyncFile   = "file"
	SyncMemory = "memory"
	SyncNone   = "none"
)

// SyncConfig selects how sibling processes learn about changes.
type SyncConfig struct {
	// Mode is file, memory or none (default: file)
	Mode string `toml:"mode" json:"mode"`

	// NoticeTTLSecs is how long a notice file is kept (default: 60)
	NoticeTTLSecs int `toml:"notice_ttl_secs" json:"notice_ttl_secs"`
}

// NoticeTTL returns NoticeTTLSecs as a duration.
func (s SyncConfig) NoticeTTL() time.Duration {
	return time.Duration(s.NoticeTTLSecs) * time.Second
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: warn)
	Level string `toml:"level" json:"level"`

	// Format is console or json (default: console)
	Format string `toml:"format" json:"format"`

	// Output is stderr, stdout or a file path (default: stderr)
	Output string `toml:"output" json:"output"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxTitleLength:     100,
			TitlePreviewLength: 50,
			MaxMessageLength:   32000,
			MaxMessagesPerChat: 1000,
			MaxImageBytes:      5 << 20,
		},
		Fetch: FetchConfig{
			MaxAttempts: 3,
			BaseDelayMs: 500,
			MaxDelayMs:  10000,
			Burst:       1,
		},
		Save: SaveConfig{
			MaxAttempts:       3,
			RetryDelayMs:      500,
			SweepIntervalSecs: 30,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
		},
		Sync: SyncConfig{
			Mode:          SyncFile,
			NoticeTTLSecs: 60,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the configured data directory, or ~/.rigchat/data.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return expandHome(c.Storage.DataDir)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// SyncDir returns the directory notice files are exchanged through.
func (c *Config) SyncDir() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sync"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
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

// Load loads ~/.rigchat/config.toml, or the defaults when it does not exist.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from path. A missing file yields the
// defaults; a malformed or invalid one is an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
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
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return fillDefaults(cfg)
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	// Limits
	if cfg.Limits.MaxTitleLength == 0 {
		cfg.Limits.MaxTitleLength = defaults.Limits.MaxTitleLength
	}
	if cfg.Limits.TitlePreviewLength == 0 {
		cfg.Limits.TitlePreviewLength = defaults.Limits.TitlePreviewLength
	}
	if cfg.Limits.MaxMessageLength == 0 {
		cfg.Limits.MaxMessageLength = defaults.Limits.MaxMessageLength
	}
	if cfg.Limits.MaxMessagesPerChat == 0 {
		cfg.Limits.MaxMessagesPerChat = defaults.Limits.MaxMessagesPerChat
	}
	if cfg.Limits.MaxImageBytes == 0 {
		cfg.Limits.MaxImageBytes = defaults.Limits.MaxImageBytes
	}

	// Fetch
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = defaults.Fetch.MaxAttempts
	}
	if cfg.Fetch.BaseDelayMs == 0 {
		cfg.Fetch.BaseDelayMs = defaults.Fetch.BaseDelayMs
	}
	if cfg.Fetch.MaxDelayMs == 0 {
		cfg.Fetch.MaxDelayMs = defaults.Fetch.MaxDelayMs
	}
	if cfg.Fetch.Burst == 0 {
		cfg.Fetch.Burst = defaults.Fetch.Burst
	}

	// Save
	if cfg.Save.MaxAttempts == 0 {
		cfg.Save.MaxAttempts = defaults.Save.MaxAttempts
	}
	if cfg.Save.RetryDelayMs == 0 {
		cfg.Save.RetryDelayMs = defaults.Save.RetryDelayMs
	}
	if cfg.Save.SweepIntervalSecs == 0 {
		cfg.Save.SweepIntervalSecs = defaults.Save.SweepIntervalSecs
	}

	// Storage / Sync
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Sync.Mode == "" {
		cfg.Sync.Mode = defaults.Sync.Mode
	}
	if cfg.Sync.NoticeTTLSecs == 0 {
		cfg.Sync.NoticeTTLSecs = defaults.Sync.NoticeTTLSecs
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaults.Logging.Output
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to ~/.rigchat/config.toml.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file.
// SECURITY: Config files are written 0600 (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents a torn file on crash.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# rigchat configuration file")
	fmt.Fprintln(&buf, "# Generated by rigchat - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
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

// Validate validates the configuration and returns any errors as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	positive := func(field string, v int) {
		if v <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("must be positive, got %d", v)})
		}
	}

	// ==========================================================================
	// Limits
	// ==========================================================================

	positive("limits.max_title_length", c.Limits.MaxTitleLength)
	positive("limits.title_preview_length", c.Limits.TitlePreviewLength)
	positive("limits.max_message_length", c.Limits.MaxMessageLength)
	positive("limits.max_messages_per_chat", c.Limits.MaxMessagesPerChat)
	positive("limits.max_image_bytes", c.Limits.MaxImageBytes)
	if c.Limits.TitlePreviewLength > c.Limits.MaxTitleLength {
		errs = append(errs, ValidationError{
			Field:   "limits.title_preview_length",
			Message: fmt.Sprintf("must not exceed max_title_length (%d)", c.Limits.MaxTitleLength),
		})
	}

	// ==========================================================================
	// Fetch / Save
	// ==========================================================================

	positive("fetch.max_attempts", c.Fetch.MaxAttempts)
	positive("fetch.base_delay_ms", c.Fetch.BaseDelayMs)
	if c.Fetch.MaxDelayMs < c.Fetch.BaseDelayMs {
		errs = append(errs, ValidationError{
			Field:   "fetch.max_delay_ms",
			Message: fmt.Sprintf("must be at least base_delay_ms (%d)", c.Fetch.BaseDelayMs),
		})
	}
	if c.Fetch.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "fetch.requests_per_second", Message: "must not be negative"})
	}
	positive("fetch.burst", c.Fetch.Burst)

	positive("save.max_attempts", c.Save.MaxAttempts)
	positive("save.retry_delay_ms", c.Save.RetryDelayMs)
	positive("save.sweep_interval_secs", c.Save.SweepIntervalSecs)

	// ==========================================================================
	// Storage / Sync / Logging
	// ==========================================================================

	switch strings.ToLower(c.Storage.Backend) {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite, memory", c.Storage.Backend),
		})
	}

	switch strings.ToLower(c.Sync.Mode) {
	case SyncFile, SyncMemory, SyncNone:
	default:
		errs = append(errs, ValidationError{
			Field:   "sync.mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: file, memory, none", c.Sync.Mode),
		})
	}
	positive("sync.notice_ttl_secs", c.Sync.NoticeTTLSecs)

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: console, json", c.Logging.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - RIGCHAT_DATA_DIR: overrides storage.data_dir
//   - RIGCHAT_STORAGE: overrides storage.backend
//   - RIGCHAT_SYNC: overrides sync.mode
//   - RIGCHAT_LOG_LEVEL: overrides logging.level
//   - RIGCHAT_SYSTEM_PROMPT: overrides system_prompt
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv("RIGCHAT_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if backend := os.Getenv("RIGCHAT_STORAGE"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if mode := os.Getenv("RIGCHAT_SYNC"); mode != "" {
		c.Sync.Mode = strings.ToLower(mode)
	}
	if level := os.Getenv("RIGCHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	if prompt := os.Getenv("RIGCHAT_SYSTEM_PROMPT"); prompt != "" {
		c.SystemPrompt = prompt
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "save.max_attempts").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value from its string form using dot notation.
func (c *Config) Set(key, value string) error {
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
	if strings.TrimSpace(key) == "" {
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
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a value", key)
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

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(part[1:])
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", value)
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", value)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", value)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := strings.Split(f.Tag.Get("toml"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+name+".")
				continue
			}
			keys = append(keys, prefix+name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// UTILITY
// =============================================================================

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns an indented JSON rendering for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
