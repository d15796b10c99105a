// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config handles chatterm configuration loading and management.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatterm/internal/cloud"
	"github.com/jeranaias/chatterm/internal/storage"
	"github.com/jeranaias/chatterm/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the main configuration structure for chatterm.
// It never carries the provider credential; only the name of the
// environment variable that holds it.
type Config struct {
	Provider ProviderConfig `toml:"provider" json:"provider"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Reveal   RevealConfig   `toml:"reveal" json:"reveal"`
	UI       UIConfig       `toml:"ui" json:"ui"`
	Log      LogConfig      `toml:"log" json:"log"`
}

// ProviderConfig holds the completion endpoint and sampling settings.
type ProviderConfig struct {
	Endpoint     string  `toml:"endpoint" json:"endpoint"`
	Model        string  `toml:"model" json:"model"`
	Temperature  float64 `toml:"temperature" json:"temperature"`
	TopP         float64 `toml:"top_p" json:"top_p"`
	MaxTokens    int     `toml:"max_tokens" json:"max_tokens"`
	SystemPrompt string  `toml:"system_prompt" json:"system_prompt"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `toml:"api_key_env" json:"api_key_env"`
}

// StorageConfig selects where the conversation log is persisted.
type StorageConfig struct {
	Backend string `toml:"backend" json:"backend"` // bolt, sqlite, file, memory
	Path    string `toml:"path" json:"path"`       // empty = backend default under the config dir
	Key     string `toml:"key" json:"key"`
}

// RevealConfig controls the progressive reveal of replies.
type RevealConfig struct {
	BaseDelayMS       int `toml:"base_delay_ms" json:"base_delay_ms"`
	PersistIntervalMS int `toml:"persist_interval_ms" json:"persist_interval_ms"`
}

// UIConfig contains terminal UI preferences.
type UIConfig struct {
	Theme          string `toml:"theme" json:"theme"` // auto, dark, light
	ShowTimestamps bool   `toml:"show_timestamps" json:"show_timestamps"`
	AltScreen      bool   `toml:"alt_screen" json:"alt_screen"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string `toml:"level" json:"level"`     // debug, info, warn, error
	File    string `toml:"file" json:"file"`       // empty = chatterm.log in the config dir
	Console bool   `toml:"console" json:"console"` // write to stderr instead of the file
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

const (
	DefaultBaseDelayMS = 20
	DefaultPersistMS   = 250
	DefaultTheme       = "auto"
	DefaultLogLevel    = "info"
)

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Endpoint:     cloud.DefaultEndpoint,
			Model:        cloud.DefaultModel,
			Temperature:  cloud.DefaultTemperature,
			TopP:         cloud.DefaultTopP,
			MaxTokens:    cloud.DefaultMaxTokens,
			SystemPrompt: cloud.DefaultSystemPrompt,
			APIKeyEnv:    cloud.DefaultKeyEnv,
		},
		Storage: StorageConfig{
			Backend: string(storage.BackendBolt),
			Key:     storage.DefaultKey,
		},
		Reveal: RevealConfig{
			BaseDelayMS:       DefaultBaseDelayMS,
			PersistIntervalMS: DefaultPersistMS,
		},
		UI: UIConfig{
			Theme:          DefaultTheme,
			ShowTimestamps: true,
			AltScreen:      true,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// HomeEnv overrides the configuration directory when set.
const HomeEnv = "CHATTERM_HOME"

// ConfigDir returns the chatterm configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return util.ExpandHome(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatterm"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, util.PrivateDirPerm)
}

// ensureSecurePermissions checks and fixes permissions on config files.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != util.PrivateFilePerm {
		if err := os.Chmod(path, util.PrivateFilePerm); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file, falling back to
// defaults when the file does not exist. Environment overrides are applied
// last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadTOML decodes a TOML file over cfg. Keys missing from the file keep
// the values already in cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not ensure secure permissions on config file")
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
		log.Warn().Strs("keys", keys).Str("path", path).Msg("ignoring unknown config keys")
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	expanded, err := util.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := LoadTOML(cfg, expanded); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills in string settings left empty by the file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Provider.Endpoint == "" {
		c.Provider.Endpoint = d.Provider.Endpoint
	}
	if c.Provider.Model == "" {
		c.Provider.Model = d.Provider.Model
	}
	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = d.Provider.APIKeyEnv
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Key == "" {
		c.Storage.Key = d.Storage.Key
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}

	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	c.UI.Theme = strings.ToLower(c.UI.Theme)
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	path, err := util.ExpandHome(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), util.PrivateDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# chatterm configuration file")
	fmt.Fprintln(&buf, "# Generated by chatterm - edit with care")
	fmt.Fprintln(&buf, "#")
	fmt.Fprintf(&buf, "# The API key is read from the environment variable named by\n")
	fmt.Fprintf(&buf, "# provider.api_key_env (or a .env file); it is never stored here.\n")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), util.PrivateFilePerm); err != nil {
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validThemes   = []string{"auto", "dark", "light"}
	validLevels   = []string{"debug", "info", "warn", "error"}

	envNamePattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	storageKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Provider
	if u, err := url.Parse(c.Provider.Endpoint); err != nil {
		add("provider.endpoint", "invalid URL: %v", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("provider.endpoint", "scheme must be http or https, got '%s'", u.Scheme)
	} else if u.Host == "" {
		add("provider.endpoint", "missing host")
	}
	if strings.TrimSpace(c.Provider.Model) == "" {
		add("provider.model", "must not be empty")
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		add("provider.temperature", "must be between 0 and 2, got %g", c.Provider.Temperature)
	}
	if c.Provider.TopP <= 0 || c.Provider.TopP > 1 {
		add("provider.top_p", "must be in (0, 1], got %g", c.Provider.TopP)
	}
	if c.Provider.MaxTokens < 1 || c.Provider.MaxTokens > 131072 {
		add("provider.max_tokens", "must be between 1 and 131072, got %d", c.Provider.MaxTokens)
	}
	if !envNamePattern.MatchString(c.Provider.APIKeyEnv) {
		add("provider.api_key_env", "invalid environment variable name '%s'", c.Provider.APIKeyEnv)
	}

	// Storage
	if _, err := storage.ParseBackend(c.Storage.Backend); err != nil || c.Storage.Backend == "" {
		names := make([]string, 0, len(storage.Backends()))
		for _, b := range storage.Backends() {
			names = append(names, string(b))
		}
		add("storage.backend", "invalid backend '%s', must be one of: %s", c.Storage.Backend, strings.Join(names, ", "))
	}
	if !storageKeyPattern.MatchString(c.Storage.Key) {
		add("storage.key", "invalid key '%s', use letters, digits, '.', '_' or '-'", c.Storage.Key)
	}

	// Reveal
	if c.Reveal.BaseDelayMS < 1 || c.Reveal.BaseDelayMS > 1000 {
		add("reveal.base_delay_ms", "must be between 1 and 1000, got %d", c.Reveal.BaseDelayMS)
	}
	if c.Reveal.PersistIntervalMS < 0 || c.Reveal.PersistIntervalMS > 60000 {
		add("reveal.persist_interval_ms", "must be between 0 and 60000, got %d", c.Reveal.PersistIntervalMS)
	}

	// UI
	if !contains(validThemes, c.UI.Theme) {
		add("ui.theme", "invalid theme '%s', must be one of: %s", c.UI.Theme, strings.Join(validThemes, ", "))
	}

	// Log
	if !contains(validLevels, c.Log.Level) {
		add("log.level", "invalid level '%s', must be one of: %s", c.Log.Level, strings.Join(validLevels, ", "))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATTERM_MODEL: overrides provider.model
//   - CHATTERM_ENDPOINT: overrides provider.endpoint
//   - CHATTERM_STORAGE_BACKEND: overrides storage.backend
//   - CHATTERM_STORAGE_PATH: overrides storage.path
//   - CHATTERM_LOG_LEVEL: overrides log.level
//   - CHATTERM_REVEAL_DELAY_MS: overrides reveal.base_delay_ms
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("CHATTERM_MODEL"); model != "" {
		c.Provider.Model = model
	}

	if endpoint := os.Getenv("CHATTERM_ENDPOINT"); endpoint != "" {
		c.Provider.Endpoint = endpoint
	}

	if backend := os.Getenv("CHATTERM_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}

	if path := os.Getenv("CHATTERM_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}

	if level := os.Getenv("CHATTERM_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}

	if delay := os.Getenv("CHATTERM_REVEAL_DELAY_MS"); delay != "" {
		if ms, err := strconv.Atoi(delay); err == nil {
			c.Reveal.BaseDelayMS = ms
		} else {
			log.Warn().Str("value", delay).Msg("ignoring invalid CHATTERM_REVEAL_DELAY_MS")
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "provider.top_p").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "reveal.base_delay_ms").
// String values are converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if field.Kind() == reflect.Struct {
		return fmt.Errorf("cannot set section: %s", key)
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
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
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
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
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
				return fmt.Errorf("invalid boolean value: %v", err)
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

// Keys returns all configuration keys in dot notation, sorted.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone creates a copy of the configuration. Config holds only value
// fields, so a struct copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns an indented JSON view of the config for display.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// CloudConfig returns the completion client settings.
func (c *Config) CloudConfig() cloud.Config {
	return cloud.Config{
		Endpoint:     c.Provider.Endpoint,
		Model:        c.Provider.Model,
		Temperature:  c.Provider.Temperature,
		TopP:         c.Provider.TopP,
		MaxTokens:    c.Provider.MaxTokens,
		SystemPrompt: c.Provider.SystemPrompt,
	}
}

// StorageBackend returns the configured KV backend.
func (c *Config) StorageBackend() (storage.Backend, error) {
	return storage.ParseBackend(c.Storage.Backend)
}

// StoragePath resolves the storage location. An empty storage.path selects
// the backend's default file inside the config directory.
func (c *Config) StoragePath() (string, error) {
	backend, err := c.StorageBackend()
	if err != nil {
		return "", err
	}
	if c.Storage.Path != "" {
		return util.ExpandHome(c.Storage.Path)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return storage.DefaultPath(dir, backend), nil
}

// LogPath returns the log file location.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return util.ExpandHome(c.Log.File)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chatterm.log"), nil
}

// RevealDelay returns the base per-character reveal delay.
func (c *Config) RevealDelay() time.Duration {
	return time.Duration(c.Reveal.BaseDelayMS) * time.Millisecond
}

// PersistInterval returns the minimum spacing of saves during a reveal.
func (c *Config) PersistInterval() time.Duration {
	return time.Duration(c.Reveal.PersistIntervalMS) * time.Millisecond
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("using default configuration")
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
