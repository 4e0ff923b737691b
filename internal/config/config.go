// Package config loads fieldsave.yaml.
//
// A config file is optional. When present it is checked against an embedded
// CUE schema first (types, allowed values, no unknown keys) and then decoded
// strictly over the defaults.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Defaults.
const (
	DefaultDatabase        = "drafts.db"
	DefaultKeyFile         = "device.key"
	DefaultNamespace       = "caseflow_encrypted_"
	DefaultDebounce        = time.Second
	DefaultCompletionGrace = 5 * time.Second
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultCleanupInterval = 24 * time.Hour
)

// Config is the resolved configuration.
type Config struct {
	DataDir   string   `yaml:"data_dir"`
	Database  string   `yaml:"database"`
	KeyFile   string   `yaml:"key_file"`
	Namespace string   `yaml:"namespace"`
	Autosave  Autosave `yaml:"autosave"`
	Recovery  Recovery `yaml:"recovery"`
	Log       Log      `yaml:"log"`
}

// Autosave holds engine timing.
type Autosave struct {
	Enabled         bool     `yaml:"enabled"`
	Debounce        Duration `yaml:"debounce"`
	CompletionGrace Duration `yaml:"completion_grace"`
	Retention       Duration `yaml:"retention"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// Recovery holds recovery prompt behaviour.
type Recovery struct {
	Enabled             bool `yaml:"enabled"`
	RepromptAfterCancel bool `yaml:"reprompt_after_cancel"`
}

// Log holds logging settings.
type Log struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses "1s", "168h" and the like.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"1s\"", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:   dataDir,
		Database:  DefaultDatabase,
		KeyFile:   DefaultKeyFile,
		Namespace: DefaultNamespace,
		Autosave: Autosave{
			Enabled:         true,
			Debounce:        Duration(DefaultDebounce),
			CompletionGrace: Duration(DefaultCompletionGrace),
			Retention:       Duration(DefaultRetention),
			CleanupInterval: Duration(DefaultCleanupInterval),
		},
		Recovery: Recovery{
			Enabled:             true,
			RepromptAfterCancel: true,
		},
		Log: Log{Level: "info"},
	}
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "fieldsave")
	}
	return ".fieldsave"
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default(DefaultDataDir())
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(filepath.Dir(path), cfg.DataDir)
	}
	return cfg, cfg.Validate()
}

// Parse validates data against the schema and decodes it into cfg.
func Parse(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := checkSchema(data); err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func checkSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Autosave.Debounce < 0 {
		errs = append(errs, errors.New("autosave.debounce must not be negative"))
	}
	if c.Autosave.CompletionGrace < 0 {
		errs = append(errs, errors.New("autosave.completion_grace must not be negative"))
	}
	if c.Autosave.Retention <= 0 {
		errs = append(errs, errors.New("autosave.retention must be positive"))
	}
	if c.Autosave.CleanupInterval <= 0 {
		errs = append(errs, errors.New("autosave.cleanup_interval must be positive"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DatabasePath resolves Database against DataDir.
func (c *Config) DatabasePath() string {
	return c.resolve(c.Database)
}

// KeyFilePath resolves KeyFile against DataDir.
func (c *Config) KeyFilePath() string {
	return c.resolve(c.KeyFile)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
