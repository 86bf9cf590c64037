// Package config provides configuration loading and structs for Sandy.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/MLenaBleile/sandy/internal/agent"
	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/pipeline"
	"github.com/MLenaBleile/sandy/internal/preprocess"
	"github.com/MLenaBleile/sandy/internal/retry"
	"github.com/MLenaBleile/sandy/internal/selector"
	"github.com/MLenaBleile/sandy/internal/validate"
	"github.com/MLenaBleile/sandy/internal/watcher"
)

// EnvPrefix prefixes environment overrides. Nested keys are joined with a
// double underscore, e.g. SANDWICH_LLM__MODEL.
const EnvPrefix = "SANDWICH"

// Config holds all configuration for the application.
type Config struct {
	Debug      bool              `yaml:"debug" mapstructure:"debug"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Storage    StorageConfig     `yaml:"storage" mapstructure:"storage"`
	LLM        llm.Config        `yaml:"llm" mapstructure:"llm"`
	Embedding  embedding.Config  `yaml:"embedding" mapstructure:"embedding"`
	Retry      RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Preprocess preprocess.Config `yaml:"preprocess" mapstructure:"preprocess"`
	Selection  selector.Config   `yaml:"selection" mapstructure:"selection"`
	Validation validate.Config   `yaml:"validation" mapstructure:"validation"`
	Corpus     CorpusConfig      `yaml:"corpus" mapstructure:"corpus"`
	Agent      agent.Config      `yaml:"agent" mapstructure:"agent"`
	Inbox      watcher.Config    `yaml:"inbox" mapstructure:"inbox"`
	Sources    SourcesConfig     `yaml:"sources" mapstructure:"sources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gte=0"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"gte=0"`
	SearchLimit    int           `yaml:"search_limit" mapstructure:"search_limit" validate:"gte=1"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the database and the search index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path" mapstructure:"database_path" validate:"required"`
	BleveIndexPath string `yaml:"bleve_index_path" mapstructure:"bleve_index_path" validate:"required"`
}

// RetryConfig is the backoff applied to retryable generator, embedder and
// source failures.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	BaseDelay       time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay        time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	ExponentialBase float64       `yaml:"exponential_base" mapstructure:"exponential_base" validate:"gte=1"`
	Jitter          bool          `yaml:"jitter" mapstructure:"jitter"`
}

// Policy converts the config to a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:      r.MaxRetries,
		BaseDelay:       r.BaseDelay,
		MaxDelay:        r.MaxDelay,
		ExponentialBase: r.ExponentialBase,
		Jitter:          r.Jitter,
	}
}

// CorpusConfig holds corpus settings.
type CorpusConfig struct {
	IngredientMatchThreshold float64 `yaml:"ingredient_match_threshold" mapstructure:"ingredient_match_threshold" validate:"gt=0,lte=1"`
}

// SourcesConfig holds content source settings.
type SourcesConfig struct {
	Default            string `yaml:"default" mapstructure:"default" validate:"oneof=wikipedia topic"`
	WikipediaPerMinute int    `yaml:"wikipedia_per_minute" mapstructure:"wikipedia_per_minute" validate:"gte=0"`
	WebPerMinute       int    `yaml:"web_per_minute" mapstructure:"web_per_minute" validate:"gte=0"`
}

// Pipeline returns the stage settings for pipeline.New.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Preprocess: c.Preprocess,
		Selection:  c.Selection,
		Validation: c.Validation,
	}
}

// Load reads the config file at path over the defaults, expands paths,
// applies SANDWICH_ environment overrides and validates the result. An empty
// path loads defaults and environment only, with paths relative to the
// working directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	configDir := "."
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	ApplyDefaults(&cfg)
	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Inbox.Dir = expandPath(cfg.Inbox.Dir, configDir)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays SANDWICH_* variables on cfg. The config is round-tripped
// through viper so every key already present can be overridden.
func applyEnv(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()
	return v.Unmarshal(cfg)
}

var checker = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if err := checker.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validation.Check(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
			return abs
		}
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
