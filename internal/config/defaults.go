package config

import (
	"slices"
	"time"

	"github.com/MLenaBleile/sandy/internal/agent"
	"github.com/MLenaBleile/sandy/internal/corpus"
	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/preprocess"
	"github.com/MLenaBleile/sandy/internal/retry"
	"github.com/MLenaBleile/sandy/internal/selector"
	"github.com/MLenaBleile/sandy/internal/sources"
	"github.com/MLenaBleile/sandy/internal/validate"
	"github.com/MLenaBleile/sandy/internal/watcher"
)

// Default returns the full default configuration. Relative paths resolve
// against the home directory when loaded.
func Default() Config {
	p := retry.DefaultPolicy()
	return Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8080,
			RequestTimeout: 120 * time.Second,
			MaxBodyBytes:   1 << 20,
			SearchLimit:    20,
		},
		Storage: StorageConfig{
			DatabasePath:   ".sandy/sandy.db",
			BleveIndexPath: ".sandy/index.bleve",
		},
		LLM:       llm.DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		Retry: RetryConfig{
			MaxRetries:      p.MaxRetries,
			BaseDelay:       p.BaseDelay,
			MaxDelay:        p.MaxDelay,
			ExponentialBase: p.ExponentialBase,
			Jitter:          p.Jitter,
		},
		Preprocess: preprocess.DefaultConfig(),
		Selection:  selector.DefaultConfig(),
		Validation: validate.DefaultConfig(),
		Corpus:     CorpusConfig{IngredientMatchThreshold: corpus.DefaultMatchThreshold},
		Agent:      agent.DefaultConfig(),
		Inbox: watcher.Config{
			Dir:        ".sandy/inbox",
			Debounce:   400 * time.Millisecond,
			Extensions: slices.Clone(watcher.DefaultExtensions),
		},
		Sources: SourcesConfig{
			Default:            "wikipedia",
			WikipediaPerMinute: sources.DefaultWikipediaRate,
			WebPerMinute:       30,
		},
	}
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	d := Default()
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = d.Server.RequestTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if cfg.Server.SearchLimit == 0 {
		cfg.Server.SearchLimit = d.Server.SearchLimit
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = d.Storage.DatabasePath
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = d.Storage.BleveIndexPath
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = d.LLM.Model
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = d.LLM.Timeout
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = d.Embedding.Provider
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = d.Embedding.Model
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = d.Embedding.Timeout
	}
	if cfg.Retry.ExponentialBase == 0 {
		cfg.Retry.ExponentialBase = d.Retry.ExponentialBase
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if cfg.Preprocess.MaxLength == 0 {
		cfg.Preprocess.MaxLength = d.Preprocess.MaxLength
	}
	if len(cfg.Preprocess.AllowedLanguages) == 0 {
		cfg.Preprocess.AllowedLanguages = d.Preprocess.AllowedLanguages
	}
	if cfg.Preprocess.BoilerplatePatterns == nil {
		cfg.Preprocess.BoilerplatePatterns = d.Preprocess.BoilerplatePatterns
	}
	if cfg.Validation.WeightSum() == 0 {
		cfg.Validation = d.Validation
	}
	if cfg.Corpus.IngredientMatchThreshold == 0 {
		cfg.Corpus.IngredientMatchThreshold = d.Corpus.IngredientMatchThreshold
	}
	if cfg.Agent.MaxPatience == 0 {
		cfg.Agent.MaxPatience = d.Agent.MaxPatience
	}
	if cfg.Agent.RecentTopics == 0 {
		cfg.Agent.RecentTopics = d.Agent.RecentTopics
	}
	if cfg.Inbox.Dir == "" {
		cfg.Inbox.Dir = d.Inbox.Dir
	}
	if cfg.Inbox.Debounce == 0 {
		cfg.Inbox.Debounce = d.Inbox.Debounce
	}
	if len(cfg.Inbox.Extensions) == 0 {
		cfg.Inbox.Extensions = d.Inbox.Extensions
	}
	if cfg.Sources.Default == "" {
		cfg.Sources.Default = d.Sources.Default
	}
}
