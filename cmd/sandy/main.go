// Package main is the Sandy CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/cli"
	"github.com/MLenaBleile/sandy/internal/config"
	"github.com/MLenaBleile/sandy/internal/corpus"
	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/events"
	"github.com/MLenaBleile/sandy/internal/indexer"
	"github.com/MLenaBleile/sandy/internal/keyword"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/pipeline"
	"github.com/MLenaBleile/sandy/internal/preprocess"
	"github.com/MLenaBleile/sandy/internal/search"
	"github.com/MLenaBleile/sandy/internal/storage"
	"github.com/MLenaBleile/sandy/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/sandy/config.yaml"

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the global flags. generator and detector replace the
// configured ones when set.
type app struct {
	configPath string
	debug      bool
	output     string

	generator llm.Generator
	detector  preprocess.LanguageDetector
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sandy",
		Short: "Sandy turns content into validated sandwich records",
		Long: `sandy finds two bounding concepts and the thing they jointly constrain in
a piece of text, scores the result, and keeps the ones that hold up.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.output, "output", "text", "output format: text or json")

	root.AddCommand(
		newServeCmd(a),
		newMakeCmd(a),
		newForageCmd(a),
		newWatchCmd(a),
		newSearchCmd(a),
		newStatsCmd(a),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists; when neither exists the built-in
// defaults are used. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg, err := config.Load("")
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads the config, builds the logger and parses the output format.
func (a *app) setup() (*config.Config, *zap.Logger, cli.OutputFormat, error) {
	format, err := cli.ParseOutputFormat(a.output)
	if err != nil {
		return nil, nil, "", err
	}
	cfg, resolved, err := loadConfig(a.configPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || a.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, format, nil
}

// Components holds initialized services.
type Components struct {
	Config    *config.Config
	Logger    *zap.Logger
	Storage   *storage.SQLiteStorage
	Keyword   *keyword.BleveIndex
	Embedder  embedding.Embedder
	Generator llm.Generator
	Corpus    *corpus.Corpus
	Events    *events.Bus
	Pipeline  *pipeline.Pipeline
	Indexer   *indexer.Indexer
	Engine    *search.Engine
}

// Close releases storage and indexes.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	_ = c.Logger.Sync()
}

// DiskPaths are the on-disk artifacts counted by stats.
func (c *Components) DiskPaths() []string {
	return []string{c.Config.Storage.DatabasePath, c.Config.Storage.BleveIndexPath}
}

// initializeComponents opens storage and the keyword index, reloads the
// corpus, and builds search. With makeSandwiches set it also builds the
// generator and the pipeline; without it a missing embedder only disables
// semantic search.
func (a *app) initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, makeSandwiches bool) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Keyword = kw

	policy := cfg.Retry.Policy()
	emb, err := embedding.New(cfg.Embedding, policy, logger)
	if err != nil {
		if makeSandwiches {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		logger.Warn("embedder unavailable, search is keyword-only", zap.Error(err))
	}
	c.Embedder = emb

	c.Corpus = corpus.New(corpus.WithMatchThreshold(cfg.Corpus.IngredientMatchThreshold))
	records, ingredients, err := storage.LoadCorpus(ctx, store, c.Corpus)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	logger.Info("corpus loaded", zap.Int("records", records), zap.Int("ingredients", ingredients))

	c.Events = events.New(events.WithLogger(logger))

	idxOpts := []indexer.IndexerOption{indexer.WithLogger(logger)}
	if makeSandwiches {
		gen := a.generator
		if gen == nil {
			oa, err := llm.NewOpenAIGenerator(cfg.LLM, policy, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize generator: %w", err)
			}
			gen = oa
		}
		c.Generator = gen
		detector := a.detector
		if detector == nil {
			detector = preprocess.NewLinguaDetector()
		}
		p, err := pipeline.New(cfg.Pipeline(), c.Corpus, gen, emb, detector,
			pipeline.WithLogger(logger),
			pipeline.WithPublisher(c.Events))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		c.Pipeline = p
		idxOpts = append(idxOpts, indexer.WithMaker(p))
	}
	c.Indexer = indexer.NewIndexer(store, kw, idxOpts...)
	if n, err := c.Indexer.EnsureIndexed(ctx); err != nil {
		logger.Warn("keyword index rebuild failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("keyword index rebuilt", zap.Int("records", n))
	}

	engineOpts := []search.EngineOption{search.WithLogger(logger)}
	if emb != nil {
		engineOpts = append(engineOpts, search.WithSemantic(emb, c.Corpus))
	}
	c.Engine = search.NewEngine(store, kw, engineOpts...)

	ok = true
	return c, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sandy version %s\n", version)
		},
	}
}
