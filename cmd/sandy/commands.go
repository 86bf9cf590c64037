package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MLenaBleile/sandy/internal/agent"
	"github.com/MLenaBleile/sandy/internal/cli"
	"github.com/MLenaBleile/sandy/internal/config"
	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/indexer"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/search"
	"github.com/MLenaBleile/sandy/internal/server"
	"github.com/MLenaBleile/sandy/internal/sourceid"
	"github.com/MLenaBleile/sandy/internal/sources"
	"github.com/MLenaBleile/sandy/internal/storage"
	"github.com/MLenaBleile/sandy/internal/watcher"
)

const (
	defaultMakeConcurrency = 4
	shutdownTimeout        = 10 * time.Second
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(a *app) *cobra.Command {
	var withInbox bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, _, err := a.setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := a.initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Close()

			if withInbox {
				inbox := newInbox(cfg, c, logger, func(r cli.MakeResult) {
					logger.Info("inbox file processed",
						zap.String("path", r.Input),
						zap.String("stage", string(r.Outcome.Stage)),
						zap.String("outcome", string(r.Outcome.Outcome)),
						zap.String("error", r.Error))
				})
				if err := inbox.Start(ctx); err != nil {
					return fmt.Errorf("failed to start inbox: %w", err)
				}
				defer inbox.Stop()
			}

			srv := server.NewServer(server.Deps{
				Indexer:   c.Indexer,
				Engine:    c.Engine,
				Storage:   c.Storage,
				Corpus:    c.Corpus,
				Events:    c.Events,
				DiskPaths: c.DiskPaths(),
			}, &cfg.Server, logger)
			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Start() }()

			select {
			case err := <-serveErr:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&withInbox, "inbox", false, "also feed files dropped into the inbox directory to the pipeline")
	return cmd
}

func newMakeCmd(a *app) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "make [files, directories, URLs or - for stdin]...",
		Short: "Run content through the pipeline",
		Long: `make runs each input through the pipeline and stores the sandwiches that pass
validation. Directories are walked for the inbox extensions, http(s) URLs are
fetched, and - reads standard input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, format, err := a.setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			inputs, err := expandInputs(ctx, args, cfg.Inbox.Extensions)
			if err != nil {
				return err
			}
			c, err := a.initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Close()

			web := sources.NewWeb(cfg.Sources.WebPerMinute, cfg.Retry.Policy(), logger)
			results, err := runMake(ctx, c.Indexer, web, cmd.InOrStdin(), inputs, cfg.Inbox.Extensions, concurrency)
			if werr := cli.WriteMakeResults(cmd.OutOrStdout(), results, format); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", defaultMakeConcurrency, "inputs processed at once")
	return cmd
}

// expandInputs replaces each directory argument with the files under it.
func expandInputs(ctx context.Context, args, exts []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		if arg == "-" || sources.IsURL(arg) {
			inputs = append(inputs, arg)
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			inputs = append(inputs, arg)
			continue
		}
		files, err := indexer.CollectFiles(ctx, arg, exts)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, files...)
	}
	return inputs, nil
}

// runMake processes inputs at most concurrency at a time. Results keep the
// input order. A fatal error stops the remaining inputs and is returned.
func runMake(ctx context.Context, idx *indexer.Indexer, web sources.Source, stdin io.Reader, inputs, exts []string, concurrency int) ([]cli.MakeResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	var stdinContent string
	if slices.Contains(inputs, "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		stdinContent = string(data)
	}
	results := make([]cli.MakeResult, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, input := range inputs {
		results[i].Input = input
		if input == "-" {
			g.Go(func() error {
				return record(&results[i], func() (*models.StoredRecord, models.Outcome, error) {
					return idx.Process(gctx, stdinContent, models.SourceMetadata{
						Domain:      "stdin",
						ContentKind: models.ContentPlain,
						SourceID:    sourceid.Content(stdinContent),
					})
				})
			})
			continue
		}
		g.Go(func() error {
			return record(&results[i], func() (*models.StoredRecord, models.Outcome, error) {
				if sources.IsURL(input) {
					res, err := web.Fetch(gctx, input)
					if err != nil {
						return nil, models.Outcome{}, err
					}
					return idx.Process(gctx, res.Content, res.SourceMetadata())
				}
				return idx.ProcessFile(gctx, input, exts)
			})
		})
	}
	return results, g.Wait()
}

// record stores the result of fn in r. Only fatal errors are returned.
func record(r *cli.MakeResult, fn func() (*models.StoredRecord, models.Outcome, error)) error {
	rec, outcome, err := fn()
	r.Record, r.Outcome = rec, outcome
	if err != nil {
		r.Error = err.Error()
		if errs.IsFatal(err) {
			return err
		}
	}
	return nil
}

func newForageCmd(a *app) *cobra.Command {
	var (
		maxSandwiches int
		maxDuration   time.Duration
		sourceName    string
	)
	cmd := &cobra.Command{
		Use:   "forage",
		Short: "Run an autonomous foraging session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, format, err := a.setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := a.initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Close()

			if sourceName == "" {
				sourceName = cfg.Sources.Default
			}
			src, err := newSource(sourceName, cfg, logger)
			if err != nil {
				return err
			}
			ag, err := agent.New(cfg.Agent, c.Pipeline, c.Generator, src,
				agent.WithLogger(logger),
				agent.WithPublisher(c.Events),
				agent.WithOutcomeLog(c.Storage),
				agent.OnStored(c.Indexer.IndexRecord))
			if err != nil {
				return err
			}
			session, runErr := ag.Run(ctx, maxSandwiches, maxDuration)
			if err := cli.WriteSession(cmd.OutOrStdout(), session, format); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&maxSandwiches, "max-sandwiches", 0, "stop after this many sandwiches (0 uses the config)")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "stop after this long (0 uses the config)")
	cmd.Flags().StringVar(&sourceName, "source", "", "content source: wikipedia or topic (default from config)")
	return cmd
}

// newSource returns the named content source.
func newSource(name string, cfg *config.Config, logger *zap.Logger) (sources.Source, error) {
	switch name {
	case "wikipedia":
		return sources.NewWikipedia(
			sources.WithRate(cfg.Sources.WikipediaPerMinute),
			sources.WithRetryPolicy(cfg.Retry.Policy()),
			sources.WithLogger(logger),
		), nil
	case "topic":
		return sources.Topic{}, nil
	default:
		return nil, fmt.Errorf("unknown source %q (want wikipedia or topic)", name)
	}
}

// newInbox returns an inbox that runs each settled file through the indexer
// and passes the result to report.
func newInbox(cfg *config.Config, c *Components, logger *zap.Logger, report func(cli.MakeResult)) *watcher.Inbox {
	handler := func(ctx context.Context, f watcher.File) {
		r := cli.MakeResult{Input: f.Path}
		if err := record(&r, func() (*models.StoredRecord, models.Outcome, error) {
			return c.Indexer.Process(ctx, f.Content, f.Source())
		}); err != nil {
			logger.Error("inbox file hit a fatal error", zap.String("path", f.Path), zap.Error(err))
		}
		report(r)
	}
	return watcher.New(cfg.Inbox.Dir, handler,
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Inbox.Debounce),
		watcher.WithExtensions(cfg.Inbox.Extensions...))
}

func newWatchCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Feed files dropped into the inbox directory to the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, format, err := a.setup()
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.Inbox.Dir = dir
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := a.initializeComponents(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer c.Close()

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			inbox := newInbox(cfg, c, logger, func(r cli.MakeResult) {
				mu.Lock()
				defer mu.Unlock()
				if err := cli.WriteMakeResults(out, []cli.MakeResult{r}, format); err != nil {
					logger.Warn("write result failed", zap.Error(err))
				}
			})
			if err := inbox.Start(ctx); err != nil {
				return fmt.Errorf("failed to start inbox: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", inbox.Dir())
			<-ctx.Done()
			inbox.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "inbox directory (default from config)")
	return cmd
}

// buildSearchQuery joins args into one query string.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newSearchCmd(a *app) *cobra.Command {
	q := &search.Query{}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored sandwiches",
		Long: `search runs a keyword query over stored sandwiches, fused with embedding
similarity when an embedder is configured. Multi-word queries work with or
without quotes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Query = buildSearchQuery(args)
			cfg, logger, format, err := a.setup()
			if err != nil {
				return err
			}
			if q.Limit == 0 {
				q.Limit = cfg.Server.SearchLimit
			}
			c, err := a.initializeComponents(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer c.Close()

			start := time.Now()
			resp, err := c.Engine.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			logger.Debug("search done", zap.Duration("elapsed", time.Since(start)), zap.Int("total", resp.Total))
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum results (default from config)")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "results to skip")
	cmd.Flags().BoolVar(&q.Fuzzy, "fuzzy", false, "tolerate typos")
	cmd.Flags().StringVar(&q.StructureType, "type", "", "only this structure type")
	cmd.Flags().Float64Var(&q.MinScore, "min-score", 0, "drop results scoring below this (0 to 1)")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var outcomes int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show corpus, index and outcome statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, format, err := a.setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.initializeComponents(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer c.Close()

			st, err := collectStats(ctx, c, outcomes)
			if err != nil {
				return err
			}
			return cli.WriteStats(cmd.OutOrStdout(), st, format)
		},
	}
	cmd.Flags().IntVar(&outcomes, "outcomes", 10, "recent outcomes to show")
	return cmd
}

func collectStats(ctx context.Context, c *Components, outcomes int) (cli.Stats, error) {
	st := cli.Stats{Corpus: c.Corpus.Stats()}
	var err error
	if st.StoredRecords, err = c.Storage.CountRecords(ctx); err != nil {
		return st, err
	}
	if st.IndexedRecords, err = c.Keyword.DocCount(); err != nil {
		return st, err
	}
	if st.Disk, err = storage.DiskFootprint(c.DiskPaths()...); err != nil {
		return st, err
	}
	if outcomes > 0 {
		if st.RecentOutcomes, err = c.Storage.ListOutcomes(ctx, outcomes); err != nil {
			return st, err
		}
	}
	return st, nil
}
