// Package indexer persists pipeline results: records go to storage and the
// keyword index, and every outcome goes to the outcome log.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/keyword"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/sourceid"
	"github.com/MLenaBleile/sandy/internal/storage"
	"github.com/MLenaBleile/sandy/internal/watcher"
)

// reindexPageSize bounds the records held in memory while rebuilding the keyword index.
const reindexPageSize = 200

// Maker turns content into at most one record. *pipeline.Pipeline satisfies it.
type Maker interface {
	MakeSandwich(ctx context.Context, content string, source models.SourceMetadata) (*models.StoredRecord, models.Outcome, error)
}

// Indexer writes records to storage and the keyword index.
type Indexer struct {
	storage      storage.Storage
	keywordIndex keyword.RecordIndex
	maker        Maker
	logger       *zap.Logger
	now          func() time.Time
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (record indexed, file processed, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithMaker sets the pipeline used by Process and ProcessFile.
func WithMaker(m Maker) IndexerOption {
	return func(idx *Indexer) { idx.maker = m }
}

// WithClock overrides the outcome log timestamps.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) { idx.now = now }
}

// NewIndexer creates an indexer over the given storage and keyword index.
func NewIndexer(store storage.Storage, keywordIndex keyword.RecordIndex, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage:      store,
		keywordIndex: keywordIndex,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexRecord saves rec and adds it to the keyword index. A storage failure is
// fatal with reason database_down.
func (idx *Indexer) IndexRecord(ctx context.Context, rec *models.StoredRecord) error {
	if err := idx.storage.SaveRecord(ctx, rec); err != nil {
		return errs.Fatal(errs.DatabaseDown, "save record", err)
	}
	if err := idx.keywordIndex.Index(ctx, rec); err != nil {
		return fmt.Errorf("failed to index keywords: %w", err)
	}
	idx.logger.Debug("indexer record indexed",
		zap.String("id", rec.ID),
		zap.String("name", rec.Assembled.Name))
	return nil
}

// LogOutcome appends one entry to the outcome log. recordID is empty unless
// the run stored a record.
func (idx *Indexer) LogOutcome(ctx context.Context, sessionID, sourceURL string, outcome models.Outcome, recordID string) error {
	entry := models.OutcomeLogEntry{
		ID:        uuid.NewString(),
		Timestamp: idx.now().UTC(),
		SessionID: sessionID,
		SourceURL: sourceURL,
		Stage:     outcome.Stage,
		Outcome:   outcome.Outcome,
		Detail:    outcome.Detail,
		RecordID:  recordID,
	}
	if err := idx.storage.LogOutcome(ctx, entry); err != nil {
		return fmt.Errorf("failed to log outcome: %w", err)
	}
	return nil
}

// Process runs content through the pipeline, indexes the record on success and
// logs the outcome. Pipeline errors are returned unlogged; they are not outcomes.
func (idx *Indexer) Process(ctx context.Context, content string, source models.SourceMetadata) (*models.StoredRecord, models.Outcome, error) {
	if idx.maker == nil {
		return nil, models.Outcome{}, errs.Fatal(errs.ConfigError, "indexer has no pipeline", nil)
	}
	rec, outcome, err := idx.maker.MakeSandwich(ctx, content, source)
	if err != nil {
		return nil, models.Outcome{}, err
	}
	recordID := ""
	if rec != nil {
		if err := idx.IndexRecord(ctx, rec); err != nil {
			return nil, outcome, err
		}
		recordID = rec.ID
	}
	if err := idx.LogOutcome(ctx, "", source.URL, outcome, recordID); err != nil {
		idx.logger.Warn("indexer outcome not logged", zap.String("url", source.URL), zap.Error(err))
	}
	return rec, outcome, nil
}

// FileSource describes a local file for a pipeline run. The source ID is
// derived from the absolute path so reprocessing a file keeps its identity.
func FileSource(absPath string) models.SourceMetadata {
	return models.SourceMetadata{
		URL:         "file://" + filepath.ToSlash(absPath),
		Domain:      "file",
		ContentKind: watcher.KindOf(absPath),
		SourceID:    sourceid.File(absPath),
	}
}

// ProcessFile reads a file and runs it through Process. If allowedExts is
// non-empty, the file's extension must be in the list (case-insensitive).
// Returns an error if the path is not a regular file or cannot be read.
func (idx *Indexer) ProcessFile(ctx context.Context, path string, allowedExts []string) (*models.StoredRecord, models.Outcome, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, models.Outcome{}, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, models.Outcome{}, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, models.Outcome{}, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, models.Outcome{}, fmt.Errorf("not a regular file: %s", absPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, models.Outcome{}, fmt.Errorf("read file: %w", err)
	}
	idx.logger.Debug("indexer processing file", zap.String("path", absPath), zap.Int64("bytes", info.Size()))
	return idx.Process(ctx, string(content), FileSource(absPath))
}

// CollectFiles walks dir recursively and returns the regular files whose
// extension is in allowedExts (all files when empty), in lexical order.
func CollectFiles(ctx context.Context, dir string, allowedExts []string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var files []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Resolve symlinks so only regular files are returned
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// Reindex adds every stored record to the keyword index. It repopulates an
// index that was opened empty or lost.
func (idx *Indexer) Reindex(ctx context.Context) (int, error) {
	n := 0
	for offset := 0; ; offset += reindexPageSize {
		page, err := idx.storage.ListRecords(ctx, storage.ListQuery{Offset: offset, Limit: reindexPageSize})
		if err != nil {
			return n, fmt.Errorf("list records at %d: %w", offset, err)
		}
		for _, rec := range page {
			if err := idx.keywordIndex.Index(ctx, rec); err != nil {
				return n, fmt.Errorf("failed to index keywords: %w", err)
			}
			n++
		}
		if len(page) < reindexPageSize {
			break
		}
	}
	idx.logger.Debug("indexer reindexed", zap.Int("records", n))
	return n, nil
}

// EnsureIndexed rebuilds the keyword index when it holds fewer records than storage.
func (idx *Indexer) EnsureIndexed(ctx context.Context) (int, error) {
	stored, err := idx.storage.CountRecords(ctx)
	if err != nil {
		return 0, errs.Fatal(errs.DatabaseDown, "count records", err)
	}
	indexed, err := idx.keywordIndex.DocCount()
	if err != nil {
		return 0, fmt.Errorf("keyword doc count: %w", err)
	}
	if uint64(stored) <= indexed {
		return 0, nil
	}
	return idx.Reindex(ctx)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
