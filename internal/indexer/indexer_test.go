package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/keyword"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/sourceid"
	"github.com/MLenaBleile/sandy/internal/storage"
)

// fakeMaker makes a record from any content mentioning tides, fails on
// "network" and "fatal", and skips everything else.
type fakeMaker struct {
	mu      sync.Mutex
	n       int
	sources []models.SourceMetadata
}

func (m *fakeMaker) MakeSandwich(_ context.Context, content string, source models.SourceMetadata) (*models.StoredRecord, models.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, source)
	switch {
	case strings.Contains(content, "fatal"):
		return nil, models.Outcome{}, errs.Fatal(errs.AuthError, "bad key", nil)
	case strings.Contains(content, "network"):
		return nil, models.Outcome{}, errs.Retryable(errs.Network, "connection reset", nil)
	case strings.Contains(content, "tides"):
		m.n++
		id := fmt.Sprintf("rec-%d", m.n)
		return testRecord(id, source), models.Outcome{Stage: models.StageStorage, Outcome: models.OutcomeSuccess, Detail: id}, nil
	default:
		return nil, models.Outcome{Stage: models.StagePreprocessing, Outcome: models.OutcomeSkipped, Detail: "too_short"}, nil
	}
}

func testRecord(id string, source models.SourceMetadata) *models.StoredRecord {
	return &models.StoredRecord{
		ID: id,
		Assembled: models.AssembledRecord{
			Name:          "Tidal Club " + id,
			Description:   "Two bodies pull on the sea.",
			AnchorA:       "moon",
			AnchorB:       "sun",
			Filling:       "tide height",
			StructureType: "bound",
		},
		Validation: models.ValidationResult{Overall: 0.8, Recommendation: models.Accept},
		Embeddings: models.RecordEmbeddings{Full: []float32{1, 0}},
		Source:     source,
	}
}

func testIndexer(t *testing.T, opts ...IndexerOption) (*Indexer, *storage.SQLiteStorage, *keyword.BleveIndex) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kwIndex, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kwIndex.Close() })
	return NewIndexer(store, kwIndex, opts...), store, kwIndex
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
		{".html", []string{".txt", ".md", ".html"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestProcess_successIsStoredIndexedAndLogged(t *testing.T) {
	idx, store, kw := testIndexer(t, WithMaker(&fakeMaker{}))
	ctx := context.Background()
	src := models.SourceMetadata{URL: "https://example.org/tides", ContentKind: models.ContentPlain}

	rec, outcome, err := idx.Process(ctx, "notes about tides", src)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || outcome.Outcome != models.OutcomeSuccess {
		t.Fatalf("rec=%v outcome=%+v", rec, outcome)
	}
	got, err := store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Assembled.Name != rec.Assembled.Name {
		t.Errorf("stored name = %q", got.Assembled.Name)
	}
	hits, err := kw.Search(ctx, "moon", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != rec.ID {
		t.Errorf("keyword hits = %v", hits)
	}
	entries, err := store.ListOutcomes(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].RecordID != rec.ID || entries[0].SourceURL != src.URL {
		t.Errorf("outcome log = %+v", entries)
	}
}

func TestProcess_nonSuccessOutcomeIsLoggedOnly(t *testing.T) {
	idx, store, _ := testIndexer(t, WithMaker(&fakeMaker{}))
	ctx := context.Background()

	rec, outcome, err := idx.Process(ctx, "hello", models.SourceMetadata{URL: "https://example.org/a"})
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil || outcome.Outcome != models.OutcomeSkipped {
		t.Fatalf("rec=%v outcome=%+v", rec, outcome)
	}
	if n, _ := store.CountRecords(ctx); n != 0 {
		t.Errorf("records = %d", n)
	}
	entries, _ := store.ListOutcomes(ctx, 10)
	if len(entries) != 1 || entries[0].Outcome != models.OutcomeSkipped || entries[0].RecordID != "" {
		t.Errorf("outcome log = %+v", entries)
	}
}

func TestProcess_errorsAreNotLogged(t *testing.T) {
	idx, store, _ := testIndexer(t, WithMaker(&fakeMaker{}))
	ctx := context.Background()

	_, _, err := idx.Process(ctx, "network", models.SourceMetadata{})
	if !errs.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if entries, _ := store.ListOutcomes(ctx, 10); len(entries) != 0 {
		t.Errorf("errors should not be logged as outcomes: %+v", entries)
	}
}

func TestProcess_withoutMaker(t *testing.T) {
	idx, _, _ := testIndexer(t)
	_, _, err := idx.Process(context.Background(), "tides", models.SourceMetadata{})
	if !errs.IsFatal(err) || errs.ReasonOf(err) != errs.ConfigError {
		t.Fatalf("expected config_error, got %v", err)
	}
}

func TestIndexRecord_storageFailureIsFatal(t *testing.T) {
	idx, store, _ := testIndexer(t)
	ctx := context.Background()
	rec := testRecord("dup", models.SourceMetadata{})
	if err := idx.IndexRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	err := idx.IndexRecord(ctx, rec)
	if !errs.IsFatal(err) || errs.ReasonOf(err) != errs.DatabaseDown {
		t.Fatalf("duplicate insert: expected database_down, got %v", err)
	}
	if n, _ := store.CountRecords(ctx); n != 1 {
		t.Errorf("records = %d", n)
	}
}

func TestProcessFile(t *testing.T) {
	maker := &fakeMaker{}
	idx, _, _ := testIndexer(t, WithMaker(maker))
	ctx := context.Background()
	dir := t.TempDir()

	fPath := filepath.Join(dir, "page.html")
	if err := os.WriteFile(fPath, []byte("<p>tides</p>"), 0600); err != nil {
		t.Fatal(err)
	}
	rec, _, err := idx.ProcessFile(ctx, fPath, []string{".html"})
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	src := maker.sources[0]
	abs, _ := filepath.Abs(fPath)
	if src.ContentKind != models.ContentMarkup || src.SourceID != sourceid.File(abs) || src.Domain != "file" {
		t.Errorf("source = %+v", src)
	}

	if _, _, err := idx.ProcessFile(ctx, fPath, []string{".txt"}); err == nil {
		t.Error("expected error for disallowed extension")
	}
	if _, _, err := idx.ProcessFile(ctx, dir, nil); err == nil {
		t.Error("expected error for directory")
	}
	if _, _, err := idx.ProcessFile(ctx, filepath.Join(dir, "missing.txt"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.TXT"),
		filepath.Join(sub, "c.txt"),
		filepath.Join(dir, "skip.go"),
	} {
		if err := os.WriteFile(path, []byte("tides"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	files, err := CollectFiles(context.Background(), dir, []string{".txt"})
	if err != nil {
		t.Fatalf("CollectFiles: %v", err)
	}
	want := []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.TXT"), filepath.Join(sub, "c.txt")}
	if !slices.Equal(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}

	all, err := CollectFiles(context.Background(), dir, nil)
	if err != nil || len(all) != 4 {
		t.Errorf("all files = %v, %v", all, err)
	}
	if _, err := CollectFiles(context.Background(), filepath.Join(dir, "a.txt"), nil); err == nil {
		t.Error("expected error for a file path")
	}
}

func TestCollectFiles_cancelled(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("tides"), 0600); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CollectFiles(ctx, dir, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEnsureIndexed_rebuildsEmptyIndex(t *testing.T) {
	idx, store, _ := testIndexer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := store.SaveRecord(ctx, testRecord(fmt.Sprintf("r%d", i), models.SourceMetadata{})); err != nil {
			t.Fatal(err)
		}
	}

	n, err := idx.EnsureIndexed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("reindexed %d, want 3", n)
	}
	if n, err := idx.EnsureIndexed(ctx); err != nil || n != 0 {
		t.Errorf("second call reindexed %d (err %v), want 0", n, err)
	}
}
