// Package watcher feeds files dropped into an inbox directory to a handler,
// using fsnotify with per-file debouncing.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/sourceid"
)

const defaultDebounce = 400 * time.Millisecond

// DefaultExtensions are the file types accepted from the inbox.
var DefaultExtensions = []string{".txt", ".md", ".html", ".htm"}

// Config configures the inbox.
type Config struct {
	Dir        string        `yaml:"dir" mapstructure:"dir"`
	Debounce   time.Duration `yaml:"debounce" mapstructure:"debounce" validate:"gte=0"`
	Extensions []string      `yaml:"extensions" mapstructure:"extensions"`
}

// File is one inbox file ready for the pipeline.
type File struct {
	Path     string
	Content  string
	Kind     models.ContentKind
	SourceID string
}

// Source describes the file for a pipeline run.
func (f File) Source() models.SourceMetadata {
	return models.SourceMetadata{
		URL:         "file://" + filepath.ToSlash(f.Path),
		Domain:      "inbox",
		ContentKind: f.Kind,
		SourceID:    f.SourceID,
	}
}

// Handler processes one file.
type Handler func(ctx context.Context, f File)

// KindOf maps a file name to its content kind: .html and .htm are markup,
// everything else plain text.
func KindOf(path string) models.ContentKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return models.ContentMarkup
	default:
		return models.ContentPlain
	}
}

// Inbox watches one directory.
type Inbox struct {
	dir        string
	extensions []string
	debounce   time.Duration
	handler    Handler
	logger     *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	seen     map[string]string // path -> content ID last delivered
	inflight sync.WaitGroup
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithDebounce sets how long a file must stay quiet before it is delivered.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// WithExtensions restricts the accepted file types. Empty keeps the defaults.
func WithExtensions(exts ...string) Option {
	return func(in *Inbox) {
		if len(exts) > 0 {
			in.extensions = exts
		}
	}
}

// New returns an inbox over dir calling handler for each settled file.
func New(dir string, handler Handler, opts ...Option) *Inbox {
	in := &Inbox{
		dir:        filepath.Clean(dir),
		extensions: DefaultExtensions,
		debounce:   defaultDebounce,
		handler:    handler,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		seen:       make(map[string]string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.dir }

// Start creates the directory if needed, begins watching, and delivers the
// files already present. It returns once watching has begun; delivery runs
// until ctx is cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		in.mu.Unlock()
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return err
	}
	if err := w.Add(in.dir); err != nil {
		_ = w.Close()
		in.mu.Unlock()
		return err
	}
	in.watcher = w
	in.started = true
	in.mu.Unlock()

	in.logger.Info("inbox watching", zap.String("dir", in.dir), zap.Strings("extensions", in.extensions))
	go in.run(ctx, w)
	in.inflight.Add(1)
	go func() {
		defer in.inflight.Done()
		in.SyncExisting(ctx)
	}()
	return nil
}

func (in *Inbox) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			in.handleEvent(ctx, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			in.logger.Warn("inbox watch error", zap.Error(err))
		}
	}
}

func (in *Inbox) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	if filepath.Dir(filepath.Clean(path)) != in.dir || !in.accepts(path) {
		return
	}
	in.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		in.schedule(ctx, path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		in.forget(path)
	}
}

func (in *Inbox) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" || strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	for _, e := range in.extensions {
		if strings.ToLower("."+strings.TrimPrefix(e, ".")) == ext {
			return true
		}
	}
	return false
}

func (in *Inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return
	}
	if t, ok := in.pending[path]; ok && t.Stop() {
		in.inflight.Done()
	}
	in.inflight.Add(1)
	var t *time.Timer
	t = time.AfterFunc(in.debounce, func() {
		defer in.inflight.Done()
		in.mu.Lock()
		if in.pending[path] == t {
			delete(in.pending, path)
		}
		in.mu.Unlock()
		in.deliver(ctx, path)
	})
	in.pending[path] = t
}

func (in *Inbox) forget(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok && t.Stop() {
		in.inflight.Done()
	}
	delete(in.pending, path)
	delete(in.seen, path)
}

// deliver reads path and hands it to the handler unless the same content was
// already delivered for that path.
func (in *Inbox) deliver(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			in.logger.Warn("inbox read failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return
	}
	id := sourceid.Content(content)

	in.mu.Lock()
	if in.seen[path] == id {
		in.mu.Unlock()
		return
	}
	in.seen[path] = id
	in.mu.Unlock()

	in.logger.Info("inbox file ready", zap.String("path", path), zap.Int("bytes", len(data)))
	in.handler(ctx, File{Path: path, Content: content, Kind: KindOf(path), SourceID: sourceid.File(path)})
}

// SyncExisting delivers every accepted file currently in the directory.
func (in *Inbox) SyncExisting(ctx context.Context) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Warn("inbox sync failed", zap.String("dir", in.dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		path := filepath.Join(in.dir, e.Name())
		if e.IsDir() || !in.accepts(path) {
			continue
		}
		in.deliver(ctx, path)
	}
}

// Stop stops watching, cancels pending deliveries and waits for running ones.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return
	}
	for path, t := range in.pending {
		if t.Stop() {
			in.inflight.Done()
		}
		delete(in.pending, path)
	}
	_ = in.watcher.Close()
	in.watcher = nil
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
	in.inflight.Wait()
}
