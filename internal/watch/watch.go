// Package watch republishes flagged notes when they change on disk.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/models"
	"github.com/starford/notepub/internal/publish"
)

// DefaultDebounce is the quiet period after the last change before a note
// is republished.
const DefaultDebounce = 2 * time.Second

// Publisher publishes a single note.
type Publisher interface {
	PublishNote(ctx context.Context, path string, rep publish.Reporter) (*publish.Run, error)
}

// NoteReader reads a note from the vault.
type NoteReader interface {
	GetNote(ctx context.Context, path string) (*models.Note, error)
}

// ResultFunc is called after every publish attempt the watcher makes.
type ResultFunc func(path string, run *publish.Run, err error)

// Watcher turns vault change events into single-note publishes.
type Watcher struct {
	root      string
	key       string
	notes     NoteReader
	publisher Publisher
	reporter  publish.Reporter
	debounce  time.Duration
	logger    *slog.Logger
	onResult  ResultFunc
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Values <= 0 keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithReporter sets the reporter passed to every publish.
func WithReporter(r publish.Reporter) Option {
	return func(w *Watcher) { w.reporter = r }
}

// WithResult registers a callback invoked after each publish attempt.
func WithResult(fn ResultFunc) Option {
	return func(w *Watcher) { w.onResult = fn }
}

// New creates a watcher over the vault at root. Only notes with a set
// frontmatter value under key are published.
func New(root, key string, notes NoteReader, publisher Publisher, opts ...Option) *Watcher {
	w := &Watcher{
		root:      root,
		key:       key,
		notes:     notes,
		publisher: publisher,
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run watches the vault until ctx is cancelled. Changed notes are collected
// and published once no further change arrived for the debounce window.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watcher: started",
		slog.String("root", w.root),
		slog.Duration("debounce", w.debounce))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
			return
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				w.publish(ctx, p)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if strings.HasPrefix(info.Name(), ".") {
						continue
					}
					if addErr := addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(w.root, ev.Name)
			if relErr != nil {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			schedule()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) publish(ctx context.Context, rel string) {
	note, err := w.notes.GetNote(ctx, rel)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			w.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		return
	}
	if _, ok := note.FrontmatterValue(w.key); !ok {
		w.logger.Debug("watcher: note not flagged", slog.String("path", rel))
		return
	}

	run, err := w.publisher.PublishNote(ctx, rel, w.reporter)
	switch {
	case errors.Is(err, apperr.ErrPublishInProgress):
		w.logger.Info("watcher: publish in progress, skipped", slog.String("path", rel))
	case err != nil:
		w.logger.Error("watcher: publish failed", slog.String("path", rel), slog.String("error", err.Error()))
	default:
		w.logger.Info("watcher: published", slog.String("path", rel), slog.Int("items", run.Total))
	}
	if w.onResult != nil {
		w.onResult(rel, run, err)
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}
