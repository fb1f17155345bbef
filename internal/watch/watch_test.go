package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/noteservice"
	"github.com/starford/notepub/internal/publish"
	"github.com/starford/notepub/internal/testutil"
)

type fakePublisher struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakePublisher) PublishNote(_ context.Context, p string, _ publish.Reporter) (*publish.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, p)
	if f.err != nil {
		return nil, f.err
	}
	return &publish.Run{Mode: publish.ModeNote, Target: p, Total: 1}, nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startWatcher runs a watcher over a fresh vault and returns the vault dir
// and a channel receiving every publish attempt.
func startWatcher(t *testing.T, pub Publisher) (string, <-chan string) {
	t.Helper()
	dir, store := testutil.TestVault(t)
	notes := noteservice.NewService(store, quietLogger())

	results := make(chan string, 16)
	w := New(dir, "nextra-publish", notes, pub,
		WithDebounce(100*time.Millisecond),
		WithLogger(quietLogger()),
		WithResult(func(p string, _ *publish.Run, _ error) { results <- p }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
	return dir, results
}

func waitResult(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for publish")
		return ""
	}
}

func TestWatcherPublishesFlaggedNote(t *testing.T) {
	pub := &fakePublisher{}
	dir, results := startWatcher(t, pub)

	testutil.WriteFile(t, dir, "draft.md", []byte("no flag"))
	testutil.WriteFile(t, dir, "post.md", []byte("---\nnextra-publish: true\n---\n# Post"))

	if got := waitResult(t, results); got != "post.md" {
		t.Errorf("published = %q, want %q", got, "post.md")
	}
	if got := pub.published(); len(got) != 1 {
		t.Errorf("publish calls = %v, want only post.md", got)
	}
}

func TestWatcherDebouncesRepeatedWrites(t *testing.T) {
	pub := &fakePublisher{}
	dir, results := startWatcher(t, pub)

	for i := 0; i < 5; i++ {
		testutil.WriteFile(t, dir, "post.md", []byte("---\nnextra-publish: true\n---\nv"+string(rune('0'+i))))
		time.Sleep(10 * time.Millisecond)
	}
	waitResult(t, results)

	select {
	case p := <-results:
		t.Errorf("unexpected second publish of %q", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherNewDirectory(t *testing.T) {
	pub := &fakePublisher{}
	dir, results := startWatcher(t, pub)

	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	testutil.WriteFile(t, dir, "sub/deep.md", []byte("---\nnextra-publish: true\n---\n"))

	if got := waitResult(t, results); got != "sub/deep.md" {
		t.Errorf("published = %q, want %q", got, "sub/deep.md")
	}
}

func TestWatcherSkipsWhileRunning(t *testing.T) {
	pub := &fakePublisher{err: apperr.ErrPublishInProgress}
	dir, results := startWatcher(t, pub)

	testutil.WriteFile(t, dir, "post.md", []byte("---\nnextra-publish: true\n---\n"))
	if got := waitResult(t, results); got != "post.md" {
		t.Errorf("attempted = %q, want %q", got, "post.md")
	}
}
