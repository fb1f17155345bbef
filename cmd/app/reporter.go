package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/publish"
)

// consoleReporter prints run progress as user-facing lines.
type consoleReporter struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	settings publish.Settings
}

func newConsoleReporter(out, errOut io.Writer, settings publish.Settings) *consoleReporter {
	return &consoleReporter{out: out, errOut: errOut, settings: settings}
}

func (r *consoleReporter) Deleted(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "Deleted %d Files at %s\n", count, r.settings.DisplayName())
}

func (r *consoleReporter) Progress(completed, total int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "Publishing to %s: %d/%d\n", r.settings.DisplayName(), completed, total)
}

func (r *consoleReporter) Done(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%d has published\n", total)
}

func (r *consoleReporter) Failed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(err, apperr.ErrMissingCredentials) {
		fmt.Fprintln(r.errOut, r.settings.MissingCredentialsNotice())
		return
	}
	var txErr *publish.TransactionError
	if errors.As(err, &txErr) && txErr.Branch != "" {
		fmt.Fprintf(r.errOut, "❌ Publish failed at %s; branch %s was left for inspection: %v\n", txErr.Step, txErr.Branch, txErr.Err)
		return
	}
	fmt.Fprintf(r.errOut, "❌ Publish failed: %v\n", err)
}
