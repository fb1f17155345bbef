// Package publish turns flagged vault notes into a set of files under two
// managed prefixes of a remote repository and synchronizes that set.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/models"
	"github.com/starford/notepub/internal/remote"
)

// NoteSource is the read-only view of the vault the publisher needs.
type NoteSource interface {
	ListEligibleNotes(ctx context.Context, key string) ([]models.Note, error)
	GetNote(ctx context.Context, path string) (*models.Note, error)
	// ResolveEmbed returns apperr.ErrNotFound when link has no local target.
	ResolveEmbed(ctx context.Context, note *models.Note, link string) (*models.Resource, error)
}

// Reporter receives run progress. Progress may be called from several
// goroutines at once.
type Reporter interface {
	Deleted(count int)
	Progress(completed, total int, path string)
	Done(total int)
	Failed(err error)
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Mode is the publish entry mode.
type Mode string

const (
	ModeAll  Mode = "all"
	ModeNote Mode = "note"
)

// Run statuses.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Phase names the orchestrator state, logged as the run advances.
type Phase string

const (
	PhaseCollectingNotes   Phase = "collecting_notes"
	PhaseResolvingImages   Phase = "resolving_images"
	PhaseRewriting         Phase = "rewriting"
	PhaseBuildingManifest  Phase = "building_manifest"
	PhaseTransformingPaths Phase = "transforming_paths"
	PhaseDiffingRemote     Phase = "diffing_remote"
	PhaseDeleting          Phase = "deleting"
	PhaseWriting           Phase = "writing"
	PhaseDone              Phase = "done"
	PhaseFailed            Phase = "failed"
)

// Run summarizes one publish invocation.
type Run struct {
	ID           string               `json:"id"`
	Mode         Mode                 `json:"mode"`
	Provider     string               `json:"provider"`
	Target       string               `json:"target,omitempty"` // note path in single-note mode
	Status       string               `json:"status"`
	Total        int                  `json:"total"`
	Written      int                  `json:"written"`
	Deleted      int                  `json:"deleted"`
	Branch       string               `json:"branch,omitempty"`
	MergeRequest *remote.MergeRequest `json:"merge_request,omitempty"`
	Error        string               `json:"error,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
	Items        []Item               `json:"items,omitempty"`
}

// Publisher orchestrates publish runs. At most one run is active at a time;
// a second invocation while one is active fails with
// apperr.ErrPublishInProgress.
type Publisher struct {
	settings Settings
	source   NoteSource
	provider remote.Provider
	layout   Layout
	rewriter *Rewriter
	executor *Executor
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithRecorder records every finished run.
func WithRecorder(r Recorder) PublisherOption {
	return func(p *Publisher) { p.recorder = r }
}

// WithLogger sets the publisher logger.
func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher creates a publisher. settings are completed with defaults.
func NewPublisher(settings Settings, source NoteSource, provider remote.Provider, opts ...PublisherOption) *Publisher {
	settings = settings.WithDefaults()
	layout := NewLayout(settings.ImagePath, settings.MarkdownPath)
	p := &Publisher{
		settings: settings,
		source:   source,
		provider: provider,
		layout:   layout,
		rewriter: NewRewriter(settings.ImageDir, settings.FilenameKey),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.executor = NewExecutor(provider, settings.Concurrency, p.logger)
	return p
}

// Settings returns the publisher's configuration snapshot.
func (p *Publisher) Settings() Settings { return p.settings }

// Running reports whether a run is in progress.
func (p *Publisher) Running() bool { return p.running.Load() }

// PublishAll publishes every eligible note and deletes stale remote files
// under the managed prefixes.
func (p *Publisher) PublishAll(ctx context.Context, rep Reporter) (*Run, error) {
	return p.run(ctx, ModeAll, "", rep)
}

// PublishNote publishes a single eligible note with its images and the
// manifests of its ancestor directories. Nothing is deleted.
func (p *Publisher) PublishNote(ctx context.Context, notePath string, rep Reporter) (*Run, error) {
	return p.run(ctx, ModeNote, notePath, rep)
}

// BuildAll computes the transformed full publish set without touching the
// remote.
func (p *Publisher) BuildAll(ctx context.Context) ([]Item, error) {
	notes, err := p.source.ListEligibleNotes(ctx, p.settings.FrontmatterKey)
	if err != nil {
		return nil, fmt.Errorf("publish: list notes: %w", err)
	}
	items, err := p.build(ctx, notes, nil)
	if err != nil {
		return nil, err
	}
	return p.transform(items), nil
}

func (p *Publisher) run(ctx context.Context, mode Mode, target string, rep Reporter) (*Run, error) {
	if rep == nil {
		rep = nopReporter{}
	}
	if err := p.settings.Validate(); err != nil {
		rep.Failed(err)
		return nil, err
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, apperr.ErrPublishInProgress
	}
	defer p.running.Store(false)

	run := &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		Provider:  p.settings.Provider,
		Target:    target,
		StartedAt: p.now(),
	}
	logger := p.logger.With(
		slog.String("run_id", run.ID),
		slog.String("mode", string(mode)),
		slog.String("provider", p.settings.Provider))

	err := p.execute(ctx, run, rep, logger)
	run.FinishedAt = p.now()
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		logger.Error("publish failed",
			slog.String("phase", string(PhaseFailed)),
			slog.String("error", err.Error()))
		rep.Failed(err)
	} else {
		run.Status = StatusDone
		logger.Info("publish done",
			slog.String("phase", string(PhaseDone)),
			slog.Int("total", run.Total),
			slog.Int("deleted", run.Deleted))
	}

	if p.recorder != nil {
		if recErr := p.recorder.RecordRun(context.WithoutCancel(ctx), *run); recErr != nil {
			logger.Warn("record run", slog.String("error", recErr.Error()))
		}
	}
	return run, err
}

func (p *Publisher) execute(ctx context.Context, run *Run, rep Reporter, logger *slog.Logger) error {
	logPhase(logger, PhaseCollectingNotes)
	eligible, err := p.source.ListEligibleNotes(ctx, p.settings.FrontmatterKey)
	if err != nil {
		return fmt.Errorf("publish: list notes: %w", err)
	}

	var items []Item
	if run.Mode == ModeAll {
		items, err = p.build(ctx, eligible, nil)
	} else {
		items, err = p.buildNote(ctx, run.Target, eligible)
	}
	if err != nil {
		return err
	}

	logPhase(logger, PhaseTransformingPaths)
	items = p.transform(items)
	run.Items = items
	run.Total = len(items)

	plan := Plan{Items: items, Branch: p.settings.Credentials.Branch}
	if run.Mode == ModeAll {
		logPhase(logger, PhaseDiffingRemote)
		tree, err := p.provider.Tree(ctx, p.settings.Credentials.Branch)
		if err != nil {
			return fmt.Errorf("publish: list remote tree: %w", err)
		}
		plan.Deletes = ComputeDeletions(tree, items, p.layout.ManagedPrefixes())
		if len(plan.Deletes) > 0 {
			logPhase(logger, PhaseDeleting)
		}
	}

	total := len(items)
	onDeleted := func(n int) {
		logPhase(logger, PhaseWriting)
		rep.Deleted(n)
	}
	onProgress := func(n int, item Item) {
		rep.Progress(n, total, item.Path)
		if n == total && !p.settings.Transactional {
			rep.Done(total)
		}
	}
	if len(plan.Deletes) == 0 {
		logPhase(logger, PhaseWriting)
	}

	var out *Outcome
	if p.settings.Transactional {
		out, err = p.executor.ApplyTransaction(ctx, plan, onDeleted, onProgress)
	} else {
		out, err = p.executor.Apply(ctx, plan, onDeleted, onProgress)
	}
	if out != nil {
		run.Written = out.Written
		run.Deleted = out.Deleted
		run.Branch = out.Branch
		run.MergeRequest = out.MergeRequest
	}
	if err != nil {
		return err
	}
	// A transactional run is done once its branch is merged and deleted.
	if total == 0 || p.settings.Transactional {
		rep.Done(total)
	}
	return nil
}

// buildNote derives the items of one note. The manifest is built over every
// eligible note and restricted to the note's ancestors so sibling entries
// are not dropped from shared manifests.
func (p *Publisher) buildNote(ctx context.Context, notePath string, eligible []models.Note) ([]Item, error) {
	notePath = normalizePath(notePath)
	var note *models.Note
	for i := range eligible {
		if eligible[i].Path == notePath {
			note = &eligible[i]
			break
		}
	}
	if note == nil {
		if _, err := p.source.GetNote(ctx, notePath); err != nil {
			return nil, fmt.Errorf("publish: note %s: %w", notePath, err)
		}
		return nil, fmt.Errorf("publish: note %s: %w", notePath, apperr.ErrNotPublishable)
	}

	allPaths := make([]string, 0, len(eligible))
	for i := range eligible {
		allPaths = append(allPaths, p.rewriter.MarkdownPath(&eligible[i]))
	}
	manifest := BuildManifest(allPaths).Restrict(p.rewriter.MarkdownPath(note))
	return p.build(ctx, []models.Note{*note}, manifest)
}

// build resolves images concurrently across notes, rewrites each note and
// appends the manifest items. When manifest is nil it is built from the
// markdown items of the set.
func (p *Publisher) build(ctx context.Context, notes []models.Note, manifest *Manifest) ([]Item, error) {
	p.logger.Debug("publish phase", slog.String("phase", string(PhaseResolvingImages)), slog.Int("notes", len(notes)))
	resolved := make([][]ResolvedImage, len(notes))
	g, gCtx := errgroup.WithContext(ctx)
	for i := range notes {
		g.Go(func() error {
			imgs, err := p.resolveImages(gCtx, &notes[i])
			if err != nil {
				return err
			}
			resolved[i] = imgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Debug("publish phase", slog.String("phase", string(PhaseRewriting)))
	set := NewPublishSet()
	for i := range notes {
		md, imgs := p.rewriter.Rewrite(&notes[i], resolved[i])
		if !set.Add(md) {
			p.logger.Warn("duplicate markdown path skipped",
				slog.String("note", notes[i].Path),
				slog.String("path", md.Path))
		}
		for _, img := range imgs {
			set.Add(img)
		}
	}

	p.logger.Debug("publish phase", slog.String("phase", string(PhaseBuildingManifest)))
	if manifest == nil {
		manifest = BuildManifest(set.Paths(KindMarkdown))
	}
	mItems, err := manifest.Items()
	if err != nil {
		return nil, fmt.Errorf("publish: render manifest: %w", err)
	}
	for _, it := range mItems {
		set.Add(it)
	}
	return set.Items(), nil
}

// resolveImages maps the note's embeds to local files. Embeds without a
// local target, and embeds of other notes, are skipped.
func (p *Publisher) resolveImages(ctx context.Context, note *models.Note) ([]ResolvedImage, error) {
	var out []ResolvedImage
	for _, e := range note.Embeds {
		res, err := p.source.ResolveEmbed(ctx, note, e.Link)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
				p.logger.Debug("embed not resolved",
					slog.String("note", note.Path),
					slog.String("link", e.Link))
				continue
			}
			return nil, fmt.Errorf("publish: resolve %q in %s: %w", e.Link, note.Path, err)
		}
		if strings.EqualFold(path.Ext(res.Path), ".md") {
			continue
		}
		if _, ok := CleanImageLink(e.Link); !ok {
			p.logger.Warn("embed link escapes the image directory",
				slog.String("note", note.Path),
				slog.String("link", e.Link))
			continue
		}
		out = append(out, ResolvedImage{Embed: e, Resource: res})
	}
	return out, nil
}

func (p *Publisher) transform(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = p.layout.Transform(it)
	}
	return out
}

func logPhase(logger *slog.Logger, phase Phase) {
	logger.Debug("publish phase", slog.String("phase", string(phase)))
}

type nopReporter struct{}

func (nopReporter) Deleted(int)               {}
func (nopReporter) Progress(int, int, string) {}
func (nopReporter) Done(int)                  {}
func (nopReporter) Failed(error)              {}
