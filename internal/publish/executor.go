package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notepub/internal/remote"
)

// Transaction steps, in execution order.
const (
	StepBaseBranch   = "get_ref"
	StepCreateBranch = "create_ref"
	StepDelete       = "delete_files"
	StepWrite        = "write_files"
	StepMergeRequest = "create_merge_request"
	StepMerge        = "merge"
	StepDeleteBranch = "delete_ref"
)

// TransactionError reports the transactional step that failed. Nothing
// is rolled back: Branch, when set, is left on the remote for manual cleanup.
type TransactionError struct {
	Step   string
	Branch string
	Err    error
}

func (e *TransactionError) Error() string {
	if e.Branch == "" {
		return fmt.Sprintf("publish: transaction step %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("publish: transaction step %s (branch %s left in place): %v", e.Step, e.Branch, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Plan is the remote mutation computed for one run.
type Plan struct {
	Deletes []remote.File
	Items   []Item
	Branch  string // target branch for direct writes, empty for the provider default
}

// Outcome describes what the executor did.
type Outcome struct {
	Written      int
	Deleted      int
	Branch       string // transactional branch name
	MergeRequest *remote.MergeRequest
}

// ProgressFunc is called after each successful write with the running
// number of completed writes. It may be called concurrently.
type ProgressFunc func(completed int, item Item)

// DeletedFunc is called once after all deletions completed.
type DeletedFunc func(count int)

// Executor applies a Plan to a remote provider.
type Executor struct {
	provider    remote.Provider
	concurrency int
	branchName  func() string
	logger      *slog.Logger
}

// NewExecutor creates an executor. concurrency <= 0 leaves remote calls
// unbounded.
func NewExecutor(provider remote.Provider, concurrency int, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		provider:    provider,
		concurrency: concurrency,
		branchName:  func() string { return "notepub/publish-" + uuid.NewString() },
		logger:      logger,
	}
}

// Apply runs deletions then writes directly against the publish branch.
func (e *Executor) Apply(ctx context.Context, plan Plan, onDeleted DeletedFunc, onProgress ProgressFunc) (*Outcome, error) {
	out := &Outcome{}
	if len(plan.Deletes) > 0 {
		if err := e.deleteAll(ctx, plan.Deletes, plan.Branch); err != nil {
			return out, err
		}
		out.Deleted = len(plan.Deletes)
		if onDeleted != nil {
			onDeleted(out.Deleted)
		}
	}
	n, err := e.writeAll(ctx, plan.Items, plan.Branch, onProgress)
	out.Written = n
	return out, err
}

// ApplyTransaction runs the plan through a branch and a merge request:
// create branch from the base tip, delete and write on the branch, open a
// merge request, merge it, delete the branch. Each step waits for the
// previous one; the first failure aborts the rest.
func (e *Executor) ApplyTransaction(ctx context.Context, plan Plan, onDeleted DeletedFunc, onProgress ProgressFunc) (*Outcome, error) {
	tx, ok := e.provider.(remote.Transactional)
	if !ok {
		return nil, fmt.Errorf("publish: %s: %w", e.provider.Name(), remote.ErrNotSupported)
	}
	out := &Outcome{}

	base, err := tx.BaseBranch(ctx)
	if err != nil {
		return out, &TransactionError{Step: StepBaseBranch, Err: err}
	}

	name := e.branchName()
	if err := tx.CreateBranch(ctx, name, base); err != nil {
		return out, &TransactionError{Step: StepCreateBranch, Err: err}
	}
	out.Branch = name
	e.logger.Info("publish branch created",
		slog.String("branch", name),
		slog.String("base", base.Name),
		slog.String("sha", base.SHA))

	if len(plan.Deletes) > 0 {
		if err := e.deleteAll(ctx, plan.Deletes, name); err != nil {
			return out, &TransactionError{Step: StepDelete, Branch: name, Err: err}
		}
		out.Deleted = len(plan.Deletes)
		if onDeleted != nil {
			onDeleted(out.Deleted)
		}
	}

	n, err := e.writeAll(ctx, plan.Items, name, onProgress)
	out.Written = n
	if err != nil {
		return out, &TransactionError{Step: StepWrite, Branch: name, Err: err}
	}

	title := mergeRequestTitle(len(plan.Items))
	mr, err := tx.CreateMergeRequest(ctx, name, base.Name, title)
	if err != nil {
		return out, &TransactionError{Step: StepMergeRequest, Branch: name, Err: err}
	}
	out.MergeRequest = &mr
	e.logger.Info("merge request opened", slog.Int("number", mr.Number), slog.String("url", mr.URL))

	if err := tx.Merge(ctx, mr, title); err != nil {
		return out, &TransactionError{Step: StepMerge, Branch: name, Err: err}
	}

	if err := tx.DeleteBranch(ctx, name); err != nil {
		return out, &TransactionError{Step: StepDeleteBranch, Branch: name, Err: err}
	}
	e.logger.Info("publish branch merged and deleted", slog.String("branch", name))
	return out, nil
}

func (e *Executor) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gCtx := errgroup.WithContext(ctx)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	return g, gCtx
}

// writeAll writes every item concurrently. Completion order is not
// guaranteed; the progress count is kept with an atomic counter.
func (e *Executor) writeAll(ctx context.Context, items []Item, branch string, onProgress ProgressFunc) (int, error) {
	var completed atomic.Int64
	g, gCtx := e.group(ctx)
	for _, item := range items {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := e.write(gCtx, item, branch); err != nil {
				return err
			}
			n := int(completed.Add(1))
			if onProgress != nil {
				onProgress(n, item)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(completed.Load()), err
}

// write looks up the current revision (a miss means create) and issues the
// create-or-update carrying it.
func (e *Executor) write(ctx context.Context, item Item, branch string) error {
	rev, err := e.provider.Revision(ctx, item.Path, branch)
	if err != nil {
		return fmt.Errorf("publish: lookup %s: %w", item.Path, err)
	}
	err = e.provider.WriteFile(ctx, remote.Write{
		Path:     item.Path,
		Content:  item.Content,
		Message:  item.Message,
		Revision: rev,
		Branch:   branch,
	})
	if err != nil {
		return fmt.Errorf("publish: write %s: %w", item.Path, err)
	}
	e.logger.Debug("file written",
		slog.String("path", item.Path),
		slog.String("kind", string(item.Kind)),
		slog.Bool("update", rev != ""))
	return nil
}

func (e *Executor) deleteAll(ctx context.Context, files []remote.File, branch string) error {
	g, gCtx := e.group(ctx)
	for _, f := range files {
		g.Go(func() error {
			err := e.provider.DeleteFile(gCtx, remote.Delete{
				Path:     f.Path,
				Revision: f.Revision,
				Message:  deleteMessage(f.Path),
				Branch:   branch,
			})
			if err != nil {
				return fmt.Errorf("publish: delete %s: %w", f.Path, err)
			}
			e.logger.Debug("file deleted", slog.String("path", f.Path))
			return nil
		})
	}
	return g.Wait()
}
