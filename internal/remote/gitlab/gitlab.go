// Package gitlab publishes to a GitLab project through the REST API.
package gitlab

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gl "github.com/xanzy/go-gitlab"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/remote"
)

const treePageSize = 100

const (
	defaultMergePoll = time.Second
	defaultMergeWait = time.Minute
)

// Config holds the project coordinates and credentials.
type Config struct {
	BaseURL   string // e.g. https://gitlab.com
	ProjectID string // numeric id or "namespace/project"
	Token     string
	Branch    string // publish branch, empty for the project default
}

// Provider implements remote.Transactional on top of go-gitlab.
type Provider struct {
	client  *gl.Client
	project string
	branch  string
	logger  *slog.Logger

	mergePoll time.Duration
	mergeWait time.Duration

	mu            sync.Mutex
	defaultBranch string
}

var _ remote.Transactional = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithMergePoll sets how often Merge re-reads a merge request that GitLab is
// still checking, and how long it waits in total before giving up.
func WithMergePoll(interval, timeout time.Duration) Option {
	return func(p *Provider) {
		if interval > 0 {
			p.mergePoll = interval
		}
		if timeout > 0 {
			p.mergeWait = timeout
		}
	}
}

// New creates a GitLab provider. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, opts ...Option) (*Provider, error) {
	clientOpts := []gl.ClientOptionFunc{gl.WithBaseURL(cfg.BaseURL)}
	if httpClient != nil {
		clientOpts = append(clientOpts, gl.WithHTTPClient(httpClient))
	}
	client, err := gl.NewClient(cfg.Token, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gitlab: new client: %w", err)
	}
	p := &Provider{
		client:  client,
		project: cfg.ProjectID,
		branch:  cfg.Branch,
		logger:  slog.Default(),

		mergePoll: defaultMergePoll,
		mergeWait: defaultMergeWait,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements remote.Provider.
func (p *Provider) Name() string { return "gitlab" }

// Tree implements remote.Provider, paging through the recursive listing.
func (p *Provider) Tree(ctx context.Context, branch string) ([]remote.File, error) {
	ref, err := p.ref(ctx, branch)
	if err != nil {
		return nil, err
	}
	opts := &gl.ListTreeOptions{
		ListOptions: gl.ListOptions{Page: 1, PerPage: treePageSize},
		Ref:         gl.Ptr(ref),
		Recursive:   gl.Ptr(true),
	}
	var files []remote.File
	for {
		nodes, resp, err := p.client.Repositories.ListTree(p.project, opts, gl.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("gitlab: list tree %s: %w", ref, err)
		}
		for _, n := range nodes {
			if n.Type != "blob" {
				continue
			}
			files = append(files, remote.File{Path: remote.EncodePath(n.Path), Revision: n.ID})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	p.logger.Debug("gitlab tree listed", slog.String("ref", ref), slog.Int("files", len(files)))
	return files, nil
}

// Revision implements remote.Provider. The token is the file's last commit
// id, which GitLab checks on update.
func (p *Provider) Revision(ctx context.Context, path, branch string) (string, error) {
	ref, err := p.ref(ctx, branch)
	if err != nil {
		return "", err
	}
	f, resp, err := p.client.RepositoryFiles.GetFile(p.project, remote.DecodePath(path),
		&gl.GetFileOptions{Ref: gl.Ptr(ref)}, gl.WithContext(ctx))
	if err != nil {
		if isNotFound(resp, err) {
			return "", nil
		}
		return "", fmt.Errorf("gitlab: get file %s: %w", path, err)
	}
	return f.LastCommitID, nil
}

// WriteFile implements remote.Provider. Content is always sent base64 encoded.
func (p *Provider) WriteFile(ctx context.Context, w remote.Write) error {
	ref, err := p.ref(ctx, w.Branch)
	if err != nil {
		return err
	}
	content := encodeContent(w.Content)
	name := remote.DecodePath(w.Path)
	var resp *gl.Response
	if w.Revision == "" {
		_, resp, err = p.client.RepositoryFiles.CreateFile(p.project, name, &gl.CreateFileOptions{
			Branch:        gl.Ptr(ref),
			Encoding:      gl.Ptr("base64"),
			Content:       gl.Ptr(content),
			CommitMessage: gl.Ptr(w.Message),
		}, gl.WithContext(ctx))
	} else {
		_, resp, err = p.client.RepositoryFiles.UpdateFile(p.project, name, &gl.UpdateFileOptions{
			Branch:        gl.Ptr(ref),
			Encoding:      gl.Ptr("base64"),
			Content:       gl.Ptr(content),
			CommitMessage: gl.Ptr(w.Message),
			LastCommitID:  gl.Ptr(w.Revision),
		}, gl.WithContext(ctx))
	}
	if err != nil {
		// GitLab answers a stale last_commit_id and a create over an
		// existing file with 400.
		if s := statusOf(resp, err); s == http.StatusBadRequest || s == http.StatusConflict {
			err = fmt.Errorf("%w: %w", apperr.ErrConflict, err)
		}
		return fmt.Errorf("gitlab: put %s: %w", w.Path, err)
	}
	return nil
}

// DeleteFile implements remote.Provider. The tree revision is a blob id,
// not a commit id, so it is not sent.
func (p *Provider) DeleteFile(ctx context.Context, d remote.Delete) error {
	ref, err := p.ref(ctx, d.Branch)
	if err != nil {
		return err
	}
	resp, err := p.client.RepositoryFiles.DeleteFile(p.project, remote.DecodePath(d.Path), &gl.DeleteFileOptions{
		Branch:        gl.Ptr(ref),
		CommitMessage: gl.Ptr(d.Message),
	}, gl.WithContext(ctx))
	if err != nil {
		if isNotFound(resp, err) {
			err = fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
		}
		return fmt.Errorf("gitlab: delete %s: %w", d.Path, err)
	}
	return nil
}

// BaseBranch implements remote.Transactional.
func (p *Provider) BaseBranch(ctx context.Context) (remote.Branch, error) {
	name, err := p.ref(ctx, "")
	if err != nil {
		return remote.Branch{}, err
	}
	b, _, err := p.client.Branches.GetBranch(p.project, name, gl.WithContext(ctx))
	if err != nil {
		return remote.Branch{}, fmt.Errorf("gitlab: get branch %s: %w", name, err)
	}
	var sha string
	if b.Commit != nil {
		sha = b.Commit.ID
	}
	return remote.Branch{Name: name, SHA: sha}, nil
}

// CreateBranch implements remote.Transactional.
func (p *Provider) CreateBranch(ctx context.Context, name string, from remote.Branch) error {
	ref := from.SHA
	if ref == "" {
		ref = from.Name
	}
	_, resp, err := p.client.Branches.CreateBranch(p.project, &gl.CreateBranchOptions{
		Branch: gl.Ptr(name),
		Ref:    gl.Ptr(ref),
	}, gl.WithContext(ctx))
	if err != nil {
		if statusOf(resp, err) == http.StatusBadRequest {
			err = fmt.Errorf("%w: %w", apperr.ErrAlreadyExists, err)
		}
		return fmt.Errorf("gitlab: create branch %s: %w", name, err)
	}
	return nil
}

// CreateMergeRequest implements remote.Transactional.
func (p *Provider) CreateMergeRequest(ctx context.Context, head, base, title string) (remote.MergeRequest, error) {
	mr, _, err := p.client.MergeRequests.CreateMergeRequest(p.project, &gl.CreateMergeRequestOptions{
		Title:        gl.Ptr(title),
		SourceBranch: gl.Ptr(head),
		TargetBranch: gl.Ptr(base),
	}, gl.WithContext(ctx))
	if err != nil {
		return remote.MergeRequest{}, fmt.Errorf("gitlab: create merge request: %w", err)
	}
	return remote.MergeRequest{Number: mr.IID, URL: mr.WebURL}, nil
}

// Merge implements remote.Transactional.
func (p *Provider) Merge(ctx context.Context, mr remote.MergeRequest, message string) error {
	if err := p.awaitMergeable(ctx, mr.Number); err != nil {
		return err
	}
	res, _, err := p.client.MergeRequests.AcceptMergeRequest(p.project, mr.Number, &gl.AcceptMergeRequestOptions{
		MergeCommitMessage: gl.Ptr(message),
	}, gl.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab: accept merge request %d: %w", mr.Number, err)
	}
	if res.State != "merged" {
		return fmt.Errorf("gitlab: merge request %d state %q", mr.Number, res.State)
	}
	return nil
}

// pendingMergeStatus lists the detailed_merge_status values GitLab reports
// while it is still computing whether a merge request can be merged.
var pendingMergeStatus = map[string]bool{
	"unchecked":         true,
	"checking":          true,
	"preparing":         true,
	"approvals_syncing": true,
}

// awaitMergeable blocks until GitLab has finished its mergeability check of
// a freshly opened merge request. Any settled status, mergeable or not, ends
// the wait and is left to the accept call to judge.
func (p *Provider) awaitMergeable(ctx context.Context, iid int) error {
	deadline := time.Now().Add(p.mergeWait)
	for {
		mr, _, err := p.client.MergeRequests.GetMergeRequest(p.project, iid, nil, gl.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("gitlab: get merge request %d: %w", iid, err)
		}
		if !pendingMergeStatus[mr.DetailedMergeStatus] {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gitlab: merge request %d still %q after %s", iid, mr.DetailedMergeStatus, p.mergeWait)
		}
		p.logger.Debug("waiting for merge request check",
			slog.Int("iid", iid),
			slog.String("status", mr.DetailedMergeStatus))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.mergePoll):
		}
	}
}

// DeleteBranch implements remote.Transactional.
func (p *Provider) DeleteBranch(ctx context.Context, name string) error {
	if _, err := p.client.Branches.DeleteBranch(p.project, name, gl.WithContext(ctx)); err != nil {
		return fmt.Errorf("gitlab: delete branch %s: %w", name, err)
	}
	return nil
}

// ref resolves branch to a concrete name: the explicit one, the configured
// publish branch, or the project default.
func (p *Provider) ref(ctx context.Context, branch string) (string, error) {
	if branch != "" {
		return branch, nil
	}
	if p.branch != "" {
		return p.branch, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.defaultBranch != "" {
		return p.defaultBranch, nil
	}
	proj, _, err := p.client.Projects.GetProject(p.project, nil, gl.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("gitlab: get project: %w", err)
	}
	p.defaultBranch = proj.DefaultBranch
	return p.defaultBranch, nil
}

func encodeContent(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func isNotFound(resp *gl.Response, err error) bool {
	return statusOf(resp, err) == http.StatusNotFound
}

// statusOf returns the HTTP status behind an API call, or 0 when the
// request never got a response.
func statusOf(resp *gl.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var glErr *gl.ErrorResponse
	if errors.As(err, &glErr) && glErr.Response != nil {
		return glErr.Response.StatusCode
	}
	return 0
}
