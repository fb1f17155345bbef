// Package github publishes to a GitHub repository through the REST API.
// Writes go through the contents endpoints; the transactional path uses a
// branch, a pull request and a merge.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	gh "github.com/google/go-github/v66/github"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/remote"
)

// Config holds the repository coordinates and credentials.
type Config struct {
	Owner      string
	Repository string
	Token      string
	BaseURL    string // API root for GitHub Enterprise, empty for api.github.com
	Branch     string // publish branch, empty for the repository default
}

// Provider implements remote.Transactional on top of go-github.
type Provider struct {
	client *gh.Client
	owner  string
	repo   string
	branch string
	logger *slog.Logger

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

// New creates a GitHub provider. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, opts ...Option) (*Provider, error) {
	client := gh.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("github: parse base url: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		client.BaseURL = u
	}
	p := &Provider{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repository,
		branch: cfg.Branch,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements remote.Provider.
func (p *Provider) Name() string { return "github" }

// Tree implements remote.Provider. Only blobs are returned.
func (p *Provider) Tree(ctx context.Context, branch string) ([]remote.File, error) {
	ref, err := p.ref(ctx, branch)
	if err != nil {
		return nil, err
	}
	tree, _, err := p.client.Git.GetTree(ctx, p.owner, p.repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("github: get tree %s: %w", ref, err)
	}
	if tree.GetTruncated() {
		p.logger.Warn("github tree listing truncated", slog.String("ref", ref))
	}
	files := make([]remote.File, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		files = append(files, remote.File{
			Path:     remote.EncodePath(e.GetPath()),
			Revision: e.GetSHA(),
		})
	}
	return files, nil
}

// Revision implements remote.Provider. A 404 means the file does not exist.
func (p *Provider) Revision(ctx context.Context, path, branch string) (string, error) {
	var opts *gh.RepositoryContentGetOptions
	if b := p.target(branch); b != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: b}
	}
	// GetContents escapes the path itself.
	fc, _, resp, err := p.client.Repositories.GetContents(ctx, p.owner, p.repo, remote.DecodePath(path), opts)
	if err != nil {
		if isNotFound(resp, err) {
			return "", nil
		}
		return "", fmt.Errorf("github: get contents %s: %w", path, err)
	}
	if fc == nil {
		return "", fmt.Errorf("github: %s is a directory", path)
	}
	return fc.GetSHA(), nil
}

// WriteFile implements remote.Provider.
func (p *Provider) WriteFile(ctx context.Context, w remote.Write) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(w.Message),
		Content: w.Content,
	}
	if b := p.target(w.Branch); b != "" {
		opts.Branch = gh.String(b)
	}
	var (
		resp *gh.Response
		err  error
	)
	if w.Revision == "" {
		_, resp, err = p.client.Repositories.CreateFile(ctx, p.owner, p.repo, escapePath(w.Path), opts)
	} else {
		opts.SHA = gh.String(w.Revision)
		_, resp, err = p.client.Repositories.UpdateFile(ctx, p.owner, p.repo, escapePath(w.Path), opts)
	}
	if err != nil {
		// 409 is a stale sha; 422 a create over an existing file.
		if s := statusOf(resp, err); s == http.StatusConflict || s == http.StatusUnprocessableEntity {
			err = fmt.Errorf("%w: %w", apperr.ErrConflict, err)
		}
		return fmt.Errorf("github: put %s: %w", w.Path, err)
	}
	return nil
}

// DeleteFile implements remote.Provider.
func (p *Provider) DeleteFile(ctx context.Context, d remote.Delete) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(d.Message),
		SHA:     gh.String(d.Revision),
	}
	if b := p.target(d.Branch); b != "" {
		opts.Branch = gh.String(b)
	}
	if _, resp, err := p.client.Repositories.DeleteFile(ctx, p.owner, p.repo, escapePath(d.Path), opts); err != nil {
		switch statusOf(resp, err) {
		case http.StatusNotFound:
			err = fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
		case http.StatusConflict:
			err = fmt.Errorf("%w: %w", apperr.ErrConflict, err)
		}
		return fmt.Errorf("github: delete %s: %w", d.Path, err)
	}
	return nil
}

// BaseBranch implements remote.Transactional.
func (p *Provider) BaseBranch(ctx context.Context) (remote.Branch, error) {
	name, err := p.ref(ctx, "")
	if err != nil {
		return remote.Branch{}, err
	}
	ref, _, err := p.client.Git.GetRef(ctx, p.owner, p.repo, "heads/"+name)
	if err != nil {
		return remote.Branch{}, fmt.Errorf("github: get ref %s: %w", name, err)
	}
	return remote.Branch{Name: name, SHA: ref.GetObject().GetSHA()}, nil
}

// CreateBranch implements remote.Transactional.
func (p *Provider) CreateBranch(ctx context.Context, name string, from remote.Branch) error {
	_, resp, err := p.client.Git.CreateRef(ctx, p.owner, p.repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + name),
		Object: &gh.GitObject{SHA: gh.String(from.SHA)},
	})
	if err != nil {
		if statusOf(resp, err) == http.StatusUnprocessableEntity {
			err = fmt.Errorf("%w: %w", apperr.ErrAlreadyExists, err)
		}
		return fmt.Errorf("github: create ref %s: %w", name, err)
	}
	return nil
}

// CreateMergeRequest implements remote.Transactional by opening a pull request.
func (p *Provider) CreateMergeRequest(ctx context.Context, head, base, title string) (remote.MergeRequest, error) {
	pr, _, err := p.client.PullRequests.Create(ctx, p.owner, p.repo, &gh.NewPullRequest{
		Title: gh.String(title),
		Head:  gh.String(head),
		Base:  gh.String(base),
	})
	if err != nil {
		return remote.MergeRequest{}, fmt.Errorf("github: create pull request: %w", err)
	}
	return remote.MergeRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// Merge implements remote.Transactional.
func (p *Provider) Merge(ctx context.Context, mr remote.MergeRequest, message string) error {
	res, _, err := p.client.PullRequests.Merge(ctx, p.owner, p.repo, mr.Number, message,
		&gh.PullRequestOptions{MergeMethod: "merge"})
	if err != nil {
		return fmt.Errorf("github: merge pull request %d: %w", mr.Number, err)
	}
	if !res.GetMerged() {
		return fmt.Errorf("github: pull request %d not merged: %s", mr.Number, res.GetMessage())
	}
	return nil
}

// DeleteBranch implements remote.Transactional.
func (p *Provider) DeleteBranch(ctx context.Context, name string) error {
	if _, err := p.client.Git.DeleteRef(ctx, p.owner, p.repo, "heads/"+name); err != nil {
		return fmt.Errorf("github: delete ref %s: %w", name, err)
	}
	return nil
}

// target returns the branch a write goes to: the explicit one, else the
// configured publish branch, else "" for the repository default.
func (p *Provider) target(branch string) string {
	if branch != "" {
		return branch
	}
	return p.branch
}

// ref resolves branch to a concrete name, asking the API for the default
// branch when nothing is configured.
func (p *Provider) ref(ctx context.Context, branch string) (string, error) {
	if b := p.target(branch); b != "" {
		return b, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.defaultBranch != "" {
		return p.defaultBranch, nil
	}
	repo, _, err := p.client.Repositories.Get(ctx, p.owner, p.repo)
	if err != nil {
		return "", fmt.Errorf("github: get repository: %w", err)
	}
	p.defaultBranch = repo.GetDefaultBranch()
	return p.defaultBranch, nil
}

// escapePath turns a URL-form path into the escaped segment the contents
// write endpoints expect; they do not escape on their own.
func escapePath(p string) string {
	return (&url.URL{Path: remote.DecodePath(p)}).EscapedPath()
}

func isNotFound(resp *gh.Response, err error) bool {
	return statusOf(resp, err) == http.StatusNotFound
}

// statusOf returns the HTTP status behind an API call, or 0 when the
// request never got a response.
func statusOf(resp *gh.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}
