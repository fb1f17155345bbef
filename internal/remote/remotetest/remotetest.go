// Package remotetest provides an in-memory remote.Transactional for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/checksum"
	"github.com/starford/notepub/internal/remote"
)

// Steps that can be made to fail with FailStep.
const (
	StepBaseBranch   = "base_branch"
	StepCreateBranch = "create_branch"
	StepMergeRequest = "merge_request"
	StepMerge        = "merge"
	StepDeleteBranch = "delete_branch"
	StepTree         = "tree"
)

// ErrInjected is the error returned by injected failures.
var ErrInjected = errors.New("remotetest: injected failure")

// Provider keeps branches of files in memory.
type Provider struct {
	mu         sync.Mutex
	base       string
	branches   map[string]map[string][]byte
	failSteps  map[string]bool
	failWrites map[string]bool
	calls      []string
	mrs        map[int]string
	nextMR     int
}

// New returns a provider whose base branch holds files.
func New(files map[string][]byte) *Provider {
	main := make(map[string][]byte, len(files))
	for k, v := range files {
		main[k] = v
	}
	return &Provider{
		base:       "main",
		branches:   map[string]map[string][]byte{"main": main},
		failSteps:  make(map[string]bool),
		failWrites: make(map[string]bool),
		mrs:        make(map[int]string),
	}
}

// FailStep makes the named transactional step fail.
func (p *Provider) FailStep(step string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSteps[step] = true
}

// FailWrite makes writes to path fail.
func (p *Provider) FailWrite(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWrites[path] = true
}

// Name implements remote.Provider.
func (p *Provider) Name() string { return "fake" }

// Files returns a copy of the files on branch ("" for the base branch).
func (p *Provider) Files(branch string) map[string][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range p.branches[p.ref(branch)] {
		out[k] = v
	}
	return out
}

// Branches returns the branch names, sorted.
func (p *Provider) Branches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.branches))
	for k := range p.branches {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Calls returns the recorded call log.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Provider) ref(branch string) string {
	if branch == "" {
		return p.base
	}
	return branch
}

func (p *Provider) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *Provider) fail(step string) error {
	if p.failSteps[step] {
		return fmt.Errorf("%s: %w", step, ErrInjected)
	}
	return nil
}

func revision(content []byte) string {
	return checksum.GitBlob(content)
}

// Tree implements remote.Provider.
func (p *Provider) Tree(_ context.Context, branch string) ([]remote.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("tree %s", p.ref(branch))
	if err := p.fail(StepTree); err != nil {
		return nil, err
	}
	files, ok := p.branches[p.ref(branch)]
	if !ok {
		return nil, fmt.Errorf("remotetest: branch %s not found", branch)
	}
	out := make([]remote.File, 0, len(files))
	for k, v := range files {
		out = append(out, remote.File{Path: k, Revision: revision(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Revision implements remote.Provider.
func (p *Provider) Revision(_ context.Context, path, branch string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	files, ok := p.branches[p.ref(branch)]
	if !ok {
		return "", fmt.Errorf("remotetest: branch %s not found", branch)
	}
	v, ok := files[path]
	if !ok {
		return "", nil
	}
	return revision(v), nil
}

// WriteFile implements remote.Provider. An update must carry the current
// revision.
func (p *Provider) WriteFile(_ context.Context, w remote.Write) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("write %s %s", p.ref(w.Branch), w.Path)
	if p.failWrites[w.Path] {
		return fmt.Errorf("write %s: %w", w.Path, ErrInjected)
	}
	files, ok := p.branches[p.ref(w.Branch)]
	if !ok {
		return fmt.Errorf("remotetest: branch %s not found", w.Branch)
	}
	if cur, ok := files[w.Path]; ok && revision(cur) != w.Revision {
		return fmt.Errorf("remotetest: %s: stale revision %q: %w", w.Path, w.Revision, apperr.ErrConflict)
	}
	files[w.Path] = append([]byte(nil), w.Content...)
	return nil
}

// DeleteFile implements remote.Provider.
func (p *Provider) DeleteFile(_ context.Context, d remote.Delete) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("delete %s %s", p.ref(d.Branch), d.Path)
	files, ok := p.branches[p.ref(d.Branch)]
	if !ok {
		return fmt.Errorf("remotetest: branch %s not found", d.Branch)
	}
	cur, ok := files[d.Path]
	if !ok {
		return fmt.Errorf("remotetest: %s: %w", d.Path, apperr.ErrNotFound)
	}
	if revision(cur) != d.Revision {
		return fmt.Errorf("remotetest: %s: stale revision %q: %w", d.Path, d.Revision, apperr.ErrConflict)
	}
	delete(files, d.Path)
	return nil
}

// BaseBranch implements remote.Transactional.
func (p *Provider) BaseBranch(_ context.Context) (remote.Branch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("base_branch")
	if err := p.fail(StepBaseBranch); err != nil {
		return remote.Branch{}, err
	}
	return remote.Branch{Name: p.base, SHA: "tip-" + p.base}, nil
}

// CreateBranch implements remote.Transactional.
func (p *Provider) CreateBranch(_ context.Context, name string, from remote.Branch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create_branch %s", name)
	if err := p.fail(StepCreateBranch); err != nil {
		return err
	}
	if _, ok := p.branches[name]; ok {
		return fmt.Errorf("remotetest: branch %s: %w", name, apperr.ErrAlreadyExists)
	}
	src := p.branches[from.Name]
	dst := make(map[string][]byte, len(src))
	for k, v := range src {
		dst[k] = v
	}
	p.branches[name] = dst
	return nil
}

// CreateMergeRequest implements remote.Transactional.
func (p *Provider) CreateMergeRequest(_ context.Context, head, base, title string) (remote.MergeRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("merge_request %s->%s %s", head, base, title)
	if err := p.fail(StepMergeRequest); err != nil {
		return remote.MergeRequest{}, err
	}
	p.nextMR++
	p.mrs[p.nextMR] = head
	return remote.MergeRequest{Number: p.nextMR, URL: fmt.Sprintf("fake://mr/%d", p.nextMR)}, nil
}

// Merge implements remote.Transactional; the head branch replaces the base.
func (p *Provider) Merge(_ context.Context, mr remote.MergeRequest, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("merge %d", mr.Number)
	if err := p.fail(StepMerge); err != nil {
		return err
	}
	head, ok := p.mrs[mr.Number]
	if !ok {
		return fmt.Errorf("remotetest: merge request %d not found", mr.Number)
	}
	merged := make(map[string][]byte, len(p.branches[head]))
	for k, v := range p.branches[head] {
		merged[k] = v
	}
	p.branches[p.base] = merged
	return nil
}

// DeleteBranch implements remote.Transactional.
func (p *Provider) DeleteBranch(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("delete_branch %s", name)
	if err := p.fail(StepDeleteBranch); err != nil {
		return err
	}
	delete(p.branches, name)
	return nil
}

// Direct wraps a provider so that it only exposes remote.Provider.
type Direct struct{ remote.Provider }
