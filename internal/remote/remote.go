// Package remote defines the capabilities a Git hosting provider offers to
// the publisher. Implementations live in the github and gitlab subpackages.
package remote

import (
	"context"
	"errors"
)

// ErrNotSupported is returned when a provider lacks a requested capability.
var ErrNotSupported = errors.New("remote: operation not supported by provider")

// File is one blob in the remote repository tree.
type File struct {
	Path     string `json:"path"`
	Revision string `json:"revision"` // opaque token required to update or delete
}

// Write describes a create-or-update of a single file.
type Write struct {
	Path     string
	Content  []byte // raw bytes; providers base64-encode on the wire
	Message  string
	Revision string // prior revision token, empty when the file is new
	Branch   string // empty means the provider's publish branch
}

// Delete describes the removal of a single file.
type Delete struct {
	Path     string
	Revision string
	Message  string
	Branch   string
}

// Provider is the direct-write capability every host supports.
type Provider interface {
	// Name is the human readable host name used in progress text.
	Name() string
	// Tree lists every blob on branch, recursively.
	Tree(ctx context.Context, branch string) ([]File, error)
	// Revision returns the current revision token of the file at path, or ""
	// when the file does not exist.
	Revision(ctx context.Context, path, branch string) (string, error)
	// WriteFile creates or updates a file.
	WriteFile(ctx context.Context, w Write) error
	// DeleteFile removes a file.
	DeleteFile(ctx context.Context, d Delete) error
}

// Branch is a named ref and the commit it points at.
type Branch struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
}

// MergeRequest identifies an opened pull or merge request.
type MergeRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url,omitempty"`
}

// Transactional is implemented by providers that can publish through a
// branch and a merge request.
type Transactional interface {
	Provider
	// BaseBranch returns the branch publishes target, with its current tip.
	BaseBranch(ctx context.Context) (Branch, error)
	CreateBranch(ctx context.Context, name string, from Branch) error
	CreateMergeRequest(ctx context.Context, head, base, title string) (MergeRequest, error)
	Merge(ctx context.Context, mr MergeRequest, message string) error
	DeleteBranch(ctx context.Context, name string) error
}
