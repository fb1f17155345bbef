package publish

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notepub/internal/apperr"
)

// Provider names.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// Defaults recovered from the plugin's settings.
const (
	DefaultFrontmatterKey = "nextra-publish"
	DefaultFilenameKey    = "nextra-filename"
	DefaultImagePath      = "/public"
	DefaultMarkdownPath   = "/pages"
	DefaultImageDir       = "img"
)

// Credentials are the three fields a provider needs before any remote call.
// For GitHub they are owner, repository and token; for GitLab base URL,
// project id and token.
type Credentials struct {
	Owner   string // GitHub owner, or GitLab base URL
	Repo    string // GitHub repository, or GitLab project id
	Token   string
	BaseURL string
	Branch  string
}

// Settings is the immutable configuration snapshot of one publish run.
type Settings struct {
	Provider       string
	Credentials    Credentials
	FrontmatterKey string
	FilenameKey    string
	ImagePath      string
	MarkdownPath   string
	ImageDir       string
	Transactional  bool
	Concurrency    int
}

// WithDefaults fills empty keys and paths with the plugin defaults.
func (s Settings) WithDefaults() Settings {
	if s.FrontmatterKey == "" {
		s.FrontmatterKey = DefaultFrontmatterKey
	}
	if s.FilenameKey == "" {
		s.FilenameKey = DefaultFilenameKey
	}
	if s.ImagePath == "" {
		s.ImagePath = DefaultImagePath
	}
	if s.MarkdownPath == "" {
		s.MarkdownPath = DefaultMarkdownPath
	}
	if s.ImageDir == "" {
		s.ImageDir = DefaultImageDir
	}
	return s
}

// DisplayName is the provider name used in user-facing text.
func (s Settings) DisplayName() string {
	switch s.Provider {
	case ProviderGitHub:
		return "Github"
	case ProviderGitLab:
		return "Gitlab"
	}
	return s.Provider
}

// MissingCredentialsNotice is the user-visible rejection text.
func (s Settings) MissingCredentialsNotice() string {
	return fmt.Sprintf("❌ %s Authentication info is required!", s.DisplayName())
}

// Validate checks the run precondition. Missing credential fields yield an
// error wrapping apperr.ErrMissingCredentials.
func (s Settings) Validate() error {
	c := s.Credentials
	if strings.TrimSpace(c.Owner) == "" || strings.TrimSpace(c.Repo) == "" || strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("%s: %w", s.MissingCredentialsNotice(), apperr.ErrMissingCredentials)
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.Provider, validation.Required, validation.In(ProviderGitHub, ProviderGitLab)),
		validation.Field(&s.FrontmatterKey, validation.Required),
		validation.Field(&s.ImagePath, validation.Required, validation.By(nonRootPrefix)),
		validation.Field(&s.MarkdownPath, validation.Required, validation.By(nonRootPrefix)),
		validation.Field(&s.Concurrency, validation.Min(0)),
	)
}

// nonRootPrefix rejects a prefix that normalizes to the repository root,
// which would put every remote file in deletion scope.
func nonRootPrefix(v any) error {
	s, _ := v.(string)
	if normalizePath(s) == "" {
		return fmt.Errorf("must name a directory below the repository root")
	}
	return nil
}
