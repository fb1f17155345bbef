package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notepub/internal/publish"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Publish modes.
const (
	PublishModeDirect        = "direct"
	PublishModeTransactional = "transactional"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Vault   VaultConfig       `yaml:"vault"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Publish PublishConfig     `yaml:"publish"`
	GitHub  GitHubConfig      `yaml:"github"`
	GitLab  GitLabConfig      `yaml:"gitlab"`
}

// SetDefaults fills values that depend on other keys.
func (c *Config) SetDefaults() {
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeDisabled
	}
	c.Publish.SetDefaults()
}

// Validate validates the configuration. Provider credentials are not
// checked here; every publish checks them before touching the remote.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Publish.Validate()
}

// PublishSettings returns the publish snapshot for the selected provider.
func (c *Config) PublishSettings() publish.Settings {
	s := publish.Settings{
		Provider:       c.Publish.Provider,
		FrontmatterKey: c.Publish.FrontmatterKey,
		FilenameKey:    c.Publish.FilenameKey,
		ImagePath:      c.Publish.ImagePath,
		MarkdownPath:   c.Publish.MarkdownPath,
		ImageDir:       c.Publish.ImageDir,
		Transactional:  c.Publish.Mode == PublishModeTransactional,
		Concurrency:    c.Publish.Concurrency,
	}
	switch c.Publish.Provider {
	case publish.ProviderGitLab:
		s.Credentials = publish.Credentials{
			Owner:   c.GitLab.BaseURL,
			Repo:    c.GitLab.ProjectID,
			Token:   c.GitLab.Token,
			BaseURL: c.GitLab.BaseURL,
			Branch:  c.GitLab.Branch,
		}
	default:
		s.Credentials = publish.Credentials{
			Owner:   c.GitHub.Owner,
			Repo:    c.GitHub.Repository,
			Token:   c.GitHub.Token,
			BaseURL: c.GitHub.BaseURL,
			Branch:  c.GitHub.Branch,
		}
	}
	return s.WithDefaults()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel      slog.Level `yaml:"log_level"`
	LogFile       string     `yaml:"log_file"`
	LogMaxSizeMB  int        `yaml:"log_max_size_mb"`
	LogMaxBackups int        `yaml:"log_max_backups"`
	LogMaxAgeDays int        `yaml:"log_max_age_days"`
	HTTP          HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogMaxSizeMB, validation.Min(0)),
		validation.Field(&c.LogMaxBackups, validation.Min(0)),
		validation.Field(&c.LogMaxAgeDays, validation.Min(0)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the publish ledger location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for serve mode.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// PublishConfig selects the provider and the remote layout.
type PublishConfig struct {
	Provider       string        `yaml:"provider"`
	Mode           string        `yaml:"mode"`
	FrontmatterKey string        `yaml:"frontmatter_key"`
	FilenameKey    string        `yaml:"filename_frontmatter_key"`
	ImagePath      string        `yaml:"image_path"`
	MarkdownPath   string        `yaml:"markdown_path"`
	ImageDir       string        `yaml:"image_dir"`
	Concurrency    int           `yaml:"concurrency"`
	Debounce       time.Duration `yaml:"debounce"`
	Watch          bool          `yaml:"watch"` // serve mode also republishes changed notes
}

// SetDefaults picks the mode the provider publishes with by default:
// GitHub writes directly, GitLab goes through a merge request.
func (c *PublishConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = publish.ProviderGitHub
	}
	if c.Mode == "" {
		c.Mode = PublishModeDirect
		if c.Provider == publish.ProviderGitLab {
			c.Mode = PublishModeTransactional
		}
	}
	if c.FrontmatterKey == "" {
		c.FrontmatterKey = publish.DefaultFrontmatterKey
	}
	if c.FilenameKey == "" {
		c.FilenameKey = publish.DefaultFilenameKey
	}
	if c.ImagePath == "" {
		c.ImagePath = publish.DefaultImagePath
	}
	if c.MarkdownPath == "" {
		c.MarkdownPath = publish.DefaultMarkdownPath
	}
	if c.ImageDir == "" {
		c.ImageDir = publish.DefaultImageDir
	}
}

// Validate validates the publish configuration.
func (c *PublishConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(publish.ProviderGitHub, publish.ProviderGitLab)),
		validation.Field(&c.Mode, validation.Required, validation.In(PublishModeDirect, PublishModeTransactional)),
		validation.Field(&c.FrontmatterKey, validation.Required),
		validation.Field(&c.Concurrency, validation.Min(0)),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// GitHubConfig holds the GitHub target repository.
type GitHubConfig struct {
	Owner      string `yaml:"owner"`
	Repository string `yaml:"repository"`
	Token      string `yaml:"token"`
	BaseURL    string `yaml:"base_url"` // GitHub Enterprise API root
	Branch     string `yaml:"branch"`   // empty means the repository default
}

// GitLabConfig holds the GitLab target project.
type GitLabConfig struct {
	BaseURL   string `yaml:"base_url"`
	ProjectID string `yaml:"project_id"`
	Token     string `yaml:"token"`
	Branch    string `yaml:"branch"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:      slog.LevelInfo,
			LogMaxSizeMB:  50,
			LogMaxBackups: 3,
			LogMaxAgeDays: 28,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./notepub.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Publish: PublishConfig{
			Provider: publish.ProviderGitHub,
			Debounce: 2 * time.Second,
		},
	}
}
