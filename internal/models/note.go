// Package models defines the domain types shared by the vault and the publisher.
package models

import "time"

// Note is a Markdown file read from the vault, enumerated fresh on every
// publish run and never mutated afterwards.
type Note struct {
	Path        string         `json:"path"` // vault-relative, forward slashes
	Name        string         `json:"name"` // base file name, e.g. "hello.md"
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"-"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Embeds      []Embed        `json:"embeds,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Embed is one embedded-resource reference found in a note body.
type Embed struct {
	Original string `json:"original"` // inline markup exactly as written, e.g. "![[a.png|300]]"
	Link     string `json:"link"`     // link target, e.g. "a.png"
}

// Resource is the local file an embed resolved to.
type Resource struct {
	Path    string // vault-relative path of the resolved file
	Content []byte
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FrontmatterValue reports the value stored under key and whether it counts
// as set: nil, false, zero, empty strings and empty collections are unset.
func (n *Note) FrontmatterValue(key string) (any, bool) {
	if n.Frontmatter == nil {
		return nil, false
	}
	v, ok := n.Frontmatter[key]
	if !ok || v == nil {
		return nil, false
	}
	switch t := v.(type) {
	case bool:
		return t, t
	case string:
		return t, t != ""
	case int:
		return t, t != 0
	case float64:
		return t, t != 0
	case []any:
		return t, len(t) > 0
	case map[string]any:
		return t, len(t) > 0
	}
	return v, true
}
