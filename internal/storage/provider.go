// Package storage defines read access to the local Markdown vault.
package storage

import "github.com/starford/notepub/internal/models"

// Provider is the interface for vault file operations.
type Provider interface {
	// List returns metadata for every .md file under dir (relative to vault root).
	List(dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Resolve maps an embed link written inside the note at from to the
	// vault-relative path of an existing file. It returns apperr.ErrNotFound
	// when nothing matches.
	Resolve(link, from string) (string, error)
}
