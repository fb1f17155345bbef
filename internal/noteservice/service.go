// Package noteservice reads notes out of the vault for the publisher.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/models"
	"github.com/starford/notepub/internal/parser"
	"github.com/starford/notepub/internal/storage"
)

// Service coordinates vault reads and parsing.
type Service struct {
	store  storage.Provider
	logger *slog.Logger
}

// NewService creates a new note service.
func NewService(store storage.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ListNotes reads and parses every note in the vault. Notes are read
// concurrently; the result keeps the vault walk order.
func (s *Service) ListNotes(ctx context.Context) ([]models.Note, error) {
	metas, err := s.store.List("")
	if err != nil {
		return nil, err
	}

	notes := make([]models.Note, len(metas))
	g, gCtx := errgroup.WithContext(ctx)
	for i, m := range metas {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			data, err := s.store.Read(m.Path)
			if err != nil {
				return err
			}
			n, err := buildNote(m.Path, data)
			if err != nil {
				return fmt.Errorf("noteservice: parse %s: %w", m.Path, err)
			}
			n.UpdatedAt = m.UpdatedAt
			notes[i] = *n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return notes, nil
}

// ListEligibleNotes returns the notes whose frontmatter carries a non-empty
// value under key.
func (s *Service) ListEligibleNotes(ctx context.Context, key string) ([]models.Note, error) {
	all, err := s.ListNotes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Note, 0, len(all))
	for i := range all {
		if _, ok := all[i].FrontmatterValue(key); ok {
			out = append(out, all[i])
		}
	}
	s.logger.Debug("eligible notes collected",
		slog.Int("total", len(all)),
		slog.Int("eligible", len(out)))
	return out, nil
}

// GetNote reads and parses a single note.
func (s *Service) GetNote(_ context.Context, p string) (*models.Note, error) {
	data, err := s.store.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return buildNote(p, data)
}

// ResolveEmbed maps an embed link of note to the local file it points at.
// It returns apperr.ErrNotFound when the link has no local target.
func (s *Service) ResolveEmbed(_ context.Context, note *models.Note, link string) (*models.Resource, error) {
	rel, err := s.store.Resolve(link, note.Path)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(rel)
	if err != nil {
		return nil, err
	}
	return &models.Resource{Path: rel, Content: data}, nil
}

func buildNote(p string, data []byte) (*models.Note, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	return &models.Note{
		Path:        p,
		Name:        path.Base(p),
		Title:       res.Title,
		Content:     string(data),
		Frontmatter: res.Frontmatter,
		Embeds:      res.Embeds,
	}, nil
}
