package api

import (
	"time"

	"github.com/starford/notepub/internal/ledger"
	"github.com/starford/notepub/internal/models"
	"github.com/starford/notepub/internal/publish"
)

// NoteListItem is one publishable note.
type NoteListItem struct {
	Path      string    `json:"path" example:"posts/hello.md" validate:"required"`
	Title     string    `json:"title" example:"Hello"`
	Embeds    int       `json:"embeds" example:"2"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteListResponse wraps the publishable note listing.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// RunListResponse wraps the publish history.
type RunListResponse struct {
	Runs []ledger.RunRow `json:"runs" validate:"required"`
}

// RunDetailResponse is a recorded run with its items.
type RunDetailResponse struct {
	Run   ledger.RunRow    `json:"run" validate:"required"`
	Items []ledger.ItemRow `json:"items" validate:"required"`
}

// PublishResponse is returned by the publish endpoints. Run is absent when
// the publish was rejected before it started.
type PublishResponse struct {
	Run   *publish.Run `json:"run,omitempty"`
	Error string       `json:"error,omitempty"`
}

func noteListItems(notes []models.Note) []NoteListItem {
	out := make([]NoteListItem, 0, len(notes))
	for _, n := range notes {
		out = append(out, NoteListItem{
			Path:      n.Path,
			Title:     n.Title,
			Embeds:    len(n.Embeds),
			UpdatedAt: n.UpdatedAt,
		})
	}
	return out
}
