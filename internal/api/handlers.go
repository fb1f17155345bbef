package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/ledger"
	"github.com/starford/notepub/internal/models"
	"github.com/starford/notepub/internal/publish"
)

// Publisher starts publish runs.
type Publisher interface {
	PublishAll(ctx context.Context, rep publish.Reporter) (*publish.Run, error)
	PublishNote(ctx context.Context, path string, rep publish.Reporter) (*publish.Run, error)
	Settings() publish.Settings
}

// NoteLister enumerates publishable notes.
type NoteLister interface {
	ListEligibleNotes(ctx context.Context, key string) ([]models.Note, error)
}

// History reads recorded runs.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]ledger.RunRow, error)
	GetRun(ctx context.Context, id string) (*ledger.RunRow, []ledger.ItemRow, error)
}

// Handler holds API route handlers.
type Handler struct {
	publisher Publisher
	notes     NoteLister
	history   History
	reporter  publish.Reporter
}

// NewHandler creates a new Handler. reporter receives the progress of runs
// started through the API and may be nil.
func NewHandler(publisher Publisher, notes NoteLister, history History, reporter publish.Reporter) *Handler {
	return &Handler{publisher: publisher, notes: notes, history: history, reporter: reporter}
}

// notePath extracts the note path from the URL (everything after the route
// prefix). Supports encoded slashes (e.g. posts%2Fhello.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// PublishAll handles POST /api/publish.
//
//	@Summary		Publish every flagged note and prune stale remote files
//	@Tags			publish
//	@Produce		json
//	@Success		200	{object}	PublishResponse
//	@Failure		409	{object}	errResponse
//	@Failure		412	{object}	errResponse
//	@Failure		502	{object}	PublishResponse
//	@Security		BearerAuth
//	@Router			/publish [post]
func (h *Handler) PublishAll(w http.ResponseWriter, r *http.Request) {
	// The run outlives a disconnected client; progress goes to the reporter.
	run, err := h.publisher.PublishAll(context.WithoutCancel(r.Context()), h.reporter)
	h.writeRun(w, run, err)
}

// PublishNote handles POST /api/publish/notes/*.
//
//	@Summary		Publish a single flagged note
//	@Tags			publish
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	PublishResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/publish/notes/{path} [post]
func (h *Handler) PublishNote(w http.ResponseWriter, r *http.Request) {
	p := notePath(r)
	if p == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	run, err := h.publisher.PublishNote(context.WithoutCancel(r.Context()), p, h.reporter)
	h.writeRun(w, run, err)
}

func (h *Handler) writeRun(w http.ResponseWriter, run *publish.Run, err error) {
	status := runStatus(err)
	switch {
	case err == nil:
		writeJSON(w, status, PublishResponse{Run: run})
	case status == http.StatusPreconditionFailed:
		writeError(w, status, h.publisher.Settings().MissingCredentialsNotice())
	case run == nil:
		// rejected before a run started
		if status == http.StatusBadGateway {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
	default:
		if status == http.StatusBadGateway {
			slog.Error("publish failed", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		}
		writeJSON(w, status, PublishResponse{Run: run, Error: err.Error()})
	}
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes flagged for publishing
//	@Tags			notes
//	@Produce		json
//	@Success		200	{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notes.ListEligibleNotes(r.Context(), h.publisher.Settings().FrontmatterKey)
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: noteListItems(notes), Total: len(notes)})
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recent publish runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Max runs"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []ledger.RunRow{}
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// GetRun handles GET /api/runs/{id}.
//
//	@Summary		Get a recorded run with its items
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run id"
//	@Success		200	{object}	RunDetailResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, items, err := h.history.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("get run failed", slog.String("id", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	if items == nil {
		items = []ledger.ItemRow{}
	}
	writeJSON(w, http.StatusOK, RunDetailResponse{Run: *run, Items: items})
}
