// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes publish tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/ledger"
	"github.com/starford/notepub/internal/models"
	"github.com/starford/notepub/internal/publish"
)

const contractURI = "notepub://frontmatter-contract"

// Publisher starts publish runs and previews the publish set.
type Publisher interface {
	PublishAll(ctx context.Context, rep publish.Reporter) (*publish.Run, error)
	PublishNote(ctx context.Context, path string, rep publish.Reporter) (*publish.Run, error)
	BuildAll(ctx context.Context) ([]publish.Item, error)
	Settings() publish.Settings
}

// NoteLister enumerates publishable notes.
type NoteLister interface {
	ListEligibleNotes(ctx context.Context, key string) ([]models.Note, error)
}

// History lists recorded runs.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]ledger.RunRow, error)
}

// Server wraps the MCP server with publish tools.
type Server struct {
	mcp       *server.MCPServer
	publisher Publisher
	notes     NoteLister
	history   History
}

// New creates a new MCP server with all publish tools registered.
func New(publisher Publisher, notes NoteLister, history History) *Server {
	s := &Server{publisher: publisher, notes: notes, history: history}

	s.mcp = server.NewMCPServer(
		"notepub",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("publish_all",
		mcp.WithDescription("Publish every flagged note, its images and directory manifests, "+
			"and delete remote files under the managed prefixes that are no longer published."),
	), s.publishAll)

	s.mcp.AddTool(mcp.NewTool("publish_note",
		mcp.WithDescription("Publish one flagged note with its images and the manifests of its "+
			"parent directories. Nothing is deleted."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative note path (e.g. guides/setup.md)")),
	), s.publishNote)

	s.mcp.AddTool(mcp.NewTool("list_publishable_notes",
		mcp.WithDescription("List the vault notes whose front-matter flags them for publishing."),
	), s.listPublishableNotes)

	s.mcp.AddTool(mcp.NewTool("preview_publish",
		mcp.WithDescription("List the remote paths a full publish would write, without touching the remote."),
	), s.previewPublish)

	s.mcp.AddTool(mcp.NewTool("publish_history",
		mcp.WithDescription("List recent publish runs, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max runs to return (default 20)")),
	), s.publishHistory)

	s.mcp.AddTool(mcp.NewTool("get_frontmatter_contract",
		mcp.WithDescription("Returns the front-matter keys and remote layout that control publishing. "+
			"Call this before flagging notes."),
	), s.getContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Publish Front-matter Contract",
			mcp.WithResourceDescription("Front-matter keys and remote layout that control publishing."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) publishAll(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := s.publisher.PublishAll(ctx, nil)
	return s.runResult(run, err), nil
}

func (s *Server) publishNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run, err := s.publisher.PublishNote(ctx, path, nil)
	return s.runResult(run, err), nil
}

func (s *Server) runResult(run *publish.Run, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrMissingCredentials) {
		return mcp.NewToolResultError(s.publisher.Settings().MissingCredentialsNotice())
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	msg := fmt.Sprintf("%d has published", run.Total)
	if run.Deleted > 0 {
		msg += fmt.Sprintf("; deleted %d files", run.Deleted)
	}
	if run.MergeRequest != nil && run.MergeRequest.URL != "" {
		msg += "; merged " + run.MergeRequest.URL
	}
	return mcp.NewToolResultText(msg + " (run " + run.ID + ")")
}

func (s *Server) listPublishableNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.notes.ListEligibleNotes(ctx, s.publisher.Settings().FrontmatterKey)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(notes) == 0 {
		return mcp.NewToolResultText("no publishable notes"), nil
	}
	paths := make([]string, 0, len(notes))
	for _, n := range notes {
		paths = append(paths, n.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) previewPublish(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.publisher.BuildAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, string(it.Kind)+"\t"+it.Path)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) publishHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.history.ListRuns(ctx, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if runs == nil {
		runs = []ledger.RunRow{}
	}
	out, _ := json.MarshalIndent(runs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(FrontmatterContract(s.publisher.Settings())), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     FrontmatterContract(s.publisher.Settings()),
		},
	}, nil
}
