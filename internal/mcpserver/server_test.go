package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/notepub/internal/ledger"
	"github.com/starford/notepub/internal/noteservice"
	"github.com/starford/notepub/internal/publish"
	"github.com/starford/notepub/internal/remote/remotetest"
	"github.com/starford/notepub/internal/testutil"
)

func testServer(t *testing.T, creds publish.Credentials) (*Server, *remotetest.Provider) {
	t.Helper()
	vaultDir, store := testutil.TestVault(t)
	testutil.WriteFile(t, vaultDir, "hello.md", []byte("---\nnextra-publish: true\n---\nHello ![[pic.png]]"))
	testutil.WriteFile(t, vaultDir, "docs/guide.md", []byte("---\nnextra-publish: true\n---\nGuide"))
	testutil.WriteFile(t, vaultDir, "private.md", []byte("---\nnextra-publish: false\n---\nsecret"))
	testutil.WriteFile(t, vaultDir, "pic.png", []byte{1, 2, 3})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notes := noteservice.NewService(store, logger)
	fake := remotetest.New(nil)
	db := testutil.TestLedger(t)
	settings := publish.Settings{Provider: publish.ProviderGitHub, Credentials: creds}
	pub := publish.NewPublisher(settings, notes, fake, publish.WithRecorder(db), publish.WithLogger(logger))
	return New(pub, notes, db), fake
}

func validCreds() publish.Credentials {
	return publish.Credentials{Owner: "octo", Repo: "site", Token: "t"}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "publish_all":
		result, err = srv.publishAll(ctx, req)
	case "publish_note":
		result, err = srv.publishNote(ctx, req)
	case "list_publishable_notes":
		result, err = srv.listPublishableNotes(ctx, req)
	case "preview_publish":
		result, err = srv.previewPublish(ctx, req)
	case "publish_history":
		result, err = srv.publishHistory(ctx, req)
	case "get_frontmatter_contract":
		result, err = srv.getContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListPublishableNotes(t *testing.T) {
	srv, _ := testServer(t, validCreds())
	text := resultText(callTool(t, srv, "list_publishable_notes", nil))
	if text != "docs/guide.md\nhello.md" && text != "hello.md\ndocs/guide.md" {
		t.Errorf("notes = %q", text)
	}
}

func TestPublishAllTool(t *testing.T) {
	srv, fake := testServer(t, validCreds())

	r := callTool(t, srv, "publish_all", nil)
	if r.IsError {
		t.Fatalf("publish_all failed: %s", resultText(r))
	}
	if !strings.HasPrefix(resultText(r), "5 has published") {
		t.Errorf("result = %q", resultText(r))
	}
	if _, ok := fake.Files("main")["pages/docs/guide.md"]; !ok {
		t.Error("guide not published")
	}

	var runs []ledger.RunRow
	if err := json.Unmarshal([]byte(resultText(callTool(t, srv, "publish_history", map[string]any{"limit": 5}))), &runs); err != nil {
		t.Fatalf("history json: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != publish.StatusDone {
		t.Errorf("history = %+v", runs)
	}
}

func TestPublishNoteTool(t *testing.T) {
	srv, fake := testServer(t, validCreds())

	if r := callTool(t, srv, "publish_note", map[string]any{}); !r.IsError {
		t.Error("expected error for missing path")
	}
	if r := callTool(t, srv, "publish_note", map[string]any{"path": "private.md"}); !r.IsError {
		t.Error("expected error for unflagged note")
	}

	r := callTool(t, srv, "publish_note", map[string]any{"path": "hello.md"})
	if r.IsError {
		t.Fatalf("publish_note failed: %s", resultText(r))
	}
	files := fake.Files("main")
	if _, ok := files["pages/hello.md"]; !ok {
		t.Error("note not written")
	}
	if _, ok := files["pages/docs/guide.md"]; ok {
		t.Error("sibling note written by single-note publish")
	}
}

func TestPublishMissingCredentials(t *testing.T) {
	srv, fake := testServer(t, publish.Credentials{Owner: "octo"})

	r := callTool(t, srv, "publish_all", nil)
	if !r.IsError {
		t.Fatal("expected error")
	}
	if got, want := resultText(r), "❌ Github Authentication info is required!"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("remote calls = %v, want none", calls)
	}
}

func TestPreviewPublish(t *testing.T) {
	srv, fake := testServer(t, validCreds())

	text := resultText(callTool(t, srv, "preview_publish", nil))
	for _, want := range []string{"markdown\tpages/hello.md", "image\tpublic/img/pic.png", "manifest\tpages/_meta.json"} {
		if !strings.Contains(text, want) {
			t.Errorf("preview missing %q:\n%s", want, text)
		}
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("preview touched remote: %v", calls)
	}
}

func TestFrontmatterContract(t *testing.T) {
	srv, _ := testServer(t, validCreds())
	text := resultText(callTool(t, srv, "get_frontmatter_contract", nil))
	for _, want := range []string{"nextra-publish: true", "nextra-filename:", "/pages", "/public/img/"} {
		if !strings.Contains(text, want) {
			t.Errorf("contract missing %q", want)
		}
	}

	contents, err := srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != contractURI {
		t.Errorf("resource contents = %+v", contents[0])
	}
}
