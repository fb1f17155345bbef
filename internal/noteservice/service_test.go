package noteservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/testutil"
)

func testService(t *testing.T) (string, *Service) {
	t.Helper()
	dir, store := testutil.TestVault(t)
	return dir, NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListEligibleNotes(t *testing.T) {
	dir, svc := testService(t)
	testutil.WriteFile(t, dir, "a.md", []byte("---\nnextra-publish: true\n---\n# A\n![[pic.png]]\n"))
	testutil.WriteFile(t, dir, "b/c.md", []byte("---\nnextra-publish: yes\ntitle: Cee\n---\nbody"))
	testutil.WriteFile(t, dir, "draft.md", []byte("---\nnextra-publish: false\n---\nnope"))
	testutil.WriteFile(t, dir, "plain.md", []byte("no frontmatter"))
	testutil.WriteFile(t, dir, ".obsidian/hidden.md", []byte("---\nnextra-publish: true\n---\n"))

	notes, err := svc.ListEligibleNotes(context.Background(), "nextra-publish")
	if err != nil {
		t.Fatalf("ListEligibleNotes: %v", err)
	}
	got := make(map[string]string)
	for _, n := range notes {
		got[n.Path] = n.Title
	}
	if len(got) != 2 {
		t.Fatalf("eligible = %v, want a.md and b/c.md", got)
	}
	if got["b/c.md"] != "Cee" {
		t.Errorf("title = %q, want %q", got["b/c.md"], "Cee")
	}
	for _, n := range notes {
		if n.Path == "a.md" {
			if len(n.Embeds) != 1 || n.Embeds[0].Link != "pic.png" {
				t.Errorf("embeds = %+v", n.Embeds)
			}
			if n.Name != "a.md" {
				t.Errorf("name = %q", n.Name)
			}
		}
	}
}

func TestGetNoteNotFound(t *testing.T) {
	_, svc := testService(t)
	if _, err := svc.GetNote(context.Background(), "missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetNoteKeepsRawContent(t *testing.T) {
	dir, svc := testService(t)
	raw := "---\nnextra-publish: true\n---\nhello ![[x.png]]\n"
	testutil.WriteFile(t, dir, "n.md", []byte(raw))

	n, err := svc.GetNote(context.Background(), "n.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if n.Content != raw {
		t.Errorf("content = %q, want %q", n.Content, raw)
	}
}

func TestResolveEmbed(t *testing.T) {
	dir, svc := testService(t)
	testutil.WriteFile(t, dir, "posts/a.md", []byte("![[pic.png]]"))
	testutil.WriteFile(t, dir, "assets/pic.png", []byte{0x89, 'P'})

	note, err := svc.GetNote(context.Background(), "posts/a.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	res, err := svc.ResolveEmbed(context.Background(), note, "pic.png")
	if err != nil {
		t.Fatalf("ResolveEmbed: %v", err)
	}
	if res.Path != "assets/pic.png" || len(res.Content) != 2 {
		t.Errorf("resource = %+v", res)
	}

	if _, err := svc.ResolveEmbed(context.Background(), note, "nope.png"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}
}
