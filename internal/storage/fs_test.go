package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/notepub/internal/apperr"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func writeFile(t *testing.T, s *FS, rel, content string) {
	t.Helper()
	abs := filepath.Join(s.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRead(t *testing.T) {
	s := tempVault(t)
	writeFile(t, s, "note.md", "# Hello\nWorld\n")
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "# Hello\nWorld\n" {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestReadMissing(t *testing.T) {
	s := tempVault(t)
	_, err := s.Read("nope.md")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	writeFile(t, s, "a.md", "a")
	writeFile(t, s, "sub/b.md", "b")
	writeFile(t, s, "readme.txt", "not md")
	writeFile(t, s, ".obsidian/workspace.md", "hidden")

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].Path != "a.md" || items[1].Path != "sub/b.md" {
		t.Errorf("paths = %q, %q", items[0].Path, items[1].Path)
	}
	if items[0].Checksum == "" {
		t.Error("expected checksum")
	}
}

func TestResolve_VaultRelative(t *testing.T) {
	s := tempVault(t)
	writeFile(t, s, "assets/cat.png", "png")
	got, err := s.Resolve("assets/cat.png", "notes/a.md")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "assets/cat.png" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_NoteRelative(t *testing.T) {
	s := tempVault(t)
	writeFile(t, s, "notes/img/cat.png", "png")
	got, err := s.Resolve("img/cat.png", "notes/a.md")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "notes/img/cat.png" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_ByName(t *testing.T) {
	s := tempVault(t)
	writeFile(t, s, "attachments/deep/cat.png", "png")
	got, err := s.Resolve("cat.png", "a.md")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "attachments/deep/cat.png" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_NotFound(t *testing.T) {
	s := tempVault(t)
	if _, err := s.Resolve("missing.png", "a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/notepub-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "notepub-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
