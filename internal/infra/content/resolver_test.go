package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"attestd/internal/domain"
	"attestd/internal/usecase"
)

func TestFileResolver_Resolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "pages"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := `{"title": "SOP-001 Cleaning Procedure", "body": "Step 1..."}`
	if err := os.WriteFile(filepath.Join(dir, "pages", "page-1.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write page: %v", err)
	}

	resolver := NewFileResolver(dir)
	got, err := resolver.Resolve(context.Background(), domain.SignatureTarget{PageID: "page-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil {
		t.Fatal("expected content")
	}
	if got.Title != "SOP-001 Cleaning Procedure" {
		t.Fatalf("unexpected title: %q", got.Title)
	}
	if got.VersionRef == "" {
		t.Fatal("expected version ref")
	}

	missing, err := resolver.Resolve(context.Background(), domain.SignatureTarget{PageID: "page-2"})
	if err != nil {
		t.Fatalf("resolve missing: %v", err)
	}
	if missing != nil {
		t.Fatal("missing page should resolve to nil")
	}
}

func TestFileResolver_VersionRefTracksEdits(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "change_requests"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "change_requests", "cr-1.json")
	if err := os.WriteFile(path, []byte(`{"title": "CR-1", "diff": "a"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resolver := NewFileResolver(dir)
	target := domain.SignatureTarget{ChangeRequestID: "cr-1"}
	before, err := resolver.Resolve(context.Background(), target)
	if err != nil {
		t.Fatalf("resolve before: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"title": "CR-1", "diff": "b"}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	after, err := resolver.Resolve(context.Background(), target)
	if err != nil {
		t.Fatalf("resolve after: %v", err)
	}
	if before.VersionRef == after.VersionRef {
		t.Fatal("version ref should change when the file changes")
	}
}

func TestMapResolver(t *testing.T) {
	resolver := NewMapResolver()
	target := domain.SignatureTarget{PageID: "page-1"}

	got, err := resolver.Resolve(context.Background(), target)
	if err != nil || got != nil {
		t.Fatalf("expected nil for unset target, got %v err %v", got, err)
	}

	resolver.Set(target, usecase.TargetContent{
		Content:    map[string]any{"title": "p"},
		Title:      "p",
		VersionRef: "v1",
	})
	got, err = resolver.Resolve(context.Background(), target)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || got.VersionRef != "v1" {
		t.Fatalf("unexpected content: %+v", got)
	}

	resolver.Delete(target)
	got, err = resolver.Resolve(context.Background(), target)
	if err != nil || got != nil {
		t.Fatal("deleted target should resolve to nil")
	}
}
