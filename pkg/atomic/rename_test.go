package atomic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRename_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "draft.md")
	newPath := filepath.Join(dir, "published.md")
	ctx := context.Background()

	mustWrite(t, oldPath, "content")

	if res := Rename(ctx, oldPath, newPath); !res.Success {
		t.Fatalf("Rename failed: %v", res.Err)
	}
	if res := Rename(ctx, newPath, oldPath); !res.Success {
		t.Fatalf("Reverse rename failed: %v", res.Err)
	}

	if got := mustRead(t, oldPath); got != "content" {
		t.Errorf("Content mismatch after round trip: %s", got)
	}
	if _, err := os.Lstat(newPath); !os.IsNotExist(err) {
		t.Error("Intermediate path still exists")
	}
}

func TestRename_SourceMissing(t *testing.T) {
	dir := t.TempDir()
	res := Rename(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	if res.Success {
		t.Fatal("Expected failure")
	}
	if !errors.Is(res.Err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", res.Err)
	}
}

func TestRename_RestoresDestinationOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "new.txt")
	newPath := filepath.Join(dir, "live.txt")
	ctx := context.Background()

	mustWrite(t, oldPath, "candidate")
	mustWrite(t, newPath, "current")

	res := Rename(ctx, oldPath, newPath, WithPathValidator(func(context.Context, string) error {
		return fmt.Errorf("rejected")
	}))
	if res.Success {
		t.Fatal("Expected failure")
	}
	if !errors.Is(res.Err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", res.Err)
	}
	if !res.RollbackPerformed {
		t.Error("Expected rollback")
	}

	if got := mustRead(t, oldPath); got != "candidate" {
		t.Errorf("Source not restored: %s", got)
	}
	if got := mustRead(t, newPath); got != "current" {
		t.Errorf("Destination not restored: %s", got)
	}
}

func TestRename_ReplacesDestinationAndCleansBackup(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "staged")
	newPath := filepath.Join(dir, "live")
	ctx := context.Background()

	mustWrite(t, filepath.Join(oldPath, "v2.txt"), "v2")
	mustWrite(t, filepath.Join(newPath, "v1.txt"), "v1")

	res := Rename(ctx, oldPath, newPath)
	if !res.Success {
		t.Fatalf("Rename failed: %v", res.Err)
	}

	if got := mustRead(t, filepath.Join(newPath, "v2.txt")); got != "v2" {
		t.Errorf("Content mismatch: %s", got)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".backup.") {
			t.Errorf("Backup left behind: %s", e.Name())
		}
	}
}
