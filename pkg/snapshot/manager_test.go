package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func checkTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, want := range files {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			t.Errorf("%s: %v", rel, err)
			continue
		}
		if string(data) != want {
			t.Errorf("%s: content mismatch: %s", rel, data)
		}
	}
}

func TestManager_CreateRestore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m, err := NewManager(filepath.Join(dir, "snapshots"))
	if err != nil {
		t.Fatal(err)
	}

	site := filepath.Join(dir, "site")
	files := map[string]string{
		"index.html":          "<html>v1</html>",
		"posts/first.md":      "# first",
		"assets/css/main.css": "body{}",
	}
	writeTree(t, site, files)

	info, err := m.Create(ctx, site, "before edit")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if info.Files != 3 {
		t.Errorf("Expected 3 files, got %d", info.Files)
	}

	// Wreck the tree, then restore.
	if err := os.RemoveAll(site); err != nil {
		t.Fatal(err)
	}
	writeTree(t, site, map[string]string{"index.html": "<html>broken</html>"})

	if err := m.Restore(ctx, info.Name, site); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	checkTree(t, site, files)
	if _, err := os.Lstat(filepath.Join(site, manifestName)); !os.IsNotExist(err) {
		t.Error("Manifest leaked into restored tree")
	}
}

func TestManager_RestoreMissing(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	err = m.Restore(context.Background(), "nope.tar.zst", filepath.Join(dir, "out"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestManager_RestoreRejectsCorruptedArchive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m, err := NewManager(filepath.Join(dir, "snapshots"))
	if err != nil {
		t.Fatal(err)
	}

	site := filepath.Join(dir, "site")
	writeTree(t, site, map[string]string{"a.txt": "content"})

	info, err := m.Create(ctx, site, "ok")
	if err != nil {
		t.Fatal(err)
	}

	// Truncate the archive so the manifest never arrives.
	archive := filepath.Join(dir, "snapshots", info.Name)
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, data[:len(data)/2], 0644); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "restored")
	if err := m.Restore(ctx, info.Name, target); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Expected ErrCorrupted, got %v", err)
	}
	if _, err := os.Lstat(target); !os.IsNotExist(err) {
		t.Error("Target created from corrupted archive")
	}
}

func TestManager_RestorePreservesTargetOnFailure(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m, err := NewManager(filepath.Join(dir, "snapshots"))
	if err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "live")
	writeTree(t, target, map[string]string{"keep.txt": "keep"})

	if err := m.Restore(ctx, "missing.tar.zst", target); err == nil {
		t.Fatal("Expected failure")
	}
	checkTree(t, target, map[string]string{"keep.txt": "keep"})
}

func TestManager_ListAndPrune(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m, err := NewManager(filepath.Join(dir, "snapshots"))
	if err != nil {
		t.Fatal(err)
	}

	site := filepath.Join(dir, "site")
	writeTree(t, site, map[string]string{"a.txt": "a"})

	var names []string
	for i := 0; i < 3; i++ {
		info, err := m.Create(ctx, site, "auto")
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, info.Name)
		time.Sleep(2 * time.Millisecond) // distinct timestamps in names
	}

	infos, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 snapshots, got %d", len(infos))
	}
	if infos[0].Name != names[2] {
		t.Errorf("Expected newest first, got %s", infos[0].Name)
	}

	if err := m.Prune(1); err != nil {
		t.Fatal(err)
	}
	infos, err = m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Name != names[2] {
		t.Errorf("Expected only newest to survive, got %+v", infos)
	}
}
