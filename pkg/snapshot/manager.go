// Package snapshot keeps point-in-time archives of a directory tree, so an
// edit session that goes wrong can be rolled back wholesale. Archives are
// zstd-compressed tarballs with an embedded per-file checksum manifest,
// written and restored through the atomic layer.
package snapshot

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/mirkobrombin/go-atomfs/pkg/atomic"
)

var (
	ErrNotFound  = fmt.Errorf("snapshot: not found")
	ErrCorrupted = fmt.Errorf("snapshot: archive corrupted")
)

const (
	archiveExt   = ".tar.zst"
	manifestName = ".snapshot-manifest.json"
)

// Info describes one stored snapshot.
type Info struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Created time.Time `json:"created"`
	Files   int       `json:"files"`
}

type manifest struct {
	Info
	// Sums maps archive-relative paths to xxhash64 digests, hex-encoded.
	Sums map[string]string `json:"sums"`
}

// Manager stores snapshots in a single directory.
type Manager struct {
	dir string
}

// NewManager creates (if needed) and opens a snapshot directory.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Create archives sourceDir under the given label and returns the stored
// snapshot's metadata. Symlinks and other non-regular entries are skipped.
func (m *Manager) Create(ctx context.Context, sourceDir, label string) (*Info, error) {
	if _, err := os.Lstat(sourceDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sourceDir)
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	sums := make(map[string]string)
	files := 0
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			return tw.WriteHeader(&tar.Header{
				Name:     rel + "/",
				Typeflag: tar.TypeDir,
				Mode:     0755,
			})
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sums[rel] = fmt.Sprintf("%016x", xxhash.Sum64(data))

		hdr := &tar.Header{
			Name:    rel,
			Mode:    int64(info.Mode().Perm()),
			Size:    int64(len(data)),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: archive %s: %w", sourceDir, err)
	}

	name := fmt.Sprintf("%s.%d%s", sanitizeLabel(label), time.Now().UnixMilli(), archiveExt)
	mf := manifest{
		Info: Info{Name: name, Label: label, Created: time.Now().UTC(), Files: files},
		Sums: sums,
	}
	mfData, err := json.Marshal(mf)
	if err != nil {
		return nil, fmt.Errorf("snapshot: manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: manifestName, Mode: 0644, Size: int64(len(mfData))}); err != nil {
		return nil, fmt.Errorf("snapshot: manifest: %w", err)
	}
	if _, err := tw.Write(mfData); err != nil {
		return nil, fmt.Errorf("snapshot: manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: finalize: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: finalize: %w", err)
	}

	res := atomic.WriteFile(ctx, filepath.Join(m.dir, name), buf.Bytes())
	if !res.Success {
		return nil, fmt.Errorf("snapshot: store: %w", res.Err)
	}
	return &mf.Info, nil
}

// Restore extracts the named snapshot into a staging directory, verifies
// every file against the embedded manifest and commits it over targetDir
// with a single rename. A pre-existing target survives any failure.
func (m *Manager) Restore(ctx context.Context, name, targetDir string) error {
	f, err := os.Open(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	staging := atomic.TempPath(filepath.Base(targetDir), m.dir)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("snapshot: staging: %w", err)
	}
	defer os.RemoveAll(staging)

	var mf *manifest
	extracted := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}

		rel := filepath.Clean(filepath.FromSlash(hdr.Name))
		if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: unsafe entry %q", ErrCorrupted, hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(filepath.Join(staging, rel), 0755); err != nil {
				return fmt.Errorf("snapshot: extract: %w", err)
			}
		case tar.TypeReg:
			data, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
			if hdr.Name == manifestName {
				mf = &manifest{}
				if err := json.Unmarshal(data, mf); err != nil {
					return fmt.Errorf("%w: manifest: %v", ErrCorrupted, err)
				}
				continue
			}
			dst := filepath.Join(staging, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return fmt.Errorf("snapshot: extract: %w", err)
			}
			if err := os.WriteFile(dst, data, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return fmt.Errorf("snapshot: extract: %w", err)
			}
			extracted[filepath.ToSlash(rel)] = fmt.Sprintf("%016x", xxhash.Sum64(data))
		}
	}

	if mf == nil {
		return fmt.Errorf("%w: missing manifest", ErrCorrupted)
	}
	if len(extracted) != len(mf.Sums) {
		return fmt.Errorf("%w: %d files, manifest lists %d", ErrCorrupted, len(extracted), len(mf.Sums))
	}
	for rel, sum := range mf.Sums {
		if extracted[rel] != sum {
			return fmt.Errorf("%w: checksum mismatch for %s", ErrCorrupted, rel)
		}
	}

	res := atomic.Rename(ctx, staging, targetDir)
	if !res.Success {
		return fmt.Errorf("snapshot: commit: %w", res.Err)
	}
	return nil
}

// List returns stored snapshots, newest first. Metadata comes from the
// archive names; the archives themselves are not opened.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExt) {
			continue
		}
		label, created, ok := parseName(e.Name())
		if !ok {
			continue
		}
		infos = append(infos, Info{Name: e.Name(), Label: label, Created: created})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Created.After(infos[j].Created)
	})
	return infos, nil
}

// Prune removes all but the newest keep snapshots.
func (m *Manager) Prune(keep int) error {
	if keep < 0 {
		keep = 0
	}
	infos, err := m.List()
	if err != nil {
		return err
	}
	for _, info := range infos[min(keep, len(infos)):] {
		if err := os.Remove(filepath.Join(m.dir, info.Name)); err != nil {
			return fmt.Errorf("snapshot: prune %s: %w", info.Name, err)
		}
	}
	return nil
}

func sanitizeLabel(label string) string {
	if label == "" {
		return "snapshot"
	}
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func parseName(name string) (label string, created time.Time, ok bool) {
	base := strings.TrimSuffix(name, archiveExt)
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(base[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return base[:i], time.UnixMilli(millis).UTC(), true
}
