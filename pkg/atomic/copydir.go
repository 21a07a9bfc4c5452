package atomic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mirkobrombin/go-foundation/pkg/options"
)

// CopyDirectory replicates source into target by building a full copy in a
// staging directory and committing it with a single rename. A pre-existing
// target is moved aside (not copied) before the commit and restored whenever
// the copy, validation or rename fails. Symlinks and other non-regular
// entries are never copied.
func CopyDirectory(ctx context.Context, source, target string, opts ...CopyOption) *Result[struct{}] {
	cfg := copyConfig{
		preserveTimes: true,
		maxDepth:      DefaultMaxDepth,
	}
	options.Apply(&cfg, opts...)

	var temps []string

	info, err := os.Lstat(source)
	if err != nil {
		return fail[struct{}](fmt.Errorf("%w: %s", ErrNotFound, source), false, temps)
	}
	if !info.IsDir() {
		return fail[struct{}](fmt.Errorf("%w: %s is not a directory", ErrNotFound, source), false, temps)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fail[struct{}](fmt.Errorf("atomic: create parent dir: %w", err), false, temps)
	}

	var backup string
	if exists(target) {
		backup = backupPath(target)
		if err := os.Rename(target, backup); err != nil {
			return fail[struct{}](fmt.Errorf("atomic: set target aside: %w", err), false, temps)
		}
		temps = append(temps, backup)
	}

	stagingDir := cfg.stagingDir
	if stagingDir == "" {
		stagingDir = filepath.Dir(target)
	}
	staging := TempPath(filepath.Base(target), stagingDir)
	temps = append(temps, staging)

	// undo removes the staging copy and puts a set-aside target back.
	// Reports whether a pre-existing target was restored.
	undo := func() bool {
		os.RemoveAll(staging)
		if backup == "" {
			return false
		}
		os.RemoveAll(target)
		if err := os.Rename(backup, target); err != nil {
			slog.Error("atomic: target restore failed", "backup", backup, "target", target, "error", err)
			return false
		}
		return true
	}

	if err := copyTree(source, staging, &cfg, 0); err != nil {
		return fail[struct{}](err, undo(), temps)
	}

	if cfg.validate != nil {
		entries, err := os.ReadDir(staging)
		var verr error
		if err != nil {
			verr = err
		} else {
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			verr = cfg.validate(ctx, names)
		}
		if verr != nil {
			if !errors.Is(verr, ErrValidation) {
				verr = fmt.Errorf("%w: %v", ErrValidation, verr)
			}
			return fail[struct{}](verr, undo(), temps)
		}
	}

	if err := os.Rename(staging, target); err != nil {
		return fail[struct{}](fmt.Errorf("atomic: commit rename: %w", err), undo(), temps)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			slog.Debug("atomic: backup cleanup failed", "path", backup, "error", err)
		}
	}
	return succeed(struct{}{}, temps)
}

func copyTree(src, dst string, cfg *copyConfig, depth int) error {
	if depth > cfg.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrDepthExceeded, cfg.maxDepth)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, skip := cfg.exclude[e.Name()]; skip {
			continue
		}
		sp := filepath.Join(src, e.Name())
		dp := filepath.Join(dst, e.Name())

		switch {
		case e.IsDir():
			if err := copyTree(sp, dp, cfg, depth+1); err != nil {
				return err
			}
		case e.Type().IsRegular():
			info, err := e.Info()
			if err != nil {
				return err
			}
			if err := copyFile(sp, dp, info.Mode().Perm()); err != nil {
				return err
			}
			if cfg.preserveTimes {
				copyTimestamps(sp, dp)
			}
		default:
			// Symlinks, sockets and devices are skipped, never dereferenced.
		}
	}

	if cfg.preserveTimes {
		copyTimestamps(src, dst)
	}
	return nil
}
