package atomic

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mirkobrombin/go-foundation/pkg/options"
)

// WriteFile writes data to path through a temp file in the target's
// directory, committing with a single rename. After return, path holds
// either the full old content or the full new content, never a torn mix.
// With WithBackup, a pre-existing file is restored whenever the write,
// validation or commit fails.
func WriteFile(ctx context.Context, path string, data []byte, opts ...WriteOption) *Result[struct{}] {
	cfg := writeConfig{
		mode:       defaultMode,
		maxRetries: DefaultMaxRetries,
		backoff:    defaultBackoff,
	}
	options.Apply(&cfg, opts...)

	var temps []string

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail[struct{}](fmt.Errorf("atomic: create parent dir: %w", err), false, temps)
	}

	var backup string
	if cfg.backup && exists(path) {
		backup = backupPath(path)
		if err := copyFile(path, backup, cfg.mode); err != nil {
			return fail[struct{}](fmt.Errorf("atomic: create backup: %w", err), false, temps)
		}
		temps = append(temps, backup)
	}

	tempDir := cfg.tempDir
	if tempDir == "" {
		tempDir = dir
	}
	temp := TempPath(filepath.Base(path), tempDir)
	temps = append(temps, temp)

	if err := writeWithRetry(ctx, temp, data, cfg.mode, cfg.maxRetries, cfg.backoff); err != nil {
		os.Remove(temp)
		return fail[struct{}](err, restoreBackup(backup, path), temps)
	}

	if cfg.validate != nil {
		written, err := os.ReadFile(temp)
		if err == nil {
			err = cfg.validate(ctx, written)
		}
		if err != nil {
			os.Remove(temp)
			if !errors.Is(err, ErrValidation) {
				err = fmt.Errorf("%w: %v", ErrValidation, err)
			}
			return fail[struct{}](err, restoreBackup(backup, path), temps)
		}
	}

	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fail[struct{}](fmt.Errorf("atomic: commit rename: %w", err), restoreBackup(backup, path), temps)
	}

	if backup != "" && !cfg.keepBackup {
		// The new content is committed; a leftover backup is cosmetic.
		if err := os.Remove(backup); err != nil {
			slog.Debug("atomic: backup cleanup failed", "path", backup, "error", err)
		}
	}
	return succeed(struct{}{}, temps)
}

func writeWithRetry(ctx context.Context, path string, data []byte, mode fs.FileMode, maxRetries int, backoff time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff << (attempt - 2)):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrWriteFailed, ctx.Err())
			}
		}
		if lastErr = writeAndSync(path, data, mode); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %d attempts: %v", ErrWriteFailed, maxRetries, lastErr)
}

func writeAndSync(path string, data []byte, mode fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// restoreBackup moves the safety backup back over the original and reports
// whether a restore actually ran.
func restoreBackup(backup, path string) bool {
	if backup == "" {
		return false
	}
	if err := os.Rename(backup, path); err != nil {
		slog.Error("atomic: backup restore failed", "backup", backup, "path", path, "error", err)
		return false
	}
	return true
}
