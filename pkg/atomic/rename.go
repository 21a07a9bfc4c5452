package atomic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mirkobrombin/go-foundation/pkg/options"
)

// Rename moves oldPath to newPath. A pre-existing destination is set aside
// first and restored if the rename or its validation fails; on success the
// set-aside copy is removed.
func Rename(ctx context.Context, oldPath, newPath string, opts ...RenameOption) *Result[struct{}] {
	var cfg renameConfig
	options.Apply(&cfg, opts...)

	var temps []string

	if !exists(oldPath) {
		return fail[struct{}](fmt.Errorf("%w: %s", ErrNotFound, oldPath), false, temps)
	}

	var backup string
	if exists(newPath) {
		backup = backupPath(newPath)
		if err := os.Rename(newPath, backup); err != nil {
			return fail[struct{}](fmt.Errorf("atomic: set destination aside: %w", err), false, temps)
		}
		temps = append(temps, backup)
	}

	renamed := false
	undo := func() bool {
		performed := false
		if renamed {
			if err := os.Rename(newPath, oldPath); err != nil {
				slog.Error("atomic: rename rollback failed", "from", newPath, "to", oldPath, "error", err)
			} else {
				performed = true
			}
		}
		if backup != "" {
			if err := os.Rename(backup, newPath); err != nil {
				slog.Error("atomic: destination restore failed", "backup", backup, "path", newPath, "error", err)
			} else {
				performed = true
			}
		}
		return performed
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		return fail[struct{}](fmt.Errorf("atomic: rename: %w", err), undo(), temps)
	}
	renamed = true

	if cfg.validate != nil {
		if err := cfg.validate(ctx, newPath); err != nil {
			if !errors.Is(err, ErrValidation) {
				err = fmt.Errorf("%w: %v", ErrValidation, err)
			}
			return fail[struct{}](err, undo(), temps)
		}
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			slog.Debug("atomic: backup cleanup failed", "path", backup, "error", err)
		}
	}
	return succeed(struct{}{}, temps)
}
