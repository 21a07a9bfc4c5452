package atomic

import (
	"io/fs"
	"time"

	"github.com/mirkobrombin/go-foundation/pkg/options"
)

const (
	// DefaultMaxRetries bounds the temp-file write attempts in WriteFile.
	DefaultMaxRetries = 3
	// DefaultMaxDepth bounds recursion in CopyDirectory. It guards against
	// pathological trees; symlinks are never followed in the first place.
	DefaultMaxDepth = 50

	defaultBackoff = 100 * time.Millisecond
	defaultMode    = fs.FileMode(0644)
)

type writeConfig struct {
	tempDir    string
	backup     bool
	keepBackup bool
	mode       fs.FileMode
	validate   WriteValidator
	maxRetries int
	backoff    time.Duration
}

// WriteOption configures WriteFile.
type WriteOption = options.Option[writeConfig]

// WithTempDir stages the temp file in dir instead of the target's directory.
// The commit rename is only atomic when dir sits on the target's volume.
func WithTempDir(dir string) WriteOption {
	return func(c *writeConfig) { c.tempDir = dir }
}

// WithBackup copies a pre-existing target aside before any mutation so a
// failed attempt restores it. The backup is removed after a successful
// commit.
func WithBackup() WriteOption {
	return func(c *writeConfig) { c.backup = true }
}

// WithKeepBackup is WithBackup, but the backup file survives a successful
// commit. Its path is reported in Result.TempPaths.
func WithKeepBackup() WriteOption {
	return func(c *writeConfig) { c.backup = true; c.keepBackup = true }
}

// WithFileMode sets the mode for created files. Default 0644.
func WithFileMode(mode fs.FileMode) WriteOption {
	return func(c *writeConfig) { c.mode = mode }
}

// WithWriteValidator runs v over the temp file's content, read back from
// disk, before the commit rename.
func WithWriteValidator(v WriteValidator) WriteOption {
	return func(c *writeConfig) { c.validate = v }
}

// WithMaxRetries sets how many times the temp-file write is attempted.
// Retries back off exponentially from 100ms.
func WithMaxRetries(n int) WriteOption {
	return func(c *writeConfig) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

type copyConfig struct {
	stagingDir    string
	exclude       map[string]struct{}
	preserveTimes bool
	validate      EntriesValidator
	maxDepth      int
}

// CopyOption configures CopyDirectory.
type CopyOption = options.Option[copyConfig]

// WithStagingDir places the staging copy in dir instead of the target's
// parent directory.
func WithStagingDir(dir string) CopyOption {
	return func(c *copyConfig) { c.stagingDir = dir }
}

// WithExclude skips entries with any of the given names, at every depth.
func WithExclude(names ...string) CopyOption {
	return func(c *copyConfig) {
		if c.exclude == nil {
			c.exclude = make(map[string]struct{}, len(names))
		}
		for _, n := range names {
			c.exclude[n] = struct{}{}
		}
	}
}

// WithPreserveTimestamps controls best-effort copying of file modification
// times. Default true.
func WithPreserveTimestamps(v bool) CopyOption {
	return func(c *copyConfig) { c.preserveTimes = v }
}

// WithEntriesValidator runs v over the staging directory's top-level entry
// names before the commit rename.
func WithEntriesValidator(v EntriesValidator) CopyOption {
	return func(c *copyConfig) { c.validate = v }
}

// WithMaxDepth sets the recursion limit for CopyDirectory. Default 50.
func WithMaxDepth(n int) CopyOption {
	return func(c *copyConfig) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

type renameConfig struct {
	validate PathValidator
}

// RenameOption configures Rename.
type RenameOption = options.Option[renameConfig]

// WithPathValidator runs v over the destination after the rename; a failure
// moves everything back.
func WithPathValidator(v PathValidator) RenameOption {
	return func(c *renameConfig) { c.validate = v }
}
