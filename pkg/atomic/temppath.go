package atomic

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TempPath returns a collision-resistant temporary path for baseName inside
// dir, or inside the system temp directory when dir is empty. The name
// combines a millisecond timestamp with 8 bytes of crypto/rand, so two calls
// with the same base name do not collide. No file is created.
func TempPath(baseName, dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	suffix := make([]byte, 8)
	_, _ = rand.Read(suffix)
	name := fmt.Sprintf("%s.%d.%s.tmp", baseName, time.Now().UnixMilli(), hex.EncodeToString(suffix))
	return filepath.Join(dir, name)
}

// backupPath names the set-aside copy of path taken before an overwrite.
func backupPath(path string) string {
	return fmt.Sprintf("%s.backup.%d", path, time.Now().UnixMilli())
}
