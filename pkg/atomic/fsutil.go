package atomic

import (
	"io"
	"io/fs"
	"os"
)

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// copyFile copies a regular file and syncs it to disk before returning.
func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// copyTimestamps mirrors the source's modification time onto dst. Best
// effort; failures are ignored.
func copyTimestamps(src, dst string) {
	info, err := os.Stat(src)
	if err != nil {
		return
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
}
