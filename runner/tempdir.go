package runner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TempDirPrefix names every per-job temporary directory so stale ones are
// recognisable and purgeable on service start (spec §6).
const TempDirPrefix = "glootie_"

func newTempDir() (string, error) {
	dir := filepath.Join(os.TempDir(), TempDirPrefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func removeTempDir(dir string) {
	_ = os.RemoveAll(dir)
}

// PurgeStaleTempDirs removes any leftover glootie_ directories in the OS
// temp root, e.g. from a prior process that was killed before it could
// clean up. Best-effort: errors removing individual entries are ignored.
func PurgeStaleTempDirs() {
	root := os.TempDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), TempDirPrefix) {
			_ = os.RemoveAll(filepath.Join(root, e.Name()))
		}
	}
}
