package storage

import (
	"os"
	"path/filepath"

	"github.com/duke-git/lancet/v2/fileutil"
	"github.com/pkg/errors"
)

// Local addresses files on the local filesystem. Relative paths are
// resolved against the base directory every download is written under.
// Backends report absolute paths since they write under Root.
type Local struct {
	basePath string
}

// NewLocal anchors basePath to the working directory.
func NewLocal(basePath string) (*Local, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid download path %s", basePath)
	}
	return &Local{basePath: abs}, nil
}

// Root is the absolute directory backends must write under.
func (l *Local) Root() string { return l.basePath }

func (l *Local) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.basePath, path)
}

func (l *Local) Exists(path string) bool {
	if path == "" {
		return false
	}
	return fileutil.IsExist(l.Resolve(path))
}

// Remove deletes path. A missing file is not an error.
func (l *Local) Remove(path string) error {
	if !l.Exists(path) {
		return nil
	}
	if err := os.Remove(l.Resolve(path)); err != nil {
		return errors.Wrapf(err, "failed to remove %s", path)
	}
	return nil
}

func (l *Local) Size(path string) (int64, error) {
	size, err := fileutil.FileSize(l.Resolve(path))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat %s", path)
	}
	return size, nil
}
