package logging

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/fileutil"
	"github.com/pkg/errors"
)

// RotableLogger is an io.Writer backed by a file that can be moved aside
// and reopened while the server is running.
type RotableLogger struct {
	path string
	fd   *os.File
	mu   sync.Mutex
	now  func() time.Time
}

func NewRotableLogger(path string) (*RotableLogger, error) {
	if dir := filepath.Dir(path); !fileutil.IsExist(dir) {
		if err := fileutil.CreateDir(dir + string(filepath.Separator)); err != nil {
			return nil, errors.Wrap(err, "log directory")
		}
	}

	fd, err := openLog(path)
	if err != nil {
		return nil, err
	}

	return &RotableLogger{
		path: path,
		fd:   fd,
		now:  time.Now,
	}, nil
}

func openLog(path string) (*os.File, error) {
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return fd, nil
}

func (l *RotableLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.fd.Write(p)
}

// Rotate renames the current file with a timestamp suffix and starts a
// new one at the same path.
func (l *RotableLogger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fd.Close(); err != nil {
		return err
	}

	rotated := l.path + "." + l.now().Format("2006-01-02T15-04-05")
	if err := os.Rename(l.path, rotated); err != nil {
		return errors.Wrap(err, "rotate")
	}

	fd, err := openLog(l.path)
	if err != nil {
		return err
	}
	l.fd = fd
	return nil
}

func (l *RotableLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.fd.Close()
}
