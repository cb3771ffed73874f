// Package pid guards against a second bmsctl instance reading the same bus.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/bmsctl/internal/errors"
)

const FileName = "bmsctl.pid"

// File is a PID file owned by this process.
type File struct {
	path string
}

// Write records the current process ID in dir. It fails with
// ErrAlreadyRunning when the recorded process is still alive. Stale or
// unreadable files are replaced.
func Write(dir string) (*File, error) {
	errFactory := errors.New()
	path := filepath.Join(dir, FileName)

	if running, err := alive(path); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	} else if running != 0 {
		return nil, errFactory.WithData(errors.ErrAlreadyRunning, running)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	return &File{path: path}, nil
}

// Path returns the location of the PID file.
func (f *File) Path() string { return f.path }

// Remove deletes the PID file. Removing twice is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

// alive returns the PID recorded at path if that process still runs.
func alive(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, nil
	}
	return pid, nil
}
