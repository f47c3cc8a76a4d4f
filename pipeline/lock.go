package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrLocked = errors.New("another run holds the lock")

// Lock is an exclusive run lock backed by a file created with O_EXCL. A
// lock left behind by a crashed run must be removed by the operator.
type Lock struct {
	path string
}

func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		holder, _ := os.ReadFile(path)
		return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, path, strings.TrimSpace(string(holder)))
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "pid=%d started=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return &Lock{path: path}, nil
}

func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
