package dedup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists the set as one filename per line, appending on every
// new mark. The whole set is loaded into memory on open.
type FileStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
	mem  *MemoryStore
}

func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dedup directory: %w", err)
	}

	mem := NewMemoryStore()
	if err := loadNames(path, mem); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dedup file: %w", err)
	}

	return &FileStore{path: path, f: f, mem: mem}, nil
}

func loadNames(path string, mem *MemoryStore) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read dedup file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			mem.names[name] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read dedup file: %w", err)
	}
	return nil
}

func (s *FileStore) IsProcessed(ctx context.Context, filename string) (bool, error) {
	return s.mem.IsProcessed(ctx, filename)
}

func (s *FileStore) MarkProcessed(ctx context.Context, filename string) (bool, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" || strings.ContainsAny(filename, "\r\n") {
		return false, fmt.Errorf("invalid filename %q", filename)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return false, fmt.Errorf("dedup store %s is closed", s.path)
	}

	added, _ := s.mem.MarkProcessed(ctx, filename)
	if !added {
		return false, nil
	}
	if _, err := s.f.WriteString(filename + "\n"); err != nil {
		s.mem.mu.Lock()
		delete(s.mem.names, filename)
		s.mem.mu.Unlock()
		return false, fmt.Errorf("persist %s: %w", filename, err)
	}
	if err := s.f.Sync(); err != nil {
		return true, fmt.Errorf("sync dedup file: %w", err)
	}
	return true, nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	return s.mem.List(ctx)
}

// Forget drops filename and rewrites the file without it. The rewrite goes
// through a temporary file and a rename.
func (s *FileStore) Forget(ctx context.Context, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("dedup store %s is closed", s.path)
	}
	if ok, _ := s.mem.IsProcessed(ctx, filename); !ok {
		return nil
	}
	s.mem.Forget(ctx, filename)

	names, _ := s.mem.List(ctx)
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("rewrite dedup file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, n := range names {
		w.WriteString(n + "\n")
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("rewrite dedup file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("rewrite dedup file: %w", err)
	}
	tmp.Close()

	s.f.Close()
	s.f = nil
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace dedup file: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen dedup file: %w", err)
	}
	s.f = f
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

var (
	_ Store     = (*FileStore)(nil)
	_ Lister    = (*FileStore)(nil)
	_ Forgetter = (*FileStore)(nil)
)
