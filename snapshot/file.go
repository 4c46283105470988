package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/sitediff/horosafe"
)

// FileStore keeps each snapshot as <dir>/<key>.txt.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir. The directory is created on
// first Put.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file holding key.
func (s *FileStore) Path(key string) (string, error) {
	return horosafe.SafePath(s.dir, key+".txt")
}

// Get reads the snapshot for key. URL and Mode are not recorded on disk.
func (s *FileStore) Get(_ context.Context, key string) (*Snapshot, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", key, err)
	}
	snap := &Snapshot{Key: key, Body: string(data)}
	if fi, err := os.Stat(path); err == nil {
		snap.UpdatedAt = fi.ModTime()
	}
	return snap, nil
}

// Put overwrites the snapshot for snap.Key. The body is written to a
// temporary file and renamed so readers never see a partial write.
func (s *FileStore) Put(_ context.Context, snap *Snapshot) error {
	path, err := s.Path(snap.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".snap-*")
	if err != nil {
		return fmt.Errorf("snapshot: temp file: %w", err)
	}
	if _, err := tmp.WriteString(snap.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: write %s: %w", snap.Key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: close %s: %w", snap.Key, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Clean(path)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: rename %s: %w", snap.Key, err)
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	return nil
}
