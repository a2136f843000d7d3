package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LocalStorage keeps objects as files under a root directory. Object names
// use forward slashes and map to subdirectories. Versions are content hashes,
// conditional writes are checked within the process.
type LocalStorage struct {
	root string
	mu   sync.Mutex
}

var _ ConditionalStorage = (*LocalStorage)(nil)

// NewLocalStorage creates the root directory if needed
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local data directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

func (s *LocalStorage) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(s.root, clean), nil
}

// Store writes the object through a temporary file and a rename, so readers
// never see a partial document
func (s *LocalStorage) Store(filename string, data []byte) error {
	p, err := s.path(filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filename, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", filename, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to store %s: %w", filename, err)
	}

	logrus.Debugf("Stored %s (%d bytes) in %s", filename, len(data), s.root)
	return nil
}

// Retrieve reads an object. A missing file wraps ErrNotFound.
func (s *LocalStorage) Retrieve(filename string) ([]byte, error) {
	p, err := s.path(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return data, nil
}

// RetrieveVersion reads an object together with the hash of its content
func (s *LocalStorage) RetrieveVersion(filename string) ([]byte, string, error) {
	data, err := s.Retrieve(filename)
	if err != nil {
		return nil, "", err
	}
	return data, contentVersion(data), nil
}

// StoreIfVersion writes the object only while its content still hashes to
// version, or while it does not exist when version is empty
func (s *LocalStorage) StoreIfVersion(filename string, data []byte, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Retrieve(filename)
	switch {
	case errors.Is(err, ErrNotFound):
		if version != "" {
			return fmt.Errorf("%s: %w", filename, ErrPreconditionFailed)
		}
	case err != nil:
		return err
	case contentVersion(current) != version:
		return fmt.Errorf("%s: %w", filename, ErrPreconditionFailed)
	}
	return s.Store(filename, data)
}

func contentVersion(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// List returns the sorted names of all objects starting with prefix
func (s *LocalStorage) List(prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *LocalStorage) Delete(filename string) error {
	p, err := s.path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}
	return nil
}
