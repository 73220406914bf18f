// Package storage provides the spool backends the file-drop adapter cycles
// packets through: a local directory tree and an S3-compatible object store.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Spool is a flat keyed byte store with the operations a file-drop exchange
// needs. Keys use "/" as the segment separator regardless of backend.
type Spool interface {
	// List returns the keys under the prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)
	// Read returns the contents stored under the key
	Read(ctx context.Context, key string) ([]byte, error)
	// Write stores contents under the key, replacing any previous value
	Write(ctx context.Context, key string, data []byte) error
	// Remove deletes the key; removing a missing key is an error
	Remove(ctx context.Context, key string) error
	// Move renames a key. The destination is overwritten if present.
	Move(ctx context.Context, from, to string) error
	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error
}

// DirSpool stores spool entries as files under a root directory.
type DirSpool struct {
	root string
}

// NewDirSpool creates a directory-backed spool, creating the root if needed.
func NewDirSpool(root string) (*DirSpool, error) {
	if root == "" {
		return nil, fmt.Errorf("spool root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool root: %w", err)
	}
	return &DirSpool{root: root}, nil
}

// Root returns the spool's root directory.
func (s *DirSpool) Root() string { return s.root }

// Dir returns the absolute directory a key prefix maps to.
func (s *DirSpool) Dir(prefix string) string {
	return filepath.Join(s.root, filepath.FromSlash(prefix))
}

// EnsureDirs creates the directories for the given prefixes.
func (s *DirSpool) EnsureDirs(prefixes ...string) error {
	for _, prefix := range prefixes {
		if err := os.MkdirAll(s.Dir(prefix), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", prefix, err)
		}
	}
	return nil
}

func (s *DirSpool) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// List implements Spool. Only regular files directly under the prefix are
// returned; nested directories are the exchange's own structure.
func (s *DirSpool) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		keys = append(keys, strings.TrimSuffix(prefix, "/")+"/"+entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Read implements Spool.
func (s *DirSpool) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Write implements Spool. The file is written to a temporary name first so
// watchers never observe a partial entry.
func (s *DirSpool) Write(ctx context.Context, key string, data []byte) error {
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", key, err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Remove implements Spool.
func (s *DirSpool) Remove(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

// Move implements Spool.
func (s *DirSpool) Move(ctx context.Context, from, to string) error {
	target := s.path(to)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("moving %s: %w", from, err)
	}
	if err := os.Rename(s.path(from), target); err != nil {
		return fmt.Errorf("moving %s: %w", from, err)
	}
	return nil
}

// Ping implements Spool.
func (s *DirSpool) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("spool root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("spool root %s is not a directory", s.root)
	}
	return nil
}

var _ Spool = (*DirSpool)(nil)
