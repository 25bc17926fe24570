// Package blobstore implements the BlobStore component: byte-level
// read/write/remove of opaque files and hard-link creation at a given
// filesystem path under a base directory. It performs no encryption —
// that is the caller's concern.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cryptvault/cryptvault/internal/vaulterrors"
)

// Store is a flat contract over a host filesystem rooted at Base.
type Store struct {
	Base string
}

// New returns a Store rooted at base. base is created if it does not exist.
func New(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, &vaulterrors.IOError{Op: "mkdir", Path: base, Err: err}
	}
	return &Store{Base: base}, nil
}

// resolve joins a store-relative path onto Base. Paths are expected to
// already be absolute-within-the-store per spec §6; resolve only
// guards against escaping Base via "..".
func (s *Store) resolve(path string) (string, error) {
	full := filepath.Join(s.Base, path)
	rel, err := filepath.Rel(s.Base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %q escapes store base", path)
	}
	return full, nil
}

// Exists reports whether path names an existing file or directory.
func (s *Store) Exists(path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &vaulterrors.IOError{Op: "stat", Path: path, Err: err}
}

// IsDirectory reports whether path names an existing directory.
func (s *Store) IsDirectory(path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &vaulterrors.IOError{Op: "stat", Path: path, Err: err}
	}
	return info.IsDir(), nil
}

// List returns the names of entries directly inside path.
func (s *Store) List(path string) ([]string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &vaulterrors.NotFoundError{Path: path, Err: err}
		}
		return nil, &vaulterrors.IOError{Op: "readdir", Path: path, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// ReadAll reads the entire contents of path.
func (s *Store) ReadAll(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &vaulterrors.NotFoundError{Path: path, Err: err}
		}
		return nil, &vaulterrors.IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// WriteAllAtomic writes data to path, truncating and replacing any
// existing content.
//
// For a path that does not exist yet, it writes to a sibling temp file
// (named with a fresh uuid, as the teacher does for random identifiers
// in filename.go) and renames it into place, so a crash mid-write
// leaves either no file or the complete new content, never a partial
// file.
//
// For a path that may be hard-linked from other users' shared views
// (see spec §4.9's FileEngine.write and the hard-link sharing model in
// §9), a rename would silently orphan every link at the old inode,
// breaking "recipients see the latest contents" on rewrite. When path
// already exists, whether or not other links point at it, WriteAllAtomic
// instead truncates and rewrites the existing inode in place so every
// hard link observes the new bytes. This in-place rewrite is not
// crash-atomic: a crash mid-write can leave the file truncated or
// partially written.
func (s *Store) WriteAllAtomic(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &vaulterrors.IOError{Op: "mkdir", Path: dir, Err: err}
	}

	if _, statErr := os.Stat(full); statErr == nil {
		return s.writeInPlace(full, path, data)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(full)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return &vaulterrors.IOError{Op: "write", Path: tmpPath, Err: err}
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return &vaulterrors.IOError{Op: "rename", Path: full, Err: err}
	}
	return nil
}

// writeInPlace truncates and rewrites an existing inode so hard links
// to it continue to resolve to the same file and see the new content.
func (s *Store) writeInPlace(full, path string, data []byte) error {
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return &vaulterrors.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	if err := f.Truncate(0); err != nil {
		return &vaulterrors.IOError{Op: "truncate", Path: path, Err: err}
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return &vaulterrors.IOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &vaulterrors.IOError{Op: "sync", Path: path, Err: err}
	}
	return nil
}

// Remove deletes path if it exists; removing a missing path is not an error.
func (s *Store) Remove(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return &vaulterrors.IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// CreateDirectory recursively creates path.
func (s *Store) CreateDirectory(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o700); err != nil {
		return &vaulterrors.IOError{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

// CreateHardLink creates targetPath as a hard link to sourcePath,
// replacing any existing file at targetPath.
func (s *Store) CreateHardLink(sourcePath, targetPath string) error {
	fullSrc, err := s.resolve(sourcePath)
	if err != nil {
		return err
	}
	fullTgt, err := s.resolve(targetPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullTgt), 0o700); err != nil {
		return &vaulterrors.IOError{Op: "mkdir", Path: targetPath, Err: err}
	}
	if err := os.Remove(fullTgt); err != nil && !os.IsNotExist(err) {
		return &vaulterrors.IOError{Op: "remove", Path: targetPath, Err: err}
	}
	if err := os.Link(fullSrc, fullTgt); err != nil {
		return &vaulterrors.IOError{Op: "link", Path: targetPath, Err: err}
	}
	return nil
}
