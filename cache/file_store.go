package cache

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

const (
	fileReadChunkSize int = 64 * 1024
	cacheDirPerm      os.FileMode = 0o777
)

// fileStore owns the local cache directory. Every entry is one regular
// file named by its key; scratch files carry a leading dot and a random
// suffix so directory observers can ignore them.
type fileStore struct {
	dirPath string
}

func newFileStore(dirPath string) (*fileStore, error) {
	err := os.MkdirAll(dirPath, cacheDirPerm)
	if err != nil {
		return nil, xerrors.Errorf("failed to make cache dir %q (%s): %w", dirPath, err, ErrIO)
	}

	return &fileStore{
		dirPath: dirPath,
	}, nil
}

// entryPath returns the published file path for a key
func (store *fileStore) entryPath(key string) string {
	return filepath.Join(store.dirPath, key)
}

// exists returns true if a regular file for the key is present
func (store *fileStore) exists(key string) bool {
	stat, err := os.Stat(store.entryPath(key))
	if err != nil {
		return false
	}
	return stat.Mode().IsRegular()
}

// openEntry opens the published file for reading
func (store *fileStore) openEntry(key string) (*os.File, error) {
	f, err := os.Open(store.entryPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xerrors.Errorf("entry %q is not in the cache: %w", key, ErrNotFound)
		}
		return nil, xerrors.Errorf("failed to open cache file for %q (%s): %w", key, err, ErrIO)
	}
	return f, nil
}

// createScratch creates a scratch file next to the final name so the
// publish rename stays on one filesystem
func (store *fileStore) createScratch(key string) (*os.File, error) {
	f, err := os.CreateTemp(store.dirPath, "."+key+".*")
	if err != nil {
		return nil, xerrors.Errorf("failed to create scratch file for %q (%s): %w", key, err, ErrIO)
	}
	return f, nil
}

// publish fsyncs and closes the scratch file, re-checks the target, and
// atomically renames the scratch to the final name. The caller removes
// the scratch file on error.
func (store *fileStore) publish(scratch *os.File, key string) error {
	err := scratch.Sync()
	if err != nil {
		scratch.Close()
		return xerrors.Errorf("failed to fsync scratch file for %q (%s): %w", key, err, ErrIO)
	}

	err = scratch.Close()
	if err != nil {
		return xerrors.Errorf("failed to close scratch file for %q (%s): %w", key, err, ErrIO)
	}

	// guard against concurrent external creation
	if store.exists(key) {
		return xerrors.Errorf("entry %q concurrently created: %w", key, ErrAlreadyExists)
	}

	err = os.Rename(scratch.Name(), store.entryPath(key))
	if err != nil {
		return xerrors.Errorf("failed to rename scratch file for %q (%s): %w", key, err, ErrIO)
	}
	return nil
}

// remove unlinks the published file.
// Returns false when the file was already gone.
func (store *fileStore) remove(key string) (bool, error) {
	err := os.Remove(store.entryPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, xerrors.Errorf("failed to remove cache file for %q (%s): %w", key, err, ErrIO)
	}
	return true, nil
}
