package cache

import (
	"context"
	"os"

	"github.com/cyverse/filecache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// EntryWriter streams a new entry's payload into a scratch file while
// holding the entry's write lock. Commit publishes atomically; Discard
// aborts. Exactly one of the two must be called.
type EntryWriter struct {
	fileCache *FileCache
	key       string
	token     string
	scratch   *os.File
	size      int64
	done      bool
}

// OpenForCreate acquires the write lock for the key and opens a scratch
// file. Fails with ErrAlreadyExists when the entry is present and with
// ErrBusy when a writer or readers hold the entry.
func (fileCache *FileCache) OpenForCreate(ctx context.Context, key string) (*EntryWriter, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "OpenForCreate",
	})

	defer utils.StackTraceFromPanic(logger)

	err := ValidateKey(key)
	if err != nil {
		return nil, err
	}

	// fast path, before taking the lock
	if fileCache.fileStore.exists(key) {
		return nil, xerrors.Errorf("entry %q is already in the cache: %w", key, ErrAlreadyExists)
	}

	token, err := fileCache.lockManager.acquireWrite(ctx, key)
	if err != nil {
		return nil, err
	}

	scratch, err := fileCache.fileStore.createScratch(key)
	if err != nil {
		fileCache.lockManager.releaseWrite(ctx, key, token)
		return nil, err
	}

	return &EntryWriter{
		fileCache: fileCache,
		key:       key,
		token:     token,
		scratch:   scratch,
	}, nil
}

// GetKey returns the entry key
func (writer *EntryWriter) GetKey() string {
	return writer.key
}

// Write appends payload bytes to the scratch file
func (writer *EntryWriter) Write(data []byte) (int, error) {
	writeLen, err := writer.scratch.Write(data)
	writer.size += int64(writeLen)
	if err != nil {
		return writeLen, xerrors.Errorf("failed to write scratch file for %q (%s): %w", writer.key, err, ErrIO)
	}
	return writeLen, nil
}

// Commit fsyncs the scratch file, atomically renames it to the final
// name, releases the write lock, updates the indices, and enforces the
// capacity bound when one is configured
func (writer *EntryWriter) Commit(ctx context.Context) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "EntryWriter",
		"function": "Commit",
	})

	defer utils.StackTraceFromPanic(logger)

	if writer.done {
		return xerrors.Errorf("entry writer for %q is already finalized", writer.key)
	}
	writer.done = true

	err := writer.fileCache.fileStore.publish(writer.scratch, writer.key)
	if err != nil {
		os.Remove(writer.scratch.Name())
		writer.fileCache.lockManager.releaseWrite(ctx, writer.key, writer.token)
		return err
	}

	writer.fileCache.lockManager.releaseWrite(ctx, writer.key, writer.token)

	// a crash between these steps leaves drift that eviction self-heals,
	// so index errors are not surfaced to the caller
	err = writer.fileCache.index.addOnPublish(ctx, writer.key, writer.size, utils.GetCurrentTimeMS())
	if err != nil {
		logger.WithError(err).Warnf("failed to index %q after publish", writer.key)
	}

	if writer.fileCache.config.MaxBytes > 0 {
		writer.fileCache.ensureCapacity(ctx)
	}
	return nil
}

// Discard aborts the write, removing the scratch file and releasing the
// write lock. Safe to call after Commit; it is a no-op then.
func (writer *EntryWriter) Discard() error {
	if writer.done {
		return nil
	}
	writer.done = true

	writer.scratch.Close()
	err := os.Remove(writer.scratch.Name())

	writer.fileCache.lockManager.releaseWrite(context.Background(), writer.key, writer.token)

	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("failed to remove scratch file for %q (%s): %w", writer.key, err, ErrIO)
	}
	return nil
}
