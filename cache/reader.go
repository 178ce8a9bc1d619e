package cache

import (
	"context"
	"io"
	"os"

	"github.com/cyverse/filecache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// EntryReader streams an entry's payload while holding its read lock.
// Close releases the lock and, when no read failed, refreshes the
// entry's last-access timestamp; it must be called on every path.
type EntryReader struct {
	fileCache *FileCache
	key       string
	file      *os.File
	failed    bool
	closed    bool
}

// OpenForRead acquires a read lock for the key and opens the published
// file. Fails with ErrBusy when a writer holds the entry and with
// ErrNotFound when the entry is absent; the lock is released on failure.
func (fileCache *FileCache) OpenForRead(ctx context.Context, key string) (*EntryReader, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "OpenForRead",
	})

	defer utils.StackTraceFromPanic(logger)

	err := ValidateKey(key)
	if err != nil {
		return nil, err
	}

	err = fileCache.lockManager.acquireRead(ctx, key)
	if err != nil {
		return nil, err
	}

	f, err := fileCache.fileStore.openEntry(key)
	if err != nil {
		fileCache.lockManager.releaseRead(ctx, key)
		return nil, err
	}

	return &EntryReader{
		fileCache: fileCache,
		key:       key,
		file:      f,
	}, nil
}

// GetKey returns the entry key
func (reader *EntryReader) GetKey() string {
	return reader.key
}

// Read reads payload bytes
func (reader *EntryReader) Read(buffer []byte) (int, error) {
	readLen, err := reader.file.Read(buffer)
	if err != nil && err != io.EOF {
		reader.failed = true
		return readLen, xerrors.Errorf("failed to read cache file for %q (%s): %w", reader.key, err, ErrIO)
	}
	return readLen, err
}

// ReadAll reads the whole payload in chunks
func (reader *EntryReader) ReadAll() ([]byte, error) {
	data := make([]byte, 0, fileReadChunkSize)
	buffer := make([]byte, fileReadChunkSize)
	for {
		readLen, err := reader.Read(buffer)
		data = append(data, buffer[:readLen]...)
		if err != nil {
			if err == io.EOF {
				return data, nil
			}
			return nil, err
		}
	}
}

// Close closes the file and releases the read lock. The entry's
// last-access timestamp is refreshed only when no read failed.
func (reader *EntryReader) Close() error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "EntryReader",
		"function": "Close",
	})

	if reader.closed {
		return nil
	}
	reader.closed = true

	err := reader.file.Close()

	// release must run even when the caller's context is done
	ctx := context.Background()
	reader.fileCache.lockManager.releaseRead(ctx, reader.key)

	if !reader.failed {
		touchErr := reader.fileCache.index.touch(ctx, reader.key, utils.GetCurrentTimeMS())
		if touchErr != nil {
			logger.WithError(touchErr).Debugf("failed to touch %q", reader.key)
		}
	}

	return err
}
