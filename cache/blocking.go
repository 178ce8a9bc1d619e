package cache

import (
	"context"
	"time"

	"github.com/cyverse/filecache/utils"
	log "github.com/sirupsen/logrus"
)

// RetryBackoffDefault is the default sleep between blocking attempts
const RetryBackoffDefault time.Duration = 10 * time.Millisecond

// ReadBlocking retries Read until it succeeds or the timeout elapses.
// Busy entries and not-yet-published entries are retried; other errors
// are surfaced. Returns false when the deadline passes. The deadline is
// checked after a failed attempt, so at least one attempt always runs.
func (fileCache *FileCache) ReadBlocking(ctx context.Context, key string, timeout time.Duration, backoff time.Duration) ([]byte, bool, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "ReadBlocking",
	})

	defer utils.StackTraceFromPanic(logger)

	if backoff <= 0 {
		backoff = RetryBackoffDefault
	}

	deadline := time.Now().Add(timeout)
	for {
		data, err := fileCache.Read(ctx, key)
		if err == nil {
			return data, true, nil
		}

		if !IsBusyError(err) && !IsNotFoundError(err) {
			return nil, false, err
		}

		if !time.Now().Before(deadline) {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// CreateBlocking retries Create until it succeeds or the timeout
// elapses. Busy entries are retried; an existing entry is permanent and
// surfaced immediately, as are other errors. Returns false when the
// deadline passes.
func (fileCache *FileCache) CreateBlocking(ctx context.Context, key string, data []byte, timeout time.Duration, backoff time.Duration) (bool, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "CreateBlocking",
	})

	defer utils.StackTraceFromPanic(logger)

	if backoff <= 0 {
		backoff = RetryBackoffDefault
	}

	deadline := time.Now().Add(timeout)
	for {
		err := fileCache.Create(ctx, key, data)
		if err == nil {
			return true, nil
		}

		if !IsBusyError(err) {
			return false, err
		}

		if !time.Now().Before(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
