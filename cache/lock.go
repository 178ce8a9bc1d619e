package cache

import (
	"context"
	"time"

	"github.com/cyverse/filecache/coordination"
	"github.com/cyverse/filecache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// evictFenceTTL bounds how long a fenced key can appear locked against
// eviction after a purger crash mid-eviction.
const evictFenceTTL time.Duration = 1500 * time.Millisecond

// lockManager manages per-entry distributed locks.
// Releases are best-effort and never return errors; the lock lease (TTL)
// guarantees eventual release when a release call is lost.
type lockManager struct {
	client  coordination.Client
	schema  *keySchema
	lockTTL time.Duration
}

func newLockManager(client coordination.Client, schema *keySchema, lockTTL time.Duration) *lockManager {
	return &lockManager{
		client:  client,
		schema:  schema,
		lockTTL: lockTTL,
	}
}

// acquireRead takes a shared read lock for the key.
// Fails with ErrBusy when a writer holds the entry.
func (manager *lockManager) acquireRead(ctx context.Context, key string) error {
	result, err := manager.client.EvalScript(ctx, coordination.ScriptReadLockAcquire,
		[]string{manager.schema.writeLock(key), manager.schema.readers(key)},
		manager.lockTTL.Milliseconds())
	if err != nil {
		return xerrors.Errorf("failed to acquire read lock for %q (%s): %w", key, err, ErrCoordination)
	}

	if result != 1 {
		return xerrors.Errorf("entry %q is being written: %w", key, ErrBusy)
	}
	return nil
}

// releaseRead drops a shared read lock for the key
func (manager *lockManager) releaseRead(ctx context.Context, key string) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "lockManager",
		"function": "releaseRead",
	})

	_, err := manager.client.EvalScript(ctx, coordination.ScriptReadLockRelease,
		[]string{manager.schema.readers(key)})
	if err != nil {
		// the reader counter TTL guarantees eventual release
		logger.WithError(err).Debugf("failed to release read lock for %q, lease will expire", key)
	}
}

// acquireWrite takes the exclusive write lock for the key and returns the
// holder token required for release.
// Fails with ErrBusy when a writer or readers hold the entry.
func (manager *lockManager) acquireWrite(ctx context.Context, key string) (string, error) {
	token, err := utils.MakeLockToken()
	if err != nil {
		return "", err
	}

	result, err := manager.client.EvalScript(ctx, coordination.ScriptWriteLockAcquire,
		[]string{manager.schema.writeLock(key), manager.schema.readers(key)},
		token, manager.lockTTL.Milliseconds())
	if err != nil {
		return "", xerrors.Errorf("failed to acquire write lock for %q (%s): %w", key, err, ErrCoordination)
	}

	switch result {
	case 1:
		return token, nil
	case -1:
		return "", xerrors.Errorf("entry %q has readers: %w", key, ErrBusy)
	default:
		return "", xerrors.Errorf("entry %q has another writer: %w", key, ErrBusy)
	}
}

// releaseWrite drops the write lock for the key if the token still owns it
func (manager *lockManager) releaseWrite(ctx context.Context, key string, token string) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "lockManager",
		"function": "releaseWrite",
	})

	_, err := manager.client.EvalScript(ctx, coordination.ScriptWriteLockRelease,
		[]string{manager.schema.writeLock(key)}, token)
	if err != nil {
		logger.WithError(err).Debugf("failed to release write lock for %q, lease will expire", key)
	}
}

// acquireEvictFence marks the key as being evicted. Success means the
// entry had no writer and no readers at the instant of the call, and the
// on-disk file is safe to unlink while the fence lives.
func (manager *lockManager) acquireEvictFence(ctx context.Context, key string) (bool, error) {
	result, err := manager.client.EvalScript(ctx, coordination.ScriptEvictFenceAcquire,
		[]string{manager.schema.writeLock(key), manager.schema.readers(key), manager.schema.evictFence(key)},
		evictFenceTTL.Milliseconds())
	if err != nil {
		return false, xerrors.Errorf("failed to acquire evict fence for %q (%s): %w", key, err, ErrCoordination)
	}

	return result == 1, nil
}
