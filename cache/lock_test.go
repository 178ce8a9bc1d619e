package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockManager(t *testing.T) {
	t.Run("test ReadersShareWritersExclude", testReadersShareWritersExclude)
	t.Run("test WriteLockExcludesReaders", testWriteLockExcludesReaders)
	t.Run("test WriteLockTokenMismatch", testWriteLockTokenMismatch)
	t.Run("test ReleaseIdempotent", testReleaseIdempotent)
	t.Run("test LockLeaseExpiry", testLockLeaseExpiry)
	t.Run("test EvictFence", testEvictFence)
}

func testReadersShareWritersExclude(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	manager := fileCache.lockManager

	// multiple readers share
	err := manager.acquireRead(ctx, "k1")
	assert.NoError(t, err)
	err = manager.acquireRead(ctx, "k1")
	assert.NoError(t, err)

	// readers block the writer
	_, err = manager.acquireWrite(ctx, "k1")
	assert.Error(t, err)
	assert.True(t, IsBusyError(err))

	manager.releaseRead(ctx, "k1")

	// one reader still present
	_, err = manager.acquireWrite(ctx, "k1")
	assert.Error(t, err)
	assert.True(t, IsBusyError(err))

	manager.releaseRead(ctx, "k1")

	// all readers gone
	token, err := manager.acquireWrite(ctx, "k1")
	assert.NoError(t, err)
	assert.Len(t, token, 32)

	manager.releaseWrite(ctx, "k1", token)
}

func testWriteLockExcludesReaders(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	manager := fileCache.lockManager

	token, err := manager.acquireWrite(ctx, "k1")
	assert.NoError(t, err)

	err = manager.acquireRead(ctx, "k1")
	assert.Error(t, err)
	assert.True(t, IsBusyError(err))

	// a second writer is excluded too
	_, err = manager.acquireWrite(ctx, "k1")
	assert.Error(t, err)
	assert.True(t, IsBusyError(err))

	manager.releaseWrite(ctx, "k1", token)

	err = manager.acquireRead(ctx, "k1")
	assert.NoError(t, err)
	manager.releaseRead(ctx, "k1")
}

func testWriteLockTokenMismatch(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	manager := fileCache.lockManager

	token, err := manager.acquireWrite(ctx, "k1")
	assert.NoError(t, err)

	// a stale holder must not release the current holder's lock
	manager.releaseWrite(ctx, "k1", "0123456789abcdef0123456789abcdef")

	value, ok, err := fileCache.client.Get(ctx, fileCache.schema.writeLock("k1"))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, token, value)

	manager.releaseWrite(ctx, "k1", token)

	_, ok, err = fileCache.client.Get(ctx, fileCache.schema.writeLock("k1"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func testReleaseIdempotent(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	manager := fileCache.lockManager

	// releasing locks that were never taken must not panic or leave state
	manager.releaseRead(ctx, "k1")
	manager.releaseWrite(ctx, "k1", "0123456789abcdef0123456789abcdef")

	_, ok, err := fileCache.client.Get(ctx, fileCache.schema.readers("k1"))
	assert.NoError(t, err)
	assert.False(t, ok)

	// double release of a real lock is a no-op
	err = manager.acquireRead(ctx, "k1")
	assert.NoError(t, err)
	manager.releaseRead(ctx, "k1")
	manager.releaseRead(ctx, "k1")

	token, err := manager.acquireWrite(ctx, "k1")
	assert.NoError(t, err)
	manager.releaseWrite(ctx, "k1", token)
	manager.releaseWrite(ctx, "k1", token)
}

func testLockLeaseExpiry(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	// crash recovery: a lock holder that never releases is bounded by TTL
	fileCache.config.LockTTL = 100 * time.Millisecond
	fileCache.lockManager.lockTTL = 100 * time.Millisecond

	ctx := context.Background()
	manager := fileCache.lockManager

	_, err := manager.acquireWrite(ctx, "k1")
	assert.NoError(t, err)

	_, err = manager.acquireWrite(ctx, "k1")
	assert.True(t, IsBusyError(err))

	time.Sleep(150 * time.Millisecond)

	token, err := manager.acquireWrite(ctx, "k1")
	assert.NoError(t, err)
	manager.releaseWrite(ctx, "k1", token)
}

func testEvictFence(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	manager := fileCache.lockManager

	// fence blocked by a reader
	err := manager.acquireRead(ctx, "k1")
	assert.NoError(t, err)

	fenced, err := manager.acquireEvictFence(ctx, "k1")
	assert.NoError(t, err)
	assert.False(t, fenced)

	manager.releaseRead(ctx, "k1")

	// fence blocked by a writer
	token, err := manager.acquireWrite(ctx, "k1")
	assert.NoError(t, err)

	fenced, err = manager.acquireEvictFence(ctx, "k1")
	assert.NoError(t, err)
	assert.False(t, fenced)

	manager.releaseWrite(ctx, "k1", token)

	// idle entry can be fenced, once
	fenced, err = manager.acquireEvictFence(ctx, "k1")
	assert.NoError(t, err)
	assert.True(t, fenced)

	fenced, err = manager.acquireEvictFence(ctx, "k1")
	assert.NoError(t, err)
	assert.False(t, fenced)
}
