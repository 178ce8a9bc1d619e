package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cyverse/filecache/coordination"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
)

func TestEviction(t *testing.T) {
	t.Run("test CapacityEnforced", testCapacityEnforced)
	t.Run("test NoEvictionWithoutBound", testNoEvictionWithoutBound)
	t.Run("test BusyVictimSkipped", testBusyVictimSkipped)
	t.Run("test DriftCleanup", testDriftCleanup)
	t.Run("test PurgeMutexExcludes", testPurgeMutexExcludes)
}

func testCapacityEnforced(t *testing.T) {
	client := coordination.NewMemoryClient()

	config := NewDefaultConfig(t.TempDir())
	config.Namespace = "fctest-" + xid.New().String()
	config.MaxBytes = 8192
	// keep the purge rate limiter shorter than the create interval so
	// every create can purge
	config.PurgeMutexTTL = 20 * time.Millisecond

	fileCache, err := NewFileCacheWithClient(client, config)
	assert.NoError(t, err)
	defer fileCache.Release()

	ctx := context.Background()
	payload := make([]byte, 4096)

	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("k-%02d.bin", i)
		err = fileCache.Create(ctx, key, payload)
		assert.NoError(t, err)

		time.Sleep(30 * time.Millisecond)
	}

	total, err := fileCache.TotalBytes(ctx)
	assert.NoError(t, err)
	assert.LessOrEqual(t, total, int64(8192))

	// the oldest entries were chosen as victims
	for _, key := range []string{"k-00.bin", "k-01.bin"} {
		exists, existsErr := fileCache.Exists(key)
		assert.NoError(t, existsErr)
		assert.False(t, exists, "%s should be evicted", key)

		_, ok, sizeErr := fileCache.index.sizeOf(ctx, key)
		assert.NoError(t, sizeErr)
		assert.False(t, ok, "%s should have no size entry", key)
	}

	// the newest entries survived
	for _, key := range []string{"k-04.bin", "k-05.bin"} {
		exists, existsErr := fileCache.Exists(key)
		assert.NoError(t, existsErr)
		assert.True(t, exists, "%s should survive", key)
	}

	records, err := fileCache.EvictionLog(ctx, evictionLogCap)
	assert.NoError(t, err)
	assert.NotEmpty(t, records)
}

func testNoEvictionWithoutBound(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	payload := make([]byte, 4096)

	for i := 0; i < 6; i++ {
		err := fileCache.Create(ctx, fmt.Sprintf("k-%02d.bin", i), payload)
		assert.NoError(t, err)
	}

	total, err := fileCache.TotalBytes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(6*4096), total)

	for i := 0; i < 6; i++ {
		exists, err := fileCache.Exists(fmt.Sprintf("k-%02d.bin", i))
		assert.NoError(t, err)
		assert.True(t, exists)
	}
}

func testBusyVictimSkipped(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	payload := make([]byte, 4096)

	for i := 0; i < 3; i++ {
		err := fileCache.Create(ctx, fmt.Sprintf("k-%02d.bin", i), payload)
		assert.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
	}

	// hold a read lock on the oldest entry, then demand capacity
	err := fileCache.lockManager.acquireRead(ctx, "k-00.bin")
	assert.NoError(t, err)

	fileCache.config.MaxBytes = 8192

	fileCache.ensureCapacity(ctx)

	// the locked entry survived, younger entries were evicted instead
	exists, err := fileCache.Exists("k-00.bin")
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = fileCache.Exists("k-01.bin")
	assert.NoError(t, err)
	assert.False(t, exists)

	total, err := fileCache.TotalBytes(ctx)
	assert.NoError(t, err)
	assert.LessOrEqual(t, total, int64(8192))

	fileCache.lockManager.releaseRead(ctx, "k-00.bin")
}

func testDriftCleanup(t *testing.T) {
	fileCache, client := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()

	// a crash between publish steps: LRU and key-set entries exist but
	// the size entry does not
	err := client.SortedSetAdd(ctx, fileCache.schema.lruIndex(), "ghost.bin", 1)
	assert.NoError(t, err)
	err = client.SetAdd(ctx, fileCache.schema.keySet(), "ghost.bin")
	assert.NoError(t, err)
	_, err = client.IncrBy(ctx, fileCache.schema.totalBytes(), 9000)
	assert.NoError(t, err)

	fileCache.config.MaxBytes = 8192

	fileCache.ensureCapacity(ctx)

	heads, err := fileCache.index.lruHead(ctx, 10)
	assert.NoError(t, err)
	assert.Empty(t, heads)

	keys, err := fileCache.Keys(ctx)
	assert.NoError(t, err)
	assert.NotContains(t, keys, "ghost.bin")
}

func testPurgeMutexExcludes(t *testing.T) {
	fileCache, client := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	payload := make([]byte, 4096)

	for i := 0; i < 3; i++ {
		err := fileCache.Create(ctx, fmt.Sprintf("k-%02d.bin", i), payload)
		assert.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
	}

	// another process holds the purge mutex; this purger must yield
	acquired, err := client.SetNX(ctx, fileCache.schema.purgeMutex(), "1", 5*time.Second)
	assert.NoError(t, err)
	assert.True(t, acquired)

	fileCache.config.MaxBytes = 8192

	fileCache.ensureCapacity(ctx)

	total, err := fileCache.TotalBytes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(3*4096), total)
}
