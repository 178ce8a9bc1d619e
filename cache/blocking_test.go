package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBlocking(t *testing.T) {
	t.Run("test CreateBlockingWaitsForLease", testCreateBlockingWaitsForLease)
	t.Run("test ReadBlockingWaitsForLease", testReadBlockingWaitsForLease)
	t.Run("test ReadBlockingWaitsForPublish", testReadBlockingWaitsForPublish)
	t.Run("test CreateBlockingExistingIsPermanent", testCreateBlockingExistingIsPermanent)
	t.Run("test BlockingCancel", testBlockingCancel)
}

func testCreateBlockingWaitsForLease(t *testing.T) {
	fileCache, client := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	payload := []byte("payload")

	// another process holds the write lock with a 300ms lease
	err := client.Set(ctx, fileCache.schema.writeLock("k1"), "sometoken", 300*time.Millisecond)
	assert.NoError(t, err)

	// too short to outlive the lease
	created, err := fileCache.CreateBlocking(ctx, "k1", payload, 150*time.Millisecond, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, created)

	exists, err := fileCache.Exists("k1")
	assert.NoError(t, err)
	assert.False(t, exists)

	// long enough to outlive the lease
	created, err = fileCache.CreateBlocking(ctx, "k1", payload, 500*time.Millisecond, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, created)

	exists, err = fileCache.Exists("k1")
	assert.NoError(t, err)
	assert.True(t, exists)
}

func testReadBlockingWaitsForLease(t *testing.T) {
	fileCache, client := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	payload := []byte("payload")

	err := fileCache.Create(ctx, "k1", payload)
	assert.NoError(t, err)

	err = client.Set(ctx, fileCache.schema.writeLock("k1"), "sometoken", 300*time.Millisecond)
	assert.NoError(t, err)

	_, ok, err := fileCache.ReadBlocking(ctx, "k1", 150*time.Millisecond, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)

	data, ok, err := fileCache.ReadBlocking(ctx, "k1", 500*time.Millisecond, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, data)
}

func testReadBlockingWaitsForPublish(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()
	payload := []byte("payload")

	// not-yet-published entries are retried, not surfaced
	go func() {
		time.Sleep(100 * time.Millisecond)
		fileCache.Create(ctx, "k1", payload)
	}()

	data, ok, err := fileCache.ReadBlocking(ctx, "k1", 1*time.Second, 10*time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, data)
}

func testCreateBlockingExistingIsPermanent(t *testing.T) {
	fileCache, _ := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx := context.Background()

	err := fileCache.Create(ctx, "k1", []byte("first"))
	assert.NoError(t, err)

	// an existing entry surfaces immediately instead of running out the clock
	startTime := time.Now()
	created, err := fileCache.CreateBlocking(ctx, "k1", []byte("second"), 5*time.Second, 10*time.Millisecond)
	assert.Error(t, err)
	assert.True(t, IsAlreadyExistsError(err))
	assert.False(t, created)
	assert.Less(t, time.Since(startTime), 1*time.Second)
}

func testBlockingCancel(t *testing.T) {
	fileCache, client := makeMemoryCache(t, 0)
	defer fileCache.Release()

	ctx, cancel := context.WithCancel(context.Background())

	err := client.Set(ctx, fileCache.schema.writeLock("k1"), "sometoken", 5*time.Second)
	assert.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	startTime := time.Now()
	_, ok, err := fileCache.ReadBlocking(ctx, "k1", 10*time.Second, 10*time.Millisecond)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(startTime), 2*time.Second)
}
