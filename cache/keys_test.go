package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	t.Run("test ValidateKey", testValidateKey)
	t.Run("test KeySchema", testKeySchema)
}

func testValidateKey(t *testing.T) {
	err := ValidateKey("k-00.bin")
	assert.NoError(t, err)

	err = ValidateKey("data_file.1")
	assert.NoError(t, err)

	err = ValidateKey("")
	assert.Error(t, err)
	assert.True(t, IsInvalidKeyError(err))

	err = ValidateKey(".hidden")
	assert.Error(t, err)
	assert.True(t, IsInvalidKeyError(err))

	err = ValidateKey("dir/file")
	assert.Error(t, err)
	assert.True(t, IsInvalidKeyError(err))

	err = ValidateKey("a/")
	assert.Error(t, err)
	assert.True(t, IsInvalidKeyError(err))
}

func testKeySchema(t *testing.T) {
	schema := newKeySchema("poc-cache")

	assert.Equal(t, "poc-cache:lock:write:k1", schema.writeLock("k1"))
	assert.Equal(t, "poc-cache:lock:readers:k1", schema.readers("k1"))
	assert.Equal(t, "poc-cache:lock:evict:k1", schema.evictFence("k1"))
	assert.Equal(t, "poc-cache:purge:mutex", schema.purgeMutex())
	assert.Equal(t, "poc-cache:idx:lru", schema.lruIndex())
	assert.Equal(t, "poc-cache:idx:size", schema.sizeIndex())
	assert.Equal(t, "poc-cache:keys:set", schema.keySet())
	assert.Equal(t, "poc-cache:idx:total", schema.totalBytes())
	assert.Equal(t, "poc-cache:evict:log", schema.evictionLog())
}
