package cache

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// ValidateKey checks that a key is a simple filename.
// Names starting with '.' are reserved for scratch files.
func ValidateKey(key string) error {
	if len(key) == 0 {
		return xerrors.Errorf("key is empty: %w", ErrInvalidKey)
	}

	if strings.HasPrefix(key, ".") {
		return xerrors.Errorf("key %q starts with '.': %w", key, ErrInvalidKey)
	}

	if strings.Contains(key, "/") {
		return xerrors.Errorf("key %q contains '/': %w", key, ErrInvalidKey)
	}

	return nil
}

// keySchema derives coordination store key names from a namespace
type keySchema struct {
	namespace string
}

func newKeySchema(namespace string) *keySchema {
	return &keySchema{
		namespace: namespace,
	}
}

// writeLock is the per-entry exclusive lease key
func (schema *keySchema) writeLock(key string) string {
	return fmt.Sprintf("%s:lock:write:%s", schema.namespace, key)
}

// readers is the per-entry shared reader counter key
func (schema *keySchema) readers(key string) string {
	return fmt.Sprintf("%s:lock:readers:%s", schema.namespace, key)
}

// evictFence is the per-entry eviction-in-progress marker key
func (schema *keySchema) evictFence(key string) string {
	return fmt.Sprintf("%s:lock:evict:%s", schema.namespace, key)
}

// purgeMutex asserts a single purger per namespace
func (schema *keySchema) purgeMutex() string {
	return fmt.Sprintf("%s:purge:mutex", schema.namespace)
}

// lruIndex maps key to last-access timestamp, ordered by timestamp
func (schema *keySchema) lruIndex() string {
	return fmt.Sprintf("%s:idx:lru", schema.namespace)
}

// sizeIndex maps key to byte size
func (schema *keySchema) sizeIndex() string {
	return fmt.Sprintf("%s:idx:size", schema.namespace)
}

// keySet is the set of published keys
func (schema *keySchema) keySet() string {
	return fmt.Sprintf("%s:keys:set", schema.namespace)
}

// totalBytes is the sum of all size index values
func (schema *keySchema) totalBytes() string {
	return fmt.Sprintf("%s:idx:total", schema.namespace)
}

// evictionLog is a capped list of eviction records
func (schema *keySchema) evictionLog() string {
	return fmt.Sprintf("%s:evict:log", schema.namespace)
}
