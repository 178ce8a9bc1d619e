package coordination

import (
	"context"
	"time"
)

// Script names known to the cache. A Client executes these as single
// atomic operations; the in-memory client implements them natively.
const (
	ScriptReadLockAcquire  string = "read_lock_acquire"
	ScriptReadLockRelease  string = "read_lock_release"
	ScriptWriteLockAcquire string = "write_lock_acquire"
	ScriptWriteLockRelease string = "write_lock_release"
	ScriptEvictFenceAcquire string = "evict_fence_acquire"
)

// SortedSetMember is a member of a sorted collection with its score
type SortedSetMember struct {
	Member string
	Score  int64
}

// Client is a coordination service client.
// A Client is bound to a single connection and is not safe for concurrent
// use from multiple goroutines; each cache handle owns its own Client.
type Client interface {
	Release()

	// Scripts
	RegisterScript(name string, body string) error
	EvalScript(ctx context.Context, name string, keys []string, args ...interface{}) (int64, error)

	// Strings and counters
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Delete(ctx context.Context, keys ...string) error

	// Hashes
	HashSetInt64(ctx context.Context, key string, field string, value int64) error
	HashGetInt64(ctx context.Context, key string, field string) (int64, bool, error)
	HashDelete(ctx context.Context, key string, fields ...string) error

	// Sorted collections
	SortedSetAdd(ctx context.Context, key string, member string, score int64) error
	SortedSetRemove(ctx context.Context, key string, members ...string) error
	SortedSetHead(ctx context.Context, key string, count int64) ([]SortedSetMember, error)

	// Sets
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Lists
	ListPushCapped(ctx context.Context, key string, value string, limit int64) error
	ListRange(ctx context.Context, key string, start int64, stop int64) ([]string, error)
}
