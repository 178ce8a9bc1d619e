package cache

import (
	"context"
	"strconv"

	"github.com/cyverse/filecache/coordination"
	"golang.org/x/xerrors"
)

// indexMaintainer keeps the size hash, total-bytes counter, key set, and
// LRU index. The four publish-time updates are individual calls, not a
// transaction; eviction tolerates the drift a crash between them leaves.
type indexMaintainer struct {
	client coordination.Client
	schema *keySchema
}

func newIndexMaintainer(client coordination.Client, schema *keySchema) *indexMaintainer {
	return &indexMaintainer{
		client: client,
		schema: schema,
	}
}

// addOnPublish records a newly published entry
func (index *indexMaintainer) addOnPublish(ctx context.Context, key string, size int64, timestampMS int64) error {
	err := index.client.HashSetInt64(ctx, index.schema.sizeIndex(), key, size)
	if err != nil {
		return xerrors.Errorf("failed to record size of %q: %w", key, err)
	}

	_, err = index.client.IncrBy(ctx, index.schema.totalBytes(), size)
	if err != nil {
		return xerrors.Errorf("failed to add %q to total bytes: %w", key, err)
	}

	err = index.client.SetAdd(ctx, index.schema.keySet(), key)
	if err != nil {
		return xerrors.Errorf("failed to add %q to key set: %w", key, err)
	}

	return index.touch(ctx, key, timestampMS)
}

// touch refreshes the last-access timestamp of a key
func (index *indexMaintainer) touch(ctx context.Context, key string, timestampMS int64) error {
	err := index.client.SortedSetAdd(ctx, index.schema.lruIndex(), key, timestampMS)
	if err != nil {
		return xerrors.Errorf("failed to touch %q: %w", key, err)
	}
	return nil
}

// removeOnEvict removes an evicted entry from all indices
func (index *indexMaintainer) removeOnEvict(ctx context.Context, key string, size int64) error {
	err := index.client.HashDelete(ctx, index.schema.sizeIndex(), key)
	if err != nil {
		return xerrors.Errorf("failed to remove size of %q: %w", key, err)
	}

	_, err = index.client.IncrBy(ctx, index.schema.totalBytes(), -size)
	if err != nil {
		return xerrors.Errorf("failed to subtract %q from total bytes: %w", key, err)
	}

	err = index.client.SortedSetRemove(ctx, index.schema.lruIndex(), key)
	if err != nil {
		return xerrors.Errorf("failed to remove %q from LRU index: %w", key, err)
	}

	err = index.client.SetRemove(ctx, index.schema.keySet(), key)
	if err != nil {
		return xerrors.Errorf("failed to remove %q from key set: %w", key, err)
	}
	return nil
}

// cleanupDrift removes a key that has an LRU entry but no size entry,
// left behind by a crash between publish steps
func (index *indexMaintainer) cleanupDrift(ctx context.Context, key string) {
	index.client.SortedSetRemove(ctx, index.schema.lruIndex(), key)
	index.client.SetRemove(ctx, index.schema.keySet(), key)
}

// sizeOf returns the recorded size of a key
func (index *indexMaintainer) sizeOf(ctx context.Context, key string) (int64, bool, error) {
	size, ok, err := index.client.HashGetInt64(ctx, index.schema.sizeIndex(), key)
	if err != nil {
		return 0, false, xerrors.Errorf("failed to get size of %q: %w", key, err)
	}
	return size, ok, nil
}

// totalBytes returns the current total-bytes counter
func (index *indexMaintainer) totalBytes(ctx context.Context) (int64, error) {
	value, ok, err := index.client.Get(ctx, index.schema.totalBytes())
	if err != nil {
		return 0, xerrors.Errorf("failed to get total bytes: %w", err)
	}
	if !ok {
		return 0, nil
	}

	total, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return total, nil
}

// lruHead returns up to count keys with the oldest access timestamps
func (index *indexMaintainer) lruHead(ctx context.Context, count int64) ([]coordination.SortedSetMember, error) {
	members, err := index.client.SortedSetHead(ctx, index.schema.lruIndex(), count)
	if err != nil {
		return nil, xerrors.Errorf("failed to read LRU index head: %w", err)
	}
	return members, nil
}

// keys returns the published key set
func (index *indexMaintainer) keys(ctx context.Context) ([]string, error) {
	members, err := index.client.SetMembers(ctx, index.schema.keySet())
	if err != nil {
		return nil, xerrors.Errorf("failed to read key set: %w", err)
	}
	return members, nil
}
