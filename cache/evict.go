package cache

import (
	"context"
	"fmt"

	"github.com/cyverse/filecache/utils"
	log "github.com/sirupsen/logrus"
)

const (
	// maxVictimProbes bounds how many LRU heads one victim search
	// (one tryEvictOne call) examines, so a run of live entries at the
	// head cannot starve eviction
	maxVictimProbes int64 = 8

	// recentBusyVictimCap sizes the per-pass busy-victim tracker
	recentBusyVictimCap int = 64

	// evictionLogCap caps the diagnostic eviction log
	evictionLogCap int64 = 100
)

// ensureCapacity shrinks the cache below the capacity bound.
// Only one process purges at a time: whoever wins the purge mutex runs
// the loop, everyone else returns immediately. The mutex is never
// explicitly released; its TTL doubles as the purge rate limiter.
// Eviction is best-effort, so errors end the pass instead of surfacing.
func (fileCache *FileCache) ensureCapacity(ctx context.Context) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "ensureCapacity",
	})

	defer utils.StackTraceFromPanic(logger)

	maxBytes := fileCache.config.MaxBytes
	if maxBytes <= 0 {
		return
	}

	acquired, err := fileCache.client.SetNX(ctx, fileCache.schema.purgeMutex(), "1", fileCache.config.PurgeMutexTTL)
	if err != nil {
		logger.WithError(err).Debug("failed to acquire purge mutex")
		return
	}
	if !acquired {
		// another process is purging
		return
	}

	fileCache.recentBusyVictims.Purge()

	total, err := fileCache.index.totalBytes(ctx)
	if err != nil {
		logger.WithError(err).Debug("failed to read total bytes")
		return
	}
	if total <= maxBytes {
		return
	}

	// purge below the cap for hysteresis
	lowWater := maxBytes
	if fileCache.config.PurgeFactor > 0 {
		lowWater = int64(float64(maxBytes) * (1.0 - fileCache.config.PurgeFactor))
	}

	for total > lowWater {
		victim, freed, evicted := fileCache.tryEvictOne(ctx)
		if !evicted {
			break
		}

		logger.Debugf("evicted %q, freed %d bytes", victim, freed)

		total, err = fileCache.index.totalBytes(ctx)
		if err != nil {
			logger.WithError(err).Debug("failed to read total bytes")
			return
		}
	}
}

// tryEvictOne evicts the oldest evictable entry.
// It probes up to maxVictimProbes LRU heads, skipping victims already
// found busy this pass. A busy victim's timestamp is pushed forward so
// the next pass does not re-select it immediately.
func (fileCache *FileCache) tryEvictOne(ctx context.Context) (string, int64, bool) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "tryEvictOne",
	})

	heads, err := fileCache.index.lruHead(ctx, maxVictimProbes)
	if err != nil {
		logger.WithError(err).Debug("failed to read LRU head")
		return "", 0, false
	}

	for _, head := range heads {
		key := head.Member

		if fileCache.recentBusyVictims.Contains(key) {
			continue
		}

		size, ok, err := fileCache.index.sizeOf(ctx, key)
		if err != nil {
			logger.WithError(err).Debugf("failed to look up size of %q", key)
			return "", 0, false
		}
		if !ok {
			// crash between publish steps left an LRU entry without a
			// size entry
			fileCache.index.cleanupDrift(ctx, key)
			continue
		}

		fenced, err := fileCache.lockManager.acquireEvictFence(ctx, key)
		if err != nil {
			logger.WithError(err).Debugf("failed to fence %q", key)
			return "", 0, false
		}
		if !fenced {
			fileCache.recentBusyVictims.Add(key, true)
			fileCache.index.touch(ctx, key, utils.GetCurrentTimeMS())
			continue
		}

		removed, err := fileCache.fileStore.remove(key)
		if err != nil {
			logger.WithError(err).Errorf("failed to unlink %q", key)
			fileCache.removeFromIndices(ctx, key, size)
			return "", 0, false
		}
		if !removed {
			logger.Debugf("file for %q already gone", key)
		}

		fileCache.removeFromIndices(ctx, key, size)
		fileCache.appendEvictionLog(ctx, key, size)
		return key, size, true
	}

	return "", 0, false
}

func (fileCache *FileCache) removeFromIndices(ctx context.Context, key string, size int64) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "removeFromIndices",
	})

	err := fileCache.index.removeOnEvict(ctx, key, size)
	if err != nil {
		logger.WithError(err).Debugf("failed to clean indices for %q", key)
	}
}

func (fileCache *FileCache) appendEvictionLog(ctx context.Context, key string, size int64) {
	record := fmt.Sprintf("%d %s %d", utils.GetCurrentTimeMS(), key, size)
	fileCache.client.ListPushCapped(ctx, fileCache.schema.evictionLog(), record, evictionLogCap)
}
