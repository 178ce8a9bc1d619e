package cache

import (
	"context"

	"github.com/cyverse/filecache/coordination"
	"github.com/cyverse/filecache/utils"
	lrucache "github.com/hashicorp/golang-lru"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
)

// FileCache is a shared on-disk content cache coordinated through an
// external key/value store. Many processes on many hosts may share one
// cache directory and namespace; a single FileCache handle is not safe
// for concurrent use from multiple goroutines.
type FileCache struct {
	id     string
	config *Config

	client    coordination.Client
	ownClient bool

	schema      *keySchema
	lockManager *lockManager
	fileStore   *fileStore
	index       *indexMaintainer

	recentBusyVictims *lrucache.Cache
}

// NewFileCache creates a new FileCache connected to the configured
// coordination endpoint
func NewFileCache(config *Config) (*FileCache, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "NewFileCache",
	})

	defer utils.StackTraceFromPanic(logger)

	err := config.Validate()
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	client, err := coordination.NewRedisClient(&coordination.RedisConfig{
		Host:       config.Host,
		Port:       config.Port,
		DatabaseID: config.DatabaseID,
	})
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	fileCache, err := NewFileCacheWithClient(client, config)
	if err != nil {
		client.Release()
		return nil, err
	}

	fileCache.ownClient = true
	return fileCache, nil
}

// NewFileCacheWithClient creates a new FileCache on an existing
// coordination client. The caller keeps ownership of the client.
func NewFileCacheWithClient(client coordination.Client, config *Config) (*FileCache, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "NewFileCacheWithClient",
	})

	defer utils.StackTraceFromPanic(logger)

	err := config.Validate()
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	fileStore, err := newFileStore(config.CacheDirPath)
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	err = registerScripts(client)
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	recentBusyVictims, err := lrucache.New(recentBusyVictimCap)
	if err != nil {
		logger.Error(err)
		return nil, err
	}

	schema := newKeySchema(config.Namespace)

	fileCache := &FileCache{
		id:     xid.New().String(),
		config: config,

		client:    client,
		ownClient: false,

		schema:      schema,
		lockManager: newLockManager(client, schema, config.LockTTL),
		fileStore:   fileStore,
		index:       newIndexMaintainer(client, schema),

		recentBusyVictims: recentBusyVictims,
	}

	logger.Debugf("created cache handle %s for dir %q namespace %q", fileCache.id, config.CacheDirPath, config.Namespace)
	return fileCache, nil
}

// GetID returns the handle id
func (fileCache *FileCache) GetID() string {
	return fileCache.id
}

// GetConfig returns the config
func (fileCache *FileCache) GetConfig() *Config {
	return fileCache.config
}

// Release releases resources
func (fileCache *FileCache) Release() {
	if fileCache.ownClient {
		fileCache.client.Release()
	}
}

// Exists returns true if a published file for the key is present.
// The result is informational only; it can race with eviction.
func (fileCache *FileCache) Exists(key string) (bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return false, err
	}

	return fileCache.fileStore.exists(key), nil
}

// Read returns the whole payload of an entry under a read lock and
// refreshes the entry's last-access timestamp
func (fileCache *FileCache) Read(ctx context.Context, key string) ([]byte, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "Read",
	})

	defer utils.StackTraceFromPanic(logger)

	reader, err := fileCache.OpenForRead(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return reader.ReadAll()
}

// Create publishes a new entry. The entry must not exist; entries are
// immutable once published.
func (fileCache *FileCache) Create(ctx context.Context, key string, data []byte) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileCache",
		"function": "Create",
	})

	defer utils.StackTraceFromPanic(logger)

	writer, err := fileCache.OpenForCreate(ctx, key)
	if err != nil {
		return err
	}

	_, err = writer.Write(data)
	if err != nil {
		writer.Discard()
		return err
	}

	return writer.Commit(ctx)
}

// Keys returns the published key set
func (fileCache *FileCache) Keys(ctx context.Context) ([]string, error) {
	return fileCache.index.keys(ctx)
}

// TotalBytes returns the total-bytes counter.
// The counter can drift after crashes between publish steps.
func (fileCache *FileCache) TotalBytes(ctx context.Context) (int64, error) {
	return fileCache.index.totalBytes(ctx)
}

// EvictionLog returns up to count recent eviction records, newest first.
// Each record is "<timestamp_ms> <key> <size>".
func (fileCache *FileCache) EvictionLog(ctx context.Context, count int64) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	return fileCache.client.ListRange(ctx, fileCache.schema.evictionLog(), 0, count-1)
}
