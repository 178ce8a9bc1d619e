package testcases

import (
	"os"
	"strconv"
	"testing"

	"github.com/cyverse/filecache/cache"
	"github.com/cyverse/filecache/coordination"
	"github.com/rs/xid"

	log "github.com/sirupsen/logrus"
)

var (
	redisConfig    *coordination.RedisConfig
	redisAvailable bool
)

// setup probes the Redis endpoint given by REDIS_HOST, REDIS_PORT, and
// REDIS_DB. Tests that need a live coordination service skip when the
// probe fails.
func setup() {
	logger := log.WithFields(log.Fields{
		"package":  "test",
		"function": "setup",
	})

	host := os.Getenv("REDIS_HOST")
	if len(host) == 0 {
		host = cache.RedisHostDefault
	}

	port := cache.RedisPortDefault
	if portEnv := os.Getenv("REDIS_PORT"); len(portEnv) > 0 {
		parsedPort, err := strconv.Atoi(portEnv)
		if err != nil {
			logger.Error(err)
			panic(err)
		}
		port = parsedPort
	}

	databaseID := 0
	if dbEnv := os.Getenv("REDIS_DB"); len(dbEnv) > 0 {
		parsedDB, err := strconv.Atoi(dbEnv)
		if err != nil {
			logger.Error(err)
			panic(err)
		}
		databaseID = parsedDB
	}

	redisConfig = &coordination.RedisConfig{
		Host:       host,
		Port:       port,
		DatabaseID: databaseID,
	}

	probe, err := coordination.NewRedisClient(redisConfig)
	if err != nil {
		logger.WithError(err).Warnf("redis %s is not reachable, skipping integration tests", redisConfig.GetRedisAddr())
		redisAvailable = false
		return
	}
	probe.Release()

	redisAvailable = true
}

func shutdown() {
	redisConfig = nil
	redisAvailable = false
}

func requireRedis(t *testing.T) {
	if !redisAvailable {
		t.Skipf("redis is not reachable")
	}
}

// makeTestCache creates a cache handle on a namespace unique to this
// call, so runs never see each other's coordination keys
func makeTestCache(t *testing.T, maxBytes int64) *cache.FileCache {
	config := cache.NewDefaultConfig(t.TempDir())
	config.Host = redisConfig.Host
	config.Port = redisConfig.Port
	config.DatabaseID = redisConfig.DatabaseID
	config.Namespace = "fctest-" + xid.New().String()
	config.MaxBytes = maxBytes

	fileCache, err := cache.NewFileCache(config)
	if err != nil {
		t.Fatal(err)
	}
	return fileCache
}

// makeKeyedTestDataBuf fills a buffer with content derived from the key,
// so any reader can verify a payload without shared state
func makeKeyedTestDataBuf(key string, size int64) []byte {
	dataBuf := make([]byte, size)
	writeLen := 0
	for writeLen < len(dataBuf) {
		copy(dataBuf[writeLen:], key)
		writeLen += len(key)
	}
	return dataBuf
}
