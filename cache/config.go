package cache

import (
	"time"

	"golang.org/x/xerrors"
)

const (
	// RedisHostDefault is the default coordination service host
	RedisHostDefault string = "127.0.0.1"
	// RedisPortDefault is the default coordination service port
	RedisPortDefault int = 6379
	// LockTTLDefault is the default lease length for read/write locks
	LockTTLDefault time.Duration = 60 * time.Second
	// NamespaceDefault is the default prefix for coordination keys
	NamespaceDefault string = "poc-cache"
	// PurgeMutexTTLDefault bounds how often any process can purge
	PurgeMutexTTLDefault time.Duration = 2 * time.Second
	// PurgeFactorDefault is the fraction of MaxBytes freed below the cap
	PurgeFactorDefault float64 = 0.2
)

// Config is a config for a FileCache
type Config struct {
	CacheDirPath string

	Host       string
	Port       int
	DatabaseID int

	LockTTL       time.Duration
	Namespace     string
	MaxBytes      int64 // 0 disables eviction
	PurgeMutexTTL time.Duration
	PurgeFactor   float64
}

// NewDefaultConfig creates a new Config with default values
func NewDefaultConfig(cacheDirPath string) *Config {
	return &Config{
		CacheDirPath: cacheDirPath,

		Host:       RedisHostDefault,
		Port:       RedisPortDefault,
		DatabaseID: 0,

		LockTTL:       LockTTLDefault,
		Namespace:     NamespaceDefault,
		MaxBytes:      0,
		PurgeMutexTTL: PurgeMutexTTLDefault,
		PurgeFactor:   PurgeFactorDefault,
	}
}

// Validate validates the config
func (config *Config) Validate() error {
	if len(config.CacheDirPath) == 0 {
		return xerrors.Errorf("cache dir path is not given")
	}

	if len(config.Namespace) == 0 {
		return xerrors.Errorf("namespace is not given")
	}

	if config.LockTTL <= 0 {
		return xerrors.Errorf("lock TTL %d is not positive", config.LockTTL)
	}

	if config.MaxBytes < 0 {
		return xerrors.Errorf("max bytes %d is negative", config.MaxBytes)
	}

	if config.MaxBytes > 0 {
		if config.PurgeMutexTTL <= 0 {
			return xerrors.Errorf("purge mutex TTL %d is not positive", config.PurgeMutexTTL)
		}

		if config.PurgeFactor < 0 || config.PurgeFactor > 1 {
			return xerrors.Errorf("purge factor %f is not in [0, 1]", config.PurgeFactor)
		}
	}

	return nil
}
