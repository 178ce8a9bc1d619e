package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// RedisConfig is a config for a Redis coordination endpoint
type RedisConfig struct {
	Host       string
	Port       int
	DatabaseID int
}

// GetRedisAddr returns redis address
func (config *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", config.Host, config.Port)
}

type scriptEntry struct {
	body       string
	identifier string
}

// RedisClient implements Client using a Redis server.
// Scripted operations are pre-loaded by content hash; when the server
// reports the script was evicted from its script cache, the client
// reloads the body and retries exactly once.
type RedisClient struct {
	config  *RedisConfig
	client  *redis.Client
	scripts map[string]*scriptEntry
}

// NewRedisClient creates a new RedisClient and validates the connection
func NewRedisClient(config *RedisConfig) (*RedisClient, error) {
	logger := log.WithFields(log.Fields{
		"package":  "coordination",
		"struct":   "RedisClient",
		"function": "NewRedisClient",
	})

	client := redis.NewClient(&redis.Options{
		Addr: config.GetRedisAddr(),
		DB:   config.DatabaseID,
	})

	err := client.Ping(context.Background()).Err()
	if err != nil {
		client.Close()
		pingErr := xerrors.Errorf("failed to connect to redis %s db %d: %w", config.GetRedisAddr(), config.DatabaseID, err)
		logger.Error(pingErr)
		return nil, pingErr
	}

	return &RedisClient{
		config:  config,
		client:  client,
		scripts: map[string]*scriptEntry{},
	}, nil
}

// Release releases the connection
func (client *RedisClient) Release() {
	client.client.Close()
}

// RegisterScript registers a script body under the given name and loads it
func (client *RedisClient) RegisterScript(name string, body string) error {
	identifier, err := client.client.ScriptLoad(context.Background(), body).Result()
	if err != nil {
		return xerrors.Errorf("failed to load script %s: %w", name, err)
	}

	client.scripts[name] = &scriptEntry{
		body:       body,
		identifier: identifier,
	}
	return nil
}

// EvalScript evaluates a registered script atomically and returns its integer reply.
// Recovers from a script-cache eviction by reloading and retrying once.
func (client *RedisClient) EvalScript(ctx context.Context, name string, keys []string, args ...interface{}) (int64, error) {
	logger := log.WithFields(log.Fields{
		"package":  "coordination",
		"struct":   "RedisClient",
		"function": "EvalScript",
	})

	entry, ok := client.scripts[name]
	if !ok {
		return 0, xerrors.Errorf("unknown script %q", name)
	}

	result, err := client.evalScriptIdentifier(ctx, entry.identifier, keys, args...)
	if err != nil {
		if redis.HasErrorPrefix(err, "NOSCRIPT") {
			logger.Debugf("script %s evicted from server cache, reloading", name)

			identifier, loadErr := client.client.ScriptLoad(ctx, entry.body).Result()
			if loadErr != nil {
				return 0, xerrors.Errorf("failed to reload script %s: %w", name, loadErr)
			}
			entry.identifier = identifier

			return client.evalScriptIdentifier(ctx, entry.identifier, keys, args...)
		}
		return 0, err
	}

	return result, nil
}

func (client *RedisClient) evalScriptIdentifier(ctx context.Context, identifier string, keys []string, args ...interface{}) (int64, error) {
	result, err := client.client.EvalSha(ctx, identifier, keys, args...).Int64()
	if err != nil {
		if err == redis.Nil {
			// nil reply maps to 0, matching integer script conventions
			return 0, nil
		}
		if redis.HasErrorPrefix(err, "NOSCRIPT") {
			return 0, err
		}
		return 0, xerrors.Errorf("failed to evaluate script: %w", err)
	}
	return result, nil
}

// Get returns the string value of a key
func (client *RedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := client.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, xerrors.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Set sets a key, with an expiry if ttl > 0
func (client *RedisClient) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	err := client.client.Set(ctx, key, value, ttl).Err()
	if err != nil {
		return xerrors.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SetNX sets a key only if it is absent, with an expiry if ttl > 0
func (client *RedisClient) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := client.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, xerrors.Errorf("failed to setnx %s: %w", key, err)
	}
	return ok, nil
}

// IncrBy adds delta to an integer key and returns the new value
func (client *RedisClient) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	value, err := client.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, xerrors.Errorf("failed to incrby %s: %w", key, err)
	}
	return value, nil
}

// Delete deletes keys
func (client *RedisClient) Delete(ctx context.Context, keys ...string) error {
	err := client.client.Del(ctx, keys...).Err()
	if err != nil {
		return xerrors.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// HashSetInt64 sets an integer hash field
func (client *RedisClient) HashSetInt64(ctx context.Context, key string, field string, value int64) error {
	err := client.client.HSet(ctx, key, field, value).Err()
	if err != nil {
		return xerrors.Errorf("failed to hset %s %s: %w", key, field, err)
	}
	return nil
}

// HashGetInt64 returns an integer hash field
func (client *RedisClient) HashGetInt64(ctx context.Context, key string, field string) (int64, bool, error) {
	value, err := client.client.HGet(ctx, key, field).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, xerrors.Errorf("failed to hget %s %s: %w", key, field, err)
	}
	return value, true, nil
}

// HashDelete deletes hash fields
func (client *RedisClient) HashDelete(ctx context.Context, key string, fields ...string) error {
	err := client.client.HDel(ctx, key, fields...).Err()
	if err != nil {
		return xerrors.Errorf("failed to hdel %s: %w", key, err)
	}
	return nil
}

// SortedSetAdd inserts a member with a score
func (client *RedisClient) SortedSetAdd(ctx context.Context, key string, member string, score int64) error {
	err := client.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(score),
		Member: member,
	}).Err()
	if err != nil {
		return xerrors.Errorf("failed to zadd %s: %w", key, err)
	}
	return nil
}

// SortedSetRemove removes members
func (client *RedisClient) SortedSetRemove(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, member := range members {
		args[i] = member
	}

	err := client.client.ZRem(ctx, key, args...).Err()
	if err != nil {
		return xerrors.Errorf("failed to zrem %s: %w", key, err)
	}
	return nil
}

// SortedSetHead returns up to count members with the lowest scores, ascending
func (client *RedisClient) SortedSetHead(ctx context.Context, key string, count int64) ([]SortedSetMember, error) {
	results, err := client.client.ZRangeWithScores(ctx, key, 0, count-1).Result()
	if err != nil {
		return nil, xerrors.Errorf("failed to zrange %s: %w", key, err)
	}

	members := make([]SortedSetMember, 0, len(results))
	for _, result := range results {
		member, ok := result.Member.(string)
		if !ok {
			return nil, xerrors.Errorf("unexpected member type in %s", key)
		}
		members = append(members, SortedSetMember{
			Member: member,
			Score:  int64(result.Score),
		})
	}
	return members, nil
}

// SetAdd adds members to a set
func (client *RedisClient) SetAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, member := range members {
		args[i] = member
	}

	err := client.client.SAdd(ctx, key, args...).Err()
	if err != nil {
		return xerrors.Errorf("failed to sadd %s: %w", key, err)
	}
	return nil
}

// SetRemove removes members from a set
func (client *RedisClient) SetRemove(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, member := range members {
		args[i] = member
	}

	err := client.client.SRem(ctx, key, args...).Err()
	if err != nil {
		return xerrors.Errorf("failed to srem %s: %w", key, err)
	}
	return nil
}

// SetMembers returns all members of a set
func (client *RedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := client.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, xerrors.Errorf("failed to smembers %s: %w", key, err)
	}
	return members, nil
}

// ListPushCapped pushes a value to the head of a list and trims the list to limit entries
func (client *RedisClient) ListPushCapped(ctx context.Context, key string, value string, limit int64) error {
	err := client.client.LPush(ctx, key, value).Err()
	if err != nil {
		return xerrors.Errorf("failed to lpush %s: %w", key, err)
	}

	err = client.client.LTrim(ctx, key, 0, limit-1).Err()
	if err != nil {
		return xerrors.Errorf("failed to ltrim %s: %w", key, err)
	}
	return nil
}

// ListRange returns list entries between start and stop inclusive
func (client *RedisClient) ListRange(ctx context.Context, key string, start int64, stop int64) ([]string, error) {
	values, err := client.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, xerrors.Errorf("failed to lrange %s: %w", key, err)
	}
	return values, nil
}
