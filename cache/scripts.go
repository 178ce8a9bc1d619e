package cache

import (
	"github.com/cyverse/filecache/coordination"
)

// Lua bodies for the atomic lock operations. All lock state transitions
// run as single server-side scripts so they serialize per entry.

// keys: write lock, reader counter. args: ttl ms.
// returns 1 on success, 0 when a writer is present.
const readLockAcquireScript string = `
local write_lock = KEYS[1]
local readers = KEYS[2]
local ttl = tonumber(ARGV[1])

if redis.call('EXISTS', write_lock) == 1 then
    return 0
end

redis.call('INCR', readers)
redis.call('PEXPIRE', readers, ttl)
return 1
`

// keys: reader counter.
// decrements the counter, deleting it at zero. always returns 1.
const readLockReleaseScript string = `
local readers = KEYS[1]
local c = redis.call('DECR', readers)
if c <= 0 then
    redis.call('DEL', readers)
end
return 1
`

// keys: write lock, reader counter. args: token, ttl ms.
// returns 1 on success, 0 when a writer is present, -1 when readers are present.
const writeLockAcquireScript string = `
local write_lock = KEYS[1]
local readers = KEYS[2]
local token = ARGV[1]
local ttl = tonumber(ARGV[2])

if redis.call('EXISTS', write_lock) == 1 then
    return 0
end

local rc = tonumber(redis.call('GET', readers) or "0")
if rc > 0 then
    return -1
end

local ok = redis.call('SET', write_lock, token, 'NX', 'PX', ttl)
if ok then
    return 1
end
return 0
`

// keys: write lock. args: token.
// deletes the lock only when the token matches, so an expired holder
// cannot release a later holder's lock. returns 1 on delete, 0 otherwise.
const writeLockReleaseScript string = `
local write_lock = KEYS[1]
local token = ARGV[1]
local cur = redis.call('GET', write_lock)
if cur and cur == token then
    redis.call('DEL', write_lock)
    return 1
end
return 0
`

// keys: write lock, reader counter, fence. args: ttl ms.
// returns 1 when the fence was set, 0 when the entry is live.
const evictFenceAcquireScript string = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
local rc = tonumber(redis.call('GET', KEYS[2]) or "0")
if rc > 0 then
    return 0
end
local ok = redis.call('SET', KEYS[3], '1', 'NX', 'PX', tonumber(ARGV[1]))
if ok then
    return 1
end
return 0
`

// registerScripts pre-loads the lock scripts on the coordination client
func registerScripts(client coordination.Client) error {
	scripts := map[string]string{
		coordination.ScriptReadLockAcquire:   readLockAcquireScript,
		coordination.ScriptReadLockRelease:   readLockReleaseScript,
		coordination.ScriptWriteLockAcquire:  writeLockAcquireScript,
		coordination.ScriptWriteLockRelease:  writeLockReleaseScript,
		coordination.ScriptEvictFenceAcquire: evictFenceAcquireScript,
	}

	for name, body := range scripts {
		err := client.RegisterScript(name, body)
		if err != nil {
			return err
		}
	}
	return nil
}
