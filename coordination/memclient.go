package coordination

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cyverse/filecache/utils"
	"golang.org/x/xerrors"
)

type memoryValue struct {
	value    string
	expireAt time.Time // zero means no expiry
}

func (value *memoryValue) expired(now time.Time) bool {
	return !value.expireAt.IsZero() && now.After(value.expireAt)
}

// MemoryClient implements Client in process memory, including the named
// lock scripts, so cache logic can be tested without a coordination server.
// Unlike RedisClient it takes a mutex, as tests drive it from multiple
// goroutines to simulate multiple processes.
type MemoryClient struct {
	mutex      sync.Mutex
	strings    map[string]*memoryValue
	hashes     map[string]map[string]int64
	sortedSets map[string]map[string]int64
	sets       map[string]map[string]bool
	lists      map[string][]string
	scripts    map[string]string // script name to identifier
}

// NewMemoryClient creates a new MemoryClient
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		strings:    map[string]*memoryValue{},
		hashes:     map[string]map[string]int64{},
		sortedSets: map[string]map[string]int64{},
		sets:       map[string]map[string]bool{},
		lists:      map[string][]string{},
		scripts:    map[string]string{},
	}
}

// Release releases resources
func (client *MemoryClient) Release() {
}

// RegisterScript registers a script name.
// Script bodies are not interpreted; the known script names are
// implemented natively in EvalScript.
func (client *MemoryClient) RegisterScript(name string, body string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.scripts[name] = utils.MakeScriptIdentifier(body)
	return nil
}

func (client *MemoryClient) getStringNoLock(key string) (string, bool) {
	value, ok := client.strings[key]
	if !ok {
		return "", false
	}
	if value.expired(time.Now()) {
		delete(client.strings, key)
		return "", false
	}
	return value.value, true
}

func (client *MemoryClient) getCounterNoLock(key string) int64 {
	value, ok := client.getStringNoLock(key)
	if !ok {
		return 0
	}
	counter, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return counter
}

func (client *MemoryClient) setStringNoLock(key string, value string, ttl time.Duration) {
	expireAt := time.Time{}
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	client.strings[key] = &memoryValue{
		value:    value,
		expireAt: expireAt,
	}
}

func argToString(arg interface{}) string {
	switch value := arg.(type) {
	case string:
		return value
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return ""
	}
}

func argToInt64(arg interface{}) int64 {
	switch value := arg.(type) {
	case int:
		return int64(value)
	case int64:
		return value
	case string:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// EvalScript evaluates a registered script atomically
func (client *MemoryClient) EvalScript(ctx context.Context, name string, keys []string, args ...interface{}) (int64, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if _, ok := client.scripts[name]; !ok {
		return 0, xerrors.Errorf("unknown script %q", name)
	}

	switch name {
	case ScriptReadLockAcquire:
		// keys: write lock, reader counter. args: ttl ms
		if _, ok := client.getStringNoLock(keys[0]); ok {
			return 0, nil
		}
		ttl := time.Duration(argToInt64(args[0])) * time.Millisecond
		counter := client.getCounterNoLock(keys[1]) + 1
		client.setStringNoLock(keys[1], strconv.FormatInt(counter, 10), ttl)
		return 1, nil

	case ScriptReadLockRelease:
		// keys: reader counter
		counter := client.getCounterNoLock(keys[0]) - 1
		if counter <= 0 {
			delete(client.strings, keys[0])
		} else {
			value := client.strings[keys[0]]
			value.value = strconv.FormatInt(counter, 10)
		}
		return 1, nil

	case ScriptWriteLockAcquire:
		// keys: write lock, reader counter. args: token, ttl ms
		if _, ok := client.getStringNoLock(keys[0]); ok {
			return 0, nil
		}
		if client.getCounterNoLock(keys[1]) > 0 {
			return -1, nil
		}
		ttl := time.Duration(argToInt64(args[1])) * time.Millisecond
		client.setStringNoLock(keys[0], argToString(args[0]), ttl)
		return 1, nil

	case ScriptWriteLockRelease:
		// keys: write lock. args: token
		current, ok := client.getStringNoLock(keys[0])
		if ok && current == argToString(args[0]) {
			delete(client.strings, keys[0])
			return 1, nil
		}
		return 0, nil

	case ScriptEvictFenceAcquire:
		// keys: write lock, reader counter, fence. args: ttl ms
		if _, ok := client.getStringNoLock(keys[0]); ok {
			return 0, nil
		}
		if client.getCounterNoLock(keys[1]) > 0 {
			return 0, nil
		}
		if _, ok := client.getStringNoLock(keys[2]); ok {
			return 0, nil
		}
		ttl := time.Duration(argToInt64(args[0])) * time.Millisecond
		client.setStringNoLock(keys[2], "1", ttl)
		return 1, nil

	default:
		return 0, xerrors.Errorf("script %q is registered but not implemented", name)
	}
}

// Get returns the string value of a key
func (client *MemoryClient) Get(ctx context.Context, key string) (string, bool, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	value, ok := client.getStringNoLock(key)
	return value, ok, nil
}

// Set sets a key, with an expiry if ttl > 0
func (client *MemoryClient) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	client.setStringNoLock(key, value, ttl)
	return nil
}

// SetNX sets a key only if it is absent, with an expiry if ttl > 0
func (client *MemoryClient) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	if _, ok := client.getStringNoLock(key); ok {
		return false, nil
	}
	client.setStringNoLock(key, value, ttl)
	return true, nil
}

// IncrBy adds delta to an integer key and returns the new value
func (client *MemoryClient) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	counter := client.getCounterNoLock(key) + delta
	client.setStringNoLock(key, strconv.FormatInt(counter, 10), 0)
	return counter, nil
}

// Delete deletes keys
func (client *MemoryClient) Delete(ctx context.Context, keys ...string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	for _, key := range keys {
		delete(client.strings, key)
		delete(client.hashes, key)
		delete(client.sortedSets, key)
		delete(client.sets, key)
		delete(client.lists, key)
	}
	return nil
}

// HashSetInt64 sets an integer hash field
func (client *MemoryClient) HashSetInt64(ctx context.Context, key string, field string, value int64) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	hash, ok := client.hashes[key]
	if !ok {
		hash = map[string]int64{}
		client.hashes[key] = hash
	}
	hash[field] = value
	return nil
}

// HashGetInt64 returns an integer hash field
func (client *MemoryClient) HashGetInt64(ctx context.Context, key string, field string) (int64, bool, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	hash, ok := client.hashes[key]
	if !ok {
		return 0, false, nil
	}
	value, ok := hash[field]
	return value, ok, nil
}

// HashDelete deletes hash fields
func (client *MemoryClient) HashDelete(ctx context.Context, key string, fields ...string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	hash, ok := client.hashes[key]
	if !ok {
		return nil
	}
	for _, field := range fields {
		delete(hash, field)
	}
	if len(hash) == 0 {
		delete(client.hashes, key)
	}
	return nil
}

// SortedSetAdd inserts a member with a score
func (client *MemoryClient) SortedSetAdd(ctx context.Context, key string, member string, score int64) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	sortedSet, ok := client.sortedSets[key]
	if !ok {
		sortedSet = map[string]int64{}
		client.sortedSets[key] = sortedSet
	}
	sortedSet[member] = score
	return nil
}

// SortedSetRemove removes members
func (client *MemoryClient) SortedSetRemove(ctx context.Context, key string, members ...string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	sortedSet, ok := client.sortedSets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(sortedSet, member)
	}
	if len(sortedSet) == 0 {
		delete(client.sortedSets, key)
	}
	return nil
}

// SortedSetHead returns up to count members with the lowest scores, ascending
func (client *MemoryClient) SortedSetHead(ctx context.Context, key string, count int64) ([]SortedSetMember, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	sortedSet, ok := client.sortedSets[key]
	if !ok {
		return nil, nil
	}

	members := make([]SortedSetMember, 0, len(sortedSet))
	for member, score := range sortedSet {
		members = append(members, SortedSetMember{
			Member: member,
			Score:  score,
		})
	}

	sort.Slice(members, func(i int, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})

	if int64(len(members)) > count {
		members = members[:count]
	}
	return members, nil
}

// SetAdd adds members to a set
func (client *MemoryClient) SetAdd(ctx context.Context, key string, members ...string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	set, ok := client.sets[key]
	if !ok {
		set = map[string]bool{}
		client.sets[key] = set
	}
	for _, member := range members {
		set[member] = true
	}
	return nil
}

// SetRemove removes members from a set
func (client *MemoryClient) SetRemove(ctx context.Context, key string, members ...string) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	set, ok := client.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(client.sets, key)
	}
	return nil
}

// SetMembers returns all members of a set
func (client *MemoryClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	set, ok := client.sets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

// ListPushCapped pushes a value to the head of a list and trims the list to limit entries
func (client *MemoryClient) ListPushCapped(ctx context.Context, key string, value string, limit int64) error {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	list := append([]string{value}, client.lists[key]...)
	if int64(len(list)) > limit {
		list = list[:limit]
	}
	client.lists[key] = list
	return nil
}

// ListRange returns list entries between start and stop inclusive
func (client *MemoryClient) ListRange(ctx context.Context, key string, start int64, stop int64) ([]string, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()

	list := client.lists[key]
	length := int64(len(list))
	if start < 0 {
		start = length + start
	}
	if stop < 0 {
		stop = length + stop
	}
	if start < 0 {
		start = 0
	}
	if start >= length || stop < start {
		return nil, nil
	}
	if stop >= length {
		stop = length - 1
	}

	result := make([]string, stop-start+1)
	copy(result, list[start:stop+1])
	return result, nil
}
