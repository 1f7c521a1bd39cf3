package storage

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shard owns a slice of the keyspace. Its mutex guards the values, the
// blocked BLPOP tickets and the blocked XREAD waiters of every key that
// hashes to it, so a push and the drain of its waiters happen in one
// critical section.
type shard struct {
	mu      sync.Mutex
	data    map[string]*Value
	tickets map[string]*blockingQueue
	readers map[string]map[*streamWaiter]struct{}
}

// lookup returns the live value for key, purging it first if it is an
// expired string. Callers hold sh.mu.
func (sh *shard) lookup(key string, now time.Time) *Value {
	v, ok := sh.data[key]
	if !ok {
		return nil
	}
	if v.expired(now) {
		delete(sh.data, key)
		return nil
	}
	return v
}

// Keyspace is the in-memory storage engine. Keys are spread over
// power-of-two shards by xxhash; a key's kind (string, list, stream) is
// exclusive for as long as the key exists.
type Keyspace struct {
	shards    []shard
	shardMask uint64

	// blockMu serializes BLPOP ticket registration across all candidate lists.
	blockMu sync.Mutex

	now func() time.Time
}

// Option configures a Keyspace
type Option func(*Keyspace)

// WithShardCount sets the number of shards, rounded up to a power of 2
func WithShardCount(count int) Option {
	return func(k *Keyspace) {
		if count > 0 {
			n := nextPowerOf2(count)
			k.shards = make([]shard, n)
			k.shardMask = uint64(n - 1)
		}
	}
}

// WithClock replaces the wall clock used for expiry and stream ids
func WithClock(now func() time.Time) Option {
	return func(k *Keyspace) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKeyspace creates an empty keyspace with 64 shards by default
func NewKeyspace(opts ...Option) *Keyspace {
	k := &Keyspace{
		shards:    make([]shard, 64),
		shardMask: 63,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(k)
	}

	for i := range k.shards {
		k.shards[i].data = make(map[string]*Value)
		k.shards[i].tickets = make(map[string]*blockingQueue)
		k.shards[i].readers = make(map[string]map[*streamWaiter]struct{})
	}

	return k
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// shardFor returns the shard owning key
func (k *Keyspace) shardFor(key string) *shard {
	return &k.shards[xxhash.Sum64String(key)&k.shardMask]
}

// Get returns the string stored at key. Expired keys are purged and
// reported as absent.
func (k *Keyspace) Get(key string) ([]byte, bool, error) {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v := sh.lookup(key, k.now())
	if v == nil {
		return nil, false, nil
	}
	if v.Type != ValueTypeString {
		return nil, false, ErrWrongType
	}

	return append([]byte(nil), v.str...), true, nil
}

// Set stores a string under the NX/XX/TTL rules in opts
func (k *Keyspace) Set(key string, value []byte, opts SetOptions) (SetResult, error) {
	if opts.OnlyIfExists && opts.OnlyIfNotExists {
		return SetResult{}, ErrCannotInsert
	}

	now := k.now()
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var result SetResult
	var previousExpiry time.Time

	cur := sh.lookup(key, now)
	if cur != nil {
		if cur.Type != ValueTypeString {
			return SetResult{}, ErrWrongType
		}
		result.Previous = append([]byte(nil), cur.str...)
		result.HadPrevious = true
		previousExpiry = cur.expiry
	}

	if (opts.OnlyIfNotExists && cur != nil) || (opts.OnlyIfExists && cur == nil) {
		return result, ErrCannotInsert
	}

	expiry, err := expiryFor(opts.TTL, now, previousExpiry)
	if err != nil {
		return SetResult{}, err
	}

	sh.data[key] = &Value{
		Type:   ValueTypeString,
		str:    append([]byte(nil), value...),
		expiry: expiry,
	}
	result.Expiry = expiry

	return result, nil
}

// Incr adds one to the integer stored at key. A missing key counts as 0;
// any TTL on the key is kept.
func (k *Keyspace) Incr(key string) (int64, error) {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur := sh.lookup(key, k.now())
	if cur == nil {
		sh.data[key] = &Value{Type: ValueTypeString, str: []byte("1")}
		return 1, nil
	}
	if cur.Type != ValueTypeString {
		return 0, ErrWrongType
	}

	n, err := strconv.ParseInt(string(cur.str), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	if n == math.MaxInt64 {
		return 0, ErrOverflow
	}

	n++
	cur.str = strconv.AppendInt(cur.str[:0], n, 10)
	return n, nil
}

// Type reports the kind of value stored at key
func (k *Keyspace) Type(key string) ValueType {
	switch {
	case k.HasString(key):
		return ValueTypeString
	case k.HasList(key):
		return ValueTypeList
	case k.HasStream(key):
		return ValueTypeStream
	default:
		return ValueTypeNone
	}
}

// HasString reports whether key holds a live string
func (k *Keyspace) HasString(key string) bool {
	return k.hasKind(key, ValueTypeString)
}

// HasList reports whether key holds a list, possibly empty
func (k *Keyspace) HasList(key string) bool {
	return k.hasKind(key, ValueTypeList)
}

// HasStream reports whether key holds a stream
func (k *Keyspace) HasStream(key string) bool {
	return k.hasKind(key, ValueTypeStream)
}

func (k *Keyspace) hasKind(key string, kind ValueType) bool {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v := sh.lookup(key, k.now())
	return v != nil && v.Type == kind
}

// KeyCount returns the number of stored keys. Expired strings that have
// not been touched since expiring are still counted.
func (k *Keyspace) KeyCount() int64 {
	var total int64
	for i := range k.shards {
		sh := &k.shards[i]
		sh.mu.Lock()
		total += int64(len(sh.data))
		sh.mu.Unlock()
	}
	return total
}

// Flush removes every key. Blocked BLPOP and XREAD callers stay
// registered and are woken by later writes.
func (k *Keyspace) Flush() {
	for i := range k.shards {
		sh := &k.shards[i]
		sh.mu.Lock()
		sh.data = make(map[string]*Value)
		sh.mu.Unlock()
	}
}
