package storage

import (
	"context"
	"errors"
	"time"
)

// Errors returned by keyspace operations. Their text is the reply a
// Redis client expects to see.
var (
	// ErrCannotInsert indicates a SET whose NX/XX condition was not met
	ErrCannotInsert = errors.New("ERR value not inserted")

	// ErrWrongType indicates an operation against a key holding another kind
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrNotInteger indicates INCR on a value that is not a base-10 int64
	ErrNotInteger = errors.New("ERR value is not an integer or out of range")

	// ErrOverflow indicates INCR would wrap around
	ErrOverflow = errors.New("ERR increment or decrement would overflow")

	// ErrInvalidExpireTime indicates a non-positive or out of range
	// EX/PX/EXAT/PXAT amount
	ErrInvalidExpireTime = errors.New("ERR invalid expire time in 'set' command")

	// ErrInvalidStreamID indicates an id that cannot be parsed
	ErrInvalidStreamID = errors.New("ERR Invalid stream ID specified as stream command argument")

	// ErrStreamIDZero indicates an attempt to add entry 0-0
	ErrStreamIDZero = errors.New("ERR The ID specified in XADD must be greater than 0-0")

	// ErrStreamIDTooSmall indicates an id not greater than the stream's last id
	ErrStreamIDTooSmall = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
)

// Storage is the keyspace contract used by the command interpreter
type Storage interface {
	// Strings
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, opts SetOptions) (SetResult, error)
	Incr(key string) (int64, error)

	// Lists
	Rpush(key string, values ...string) (int, int, error)
	Lpush(key string, values ...string) (int, int, error)
	Llen(key string) (int, error)
	Lrange(key string, start, stop int) ([]string, error)
	Lpop(key string, count int) ([]string, error)
	Rpop(key string, count int) ([]string, error)
	DidUpdateList(key string) int
	BeginBlpop(keys []string, callerID int64) (*BlpopWait, error)
	Blpop(ctx context.Context, keys []string, callerID int64, timeout time.Duration) (string, string, bool, error)
	TryLpopFirst(keys []string) (string, string, bool, error)

	// Streams
	Xadd(key, id string, fields []string) (StreamID, error)
	Xrange(key, start, end string, startInclusive bool) ([]StreamEntry, error)
	Xread(ctx context.Context, keys, starts []string, opts XreadOptions) ([]StreamResult, error)

	// Introspection
	Type(key string) ValueType
	HasString(key string) bool
	HasList(key string) bool
	HasStream(key string) bool
	KeyCount() int64
	Flush()
}

var _ Storage = (*Keyspace)(nil)
