package storage

import (
	"container/list"
	"math"
	"time"
)

// ValueType represents the kind of value a key holds
type ValueType int

const (
	ValueTypeNone ValueType = iota
	ValueTypeString
	ValueTypeList
	ValueTypeStream
)

// String returns the Redis-compatible type name
func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeList:
		return "list"
	case ValueTypeStream:
		return "stream"
	default:
		return "none"
	}
}

// Value is a stored key. Exactly one of str, items or stream is in use,
// selected by Type.
type Value struct {
	Type ValueType

	str    []byte
	expiry time.Time // zero means no TTL

	items  *list.List // of string
	stream *stream
}

// expired reports whether a string value has passed its expiry instant
func (v *Value) expired(now time.Time) bool {
	return v.Type == ValueTypeString && !v.expiry.IsZero() && !now.Before(v.expiry)
}

// TTLKind selects how a SET expiry amount is interpreted
type TTLKind int

const (
	// TTLSeconds is EX: relative, in seconds
	TTLSeconds TTLKind = iota + 1
	// TTLMilliseconds is PX: relative, in milliseconds
	TTLMilliseconds
	// TTLUnixSeconds is EXAT: absolute unix time in seconds
	TTLUnixSeconds
	// TTLUnixMilliseconds is PXAT: absolute unix time in milliseconds
	TTLUnixMilliseconds
	// TTLKeep is KEEPTTL: retain whatever expiry the key already has
	TTLKeep
)

// String returns the SET option name for the kind
func (k TTLKind) String() string {
	switch k {
	case TTLSeconds:
		return "EX"
	case TTLMilliseconds:
		return "PX"
	case TTLUnixSeconds:
		return "EXAT"
	case TTLUnixMilliseconds:
		return "PXAT"
	case TTLKeep:
		return "KEEPTTL"
	default:
		return "UNKNOWN"
	}
}

// TTL is an expiry request attached to SET
type TTL struct {
	Kind   TTLKind
	Amount int64
}

// SetOptions controls a SET write
type SetOptions struct {
	OnlyIfExists    bool // XX
	OnlyIfNotExists bool // NX
	TTL             *TTL // nil clears any existing expiry
}

// SetResult describes what a successful SET replaced
type SetResult struct {
	Previous    []byte
	HadPrevious bool

	// Expiry is the absolute expiry now attached to the key; zero if none.
	Expiry time.Time
}

// expiryFor resolves opts.TTL into an absolute instant. previous is the
// expiry of the value being replaced, used by KEEPTTL.
func expiryFor(ttl *TTL, now, previous time.Time) (time.Time, error) {
	if ttl == nil {
		return time.Time{}, nil
	}
	if ttl.Kind == TTLKeep {
		return previous, nil
	}
	if ttl.Amount <= 0 {
		return time.Time{}, ErrInvalidExpireTime
	}

	// Amounts past these bounds overflow a Duration, or the millisecond
	// timestamp the write is forwarded with.
	switch ttl.Kind {
	case TTLSeconds:
		if ttl.Amount > math.MaxInt64/int64(time.Second) {
			return time.Time{}, ErrInvalidExpireTime
		}
		return now.Add(time.Duration(ttl.Amount) * time.Second), nil
	case TTLMilliseconds:
		if ttl.Amount > math.MaxInt64/int64(time.Millisecond) {
			return time.Time{}, ErrInvalidExpireTime
		}
		return now.Add(time.Duration(ttl.Amount) * time.Millisecond), nil
	case TTLUnixSeconds:
		if ttl.Amount > math.MaxInt64/1000 {
			return time.Time{}, ErrInvalidExpireTime
		}
		return time.Unix(ttl.Amount, 0), nil
	case TTLUnixMilliseconds:
		return time.UnixMilli(ttl.Amount), nil
	default:
		return time.Time{}, ErrInvalidExpireTime
	}
}
