// Package storage is the in-memory keyspace behind redis-inmemory-node.
//
// A Keyspace holds three kinds of values: strings with an optional
// expiry, lists and streams. A key holds one kind at a time, and commands
// of another kind fail with ErrWrongType. Lists and streams are never
// removed, so their kind is fixed once created. Expired strings are purged
// lazily the next time they are touched.
//
// Keys are spread over shards by xxhash. Each shard's mutex covers the
// values as well as the callers blocked on them, so pushes hand items to
// BLPOP callers in the same critical section that stored them.
//
// Basic usage:
//
//	ks := storage.NewKeyspace()
//	_, err := ks.Set("key", []byte("value"), storage.SetOptions{})
//	value, ok, err := ks.Get("key")
//
//	n, served, err := ks.Rpush("queue", "a", "b")
//	list, item, ok, err := ks.Blpop(ctx, []string{"queue"}, clientID, time.Second)
//
//	id, err := ks.Xadd("events", "*", []string{"temp", "21"})
package storage
