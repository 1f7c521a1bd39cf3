package storage

import (
	"container/list"
	"context"
	"sync/atomic"
	"time"
)

// ticket is one blocked BLPOP call. The same ticket is queued on every
// list the call waits for; whoever flips released first (a drain, the
// deadline timer, context cancellation or the caller's own immediate pop)
// owns it and is the only party allowed to close done.
type ticket struct {
	callerID int64
	released atomic.Bool
	done     chan struct{}

	// result slot, written by the owner before done is closed
	list  string
	value string
	ok    bool
}

func newTicket(callerID int64) *ticket {
	return &ticket{callerID: callerID, done: make(chan struct{})}
}

// release marks the ticket inert. It returns false if someone else
// already released it.
func (t *ticket) release() bool {
	return t.released.CompareAndSwap(false, true)
}

// deliver fills the result slot and wakes the waiter. Only the owner of a
// successful release may call it.
func (t *ticket) deliver(name, value string) {
	t.list, t.value, t.ok = name, value, true
	close(t.done)
}

// expire wakes the waiter with an empty result slot
func (t *ticket) expire() {
	if t.release() {
		close(t.done)
	}
}

// blockingQueue holds the tickets waiting on one list, oldest first
type blockingQueue struct {
	tickets []*ticket
}

func (q *blockingQueue) hasActive() bool {
	for _, t := range q.tickets {
		if !t.released.Load() {
			return true
		}
	}
	return false
}

// listFor returns the list at key, creating it when create is set.
// Callers hold sh.mu.
func (k *Keyspace) listFor(sh *shard, key string, create bool) (*list.List, error) {
	v := sh.lookup(key, k.now())
	if v == nil {
		if !create {
			return nil, nil
		}
		v = &Value{Type: ValueTypeList, items: list.New()}
		sh.data[key] = v
	}
	if v.Type != ValueTypeList {
		return nil, ErrWrongType
	}
	return v.items, nil
}

// Rpush appends values to the tail of the list. It returns the length
// before any blocked BLPOP is served, and how many were served.
func (k *Keyspace) Rpush(key string, values ...string) (int, int, error) {
	return k.push(key, values, false)
}

// Lpush prepends values one at a time, so the last argument ends up at
// the head.
func (k *Keyspace) Lpush(key string, values ...string) (int, int, error) {
	return k.push(key, values, true)
}

func (k *Keyspace) push(key string, values []string, front bool) (int, int, error) {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, err := k.listFor(sh, key, true)
	if err != nil {
		return 0, 0, err
	}

	for _, value := range values {
		if front {
			l.PushFront(value)
		} else {
			l.PushBack(value)
		}
	}
	n := l.Len()

	return n, k.drain(sh, key, l), nil
}

// Llen returns the list length, 0 if the list does not exist
func (k *Keyspace) Llen(key string) (int, error) {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, err := k.listFor(sh, key, false)
	if err != nil || l == nil {
		return 0, err
	}
	return l.Len(), nil
}

// Lrange returns the elements between start and stop inclusive. Negative
// indexes count from the tail; both bounds are clamped into the list.
func (k *Keyspace) Lrange(key string, start, stop int) ([]string, error) {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, err := k.listFor(sh, key, false)
	if err != nil {
		return nil, err
	}
	if l == nil || l.Len() == 0 {
		return []string{}, nil
	}

	n := l.Len()
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = max(n+stop, 0)
	}
	start = min(start, n-1)
	stop = min(stop, n-1)
	if start > stop {
		return []string{}, nil
	}

	out := make([]string, 0, stop-start+1)
	i := 0
	for e := l.Front(); e != nil && i <= stop; e = e.Next() {
		if i >= start {
			out = append(out, e.Value.(string))
		}
		i++
	}
	return out, nil
}

// Lpop removes up to count elements from the head. It returns nil only
// when the list is missing or empty.
func (k *Keyspace) Lpop(key string, count int) ([]string, error) {
	return k.pop(key, count, true)
}

// Rpop removes up to count elements from the tail
func (k *Keyspace) Rpop(key string, count int) ([]string, error) {
	return k.pop(key, count, false)
}

func (k *Keyspace) pop(key string, count int, front bool) ([]string, error) {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, err := k.listFor(sh, key, false)
	if err != nil {
		return nil, err
	}
	if l == nil || l.Len() == 0 {
		return nil, nil
	}

	count = min(count, l.Len())
	out := make([]string, 0, count)
	for range count {
		e := l.Back()
		if front {
			e = l.Front()
		}
		out = append(out, l.Remove(e).(string))
	}
	return out, nil
}

// DidUpdateList serves blocked BLPOP callers of key from whatever the
// list holds and returns how many were served. Pushes through
// Rpush/Lpush already do this.
func (k *Keyspace) DidUpdateList(key string) int {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, err := k.listFor(sh, key, false)
	if err != nil || l == nil {
		return 0
	}
	return k.drain(sh, key, l)
}

// drain hands list items to queued tickets in FIFO order, each taken
// from the head, and returns the number handed out. Holding sh.mu for
// the whole loop keeps drains of the same list from interleaving.
func (k *Keyspace) drain(sh *shard, key string, l *list.List) int {
	q := sh.tickets[key]
	if q == nil {
		return 0
	}

	served := 0
	for l.Len() > 0 && len(q.tickets) > 0 {
		t := q.tickets[0]
		q.tickets[0] = nil
		q.tickets = q.tickets[1:]

		if !t.release() {
			continue
		}
		t.deliver(key, l.Remove(l.Front()).(string))
		served++
	}

	if len(q.tickets) == 0 {
		delete(sh.tickets, key)
	}
	return served
}

// Blpop pops the head of the first non-empty list in keys, or waits for
// one to receive a push. A timeout <= 0 waits until ctx is done. ok is
// false when the wait ended without a value.
func (k *Keyspace) Blpop(ctx context.Context, keys []string, callerID int64, timeout time.Duration) (string, string, bool, error) {
	w, err := k.BeginBlpop(keys, callerID)
	if err != nil {
		return "", "", false, err
	}
	return w.Wait(ctx, timeout)
}

// BlpopWait is a BLPOP that has been registered but not yet waited on
type BlpopWait struct {
	k          *Keyspace
	t          *ticket
	registered []string

	// set when the value was popped during registration
	immediate   bool
	list, value string
}

// BeginBlpop registers a blocking pop on keys without waiting. When a
// list already holds items the pop happens here and Immediate reports
// it; otherwise the caller is queued and a later push hands it a value.
func (k *Keyspace) BeginBlpop(keys []string, callerID int64) (*BlpopWait, error) {
	w := &BlpopWait{
		k:          k,
		t:          newTicket(callerID),
		registered: make([]string, 0, len(keys)),
	}

	name, value, popped, err := k.register(w.t, keys, &w.registered)
	if !popped && err == nil {
		return w, nil
	}

	k.forget(w.t, w.registered)
	w.registered = nil
	if err != nil {
		if w.t.release() {
			return nil, err
		}
		// A drain won the ticket before the error surfaced; Wait returns
		// its value.
		return w, nil
	}

	w.immediate, w.list, w.value = true, name, value
	return w, nil
}

// Immediate returns the value popped by BeginBlpop itself, if any
func (w *BlpopWait) Immediate() (list, value string, ok bool) {
	return w.list, w.value, w.immediate
}

// Wait blocks until a push serves the call, the timeout passes or ctx is
// done. A timeout <= 0 waits until ctx is done.
func (w *BlpopWait) Wait(ctx context.Context, timeout time.Duration) (string, string, bool, error) {
	if w.immediate {
		return w.list, w.value, true, nil
	}

	t := w.t
	if timeout > 0 {
		timer := time.AfterFunc(timeout, t.expire)
		defer timer.Stop()
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		t.expire()
		<-t.done
	}

	w.k.forget(t, w.registered)

	if !t.ok && ctx.Err() != nil {
		return "", "", false, ctx.Err()
	}
	return t.list, t.value, t.ok, nil
}

// register queues t on each candidate list under blockMu, popping
// immediately from the first list that has items and no active waiters.
func (k *Keyspace) register(t *ticket, keys []string, registered *[]string) (string, string, bool, error) {
	k.blockMu.Lock()
	defer k.blockMu.Unlock()

	for _, key := range keys {
		sh := k.shardFor(key)
		sh.mu.Lock()

		l, err := k.listFor(sh, key, false)
		if err != nil {
			sh.mu.Unlock()
			return "", "", false, err
		}

		q := sh.tickets[key]
		if (q == nil || !q.hasActive()) && l != nil && l.Len() > 0 {
			if !t.release() {
				// Already served through an earlier candidate list.
				sh.mu.Unlock()
				return "", "", false, nil
			}
			value := l.Remove(l.Front()).(string)
			sh.mu.Unlock()
			return key, value, true, nil
		}

		if q == nil {
			q = &blockingQueue{}
			sh.tickets[key] = q
		}
		q.tickets = append(q.tickets, t)
		*registered = append(*registered, key)
		sh.mu.Unlock()
	}

	return "", "", false, nil
}

// forget removes t and any other released tickets from the queues of keys
func (k *Keyspace) forget(t *ticket, keys []string) {
	for _, key := range keys {
		sh := k.shardFor(key)
		sh.mu.Lock()
		if q := sh.tickets[key]; q != nil {
			kept := q.tickets[:0]
			for _, other := range q.tickets {
				if other != t && !other.released.Load() {
					kept = append(kept, other)
				}
			}
			for i := len(kept); i < len(q.tickets); i++ {
				q.tickets[i] = nil
			}
			q.tickets = kept
			if len(q.tickets) == 0 {
				delete(sh.tickets, key)
			}
		}
		sh.mu.Unlock()
	}
}

// TryLpopFirst is the non-blocking form of Blpop used where a client
// must not be suspended, such as inside EXEC.
func (k *Keyspace) TryLpopFirst(keys []string) (string, string, bool, error) {
	for _, key := range keys {
		values, err := k.Lpop(key, 1)
		if err != nil {
			return "", "", false, err
		}
		if len(values) > 0 {
			return key, values[0], true, nil
		}
	}
	return "", "", false, nil
}
