package storage

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StreamID is a composite stream entry id, ordered by (Ms, Seq)
type StreamID struct {
	Ms  uint64
	Seq uint64
}

// MaxStreamID sorts after every other id
var MaxStreamID = StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}

// String formats the id as "<ms>-<seq>"
func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or 1
func (id StreamID) Compare(other StreamID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the id is 0-0
func (id StreamID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

// ParseStreamID parses "<ms>-<seq>" or a bare "<ms>", in which case the
// sequence is defaultSeq.
func ParseStreamID(s string, defaultSeq uint64) (StreamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")

	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if !hasSeq {
		return StreamID{Ms: ms, Seq: defaultSeq}, nil
	}

	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// ValidateAndGenerateID resolves the id argument of XADD against the
// stream's last id. spec is "*", "<ms>-*" or "<ms>-<seq>"; hasLast is
// false for a stream with no entries yet.
func ValidateAndGenerateID(spec string, last StreamID, hasLast bool, nowMs uint64) (StreamID, error) {
	if spec == "*" {
		if !hasLast {
			return StreamID{Ms: nowMs}, nil
		}
		if last.Seq == math.MaxUint64 {
			return StreamID{}, ErrStreamIDTooSmall
		}
		return StreamID{Ms: last.Ms, Seq: last.Seq + 1}, nil
	}

	if msPart, ok := strings.CutSuffix(spec, "-*"); ok {
		ms, err := strconv.ParseUint(msPart, 10, 64)
		if err != nil {
			return StreamID{}, ErrInvalidStreamID
		}

		switch {
		case !hasLast && ms == 0:
			return StreamID{Ms: 0, Seq: 1}, nil
		case !hasLast:
			return StreamID{Ms: ms}, nil
		case ms < last.Ms:
			return StreamID{}, ErrStreamIDTooSmall
		case ms == last.Ms:
			if last.Seq == math.MaxUint64 {
				return StreamID{}, ErrStreamIDTooSmall
			}
			return StreamID{Ms: ms, Seq: last.Seq + 1}, nil
		default:
			return StreamID{Ms: ms}, nil
		}
	}

	if !strings.Contains(spec, "-") {
		return StreamID{}, ErrInvalidStreamID
	}
	id, err := ParseStreamID(spec, 0)
	if err != nil {
		return StreamID{}, err
	}
	if id.IsZero() {
		return StreamID{}, ErrStreamIDZero
	}
	if hasLast && id.Compare(last) <= 0 {
		return StreamID{}, ErrStreamIDTooSmall
	}
	return id, nil
}

// StreamEntry is one record of a stream. Fields holds field/value pairs
// flattened in insertion order; duplicate fields are kept.
type StreamEntry struct {
	ID     StreamID
	Fields []string
}

// StreamResult is the slice of one stream returned by Xread
type StreamResult struct {
	Key     string
	Entries []StreamEntry
}

// XreadOptions controls Xread. With Block set the call waits for new
// entries; a zero Timeout waits until ctx is done.
type XreadOptions struct {
	Count   int
	Block   bool
	Timeout time.Duration
}

type stream struct {
	entries []StreamEntry
}

func (s *stream) last() (StreamID, bool) {
	if len(s.entries) == 0 {
		return StreamID{}, false
	}
	return s.entries[len(s.entries)-1].ID, true
}

// after returns the index of the first entry greater than id, or greater
// than or equal to it when inclusive.
func (s *stream) after(id StreamID, inclusive bool) int {
	return sort.Search(len(s.entries), func(i int) bool {
		c := s.entries[i].ID.Compare(id)
		return c > 0 || (inclusive && c == 0)
	})
}

// streamWaiter is shared by every stream a blocked XREAD listens on
type streamWaiter struct {
	once sync.Once
	ch   chan struct{}
}

func newStreamWaiter() *streamWaiter {
	return &streamWaiter{ch: make(chan struct{})}
}

func (w *streamWaiter) signal() {
	w.once.Do(func() { close(w.ch) })
}

// streamFor returns the stream at key, or nil. Callers hold sh.mu.
func (k *Keyspace) streamFor(sh *shard, key string) (*stream, error) {
	v := sh.lookup(key, k.now())
	if v == nil {
		return nil, nil
	}
	if v.Type != ValueTypeStream {
		return nil, ErrWrongType
	}
	return v.stream, nil
}

// Xadd appends an entry and wakes every XREAD blocked on the stream. The
// stream is created only once an id has been accepted.
func (k *Keyspace) Xadd(key, id string, fields []string) (StreamID, error) {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, err := k.streamFor(sh, key)
	if err != nil {
		return StreamID{}, err
	}

	var last StreamID
	var hasLast bool
	if s != nil {
		last, hasLast = s.last()
	}

	newID, err := ValidateAndGenerateID(id, last, hasLast, uint64(k.now().UnixMilli()))
	if err != nil {
		return StreamID{}, err
	}

	if s == nil {
		s = &stream{}
		sh.data[key] = &Value{Type: ValueTypeStream, stream: s}
	}
	s.entries = append(s.entries, StreamEntry{
		ID:     newID,
		Fields: append([]string(nil), fields...),
	})

	for w := range sh.readers[key] {
		w.signal()
	}
	delete(sh.readers, key)

	return newID, nil
}

// Xrange returns entries between start and end. "-" and "+" are the
// smallest and largest ids; a bare time means sequence 0 for start and
// the largest sequence for end.
func (k *Keyspace) Xrange(key, start, end string, startInclusive bool) ([]StreamEntry, error) {
	from := StreamID{}
	if start != "-" {
		id, err := ParseStreamID(start, 0)
		if err != nil {
			return nil, err
		}
		from = id
	}

	to := MaxStreamID
	if end != "+" {
		id, err := ParseStreamID(end, math.MaxUint64)
		if err != nil {
			return nil, err
		}
		to = id
	}

	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, err := k.streamFor(sh, key)
	if err != nil || s == nil {
		return []StreamEntry{}, err
	}

	out := []StreamEntry{}
	for i := s.after(from, startInclusive); i < len(s.entries); i++ {
		if s.entries[i].ID.Compare(to) > 0 {
			break
		}
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Xread returns, for each key, the entries after the matching start id.
// Keys without new entries are left out. A start of "$" means the
// stream's last id at the time of the call.
func (k *Keyspace) Xread(ctx context.Context, keys, starts []string, opts XreadOptions) ([]StreamResult, error) {
	ids, err := k.resolveStarts(keys, starts)
	if err != nil {
		return nil, err
	}

	if !opts.Block {
		return k.readAfter(keys, ids, opts.Count)
	}

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		w := newStreamWaiter()
		ready, err := k.registerReader(keys, ids, w)
		if err != nil {
			return nil, err
		}

		if !ready {
			select {
			case <-w.ch:
			case <-deadline:
				k.unregister(keys, w)
				return nil, nil
			case <-ctx.Done():
				k.unregister(keys, w)
				return nil, ctx.Err()
			}
		}
		k.unregister(keys, w)

		results, err := k.readAfter(keys, ids, opts.Count)
		if err != nil || len(results) > 0 {
			return results, err
		}
	}
}

// registerReader registers w on every stream that has nothing after its start
// id. It returns true, leaving nothing registered, as soon as one stream
// already qualifies.
func (k *Keyspace) registerReader(keys []string, ids []StreamID, w *streamWaiter) (bool, error) {
	for i, key := range keys {
		sh := k.shardFor(key)
		sh.mu.Lock()

		s, err := k.streamFor(sh, key)
		if err != nil {
			sh.mu.Unlock()
			k.unregister(keys[:i], w)
			return false, err
		}
		if s != nil {
			if last, ok := s.last(); ok && last.Compare(ids[i]) > 0 {
				sh.mu.Unlock()
				k.unregister(keys[:i], w)
				return true, nil
			}
		}

		set := sh.readers[key]
		if set == nil {
			set = make(map[*streamWaiter]struct{})
			sh.readers[key] = set
		}
		set[w] = struct{}{}
		sh.mu.Unlock()
	}
	return false, nil
}

func (k *Keyspace) unregister(keys []string, w *streamWaiter) {
	for _, key := range keys {
		sh := k.shardFor(key)
		sh.mu.Lock()
		if set := sh.readers[key]; set != nil {
			delete(set, w)
			if len(set) == 0 {
				delete(sh.readers, key)
			}
		}
		sh.mu.Unlock()
	}
}

func (k *Keyspace) resolveStarts(keys, starts []string) ([]StreamID, error) {
	ids := make([]StreamID, len(keys))
	for i, key := range keys {
		if starts[i] != "$" {
			id, err := ParseStreamID(starts[i], 0)
			if err != nil {
				return nil, err
			}
			ids[i] = id
			continue
		}

		sh := k.shardFor(key)
		sh.mu.Lock()
		s, err := k.streamFor(sh, key)
		if err == nil && s != nil {
			ids[i], _ = s.last()
		}
		sh.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (k *Keyspace) readAfter(keys []string, ids []StreamID, count int) ([]StreamResult, error) {
	var results []StreamResult
	for i, key := range keys {
		sh := k.shardFor(key)
		sh.mu.Lock()
		s, err := k.streamFor(sh, key)
		if err != nil {
			sh.mu.Unlock()
			return nil, err
		}
		if s == nil {
			sh.mu.Unlock()
			continue
		}

		from := s.after(ids[i], false)
		to := len(s.entries)
		if count > 0 && to-from > count {
			to = from + count
		}
		if from < to {
			entries := make([]StreamEntry, to-from)
			copy(entries, s.entries[from:to])
			results = append(results, StreamResult{Key: key, Entries: entries})
		}
		sh.mu.Unlock()
	}
	return results, nil
}
