package command

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
	"github.com/raniellyferreira/redis-inmemory-node/replication"
	"github.com/raniellyferreira/redis-inmemory-node/storage"
)

// push serves RPUSH and LPUSH. Blocked BLPOP callers served by the push
// are forwarded here as one LPOP each, right behind the push itself, so
// no other write can land between them in the replication log.
func (i *Interpreter) push(args []string, front bool) (protocol.Value, []string, error) {
	push := i.shared.Store.Rpush
	name := "RPUSH"
	if front {
		push = i.shared.Store.Lpush
		name = "LPUSH"
	}

	n, served, err := push(args[0], args[1:]...)
	if err != nil {
		return protocol.Value{}, nil, err
	}

	i.forward(append([]string{name}, args...)...)
	for ; served > 0; served-- {
		i.forward("LPOP", args[0])
	}
	return protocol.Integer(int64(n)), nil, nil
}

func (i *Interpreter) lrange(args []string) (protocol.Value, []string, error) {
	start, err := strconv.Atoi(args[1])
	if err != nil {
		return protocol.Value{}, nil, ErrNotInteger
	}
	stop, err := strconv.Atoi(args[2])
	if err != nil {
		return protocol.Value{}, nil, ErrNotInteger
	}

	items, err := i.shared.Store.Lrange(args[0], start, stop)
	if err != nil {
		return protocol.Value{}, nil, err
	}
	return protocol.StringArray(items...), nil, nil
}

func (i *Interpreter) llen(args []string) (protocol.Value, []string, error) {
	n, err := i.shared.Store.Llen(args[0])
	if err != nil {
		return protocol.Value{}, nil, err
	}
	return protocol.Integer(int64(n)), nil, nil
}

// pop serves LPOP and RPOP. Without a count the reply is a single bulk
// string; with one it is an array. Both are null for a missing or empty
// list.
func (i *Interpreter) pop(args []string, front bool) (protocol.Value, []string, error) {
	if len(args) > 2 {
		return protocol.Value{}, nil, ErrSyntax
	}

	count := 1
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return protocol.Value{}, nil, ErrNotInteger
		}
		if n < 0 {
			return protocol.Value{}, nil, ErrOutOfRange
		}
		count = n
	}

	pop := i.shared.Store.Rpop
	name := "RPOP"
	if front {
		pop = i.shared.Store.Lpop
		name = "LPOP"
	}

	items, err := pop(args[0], count)
	if err != nil {
		return protocol.Value{}, nil, err
	}

	if items == nil {
		if len(args) == 2 {
			return protocol.NullArray(), nil, nil
		}
		return protocol.NullBulkString(), nil, nil
	}

	var effective []string
	if len(items) > 0 {
		effective = []string{name, args[0], strconv.Itoa(len(items))}
	}
	if len(args) == 2 {
		return protocol.StringArray(items...), effective, nil
	}
	return protocol.BulkString(items[0]), effective, nil
}

// blpop pops from the first non-empty list or waits for a push. A pop
// made here is forwarded as a plain LPOP of the list that served it. A
// caller woken by a push forwards nothing, since the push already logged
// its LPOP. Inside EXEC and scripts it never waits.
func (i *Interpreter) blpop(ctx context.Context, args []string) (protocol.Value, []string, error) {
	keys := args[:len(args)-1]

	seconds, err := strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return protocol.Value{}, nil, ErrInvalidTimeout
	}
	if seconds < 0 {
		return protocol.Value{}, nil, ErrNegativeTimeout
	}

	if i.nonBlocking {
		name, value, ok, err := i.shared.Store.TryLpopFirst(keys)
		if err != nil {
			return protocol.Value{}, nil, err
		}
		if !ok {
			return protocol.NullArray(), nil, nil
		}
		return protocol.StringArray(name, value), []string{"LPOP", name}, nil
	}

	timeout := time.Duration(seconds * float64(time.Second))
	if seconds > 0 && timeout <= 0 {
		timeout = time.Nanosecond
	}

	wait, err := i.beginBlpop(keys)
	if err != nil {
		return protocol.Value{}, nil, err
	}

	name, value, ok, err := wait.Wait(ctx, timeout)
	if err != nil {
		return protocol.Value{}, nil, err
	}
	if !ok {
		return protocol.NullArray(), nil, nil
	}
	return protocol.StringArray(name, value), nil, nil
}

// beginBlpop registers the wait while holding writeMu on a master, so an
// immediate pop is logged before any later write.
func (i *Interpreter) beginBlpop(keys []string) (*storage.BlpopWait, error) {
	if i.shared.Bridge.Role() == replication.RoleMaster {
		i.shared.writeMu.Lock()
		defer i.shared.writeMu.Unlock()
	}

	wait, err := i.shared.Store.BeginBlpop(keys, i.callerID)
	if err != nil {
		return nil, err
	}
	if name, _, ok := wait.Immediate(); ok {
		i.forward("LPOP", name)
	}
	return wait, nil
}
