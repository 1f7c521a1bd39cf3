package command

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
	"github.com/raniellyferreira/redis-inmemory-node/storage"
)

// ErrUnbalancedStreams is returned when XREAD STREAMS is not followed by
// one id per key
var ErrUnbalancedStreams = errors.New("ERR Unbalanced 'xread' list of streams: for each stream key an ID or '$' must be specified.")

// xadd appends an entry. The forwarded form carries the resolved id so a
// replica never generates its own.
func (i *Interpreter) xadd(args []string) (protocol.Value, []string, error) {
	key, spec, fields := args[0], args[1], args[2:]
	if len(fields)%2 != 0 {
		return protocol.Value{}, nil, KindXadd.wrongArgs()
	}

	id, err := i.shared.Store.Xadd(key, spec, fields)
	if err != nil {
		return protocol.Value{}, nil, err
	}

	effective := append([]string{"XADD", key, id.String()}, fields...)
	return protocol.BulkString(id.String()), effective, nil
}

func (i *Interpreter) xrange(args []string) (protocol.Value, []string, error) {
	entries, err := i.shared.Store.Xrange(args[0], args[1], args[2], true)
	if err != nil {
		return protocol.Value{}, nil, err
	}
	return entriesValue(entries), nil, nil
}

// xreadRequest is a parsed XREAD command
type xreadRequest struct {
	keys   []string
	starts []string
	opts   storage.XreadOptions
}

// parseXread parses XREAD [COUNT n] [BLOCK ms] STREAMS key... id...
func parseXread(args []string) (xreadRequest, error) {
	var req xreadRequest

	n := 0
	for ; n < len(args); n++ {
		opt := strings.ToUpper(args[n])
		if opt == "STREAMS" {
			break
		}
		if n+1 >= len(args) {
			return xreadRequest{}, ErrSyntax
		}

		switch opt {
		case "COUNT":
			count, err := strconv.Atoi(args[n+1])
			if err != nil {
				return xreadRequest{}, ErrNotInteger
			}
			req.opts.Count = max(count, 0)
		case "BLOCK":
			ms, err := strconv.ParseInt(args[n+1], 10, 64)
			if err != nil {
				return xreadRequest{}, ErrInvalidTimeout
			}
			if ms < 0 {
				return xreadRequest{}, ErrNegativeTimeout
			}
			req.opts.Block = true
			req.opts.Timeout = time.Duration(ms) * time.Millisecond
		default:
			return xreadRequest{}, ErrSyntax
		}
		n++
	}

	if n >= len(args) {
		return xreadRequest{}, ErrSyntax
	}

	rest := args[n+1:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return xreadRequest{}, ErrUnbalancedStreams
	}
	half := len(rest) / 2
	req.keys, req.starts = rest[:half], rest[half:]
	return req, nil
}

// xread returns new entries per stream, or a null array when none of the
// streams has any. BLOCK 0 waits until an entry arrives.
func (i *Interpreter) xread(ctx context.Context, args []string) (protocol.Value, []string, error) {
	req, err := parseXread(args)
	if err != nil {
		return protocol.Value{}, nil, err
	}
	if i.nonBlocking {
		req.opts.Block = false
	}

	results, err := i.shared.Store.Xread(ctx, req.keys, req.starts, req.opts)
	if err != nil {
		return protocol.Value{}, nil, err
	}
	if len(results) == 0 {
		return protocol.NullArray(), nil, nil
	}

	streams := make([]protocol.Value, len(results))
	for n, result := range results {
		streams[n] = protocol.Array(protocol.BulkString(result.Key), entriesValue(result.Entries))
	}
	return protocol.Array(streams...), nil, nil
}

// entriesValue renders entries as [[id, [field, value, ...]], ...]
func entriesValue(entries []storage.StreamEntry) protocol.Value {
	items := make([]protocol.Value, len(entries))
	for n, entry := range entries {
		items[n] = protocol.Array(
			protocol.BulkString(entry.ID.String()),
			protocol.StringArray(entry.Fields...),
		)
	}
	return protocol.Array(items...)
}
