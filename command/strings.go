package command

import (
	"strconv"
	"strings"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
	"github.com/raniellyferreira/redis-inmemory-node/storage"
)

func (i *Interpreter) get(args []string) (protocol.Value, []string, error) {
	value, ok, err := i.shared.Store.Get(args[0])
	if err != nil {
		return protocol.Value{}, nil, err
	}
	if !ok {
		return protocol.NullBulkString(), nil, nil
	}
	return protocol.BulkString(string(value)), nil, nil
}

// setRequest is a parsed SET command
type setRequest struct {
	key   string
	value string
	opts  storage.SetOptions
	get   bool
}

// parseSet parses SET key value [NX|XX] [GET] [EX s|PX ms|EXAT ts|PXAT ts|KEEPTTL].
// Options may come in any order; a second expiry option is a syntax error.
func parseSet(args []string) (setRequest, error) {
	req := setRequest{key: args[0], value: args[1]}

	for n := 2; n < len(args); n++ {
		switch opt := strings.ToUpper(args[n]); opt {
		case "NX":
			req.opts.OnlyIfNotExists = true
		case "XX":
			req.opts.OnlyIfExists = true
		case "GET":
			req.get = true
		case "KEEPTTL":
			if req.opts.TTL != nil {
				return setRequest{}, ErrSyntax
			}
			req.opts.TTL = &storage.TTL{Kind: storage.TTLKeep}
		case "EX", "PX", "EXAT", "PXAT":
			if req.opts.TTL != nil || n+1 >= len(args) {
				return setRequest{}, ErrSyntax
			}
			n++
			amount, err := strconv.ParseInt(args[n], 10, 64)
			if err != nil || amount <= 0 {
				return setRequest{}, storage.ErrInvalidExpireTime
			}
			req.opts.TTL = &storage.TTL{Kind: ttlKinds[opt], Amount: amount}
		default:
			return setRequest{}, ErrSyntax
		}
	}

	return req, nil
}

var ttlKinds = map[string]storage.TTLKind{
	"EX":   storage.TTLSeconds,
	"PX":   storage.TTLMilliseconds,
	"EXAT": storage.TTLUnixSeconds,
	"PXAT": storage.TTLUnixMilliseconds,
}

// set stores the value and forwards it with its absolute expiry, so a
// replica ends up with the same deadline however late it applies it.
func (i *Interpreter) set(args []string) (protocol.Value, []string, error) {
	req, err := parseSet(args)
	if err != nil {
		return protocol.Value{}, nil, err
	}

	res, err := i.shared.Store.Set(req.key, []byte(req.value), req.opts)
	if err != nil {
		return protocol.Value{}, nil, err
	}

	effective := []string{"SET", req.key, req.value}
	if !res.Expiry.IsZero() {
		effective = append(effective, "PXAT", strconv.FormatInt(res.Expiry.UnixMilli(), 10))
	}

	if !req.get {
		return protocol.SimpleString("OK"), effective, nil
	}
	if !res.HadPrevious {
		return protocol.NullBulkString(), effective, nil
	}
	return protocol.BulkString(string(res.Previous)), effective, nil
}

func (i *Interpreter) incr(args []string) (protocol.Value, []string, error) {
	n, err := i.shared.Store.Incr(args[0])
	if err != nil {
		return protocol.Value{}, nil, err
	}
	return protocol.Integer(n), []string{"INCR", args[0]}, nil
}
