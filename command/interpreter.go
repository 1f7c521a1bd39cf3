package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-node/lua"
	"github.com/raniellyferreira/redis-inmemory-node/protocol"
	"github.com/raniellyferreira/redis-inmemory-node/replication"
	"github.com/raniellyferreira/redis-inmemory-node/storage"
)

// Logger is the logging contract used by the interpreter
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector receives per-command measurements
type MetricsCollector interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordError(errorType string)
}

// Shared is the state every interpreter of a node works against
type Shared struct {
	Store   storage.Storage
	Bridge  *replication.Bridge
	Scripts *lua.Engine
	Logger  Logger
	Metrics MetricsCollector

	// writeMu orders writes on a master so the replication log matches
	// the order in which they reached the keyspace.
	writeMu sync.Mutex
}

// NewShared creates the shared state with a fresh script cache
func NewShared(store storage.Storage, bridge *replication.Bridge) *Shared {
	return &Shared{
		Store:   store,
		Bridge:  bridge,
		Scripts: lua.NewEngine(),
	}
}

// Interpreter executes commands for one connection. It is not safe for
// concurrent use.
type Interpreter struct {
	shared   *Shared
	callerID int64
	logger   Logger

	remoteAddr string

	// queue is non-nil while a MULTI is open
	queue [][]string

	// nonBlocking is set while running EXEC or a script
	nonBlocking bool

	staged  *replication.Replica
	replica *replication.Replica
}

// New creates an interpreter for the connection identified by callerID
func New(shared *Shared, callerID int64) *Interpreter {
	logger := shared.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Interpreter{
		shared:   shared,
		callerID: callerID,
		logger:   logger,
	}
}

// SetRemoteAddr records the peer address used for replica descriptors
func (i *Interpreter) SetRemoteAddr(addr string) {
	i.remoteAddr = addr
}

// Replica returns the replica registered by PSYNC on this connection, or
// nil. Once set, the connection carries the replication stream.
func (i *Interpreter) Replica() *replication.Replica {
	return i.replica
}

// InTransaction reports whether a MULTI is open
func (i *Interpreter) InTransaction() bool {
	return i.queue != nil
}

// Apply runs a command received over the replication link
func (i *Interpreter) Apply(ctx context.Context, argv []string) protocol.Value {
	if len(argv) == 0 {
		return protocol.ErrorValue("ERR empty command")
	}
	return i.Execute(ctx, argv[0], argv[1:])
}

// Execute runs one command and returns its reply. Failures, including
// panics in a handler, are turned into error replies.
func (i *Interpreter) Execute(ctx context.Context, name string, args []string) (reply protocol.Value) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Command panicked", "command", name, "panic", r)
			reply = protocol.ErrorValue(fmt.Sprintf("ERR internal error: %v", r))
		}
		i.record(name, start, reply)
	}()

	kind, err := ParseKind(name)

	if i.queue != nil {
		switch kind {
		case KindMulti:
			return protocol.ErrorValue(ErrNestedMulti.Error())
		case KindExec:
			return i.exec(ctx)
		case KindDiscard:
			i.queue = nil
			return protocol.SimpleString("OK")
		}
		if err == nil && commandTable[kind].noMulti {
			return protocol.ErrorValue(ErrNotInMulti.Error())
		}
		i.queue = append(i.queue, append([]string{name}, args...))
		return protocol.SimpleString("QUEUED")
	}

	if err != nil {
		return protocol.ErrorValue(errorText(err))
	}
	return i.run(ctx, kind, args)
}

// run checks arity, dispatches, and forwards the effective form of a
// successful write to the replication log.
func (i *Interpreter) run(ctx context.Context, kind Kind, args []string) protocol.Value {
	if err := kind.checkArity(len(args) + 1); err != nil {
		return protocol.ErrorValue(err.Error())
	}

	// A BLPOP that may block takes the lock itself, only while it registers.
	locked := false
	if kind.IsWrite() && (kind != KindBlpop || i.nonBlocking) && i.shared.Bridge.Role() == replication.RoleMaster {
		i.shared.writeMu.Lock()
		defer i.shared.writeMu.Unlock()
		locked = true
	}

	reply, effective, err := i.dispatch(ctx, kind, args)
	if err != nil {
		return protocol.ErrorValue(errorText(err))
	}

	if effective != nil && kind.IsWrite() {
		if !locked {
			i.shared.writeMu.Lock()
			defer i.shared.writeMu.Unlock()
		}
		i.forward(effective...)
	}
	return reply
}

// forward appends argv to the replication log. On a master the caller
// holds writeMu.
func (i *Interpreter) forward(argv ...string) {
	i.shared.Bridge.QueueCommand(argv...)
}

// dispatch calls the handler for kind. Write handlers return the command
// to forward to replicas, or nil when nothing changed or they forwarded
// it themselves.
func (i *Interpreter) dispatch(ctx context.Context, kind Kind, args []string) (protocol.Value, []string, error) {
	switch kind {
	case KindPing:
		return i.ping(args)
	case KindEcho:
		return protocol.BulkString(args[0]), nil, nil
	case KindType:
		return protocol.SimpleString(i.shared.Store.Type(args[0]).String()), nil, nil
	case KindGet:
		return i.get(args)
	case KindSet:
		return i.set(args)
	case KindIncr:
		return i.incr(args)
	case KindRpush:
		return i.push(args, false)
	case KindLpush:
		return i.push(args, true)
	case KindLrange:
		return i.lrange(args)
	case KindLlen:
		return i.llen(args)
	case KindLpop:
		return i.pop(args, true)
	case KindRpop:
		return i.pop(args, false)
	case KindBlpop:
		return i.blpop(ctx, args)
	case KindXadd:
		return i.xadd(args)
	case KindXrange:
		return i.xrange(args)
	case KindXread:
		return i.xread(ctx, args)
	case KindMulti:
		i.queue = [][]string{}
		return protocol.SimpleString("OK"), nil, nil
	case KindExec:
		return protocol.Value{}, nil, ErrExecWithoutMulti
	case KindDiscard:
		return protocol.Value{}, nil, ErrDiscardNoMulti
	case KindInfo:
		return protocol.BulkString(i.shared.Bridge.Info().String()), nil, nil
	case KindReplconf:
		return i.replconf(args)
	case KindPsync:
		return i.psync(args)
	case KindEval:
		return i.eval(ctx, args)
	case KindEvalSHA:
		return i.evalSHA(ctx, args)
	case KindScript:
		return i.script(args)
	default:
		return protocol.Value{}, nil, &UnknownCommandError{Name: kind.String()}
	}
}

// exec runs the queued commands without blocking and collects their
// replies. Each write is forwarded on its own.
func (i *Interpreter) exec(ctx context.Context) protocol.Value {
	queued := i.queue
	i.queue = nil

	defer i.withoutBlocking()()

	replies := make([]protocol.Value, 0, len(queued))
	for _, argv := range queued {
		kind, err := ParseKind(argv[0])
		if err != nil {
			replies = append(replies, protocol.ErrorValue(errorText(err)))
			continue
		}
		replies = append(replies, i.runQueued(ctx, kind, argv[1:]))
	}
	return protocol.Array(replies...)
}

// runQueued runs one queued command. A panic becomes that command's
// error entry and the rest of the transaction still runs.
func (i *Interpreter) runQueued(ctx context.Context, kind Kind, args []string) (reply protocol.Value) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Queued command panicked", "command", kind.String(), "panic", r)
			reply = protocol.ErrorValue(fmt.Sprintf("ERR internal error: %v", r))
		}
	}()
	return i.run(ctx, kind, args)
}

func (i *Interpreter) ping(args []string) (protocol.Value, []string, error) {
	switch len(args) {
	case 0:
		return protocol.SimpleString("PONG"), nil, nil
	case 1:
		return protocol.BulkString(args[0]), nil, nil
	default:
		return protocol.Value{}, nil, KindPing.wrongArgs()
	}
}

// record reports the command to the metrics collector
func (i *Interpreter) record(name string, start time.Time, reply protocol.Value) {
	metrics := i.shared.Metrics
	if metrics == nil {
		return
	}
	metrics.RecordCommandProcessed(strings.ToLower(name), time.Since(start))
	if reply.IsError() {
		metrics.RecordError("command")
	}
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}
