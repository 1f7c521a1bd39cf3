package command

import (
	"fmt"
	"strings"
)

// Kind identifies a supported command
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindEcho
	KindType
	KindGet
	KindSet
	KindIncr
	KindRpush
	KindLpush
	KindLrange
	KindLlen
	KindLpop
	KindRpop
	KindBlpop
	KindXadd
	KindXrange
	KindXread
	KindMulti
	KindExec
	KindDiscard
	KindInfo
	KindReplconf
	KindPsync
	KindEval
	KindEvalSHA
	KindScript
)

// commandSpec describes the static properties of a kind. Arity follows the
// Redis convention and counts the command name: a positive value is exact,
// a negative one is a minimum.
type commandSpec struct {
	name  string
	arity int
	write bool

	// noScript commands cannot be issued through redis.call
	noScript bool

	// noMulti commands are refused while a transaction is open
	noMulti bool
}

var commandTable = map[Kind]commandSpec{
	KindPing:     {name: "ping", arity: -1},
	KindEcho:     {name: "echo", arity: 2},
	KindType:     {name: "type", arity: 2},
	KindGet:      {name: "get", arity: 2},
	KindSet:      {name: "set", arity: -3, write: true},
	KindIncr:     {name: "incr", arity: 2, write: true},
	KindRpush:    {name: "rpush", arity: -3, write: true},
	KindLpush:    {name: "lpush", arity: -3, write: true},
	KindLrange:   {name: "lrange", arity: 4},
	KindLlen:     {name: "llen", arity: 2},
	KindLpop:     {name: "lpop", arity: -2, write: true},
	KindRpop:     {name: "rpop", arity: -2, write: true},
	KindBlpop:    {name: "blpop", arity: -3, write: true},
	KindXadd:     {name: "xadd", arity: -5, write: true},
	KindXrange:   {name: "xrange", arity: 4},
	KindXread:    {name: "xread", arity: -4},
	KindMulti:    {name: "multi", arity: 1, noScript: true},
	KindExec:     {name: "exec", arity: 1, noScript: true},
	KindDiscard:  {name: "discard", arity: 1, noScript: true},
	KindInfo:     {name: "info", arity: -1},
	KindReplconf: {name: "replconf", arity: -2, noScript: true, noMulti: true},
	KindPsync:    {name: "psync", arity: 3, noScript: true, noMulti: true},
	KindEval:     {name: "eval", arity: -3, noScript: true},
	KindEvalSHA:  {name: "evalsha", arity: -3, noScript: true},
	KindScript:   {name: "script", arity: -2, noScript: true},
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(commandTable))
	for kind, spec := range commandTable {
		m[spec.name] = kind
	}
	return m
}()

// ParseKind resolves a command name, ignoring case
func ParseKind(name string) (Kind, error) {
	if kind, ok := kindsByName[strings.ToLower(name)]; ok {
		return kind, nil
	}
	return KindUnknown, &UnknownCommandError{Name: name}
}

// String returns the lower-case command name
func (k Kind) String() string {
	if spec, ok := commandTable[k]; ok {
		return spec.name
	}
	return "unknown"
}

// IsWrite reports whether successful commands of this kind are forwarded
// to replicas
func (k Kind) IsWrite() bool {
	return commandTable[k].write
}

// checkArity validates argc, the argument count including the name
func (k Kind) checkArity(argc int) error {
	spec := commandTable[k]
	if (spec.arity > 0 && argc != spec.arity) || (spec.arity < 0 && argc < -spec.arity) {
		return k.wrongArgs()
	}
	return nil
}

func (k Kind) wrongArgs() error {
	return fmt.Errorf("ERR wrong number of arguments for '%s' command", k)
}
