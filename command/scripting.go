package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
)

var errScriptingDisabled = errors.New("ERR scripting is not available")

func (i *Interpreter) eval(ctx context.Context, args []string) (protocol.Value, []string, error) {
	keys, argv, err := splitKeys(args[1:])
	if err != nil {
		return protocol.Value{}, nil, err
	}
	if i.shared.Scripts == nil {
		return protocol.Value{}, nil, errScriptingDisabled
	}

	defer i.withoutBlocking()()

	result, err := i.shared.Scripts.Eval(ctx, i.callFromScript, args[0], keys, argv)
	return result, nil, err
}

func (i *Interpreter) evalSHA(ctx context.Context, args []string) (protocol.Value, []string, error) {
	keys, argv, err := splitKeys(args[1:])
	if err != nil {
		return protocol.Value{}, nil, err
	}
	if i.shared.Scripts == nil {
		return protocol.Value{}, nil, errScriptingDisabled
	}

	defer i.withoutBlocking()()

	result, err := i.shared.Scripts.EvalSHA(ctx, i.callFromScript, args[0], keys, argv)
	return result, nil, err
}

// splitKeys splits "numkeys key... arg..." into keys and arguments
func splitKeys(args []string) ([]string, []string, error) {
	numKeys, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, nil, ErrNotInteger
	}
	if numKeys < 0 {
		return nil, nil, errors.New("ERR Number of keys can't be negative")
	}
	if numKeys > len(args)-1 {
		return nil, nil, errors.New("ERR Number of keys can't be greater than number of args")
	}
	return args[1 : 1+numKeys], args[1+numKeys:], nil
}

// withoutBlocking stops commands from blocking until the returned func runs
func (i *Interpreter) withoutBlocking() func() {
	prev := i.nonBlocking
	i.nonBlocking = true
	return func() { i.nonBlocking = prev }
}

// callFromScript runs a command issued through redis.call. Writes are
// forwarded one by one in their effective form.
func (i *Interpreter) callFromScript(ctx context.Context, args []string) protocol.Value {
	kind, err := ParseKind(args[0])
	if err != nil {
		return protocol.ErrorValue(errorText(err))
	}
	if commandTable[kind].noScript {
		return protocol.ErrorValue(ErrNotFromScript.Error())
	}
	return i.run(ctx, kind, args[1:])
}

func (i *Interpreter) script(args []string) (protocol.Value, []string, error) {
	scripts := i.shared.Scripts
	if scripts == nil {
		return protocol.Value{}, nil, errScriptingDisabled
	}

	switch sub := strings.ToUpper(args[0]); sub {
	case "LOAD":
		if len(args) != 2 {
			return protocol.Value{}, nil, fmt.Errorf("ERR wrong number of arguments for 'script|load' command")
		}
		return protocol.BulkString(scripts.LoadScript(args[1])), nil, nil

	case "EXISTS":
		if len(args) < 2 {
			return protocol.Value{}, nil, fmt.Errorf("ERR wrong number of arguments for 'script|exists' command")
		}
		exists := scripts.ScriptExists(args[1:])
		values := make([]protocol.Value, len(exists))
		for n, ok := range exists {
			if ok {
				values[n] = protocol.Integer(1)
			} else {
				values[n] = protocol.Integer(0)
			}
		}
		return protocol.Array(values...), nil, nil

	case "FLUSH":
		scripts.ScriptFlush()
		return protocol.SimpleString("OK"), nil, nil

	default:
		return protocol.Value{}, nil, fmt.Errorf("ERR unknown subcommand '%s'", args[0])
	}
}
