package lua

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
)

// ErrNoScript is returned by EvalSHA for an unknown digest
var ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

// Caller runs one command issued by a script through redis.call or
// redis.pcall and returns its reply.
type Caller func(ctx context.Context, args []string) protocol.Value

// Engine provides Redis-compatible Lua script execution. Scripts are
// cached by SHA1 digest; every run gets a fresh Lua state.
type Engine struct {
	scripts *xsync.MapOf[string, string]
}

// NewEngine creates a new Lua execution engine
func NewEngine() *Engine {
	return &Engine{
		scripts: xsync.NewMapOf[string, string](),
	}
}

// Eval executes a script with the given keys and arguments. Commands the
// script issues go through call.
func (e *Engine) Eval(ctx context.Context, call Caller, script string, keys []string, args []string) (protocol.Value, error) {
	e.LoadScript(script)

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	openSafeLibs(L)
	e.setupRedisAPI(L, call, keys, args)

	if err := L.DoString(script); err != nil {
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			if msg, ok := apiErr.Object.(lua.LString); ok && isReplyError(string(msg)) {
				return protocol.Value{}, errors.New(string(msg))
			}
		}
		return protocol.Value{}, fmt.Errorf("ERR Error running script: %w", err)
	}

	if L.GetTop() == 0 {
		return protocol.NullBulkString(), nil
	}
	return toReply(L.Get(-1)), nil
}

// EvalSHA executes a previously loaded script by its SHA1 digest
func (e *Engine) EvalSHA(ctx context.Context, call Caller, digest string, keys []string, args []string) (protocol.Value, error) {
	script, ok := e.scripts.Load(strings.ToLower(digest))
	if !ok {
		return protocol.Value{}, ErrNoScript
	}
	return e.Eval(ctx, call, script, keys, args)
}

// LoadScript caches a script and returns its SHA1 digest
func (e *Engine) LoadScript(script string) string {
	sum := sha1.Sum([]byte(script))
	digest := hex.EncodeToString(sum[:])
	e.scripts.Store(digest, script)
	return digest
}

// ScriptExists reports, per digest, whether the script is cached
func (e *Engine) ScriptExists(digests []string) []bool {
	results := make([]bool, len(digests))
	for i, digest := range digests {
		_, results[i] = e.scripts.Load(strings.ToLower(digest))
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Clear()
}

// ScriptCount returns the number of cached scripts
func (e *Engine) ScriptCount() int {
	return e.scripts.Size()
}

// openSafeLibs loads the libraries scripts may use; io and os are left out
func openSafeLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

// setupRedisAPI installs KEYS, ARGV and the redis table
func (e *Engine) setupRedisAPI(L *lua.LState, call Caller, keys []string, args []string) {
	keysTable := L.NewTable()
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key))
	}
	L.SetGlobal("KEYS", keysTable)

	argvTable := L.NewTable()
	for i, arg := range args {
		argvTable.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call": func(L *lua.LState) int {
			return redisCall(L, call, false)
		},
		"pcall": func(L *lua.LState) int {
			return redisCall(L, call, true)
		},
		"status_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("ok", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
		"error_reply": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("err", lua.LString(L.CheckString(1)))
			L.Push(t)
			return 1
		},
	})
	L.SetGlobal("redis", redisTable)
}

// redisCall implements redis.call and redis.pcall. call raises command
// errors as Lua errors; pcall returns them as an {err=...} table.
func redisCall(L *lua.LState, call Caller, protected bool) int {
	argc := L.GetTop()
	if argc == 0 {
		L.RaiseError("ERR Please specify at least one argument for this redis lib call")
		return 0
	}

	args := make([]string, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			args[i-1] = string(v)
		case lua.LNumber:
			args[i-1] = v.String()
		default:
			L.RaiseError("ERR Lua redis lib command arguments must be strings or integers")
			return 0
		}
	}

	reply := call(L.Context(), args)
	if reply.IsError() && !protected {
		L.Error(lua.LString(reply.Error()), 0)
		return 0
	}

	L.Push(toLua(L, reply))
	return 1
}

// toLua converts a command reply using the Redis conversion rules
func toLua(L *lua.LState, v protocol.Value) lua.LValue {
	switch v.Type {
	case protocol.TypeInteger:
		return lua.LNumber(v.Integer)
	case protocol.TypeSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(v.Data))
		return t
	case protocol.TypeError:
		t := L.NewTable()
		t.RawSetString("err", lua.LString(v.Data))
		return t
	case protocol.TypeBulkString:
		if v.IsNull {
			return lua.LFalse
		}
		return lua.LString(v.Data)
	case protocol.TypeArray:
		if v.IsNull {
			return lua.LFalse
		}
		t := L.NewTable()
		for i, item := range v.Array {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

// toReply converts a script's return value using the Redis conversion
// rules: numbers are truncated to integers, true becomes 1, false and nil
// become a null bulk string and arrays stop at the first nil.
func toReply(lv lua.LValue) protocol.Value {
	switch v := lv.(type) {
	case lua.LString:
		return protocol.BulkString(string(v))
	case lua.LNumber:
		return protocol.Integer(int64(v))
	case lua.LBool:
		if v {
			return protocol.Integer(1)
		}
		return protocol.NullBulkString()
	case *lua.LTable:
		if msg, ok := v.RawGetString("err").(lua.LString); ok {
			return protocol.ErrorValue(string(msg))
		}
		if msg, ok := v.RawGetString("ok").(lua.LString); ok {
			return protocol.SimpleString(string(msg))
		}

		items := []protocol.Value{}
		for i := 1; ; i++ {
			item := v.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			items = append(items, toReply(item))
		}
		return protocol.Array(items...)
	default:
		return protocol.NullBulkString()
	}
}

// isReplyError reports whether msg already carries a Redis error prefix
func isReplyError(msg string) bool {
	prefix, _, _ := strings.Cut(msg, " ")
	return prefix != "" && prefix == strings.ToUpper(prefix) && !strings.ContainsAny(prefix, ":.")
}
