package lua

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
)

// fakeCaller serves GET/SET from a map and records every call
type fakeCaller struct {
	mu    sync.Mutex
	data  map[string]string
	calls [][]string
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{data: make(map[string]string)}
}

func (f *fakeCaller) call(ctx context.Context, args []string) protocol.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)

	switch strings.ToUpper(args[0]) {
	case "GET":
		value, ok := f.data[args[1]]
		if !ok {
			return protocol.NullBulkString()
		}
		return protocol.BulkString(value)
	case "SET":
		f.data[args[1]] = args[2]
		return protocol.SimpleString("OK")
	case "RPUSH":
		return protocol.Integer(int64(len(args) - 2))
	case "LRANGE":
		return protocol.StringArray("a", "b")
	default:
		return protocol.ErrorValue("ERR unknown command '" + args[0] + "'")
	}
}

func TestLuaEngine_BasicExecution(t *testing.T) {
	engine := NewEngine()
	caller := newFakeCaller()

	tests := []struct {
		name     string
		script   string
		keys     []string
		args     []string
		expected string
	}{
		{
			name:     "simple return",
			script:   "return 'hello'",
			expected: "hello",
		},
		{
			name:     "return number",
			script:   "return 42",
			expected: "42",
		},
		{
			name:     "float is truncated",
			script:   "return 3.99",
			expected: "3",
		},
		{
			name:     "access KEYS",
			script:   "return KEYS[1]",
			keys:     []string{"mykey"},
			expected: "mykey",
		},
		{
			name:     "access ARGV",
			script:   "return ARGV[1]",
			args:     []string{"myarg"},
			expected: "myarg",
		},
		{
			name:     "concatenate KEYS and ARGV",
			script:   "return KEYS[1] .. ':' .. ARGV[1]",
			keys:     []string{"user"},
			args:     []string{"123"},
			expected: "user:123",
		},
		{
			name:     "true becomes 1",
			script:   "return true",
			expected: "1",
		},
		{
			name:     "false becomes nil",
			script:   "return false",
			expected: "(nil)",
		},
		{
			name:     "no return value",
			script:   "local x = 1",
			expected: "(nil)",
		},
		{
			name:     "array stops at nil",
			script:   "return {1, 'two', nil, 4}",
			expected: "[1, two]",
		},
		{
			name:     "status reply",
			script:   "return redis.status_reply('FINE')",
			expected: "FINE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(context.Background(), caller.call, tt.script, tt.keys, tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result.String())
			}
		})
	}
}

func TestLuaEngine_RedisCall(t *testing.T) {
	engine := NewEngine()
	caller := newFakeCaller()

	script := `
		redis.call('SET', KEYS[1], ARGV[1])
		return redis.call('GET', KEYS[1])
	`
	result, err := engine.Eval(context.Background(), caller.call, script, []string{"k"}, []string{"v"})
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if result.Type != protocol.TypeBulkString || result.String() != "v" {
		t.Errorf("Eval() = %v, want bulk v", result)
	}

	if len(caller.calls) != 2 || strings.Join(caller.calls[0], " ") != "SET k v" {
		t.Errorf("calls = %v", caller.calls)
	}
}

func TestLuaEngine_ReplyConversion(t *testing.T) {
	engine := NewEngine()
	caller := newFakeCaller()

	tests := []struct {
		name     string
		script   string
		expected string
	}{
		{"missing key is false", "return redis.call('GET', 'nope') == false and 'yes' or 'no'", "yes"},
		{"status is ok table", "return redis.call('SET', 'a', 'b').ok", "OK"},
		{"integer is number", "return redis.call('RPUSH', 'l', 'x', 'y') + 1", "3"},
		{"array is table", "local r = redis.call('LRANGE', 'l', 0, -1) return #r", "2"},
		{"numbers become arguments", "return redis.call('SET', 'n', 10)", "OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(context.Background(), caller.call, tt.script, nil, nil)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if result.String() != tt.expected {
				t.Errorf("Eval() = %v, want %v", result.String(), tt.expected)
			}
		})
	}

	if caller.data["n"] != "10" {
		t.Errorf("SET with number stored %q, want 10", caller.data["n"])
	}
}

func TestLuaEngine_Errors(t *testing.T) {
	engine := NewEngine()
	caller := newFakeCaller()

	// redis.call raises the command error unchanged.
	_, err := engine.Eval(context.Background(), caller.call, "return redis.call('NOPE')", nil, nil)
	if err == nil || err.Error() != "ERR unknown command 'NOPE'" {
		t.Errorf("redis.call error = %v", err)
	}

	// redis.pcall hands it back as a table.
	result, err := engine.Eval(context.Background(), caller.call, "local r = redis.pcall('NOPE') return r.err", nil, nil)
	if err != nil {
		t.Fatalf("pcall Eval() error = %v", err)
	}
	if result.String() != "ERR unknown command 'NOPE'" {
		t.Errorf("pcall err = %q", result.String())
	}

	// An error table returned by the script becomes an error reply.
	result, err = engine.Eval(context.Background(), caller.call, "return redis.error_reply('MYERR bad')", nil, nil)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if !result.IsError() || result.Error() != "MYERR bad" {
		t.Errorf("error_reply = %v", result)
	}

	_, err = engine.Eval(context.Background(), caller.call, "this is not lua", nil, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "ERR Error running script") {
		t.Errorf("syntax error = %v", err)
	}
}

func TestLuaEngine_Sandbox(t *testing.T) {
	engine := NewEngine()
	caller := newFakeCaller()

	result, err := engine.Eval(context.Background(), caller.call, "return type(os) .. ',' .. type(io) .. ',' .. type(string)", nil, nil)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if result.String() != "nil,nil,table" {
		t.Errorf("library types = %s", result.String())
	}
}

func TestLuaEngine_ScriptCache(t *testing.T) {
	engine := NewEngine()
	caller := newFakeCaller()

	digest := engine.LoadScript("return ARGV[1]")
	if digest != "098e0f0d1448c0a81dafe820f66d460eb09263da" {
		t.Fatalf("LoadScript() = %q", digest)
	}

	result, err := engine.EvalSHA(context.Background(), caller.call, strings.ToUpper(digest), nil, []string{"x"})
	if err != nil || result.String() != "x" {
		t.Fatalf("EvalSHA() = %v, %v", result, err)
	}

	exists := engine.ScriptExists([]string{digest, "0000000000000000000000000000000000000000"})
	if !exists[0] || exists[1] {
		t.Errorf("ScriptExists() = %v", exists)
	}

	engine.ScriptFlush()
	if engine.ScriptCount() != 0 {
		t.Errorf("ScriptCount() after flush = %d", engine.ScriptCount())
	}
	if _, err := engine.EvalSHA(context.Background(), caller.call, digest, nil, nil); !errors.Is(err, ErrNoScript) {
		t.Errorf("EvalSHA() after flush error = %v, want ErrNoScript", err)
	}

	// EVAL caches what it runs.
	engine.Eval(context.Background(), caller.call, "return 1", nil, nil)
	if engine.ScriptCount() != 1 {
		t.Errorf("ScriptCount() after Eval = %d, want 1", engine.ScriptCount())
	}
}
