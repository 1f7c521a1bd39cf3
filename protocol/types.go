package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
)

// Value represents a parsed RESP value
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// SimpleString builds a simple string reply
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// ErrorValue builds an error reply. CR and LF are replaced so the
// message always fits on a single RESP line.
func ErrorValue(msg string) Value {
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Integer builds an integer reply
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// BulkString builds a bulk string reply
func BulkString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// NullBulkString builds the $-1 reply
func NullBulkString() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// Array builds an array reply
func Array(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// NullArray builds the *-1 reply
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// StringArray builds an array of bulk strings
func StringArray(items ...string) Value {
	values := make([]Value, len(items))
	for i, item := range items {
		values[i] = BulkString(item)
	}
	return Value{Type: TypeArray, Array: values}
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses a RESP array value into a Command. The name is
// upper-cased; arguments are kept verbatim.
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull {
		return nil, &ProtocolError{Message: fmt.Sprintf("expected array, got '%c'", v.Type)}
	}
	if len(v.Array) == 0 {
		return nil, &ProtocolError{Message: "empty command"}
	}

	parts := make([]string, len(v.Array))
	for i, item := range v.Array {
		if item.Type != TypeBulkString || item.IsNull {
			return nil, &ProtocolError{Message: "command arguments must be bulk strings"}
		}
		parts[i] = string(item.Data)
	}

	return &Command{
		Name: strings.ToUpper(parts[0]),
		Args: parts[1:],
	}, nil
}

// Argv returns the command name followed by its arguments
func (c *Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String returns a string representation of the command
func (c *Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// ProtocolError reports a malformed RESP frame
type ProtocolError struct {
	Message string
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return "Protocol error: " + e.Message
}
