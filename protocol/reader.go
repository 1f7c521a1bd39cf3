package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

const (
	// maxBulkSize is the largest accepted bulk string (512MB, as in Redis)
	maxBulkSize = 512 << 20

	// maxArraySize is the largest accepted array length
	maxArraySize = 1 << 20

	// maxDepth bounds array nesting
	maxDepth = 32

	snapshotChunk = 8 << 10
)

// Reader is a streaming RESP decoder.
//
// Errors caused by malformed input are returned as *ProtocolError; the
// offending line has been consumed, so the caller may keep reading. Any
// other error comes from the underlying io.Reader.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 16<<10)}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	return r.readValue(0)
}

// ReadCommand reads the next value and parses it as a command array
func (r *Reader) ReadCommand() (*Command, error) {
	value, err := r.ReadNext()
	if err != nil {
		return nil, err
	}
	return ParseCommand(value)
}

// ReadSnapshot reads the payload sent after FULLRESYNC: "$<len>\r\n"
// followed by exactly len bytes and no trailing CRLF. fn receives the
// payload in chunks that are reused between calls. It returns the payload
// size.
func (r *Reader) ReadSnapshot(fn func(chunk []byte) error) (int64, error) {
	kind, line, err := r.readHeader()
	if err != nil {
		return 0, err
	}
	if kind != TypeBulkString {
		return 0, protocolErrorf("expected snapshot bulk string, got '%c'", kind)
	}

	size, err := parseLength(line, maxBulkSize, "snapshot")
	if err != nil || size <= 0 {
		return 0, err
	}

	n, err := io.CopyBuffer(chunkFunc(fn), io.LimitReader(r.br, size), make([]byte, snapshotChunk))
	if err != nil {
		return n, err
	}
	if n < size {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (r *Reader) readValue(depth int) (Value, error) {
	kind, line, err := r.readHeader()
	if err != nil {
		return Value{}, err
	}

	switch kind {
	case TypeSimpleString, TypeError:
		return Value{Type: kind, Data: line}, nil

	case TypeInteger:
		n, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return Value{}, protocolErrorf("invalid integer: %q", line)
		}
		return Integer(n), nil

	case TypeBulkString:
		size, err := parseLength(line, maxBulkSize, "bulk string")
		if err != nil {
			return Value{}, err
		}
		if size < 0 {
			return NullBulkString(), nil
		}
		return r.readBulk(size)

	default: // TypeArray
		if depth >= maxDepth {
			return Value{}, protocolErrorf("arrays nested deeper than %d", maxDepth)
		}
		size, err := parseLength(line, maxArraySize, "array")
		if err != nil {
			return Value{}, err
		}
		if size < 0 {
			return NullArray(), nil
		}

		// The header alone does not justify a large allocation.
		items := make([]Value, 0, min(size, 64))
		for i := int64(0); i < size; i++ {
			item, err := r.readValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{Type: TypeArray, Array: items}, nil
	}
}

// readHeader reads a type byte and the rest of its line. An unknown type
// byte consumes the line before failing.
func (r *Reader) readHeader() (ValueType, []byte, error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	kind := ValueType(b)
	if !knownType(kind) {
		if b != '\n' {
			if _, err := r.br.ReadBytes('\n'); err != nil {
				return 0, nil, err
			}
		}
		return 0, nil, protocolErrorf("unknown RESP type '%c' (0x%02x)", b, b)
	}

	line, err := r.readLine()
	return kind, line, err
}

// readBulk reads size bytes followed by CRLF
func (r *Reader) readBulk(size int64) (Value, error) {
	data := make([]byte, size+2)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Value{}, err
	}
	if !bytes.HasSuffix(data, []byte(CRLF)) {
		return Value{}, protocolErrorf("bulk string of %d bytes not terminated by CRLF", size)
	}
	return Value{Type: TypeBulkString, Data: data[:size]}, nil
}

// readLine reads a line terminated by CRLF, without the terminator
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read line: %w", err)
	}
	if !bytes.HasSuffix(line, []byte(CRLF)) {
		return nil, protocolErrorf("missing CRLF terminator")
	}
	return line[:len(line)-2], nil
}

// parseLength parses a bulk or array length; -1 is the null form
func parseLength(line []byte, max int64, what string) (int64, error) {
	n, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil || n < -1 || n > max {
		return 0, protocolErrorf("invalid %s length: %q", what, line)
	}
	return n, nil
}

// chunkFunc adapts a chunk callback to io.Writer
type chunkFunc func([]byte) error

func (f chunkFunc) Write(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}
