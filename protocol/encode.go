package protocol

import "strconv"

// CRLF is the RESP line terminator
const CRLF = "\r\n"

// AppendValue appends the RESP encoding of v to dst. Values of an unknown
// type append nothing.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Type {
	case TypeSimpleString, TypeError:
		dst = append(dst, byte(v.Type))
		dst = append(dst, v.Data...)
		return append(dst, CRLF...)
	case TypeInteger:
		return appendHeader(dst, TypeInteger, v.Integer)
	case TypeBulkString:
		if v.IsNull {
			return appendHeader(dst, TypeBulkString, -1)
		}
		return appendBulk(dst, v.Data)
	case TypeArray:
		if v.IsNull {
			return appendHeader(dst, TypeArray, -1)
		}
		dst = appendHeader(dst, TypeArray, int64(len(v.Array)))
		for _, item := range v.Array {
			dst = AppendValue(dst, item)
		}
	}
	return dst
}

// AppendCommand appends args as a RESP array of bulk strings
func AppendCommand(dst []byte, args ...string) []byte {
	dst = appendHeader(dst, TypeArray, int64(len(args)))
	for _, arg := range args {
		dst = appendBulk(dst, arg)
	}
	return dst
}

// EncodeCommand serializes an argument list as a RESP array of bulk
// strings. The replication log stores writes in this form.
func EncodeCommand(args ...string) []byte {
	size := 16
	for _, arg := range args {
		size += len(arg) + 16
	}
	return AppendCommand(make([]byte, 0, size), args...)
}

func appendHeader(dst []byte, kind ValueType, n int64) []byte {
	dst = append(dst, byte(kind))
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, CRLF...)
}

func appendBulk[T string | []byte](dst []byte, data T) []byte {
	dst = appendHeader(dst, TypeBulkString, int64(len(data)))
	dst = append(dst, data...)
	return append(dst, CRLF...)
}

func knownType(t ValueType) bool {
	switch t {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
		return true
	}
	return false
}
