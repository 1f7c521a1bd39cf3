// Package protocol implements the Redis Serialization Protocol (RESP2)
// used both by clients and between replication peers.
//
// Requests are arrays of bulk strings:
//
//	*<n>\r\n($<len>\r\n<bytes>\r\n){n}
//
// Replies are simple strings, errors, integers, bulk strings (including
// the null "$-1" form) and arrays (including the null "*-1" form).
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	writer := protocol.NewWriter(conn)
//	for {
//		cmd, err := reader.ReadCommand()
//		if err != nil {
//			break
//		}
//		writer.WriteValue(protocol.SimpleString("OK"))
//		writer.Flush()
//	}
//
// The snapshot sent after FULLRESYNC is framed like a bulk string but
// has no trailing CRLF; read it with Reader.ReadSnapshot. Writes kept in
// the replication log are encoded once with EncodeCommand.
package protocol
