// Package server provides the RESP network front end of a node.
//
// Every accepted connection gets its own command.Interpreter, so MULTI
// queues and replication handshake state stay per connection while the
// keyspace and replication log are shared. The server is compatible with
// Redis clients like github.com/redis/go-redis.
//
// A connection that completes PSYNC stops accepting commands: the server
// writes the FULLRESYNC reply and the snapshot, then streams the
// replication log to it and only reads REPLCONF ACK frames back.
package server
