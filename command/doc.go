// Package command interprets client commands against the keyspace.
//
// An Interpreter belongs to one connection and holds its transaction
// queue and replication hand-off state. All interpreters of a node share
// a Shared value carrying the storage engine, the replication bridge and
// the script cache.
//
// On a master every successful write is forwarded to the replication log
// in the form that reproduces its effect: SET carries an absolute PXAT
// expiry, XADD the id it resolved to, and a BLPOP that received a value
// becomes LPOP of the list that served it.
package command
