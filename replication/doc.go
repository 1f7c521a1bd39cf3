// Package replication implements master/replica replication for
// redis-inmemory-node.
//
// On a master, a Bridge keeps the log of every successful write in RESP
// form and streams it to each replica that completed PSYNC. Replicas get
// an empty snapshot after FULLRESYNC and then the log from its first
// entry, which rebuilds the dataset.
//
// On a replica, a Client performs the handshake:
//
//	PING
//	REPLCONF listening-port <port>
//	REPLCONF capa psync2
//	PSYNC ? -1
//
// then reads the snapshot and applies the command stream through an
// Applier. Only REPLCONF GETACK is answered. The Client reconnects after
// a lost session with a fresh full resynchronization.
//
// Basic usage:
//
//	bridge := replication.NewBridge(replication.RoleReplica)
//	client := replication.NewClient("localhost:6379", 6380, interp, bridge)
//	sm := replication.NewSyncManager(client)
//	err := sm.Start(ctx)
//	err = sm.WaitForSync(ctx)
package replication
