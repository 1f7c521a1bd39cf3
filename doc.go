// Package redisnode provides an in-memory Redis-compatible server that
// runs either as a master or as a replica of another node.
//
// A node keeps strings with optional expiry, lists and append-only
// streams in a sharded keyspace, and speaks RESP to its clients. It
// supports blocking reads (BLPOP, XREAD BLOCK), MULTI/EXEC transactions
// and Lua scripts through EVAL and EVALSHA.
//
// A master appends the effective form of every successful write to a
// replication log. Replicas perform the PSYNC handshake, receive an empty
// snapshot and then apply the log from its beginning.
//
// Basic usage:
//
//	master, err := redisnode.New(redisnode.WithAddr(":6379"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer master.Close()
//
//	if err := master.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// A replica of that master:
//
//	replica, err := redisnode.New(
//		redisnode.WithAddr(":6380"),
//		redisnode.WithMaster("localhost:6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer replica.Close()
//
//	if err := replica.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	if err := replica.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Logging goes through the Logger interface, backed by log/slog unless
// WithLogger is given. NewPrometheusMetrics returns a MetricsCollector
// exporting to Prometheus.
package redisnode
