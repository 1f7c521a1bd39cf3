package redisnode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-node/command"
	"github.com/raniellyferreira/redis-inmemory-node/protocol"
	"github.com/raniellyferreira/redis-inmemory-node/replication"
	"github.com/raniellyferreira/redis-inmemory-node/server"
	"github.com/raniellyferreira/redis-inmemory-node/storage"
)

// keyCountInterval is how often the key count is reported to the metrics
// collector
const keyCountInterval = 5 * time.Second

// SyncStatus represents the synchronization status of a replica
type SyncStatus struct {
	InitialSyncCompleted bool
	Connected            bool
	MasterHost           string
	MasterReplID         string
	ReplicationOffset    int64
	LastSyncTime         time.Time
	BytesReceived        int64
	CommandsProcessed    int64
}

// Node is an in-memory Redis-compatible server acting either as a master
// or as a replica of another node
type Node struct {
	// Configuration
	config *config

	// Components
	storage *storage.Keyspace
	bridge  *replication.Bridge
	shared  *command.Shared
	server  *server.Server
	syncMgr *replication.SyncManager // nil on a master

	// State
	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new Node with the given options
//
// The node is created but not started. Use Start() to listen for clients
// and, on a replica, to begin replication.
//
// Example:
//
//	master, err := redisnode.New(redisnode.WithAddr(":6379"))
//	replica, err := redisnode.New(
//		redisnode.WithAddr(":6380"),
//		redisnode.WithMaster("localhost:6379"),
//	)
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	var storeOpts []storage.Option
	if cfg.shardCount > 0 {
		storeOpts = append(storeOpts, storage.WithShardCount(cfg.shardCount))
	}
	store := storage.NewKeyspace(storeOpts...)

	logger := kvLogger{cfg.logger}
	metrics := cfg.metrics

	role := replication.RoleMaster
	if cfg.masterAddr != "" {
		role = replication.RoleReplica
	}

	bridgeOpts := []replication.BridgeOption{replication.WithBridgeLogger(logger)}
	if metrics != nil {
		bridgeOpts = append(bridgeOpts, replication.WithBridgeMetrics(metrics))
	}
	bridge := replication.NewBridge(role, bridgeOpts...)

	shared := command.NewShared(store, bridge)
	shared.Logger = logger
	if metrics != nil {
		shared.Metrics = metrics
	}

	n := &Node{
		config:  cfg,
		storage: store,
		bridge:  bridge,
		shared:  shared,
		server: server.NewServer(cfg.addr, shared,
			server.WithLogger(logger),
			server.WithReadTimeout(cfg.readTimeout)),
	}

	if role == replication.RoleReplica {
		n.syncMgr = n.newSyncManager(logger, metrics)
	}

	return n, nil
}

// newSyncManager builds the replication client of a replica. The stream
// is applied by a private interpreter that never propagates.
func (n *Node) newSyncManager(logger kvLogger, metrics MetricsCollector) *replication.SyncManager {
	applier := command.New(n.shared, 0)

	client := replication.NewClient(n.config.masterAddr, n.config.announcedPort(), applier, n.bridge)
	client.SetLogger(logger)
	if metrics != nil {
		client.SetMetrics(metrics)
	}
	client.SetConnectTimeout(n.config.connectTimeout)
	client.OnSnapshot(func(payload []byte) error {
		n.storage.Flush()
		n.config.logger.Info("Keyspace reset from snapshot", Field{Key: "size", Value: len(payload)})
		return nil
	})

	return replication.NewSyncManager(client)
}

// Start listens for clients and, on a replica, starts replication in the
// background. It returns once the listener is bound.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	if err := n.server.Start(); err != nil {
		n.config.logger.Error("Failed to start server", Field{Key: "error", Value: err}, Field{Key: "addr", Value: n.config.addr})
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.cancel = cancel

	if n.syncMgr != nil {
		if err := n.syncMgr.Start(runCtx); err != nil {
			cancel()
			n.server.Stop()
			return &SyncError{Phase: "start", Err: err}
		}
	}

	if n.config.metrics != nil {
		n.wg.Add(1)
		go n.reportKeyCount(runCtx)
	}

	n.started = true
	n.config.logger.Info("Node started",
		Field{Key: "addr", Value: n.server.Addr()},
		Field{Key: "role", Value: n.bridge.Role().String()},
		Field{Key: "version", Value: Version})
	return nil
}

// reportKeyCount feeds the key count to the metrics collector until ctx
// is done
func (n *Node) reportKeyCount(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(keyCountInterval)
	defer ticker.Stop()

	for {
		n.config.metrics.RecordKeyCount(n.storage.KeyCount())
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the server and replication. Blocked clients are released.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if !n.started {
		return nil
	}

	if err := n.server.Stop(); err != nil {
		n.config.logger.Error("Error stopping server", Field{Key: "error", Value: err})
	}

	var err error
	if n.syncMgr != nil {
		err = n.syncMgr.Stop()
	}

	n.cancel()
	n.wg.Wait()
	return err
}

// Addr returns the address the node listens on
func (n *Node) Addr() string {
	return n.server.Addr()
}

// IsReplica reports whether the node replicates from a master
func (n *Node) IsReplica() bool {
	return n.syncMgr != nil
}

// WaitForSync blocks until a replica has completed its first full
// resynchronization. A master has nothing to wait for.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := replica.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
func (n *Node) WaitForSync(ctx context.Context) error {
	if !n.isStarted() {
		return ErrNotStarted
	}
	if n.syncMgr == nil {
		return nil
	}
	if err := n.syncMgr.WaitForSync(ctx); err != nil {
		return &SyncError{Phase: "wait", Err: err}
	}
	return nil
}

// OnSyncComplete registers a callback for when a replica's first full
// resynchronization completes
func (n *Node) OnSyncComplete(fn func()) error {
	if n.syncMgr == nil {
		return ErrNotReplica
	}
	n.syncMgr.OnSyncComplete(fn)
	return nil
}

// SyncStatus returns the synchronization status. It is the zero value on
// a master.
func (n *Node) SyncStatus() SyncStatus {
	if n.syncMgr == nil {
		return SyncStatus{}
	}
	status := n.syncMgr.SyncStatus()

	return SyncStatus{
		InitialSyncCompleted: status.InitialSyncCompleted,
		Connected:            status.Connected,
		MasterHost:           status.MasterHost,
		MasterReplID:         status.MasterReplID,
		ReplicationOffset:    status.ReplicationOffset,
		LastSyncTime:         status.LastSyncTime,
		BytesReceived:        status.BytesReceived,
		CommandsProcessed:    status.CommandsProcessed,
	}
}

// IsConnected returns true if a replica is connected to its master
func (n *Node) IsConnected() bool {
	return n.syncMgr != nil && n.syncMgr.IsConnected()
}

// Storage returns the underlying keyspace for direct access. Writes made
// through it are not propagated to replicas.
func (n *Node) Storage() storage.Storage {
	return n.storage
}

// Execute runs one command as a fresh client would, including
// propagation to replicas. Error replies are returned as errors.
func (n *Node) Execute(ctx context.Context, args ...string) (protocol.Value, error) {
	if !n.isStarted() {
		return protocol.Value{}, ErrNotStarted
	}
	if len(args) == 0 {
		return protocol.Value{}, errors.New("empty command")
	}
	reply := command.New(n.shared, 0).Execute(ctx, args[0], args[1:])
	if reply.IsError() {
		return reply, errors.New(reply.Error())
	}
	return reply, nil
}

// Info returns detailed information about the node
//
// Example:
//
//	info := node.Info()
//	fmt.Printf("Key count: %v\n", info["keys"])
func (n *Node) Info() map[string]interface{} {
	repl := n.bridge.Info()
	stats := n.server.Stats()

	info := map[string]interface{}{
		"keys":    n.storage.KeyCount(),
		"version": VersionInfo(),
		"replication": map[string]interface{}{
			"role":               repl.Role.String(),
			"master_replid":      repl.ReplID,
			"master_repl_offset": repl.Offset,
			"connected_replicas": stats.Replicas,
		},
		"clients": map[string]interface{}{
			"connected_clients": stats.ConnectedClients,
			"total_connections": stats.TotalConnections,
			"total_commands":    stats.TotalCommands,
			"total_errors":      stats.TotalErrors,
		},
	}

	if n.syncMgr != nil {
		status := n.SyncStatus()
		info["sync"] = map[string]interface{}{
			"connected":              status.Connected,
			"master_host":            status.MasterHost,
			"initial_sync_completed": status.InitialSyncCompleted,
			"replication_offset":     status.ReplicationOffset,
			"commands_processed":     status.CommandsProcessed,
		}
	}

	return info
}

// isStarted returns true if the node is started (thread-safe)
func (n *Node) isStarted() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started && !n.closed
}
