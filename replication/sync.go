package replication

import (
	"context"
	"sync"
	"time"
)

// SyncManager tracks the first full resynchronization of a Client.
// Later resyncs after a reconnect do not reset it.
type SyncManager struct {
	client *Client

	synced chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending []func()
}

// SyncStatus is a point-in-time view of a replica's link
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

// NewSyncManager creates a synchronization manager around client
func NewSyncManager(client *Client) *SyncManager {
	sm := &SyncManager{
		client: client,
		synced: make(chan struct{}),
	}
	client.OnSyncComplete(sm.markSynced)
	return sm
}

// markSynced runs the pending callbacks on the first call only
func (sm *SyncManager) markSynced() {
	sm.once.Do(func() {
		sm.mu.Lock()
		close(sm.synced)
		pending := sm.pending
		sm.pending = nil
		sm.mu.Unlock()

		for _, fn := range pending {
			fn()
		}
	})
}

func (sm *SyncManager) isSynced() bool {
	select {
	case <-sm.synced:
		return true
	default:
		return false
	}
}

// Start begins synchronization in the background
func (sm *SyncManager) Start(ctx context.Context) error {
	return sm.client.Start(ctx)
}

// Stop stops synchronization
func (sm *SyncManager) Stop() error {
	return sm.client.Stop()
}

// WaitForSync blocks until the initial synchronization completes or ctx
// is done.
func (sm *SyncManager) WaitForSync(ctx context.Context) error {
	select {
	case <-sm.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSyncComplete registers fn for the initial sync. If that already
// happened, fn runs right away on its own goroutine.
func (sm *SyncManager) OnSyncComplete(fn func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.isSynced() {
		go fn()
		return
	}
	sm.pending = append(sm.pending, fn)
}

// SyncStatus combines the client's counters with the sync state
func (sm *SyncManager) SyncStatus() SyncStatus {
	stats := sm.client.Stats()
	return SyncStatus{
		InitialSyncCompleted: sm.isSynced(),
		Connected:            stats.Connected,
		MasterHost:           stats.MasterAddr,
		MasterReplID:         stats.MasterReplID,
		ReplicationOffset:    stats.ReplicationOffset,
		LastSyncTime:         stats.LastSyncTime,
		BytesReceived:        stats.BytesReceived,
		CommandsProcessed:    stats.CommandsProcessed,
	}
}

// IsConnected reports whether the link to the master is up
func (sm *SyncManager) IsConnected() bool {
	return sm.client.Stats().Connected
}
