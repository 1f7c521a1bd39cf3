package replication

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
)

// ErrReplicaNotAvailable is returned when a snapshot or PSYNC is requested
// without a replica descriptor staged by REPLCONF listening-port.
var ErrReplicaNotAvailable = errors.New("ERR no replica staged, send REPLCONF listening-port first")

// Role is the replication role of a node, fixed at start-up
type Role int

const (
	RoleMaster Role = iota
	RoleReplica
)

// String returns the role name reported by INFO
func (r Role) String() string {
	if r == RoleReplica {
		return "slave"
	}
	return "master"
}

// Replica describes one downstream connection that completed PSYNC
type Replica struct {
	ListeningPort int
	Addr          string

	acked atomic.Int64
}

// NewReplica creates a descriptor for a replica announcing port from addr
func NewReplica(port int, addr string) *Replica {
	return &Replica{ListeningPort: port, Addr: addr}
}

// AckedOffset returns the last offset the replica acknowledged
func (r *Replica) AckedOffset() int64 {
	return r.acked.Load()
}

// Info is the replication section reported by INFO
type Info struct {
	Role   Role
	ReplID string
	Offset int64
}

// String renders the INFO replication section
func (i Info) String() string {
	var b strings.Builder
	b.WriteString("# Replication\r\n")
	b.WriteString("role:" + i.Role.String() + "\r\n")
	b.WriteString("master_replid:" + i.ReplID + "\r\n")
	b.WriteString("master_repl_offset:" + strconv.FormatInt(i.Offset, 10) + "\r\n")
	return b.String()
}

// Bridge is the replication state shared by every connection of a node.
//
// On a master it owns the command log: every successful write is appended
// in RESP form, and each registered replica consumes the log from its own
// cursor. On a replica it only tracks how many replication bytes have been
// applied.
type Bridge struct {
	role   Role
	replID string

	mu       sync.Mutex
	log      [][]byte
	produced int64
	notify   chan struct{} // closed and replaced on every append
	replicas []*Replica

	applied atomic.Int64

	logger  Logger
	metrics MetricsCollector
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger
func WithBridgeLogger(logger Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBridgeMetrics sets the metrics collector
func WithBridgeMetrics(metrics MetricsCollector) BridgeOption {
	return func(b *Bridge) {
		b.metrics = metrics
	}
}

// NewBridge creates the replication state for a node in the given role
func NewBridge(role Role, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		role:   role,
		replID: newReplID(),
		notify: make(chan struct{}),
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// newReplID returns a 40 character hex replication id
func newReplID() string {
	a, b := uuid.New(), uuid.New()
	id := strings.ReplaceAll(a.String()+b.String(), "-", "")
	return id[:40]
}

// Role returns the node's role
func (b *Bridge) Role() Role {
	return b.role
}

// ReplID returns the replication id
func (b *Bridge) ReplID() string {
	return b.replID
}

// QueueCommand appends a write to the log and wakes every consumer. It is
// a no-op on a replica.
func (b *Bridge) QueueCommand(args ...string) {
	if b.role != RoleMaster || len(args) == 0 {
		return
	}

	frame := protocol.EncodeCommand(args...)

	b.mu.Lock()
	b.log = append(b.log, frame)
	b.produced += int64(len(frame))
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()

	b.logger.Debug("Queued replication command", "command", args[0], "bytes", len(frame))
}

// ProducedBytes returns the total size of the log
func (b *Bridge) ProducedBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.produced
}

// Register adds a replica that completed PSYNC
func (b *Bridge) Register(r *Replica) {
	b.mu.Lock()
	b.replicas = append(b.replicas, r)
	b.mu.Unlock()

	b.logger.Info("Replica registered", "addr", r.Addr, "port", r.ListeningPort)
}

// Unregister removes a replica whose connection ended
func (b *Bridge) Unregister(r *Replica) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, other := range b.replicas {
		if other == r {
			b.replicas = append(b.replicas[:i], b.replicas[i+1:]...)
			break
		}
	}
}

// Replicas returns the registered replicas
func (b *Bridge) Replicas() []*Replica {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Replica(nil), b.replicas...)
}

// Ack records an acknowledged offset reported by a replica
func (b *Bridge) Ack(r *Replica, offset int64) {
	if r == nil {
		return
	}
	r.acked.Store(offset)
}

// StartConsuming streams the log to a replica, starting from the first
// entry, until ctx is done or send fails. The replica received an empty
// snapshot, so the whole log is what rebuilds its dataset.
func (b *Bridge) StartConsuming(ctx context.Context, r *Replica, send func([]byte) error) error {
	cursor := 0
	for {
		b.mu.Lock()
		pending := b.log[cursor:len(b.log):len(b.log)]
		wait := b.notify
		b.mu.Unlock()

		for _, frame := range pending {
			if err := send(frame); err != nil {
				b.logger.Error("Replica stream ended", "addr", r.Addr, "error", err)
				return err
			}
			if b.metrics != nil {
				b.metrics.RecordNetworkBytes(int64(len(frame)))
			}
		}
		cursor += len(pending)

		if len(pending) > 0 {
			continue
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetRdb returns the framed snapshot sent after FULLRESYNC: the
// "$<len>\r\n" header and the payload, with no trailing CRLF.
func (b *Bridge) GetRdb(r *Replica) ([]byte, []byte, error) {
	if r == nil {
		return nil, nil, ErrReplicaNotAvailable
	}

	payload := EmptySnapshot()
	header := []byte("$" + strconv.Itoa(len(payload)) + "\r\n")
	return header, payload, nil
}

// AddApplied advances the replica-side count of applied replication bytes
func (b *Bridge) AddApplied(n int64) {
	b.applied.Add(n)
}

// ResetApplied restarts the applied byte count for a new full resync
func (b *Bridge) ResetApplied() {
	b.applied.Store(0)
}

// AppliedBytes returns the replica-side count of applied replication bytes
func (b *Bridge) AppliedBytes() int64 {
	return b.applied.Load()
}

// Info returns the role, id and offset of the node. A master reports the
// bytes it produced, a replica the bytes it applied.
func (b *Bridge) Info() Info {
	info := Info{Role: b.role, ReplID: b.replID}
	if b.role == RoleMaster {
		info.Offset = b.ProducedBytes()
	} else {
		info.Offset = b.AppliedBytes()
	}
	return info
}
