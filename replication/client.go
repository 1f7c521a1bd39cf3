package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-inmemory-node/protocol"
)

const (
	defaultConnectTimeout   = 5 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
	defaultRetryDelay       = time.Second
	maxRetryDelay           = 30 * time.Second

	// maxProtocolErrors consecutive malformed frames end the session
	maxProtocolErrors = 5
)

// Applier executes a command received from the master and returns its reply
type Applier interface {
	Apply(ctx context.Context, args []string) protocol.Value
}

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	RecordSyncDuration(duration time.Duration)
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordReconnection()
	RecordError(errorType string)
}

// ReplicationStats is a snapshot of the client's counters
type ReplicationStats struct {
	Connected            bool
	MasterAddr           string
	MasterReplID         string
	ReplicationOffset    int64
	LastSyncTime         time.Time
	BytesReceived        int64
	CommandsProcessed    int64
	ReconnectCount       int64
	InitialSyncCompleted bool
}

// Client is the replica side of replication. Each session dials the
// master, performs the handshake, loads the snapshot and then applies
// the command stream until the connection drops. Sessions are retried
// with a growing delay until Stop.
type Client struct {
	masterAddr    string
	listeningPort int
	applier       Applier
	bridge        *Bridge

	logger         Logger
	metrics        MetricsCollector
	connectTimeout time.Duration
	retryDelay     time.Duration

	mu         sync.Mutex
	conn       net.Conn
	onSnapshot func(payload []byte) error
	onSynced   []func()

	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	statsMu sync.RWMutex
	stats   ReplicationStats

	// master offset the last snapshot was taken at; session goroutine only
	syncOffset int64
}

// NewClient creates a replication client for the master at masterAddr.
// listeningPort is announced to the master; bridge receives the applied
// byte count.
func NewClient(masterAddr string, listeningPort int, applier Applier, bridge *Bridge) *Client {
	return &Client{
		masterAddr:     masterAddr,
		listeningPort:  listeningPort,
		applier:        applier,
		bridge:         bridge,
		logger:         nopLogger{},
		connectTimeout: defaultConnectTimeout,
		retryDelay:     defaultRetryDelay,
		done:           make(chan struct{}),
		stats:          ReplicationStats{MasterAddr: masterAddr},
	}
}

// SetLogger sets the logger
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (c *Client) SetMetrics(metrics MetricsCollector) {
	c.metrics = metrics
}

// SetConnectTimeout sets the dial timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// SetRetryDelay sets the first pause between sessions. It doubles after
// every session that fails before the snapshot was loaded.
func (c *Client) SetRetryDelay(delay time.Duration) {
	c.retryDelay = delay
}

// OnSnapshot registers the function receiving each snapshot payload,
// called before the command stream of that session is applied.
func (c *Client) OnSnapshot(fn func(payload []byte) error) {
	c.mu.Lock()
	c.onSnapshot = fn
	c.mu.Unlock()
}

// OnSyncComplete registers fn to run after every full resync
func (c *Client) OnSyncComplete(fn func()) {
	c.mu.Lock()
	c.onSynced = append(c.onSynced, fn)
	c.mu.Unlock()
}

// Start runs replication in the background until ctx is done or Stop is
// called. Connection failures are retried; they are logged, not returned.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("replication client already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting replication client", "master", c.masterAddr)
	go c.run(ctx)
	return nil
}

// Stop ends replication and waits for the background loop to exit
func (c *Client) Stop() error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.logger.Info("Stopping replication client")
	c.cancel()

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("replication client stop timeout")
	}
}

// Stats returns current replication statistics
func (c *Client) Stats() ReplicationStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	delay := c.retryDelay
	for {
		synced, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Error("Replication session failed", "master", c.masterAddr, "error", err, "retry_in", delay)
		}

		wait := delay
		if synced {
			delay = c.retryDelay
			wait = delay
		} else {
			delay = min(delay*2, maxRetryDelay)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one connection to the master. synced reports whether the
// snapshot was loaded before the session ended.
func (c *Client) session(ctx context.Context) (synced bool, err error) {
	l, err := c.dial(ctx)
	if err != nil {
		c.recordError("connection")
		return false, err
	}
	defer c.hangUp(l)

	if err := c.handshake(l); err != nil {
		c.recordError("handshake")
		return false, fmt.Errorf("handshake failed: %w", err)
	}

	if err := c.fullResync(l); err != nil {
		c.recordError("sync")
		return false, fmt.Errorf("sync failed: %w", err)
	}

	if err := c.stream(ctx, l); err != nil {
		c.recordError("streaming")
		return true, fmt.Errorf("streaming failed: %w", err)
	}

	c.logger.Info("Master closed the replication stream", "master", c.masterAddr)
	return true, nil
}

// link is one connection to the master
type link struct {
	conn net.Conn
	r    *protocol.Reader
	w    *protocol.Writer
}

// call sends one command and returns the master's reply. An error reply
// is returned as an error.
func (l *link) call(args ...string) (protocol.Value, error) {
	if err := l.w.WriteCommand(args...); err != nil {
		return protocol.Value{}, err
	}
	if err := l.w.Flush(); err != nil {
		return protocol.Value{}, err
	}

	reply, err := l.r.ReadNext()
	switch {
	case errors.Is(err, io.EOF):
		return protocol.Value{}, fmt.Errorf("%s: connection closed by master", args[0])
	case err != nil:
		return protocol.Value{}, err
	case reply.IsError():
		return reply, fmt.Errorf("%s rejected: %s", args[0], reply.Error())
	}
	return reply, nil
}

// bound sets a deadline d from now on both directions; zero clears it
func (l *link) bound(d time.Duration) error {
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	return l.conn.SetDeadline(deadline)
}

func (c *Client) dial(ctx context.Context) (*link, error) {
	c.logger.Debug("Connecting to master", "addr", c.masterAddr)

	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.masterAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.masterAddr, err)
	}

	// Stop closes c.conn under mu after cancelling ctx.
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		conn.Close()
		return nil, err
	}
	c.conn = conn
	c.mu.Unlock()

	c.updateStats(func(s *ReplicationStats) {
		s.Connected = true
		s.ReconnectCount++
	})
	if c.metrics != nil {
		c.metrics.RecordReconnection()
	}

	c.logger.Info("Connected to master", "addr", c.masterAddr)
	return &link{conn: conn, r: protocol.NewReader(conn), w: protocol.NewWriter(conn)}, nil
}

func (c *Client) hangUp(l *link) {
	c.mu.Lock()
	if c.conn == l.conn {
		c.conn = nil
	}
	c.mu.Unlock()
	l.conn.Close()

	c.updateStats(func(s *ReplicationStats) {
		s.Connected = false
	})
}

// handshake announces the replica: PING, listening port and capabilities
func (c *Client) handshake(l *link) error {
	if err := l.bound(defaultHandshakeTimeout); err != nil {
		return err
	}

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"PING"}, "PONG"},
		{[]string{"REPLCONF", "listening-port", strconv.Itoa(c.listeningPort)}, "OK"},
		{[]string{"REPLCONF", "capa", "psync2"}, "OK"},
	}

	for _, step := range steps {
		reply, err := l.call(step.args...)
		if err != nil {
			return err
		}
		if !strings.EqualFold(reply.String(), step.want) {
			return fmt.Errorf("unexpected reply to %s: %s", step.args[0], reply.String())
		}
		c.logger.Debug("Handshake step completed", "command", strings.Join(step.args, " "))
	}
	return nil
}

// fullResync requests a full resynchronization and loads the snapshot.
// The applied offset restarts at zero with the new stream.
func (c *Client) fullResync(l *link) error {
	c.logger.Info("Starting full resynchronization")
	start := time.Now()

	reply, err := l.call(c.psyncArgs()...)
	if err != nil {
		return err
	}
	replID, offset, err := parseFullResync(reply)
	if err != nil {
		return err
	}
	c.syncOffset = offset

	if err := c.loadSnapshot(l); err != nil {
		return err
	}
	c.bridge.ResetApplied()

	// The stream may stay idle indefinitely.
	if err := l.bound(0); err != nil {
		return err
	}

	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordSyncDuration(elapsed)
	}
	c.updateStats(func(s *ReplicationStats) {
		s.MasterReplID = replID
		s.ReplicationOffset = 0
		s.InitialSyncCompleted = true
		s.LastSyncTime = time.Now()
	})

	c.mu.Lock()
	callbacks := append([]func(){}, c.onSynced...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}

	c.logger.Info("Full resynchronization completed", "replid", replID, "master_offset", offset, "duration", elapsed)
	return nil
}

// psyncArgs asks for a fresh sync until one completes, then for a resume
// from the last master id and the offset applied since.
func (c *Client) psyncArgs() []string {
	stats := c.Stats()
	if !stats.InitialSyncCompleted || stats.MasterReplID == "" {
		return []string{"PSYNC", "?", "-1"}
	}
	offset := c.syncOffset + c.bridge.AppliedBytes()
	return []string{"PSYNC", stats.MasterReplID, strconv.FormatInt(offset, 10)}
}

// parseFullResync parses "FULLRESYNC <replid> <offset>"
func parseFullResync(reply protocol.Value) (string, int64, error) {
	parts := strings.Fields(reply.String())
	if len(parts) != 3 || parts[0] != "FULLRESYNC" {
		return "", 0, fmt.Errorf("unsupported PSYNC response: %s", reply.String())
	}
	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid offset in PSYNC response: %q", parts[2])
	}
	return parts[1], offset, nil
}

func (c *Client) loadSnapshot(l *link) error {
	var payload []byte
	size, err := l.r.ReadSnapshot(func(chunk []byte) error {
		payload = append(payload, chunk...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	c.updateStats(func(s *ReplicationStats) {
		s.BytesReceived += size
	})
	if c.metrics != nil {
		c.metrics.RecordNetworkBytes(size)
	}

	if info, err := InspectSnapshot(payload); err != nil {
		c.logger.Error("Snapshot inspection failed", "size", size, "error", err)
	} else {
		c.logger.Debug("Snapshot received", "size", size, "version", info.Version, "redis_ver", info.Aux["redis-ver"])
	}

	c.mu.Lock()
	onSnapshot := c.onSnapshot
	c.mu.Unlock()
	if onSnapshot == nil {
		return nil
	}
	if err := onSnapshot(payload); err != nil {
		return fmt.Errorf("snapshot handler failed: %w", err)
	}
	return nil
}

// stream applies the command stream until the master disconnects. A
// clean close and an empty frame both end it without error.
func (c *Client) stream(ctx context.Context, l *link) error {
	malformed := 0
	for {
		value, err := l.r.ReadNext()
		var perr *protocol.ProtocolError
		switch {
		case err == nil:
			malformed = 0
		case errors.Is(err, io.EOF) || ctx.Err() != nil:
			return nil
		case errors.As(err, &perr):
			malformed++
			c.logger.Debug("Malformed frame in replication stream", "error", err, "count", malformed)
			if malformed >= maxProtocolErrors {
				return fmt.Errorf("stream out of sync after %d malformed frames: %w", malformed, err)
			}
			continue
		default:
			return fmt.Errorf("read command failed: %w", err)
		}

		if value.Type == protocol.TypeArray && len(value.Array) == 0 {
			return nil
		}
		if err := c.apply(ctx, l, value); err != nil {
			c.logger.Error("Replicated command not applied", "error", err)
		}
	}
}

// apply executes one replicated command. Only REPLCONF GETACK is
// answered; every other reply is discarded.
func (c *Client) apply(ctx context.Context, l *link, value protocol.Value) error {
	cmd, err := protocol.ParseCommand(value)
	if err != nil {
		return err
	}

	args := cmd.Argv()
	size := int64(len(protocol.EncodeCommand(args...)))
	start := time.Now()

	reply := c.applier.Apply(ctx, args)
	if isGetAck(cmd) {
		if err := l.w.WriteValue(reply); err != nil {
			return fmt.Errorf("write ack: %w", err)
		}
		if err := l.w.Flush(); err != nil {
			return fmt.Errorf("write ack: %w", err)
		}
	} else if reply.IsError() {
		c.logger.Debug("Replicated command failed", "command", cmd.Name, "error", reply.Error())
	}

	c.bridge.AddApplied(size)

	if c.metrics != nil {
		c.metrics.RecordCommandProcessed(strings.ToLower(cmd.Name), time.Since(start))
		c.metrics.RecordNetworkBytes(size)
	}
	c.updateStats(func(s *ReplicationStats) {
		s.CommandsProcessed++
		s.BytesReceived += size
		s.ReplicationOffset += size
	})
	return nil
}

func isGetAck(cmd *protocol.Command) bool {
	return cmd.Name == "REPLCONF" && len(cmd.Args) > 0 && strings.EqualFold(cmd.Args[0], "GETACK")
}

func (c *Client) updateStats(fn func(*ReplicationStats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}

func (c *Client) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
