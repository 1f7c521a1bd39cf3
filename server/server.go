package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/raniellyferreira/redis-inmemory-node/command"
	"github.com/raniellyferreira/redis-inmemory-node/protocol"
	"github.com/raniellyferreira/redis-inmemory-node/replication"
)

// Server accepts RESP connections and runs their commands through a
// per-connection interpreter
type Server struct {
	shared *command.Shared

	// Server configuration
	addr        string
	readTimeout time.Duration
	logger      command.Logger

	// Connection management
	listener net.Listener
	clients  *xsync.MapOf[int64, *Client]
	nextID   atomic.Int64

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	connCount    atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
}

// Stats is a snapshot of server counters
type Stats struct {
	ConnectedClients int
	TotalConnections int64
	TotalCommands    int64
	TotalErrors      int64
	Replicas         int
}

// Client represents a connected client
type Client struct {
	id     int64
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server
	interp *command.Interpreter

	// Control
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger command.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReadTimeout closes connections idle for longer than timeout. Zero,
// the default, never times out; blocked BLPOP and XREAD callers would
// otherwise be cut off.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = timeout
	}
}

// NewServer creates a server for addr working against shared
func NewServer(addr string, shared *command.Shared, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		shared:  shared,
		addr:    addr,
		logger:  nopLogger{},
		clients: xsync.NewMapOf[int64, *Client](),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts listening and accepting connections
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("Server listening", "addr", s.listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop closes the listener and every connection, cancelling blocked
// commands, and waits for the connection goroutines to finish
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.clients.Range(func(_ int64, client *Client) bool {
		client.Close()
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns server statistics
func (s *Server) Stats() Stats {
	return Stats{
		ConnectedClients: s.clients.Size(),
		TotalConnections: s.connCount.Load(),
		TotalCommands:    s.commandCount.Load(),
		TotalErrors:      s.errorCount.Load(),
		Replicas:         len(s.shared.Bridge.Replicas()),
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			s.logger.Error("Accept failed", "error", err)
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient registers a connection and starts its loop
func (s *Server) handleNewClient(conn net.Conn) {
	if s.ctx.Err() != nil {
		conn.Close()
		return
	}
	s.connCount.Add(1)

	id := s.nextID.Add(1)
	ctx, cancel := context.WithCancel(s.ctx)

	interp := command.New(s.shared, id)
	interp.SetRemoteAddr(conn.RemoteAddr().String())

	client := &Client{
		id:     id,
		conn:   conn,
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
		server: s,
		interp: interp,
		ctx:    ctx,
		cancel: cancel,
	}

	s.clients.Store(id, client)
	s.logger.Debug("Client connected", "id", id, "addr", conn.RemoteAddr().String())

	s.wg.Add(1)
	go client.handle()
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
		c.server.clients.Delete(c.id)
	})
}

// handle reads commands until the connection ends. A connection that
// completes PSYNC is handed over to the replication stream.
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for {
		if c.server.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.server.readTimeout))
		}

		value, err := c.reader.ReadNext()
		if err != nil {
			var protoErr *protocol.ProtocolError
			if errors.As(err, &protoErr) {
				c.writeError("ERR " + protoErr.Error())
				continue
			}
			if err != io.EOF && c.ctx.Err() == nil {
				c.server.logger.Debug("Client read failed", "id", c.id, "error", err)
			}
			return
		}

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			c.writeError("ERR " + err.Error())
			continue
		}

		c.server.commandCount.Add(1)
		reply := c.interp.Execute(c.ctx, cmd.Name, cmd.Args)
		if !command.IsNoReply(reply) {
			if err := c.writeValue(reply); err != nil {
				return
			}
		}

		if r := c.interp.Replica(); r != nil {
			c.streamToReplica(r)
			return
		}
	}
}

// streamToReplica sends the snapshot and then the replication log until
// the replica goes away. Acknowledgements from the replica are read on a
// separate goroutine.
func (c *Client) streamToReplica(r *replication.Replica) {
	bridge := c.server.shared.Bridge
	defer bridge.Unregister(r)

	c.conn.SetReadDeadline(time.Time{})

	header, payload, err := bridge.GetRdb(r)
	if err != nil {
		c.writeError(err.Error())
		return
	}
	c.writer.WriteRaw(header)
	c.writer.WriteRaw(payload)
	if err := c.writer.Flush(); err != nil {
		return
	}

	c.server.wg.Add(1)
	go c.readAcks()

	err = bridge.StartConsuming(c.ctx, r, func(frame []byte) error {
		if err := c.writer.WriteRaw(frame); err != nil {
			return err
		}
		return c.writer.Flush()
	})
	c.server.logger.Info("Replica disconnected", "addr", r.Addr, "reason", err)
}

// readAcks feeds REPLCONF frames from a replica to the interpreter. Any
// read failure ends the replication stream.
func (c *Client) readAcks() {
	defer c.server.wg.Done()
	defer c.cancel()

	for {
		cmd, err := c.reader.ReadCommand()
		if err != nil {
			var protoErr *protocol.ProtocolError
			if errors.As(err, &protoErr) {
				continue
			}
			return
		}
		if !strings.EqualFold(cmd.Name, "REPLCONF") {
			c.server.logger.Debug("Ignoring command from replica", "command", cmd.Name)
			continue
		}
		c.interp.Execute(c.ctx, cmd.Name, cmd.Args)
	}
}

// Response writers

func (c *Client) writeValue(v protocol.Value) error {
	if v.IsError() {
		c.server.errorCount.Add(1)
	}
	if err := c.writer.WriteValue(v); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Client) writeError(s string) {
	c.server.errorCount.Add(1)
	c.writer.WriteError(s)
	c.writer.Flush()
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}
