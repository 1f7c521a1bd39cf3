package redisnode

import (
	"net"
	"strconv"
	"time"
)

// config holds the configuration for a Node
type config struct {
	// Server settings
	addr        string
	readTimeout time.Duration

	// Replication settings. An empty masterAddr makes the node a master.
	masterAddr     string
	listeningPort  int
	connectTimeout time.Duration

	// Storage
	shardCount int

	// Observability
	logger  Logger
	metrics MetricsCollector
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:           ":6379",
		connectTimeout: 5 * time.Second,
		logger:         newDefaultLogger(),
	}
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithAddr sets the address the node listens on
//
// Example:
//
//	WithAddr(":6380")
//	WithAddr("127.0.0.1:0") // any free port
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return ErrInvalidConfig
		}
		c.addr = addr
		return nil
	}
}

// WithMaster turns the node into a replica of the master at addr
//
// Example:
//
//	WithMaster("localhost:6379")
func WithMaster(addr string) Option {
	return func(c *config) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return &ConnectionError{
				Addr: addr,
				Err:  ErrInvalidConfig,
			}
		}
		c.masterAddr = addr
		return nil
	}
}

// WithListeningPort sets the port a replica announces to its master in
// REPLCONF listening-port. By default the port of the listen address is
// used.
func WithListeningPort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return ErrInvalidConfig
		}
		c.listeningPort = port
		return nil
	}
}

// WithReadTimeout closes client connections idle for longer than timeout.
// Zero disables the deadline.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.readTimeout = timeout
		return nil
	}
}

// WithConnectTimeout sets the dial timeout a replica uses for its master
//
// Example:
//
//	WithConnectTimeout(10 * time.Second)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithShardCount sets the number of keyspace shards. It is rounded up to
// a power of two.
func WithShardCount(count int) Option {
	return func(c *config) error {
		if count <= 0 {
			return ErrInvalidConfig
		}
		c.shardCount = count
		return nil
	}
}

// WithLogger sets a custom logger for the node
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(redisnode.NewPrometheusMetrics(prometheus.DefaultRegisterer))
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// announcedPort returns the port sent in REPLCONF listening-port
func (c *config) announcedPort() int {
	if c.listeningPort != 0 {
		return c.listeningPort
	}
	_, port, err := net.SplitHostPort(c.addr)
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}
