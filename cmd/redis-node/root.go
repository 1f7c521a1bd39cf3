package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	redisnode "github.com/raniellyferreira/redis-inmemory-node"
	"github.com/raniellyferreira/redis-inmemory-node/internal/logging"
)

// nodeConfig is the resolved command line configuration
type nodeConfig struct {
	Port        int
	ReplicaOf   string // "host port", empty on a master
	LogLevel    slog.Level
	MetricsAddr string
	Shards      int
	ReadTimeout time.Duration
}

var (
	cfg = &nodeConfig{}

	rootCmd = &cobra.Command{
		Use:   "redis-node",
		Short: "in-memory Redis-compatible server with replication",
		Long: fmt.Sprintf(`redis-node (v%s)

An in-memory Redis-compatible server supporting strings, lists and streams,
transactions, Lua scripts and master/replica replication.

Flags can also be set through environment variables named REDISNODE_<flag>
(e.g. REDISNODE_REPLICAOF="localhost 6379"), and through .env files.`, redisnode.Version),
		SilenceUsage: true,
		PreRunE:      processConfig,
		RunE:         run,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of redis-node",
		Run: func(cmd *cobra.Command, args []string) {
			info := redisnode.VersionInfo()
			fmt.Printf("redis-node v%s", info["version"])
			if commit, ok := info["commit"]; ok {
				fmt.Printf(" (%s)", commit)
			}
			fmt.Println()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.Flags()
	flags.Int("port", 6379, "port to listen on")
	flags.String("replicaof", "", `master to replicate from, as "host port"`)
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "address serving /metrics and /health (disabled when empty)")
	flags.Int("shards", 0, "number of keyspace shards (0 picks a default)")
	flags.Duration("read-timeout", 0, "close client connections idle for this long (0 disables)")
}

// initConfig reads .env files and REDISNODE_ environment variables
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("redisnode")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// processConfig resolves flags and environment into cfg
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return loadConfig(viper.GetViper(), cfg)
}

func loadConfig(v *viper.Viper, c *nodeConfig) error {
	c.Port = v.GetInt("port")
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	level, err := logging.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}
	c.LogLevel = level

	if replicaOf := strings.TrimSpace(v.GetString("replicaof")); replicaOf != "" {
		addr, err := parseReplicaOf(replicaOf)
		if err != nil {
			return err
		}
		c.ReplicaOf = addr
	}

	c.MetricsAddr = v.GetString("metrics-addr")
	c.Shards = v.GetInt("shards")
	c.ReadTimeout = v.GetDuration("read-timeout")
	return nil
}

// parseReplicaOf turns "host port" into a dialable address
func parseReplicaOf(s string) (string, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid replicaof %q (expected \"host port\")", s)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid replicaof port %q", parts[1])
	}
	return net.JoinHostPort(parts[0], parts[1]), nil
}

// options converts the configuration into node options
func (c *nodeConfig) options(logger redisnode.Logger, metrics redisnode.MetricsCollector) []redisnode.Option {
	opts := []redisnode.Option{
		redisnode.WithAddr(net.JoinHostPort("", strconv.Itoa(c.Port))),
		redisnode.WithLogger(logger),
		redisnode.WithReadTimeout(c.ReadTimeout),
	}
	if c.ReplicaOf != "" {
		opts = append(opts, redisnode.WithMaster(c.ReplicaOf))
	}
	if c.Shards > 0 {
		opts = append(opts, redisnode.WithShardCount(c.Shards))
	}
	if metrics != nil {
		opts = append(opts, redisnode.WithMetrics(metrics))
	}
	return opts
}

// run starts the node and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	slogger := logging.NewLogger(os.Stdout, cfg.LogLevel, true)
	slog.SetDefault(slogger)

	var (
		metrics       redisnode.MetricsCollector
		metricsServer *http.Server
	)
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = redisnode.NewPrometheusMetrics(reg)
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: redisnode.MetricsHandler(reg),
		}
		go func() {
			slog.Info("metrics server starting", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	node, err := redisnode.New(cfg.options(redisnode.NewSlogLogger(slogger), metrics)...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
	return node.Close()
}
