package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/clock"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/config"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

type storageOptions struct {
	backend               string
	memoryCleanupInterval time.Duration
	redisHost             string
	redisPort             int
	redisPassword         string
	redisDB               int
	redisCluster          bool
	redisClusterNodes     []string
	redisPoolSize         int
	redisMaxRetries       int
	redisDialTimeout      time.Duration
	redisKeyPrefix        string
}

func defaultStorageOptions() storageOptions {
	d := config.Default().Storage
	return storageOptions{
		backend:               d.Backend,
		memoryCleanupInterval: d.Memory.CleanupInterval,
		redisHost:             d.Redis.Host,
		redisPort:             d.Redis.Port,
		redisDB:               d.Redis.DB,
		redisPoolSize:         d.Redis.PoolSize,
		redisMaxRetries:       3,
		redisDialTimeout:      5 * time.Second,
		redisKeyPrefix:        d.Redis.KeyPrefix,
	}
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.backend, "storage", o.backend, "storage backend (memory, redis)")
	cmd.Flags().DurationVar(&o.memoryCleanupInterval, "storage-memory-cleanup-interval", o.memoryCleanupInterval, "cleanup interval for memory storage backend")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", o.redisHost, "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", o.redisPort, "redis port")
	cmd.Flags().StringVar(&o.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.redisDB, "redis-db", o.redisDB, "redis database index")
	cmd.Flags().BoolVar(&o.redisCluster, "redis-cluster", false, "enable redis cluster mode")
	cmd.Flags().StringSliceVar(&o.redisClusterNodes, "redis-cluster-nodes", nil, "redis cluster nodes host:port list")
	cmd.Flags().IntVar(&o.redisPoolSize, "redis-pool-size", o.redisPoolSize, "redis connection pool size")
	cmd.Flags().IntVar(&o.redisMaxRetries, "redis-max-retries", o.redisMaxRetries, "redis max retries")
	cmd.Flags().DurationVar(&o.redisDialTimeout, "redis-dial-timeout", o.redisDialTimeout, "redis dial timeout")
	cmd.Flags().StringVar(&o.redisKeyPrefix, "redis-key-prefix", o.redisKeyPrefix, "prefix prepended to every redis key")
}

// applyConfigIfUnset copies config values into options whose flags were not
// given on the command line.
func (o *storageOptions) applyConfigIfUnset(cmd *cobra.Command, cfg *config.StorageConfig) {
	if cfg == nil {
		return
	}

	if !cmd.Flags().Changed("storage") {
		o.backend = cfg.Backend
	}
	if !cmd.Flags().Changed("storage-memory-cleanup-interval") {
		o.memoryCleanupInterval = cfg.Memory.CleanupInterval
	}
	if !cmd.Flags().Changed("redis-host") {
		o.redisHost = cfg.Redis.Host
	}
	if !cmd.Flags().Changed("redis-port") {
		o.redisPort = cfg.Redis.Port
	}
	if !cmd.Flags().Changed("redis-password") {
		o.redisPassword = cfg.Redis.Password
	}
	if !cmd.Flags().Changed("redis-db") {
		o.redisDB = cfg.Redis.DB
	}
	if !cmd.Flags().Changed("redis-cluster") {
		o.redisCluster = cfg.Redis.Cluster
	}
	if !cmd.Flags().Changed("redis-cluster-nodes") {
		o.redisClusterNodes = cfg.Redis.ClusterNodes
	}
	if !cmd.Flags().Changed("redis-pool-size") {
		o.redisPoolSize = cfg.Redis.PoolSize
	}
	if !cmd.Flags().Changed("redis-max-retries") {
		o.redisMaxRetries = cfg.Redis.MaxRetries
	}
	if !cmd.Flags().Changed("redis-dial-timeout") {
		o.redisDialTimeout = cfg.Redis.DialTimeout
	}
	if !cmd.Flags().Changed("redis-key-prefix") {
		o.redisKeyPrefix = cfg.Redis.KeyPrefix
	}
}

func (o *storageOptions) normalize() error {
	switch o.backend {
	case store.BackendMemory:
		return nil
	case store.BackendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q (want %s or %s)", o.backend, store.BackendMemory, store.BackendRedis)
	}

	if o.redisCluster {
		if len(o.redisClusterNodes) == 0 {
			return fmt.Errorf("--redis-cluster requires --redis-cluster-nodes")
		}
		return nil
	}

	host, port, err := normalizeRedisHostPort(o.redisHost, o.redisPort)
	if err != nil {
		return err
	}
	o.redisHost = host
	o.redisPort = port
	return nil
}

func (o *storageOptions) toConfig() config.StorageConfig {
	return config.StorageConfig{
		Backend: o.backend,
		Memory: store.MemoryConfig{
			CleanupInterval: o.memoryCleanupInterval,
		},
		Redis: store.RedisConfig{
			Host:         o.redisHost,
			Port:         o.redisPort,
			Password:     o.redisPassword,
			DB:           o.redisDB,
			Cluster:      o.redisCluster,
			ClusterNodes: append([]string(nil), o.redisClusterNodes...),
			PoolSize:     o.redisPoolSize,
			MaxRetries:   o.redisMaxRetries,
			DialTimeout:  o.redisDialTimeout,
			KeyPrefix:    o.redisKeyPrefix,
		},
	}
}

// open connects the configured backend. clk drives memory-store expiry; nil
// means the real clock.
func (o *storageOptions) open(logger *zap.Logger, clk clock.Clock) (store.Store, error) {
	cfg := o.toConfig()
	switch cfg.Backend {
	case store.BackendRedis:
		s, err := store.NewRedisStore(&cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		return s, nil
	case store.BackendMemory:
		cfg.Memory.Clock = clk
		return store.NewMemoryStore(&cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}
