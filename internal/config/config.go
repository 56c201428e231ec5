// Package config loads Gatekeep settings from a YAML or JSON file and
// GATEKEEP_* environment variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/store"
)

// EnvPrefix prefixes every environment override, e.g.
// GATEKEEP_STORAGE_REDIS_HOST for storage.redis.host.
const EnvPrefix = "GATEKEEP"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Policies    []PolicyConfig    `mapstructure:"policies"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `mapstructure:"development"`
}

// StorageConfig selects and configures the shared store.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Memory  store.MemoryConfig `mapstructure:"memory"`
	Redis   store.RedisConfig  `mapstructure:"redis"`
}

// FingerprintConfig configures the default caller fingerprint.
type FingerprintConfig struct {
	TrustForwardedFor bool     `mapstructure:"trust_forwarded_for"`
	Headers           []string `mapstructure:"headers"`
}

// PolicyConfig is the file form of a limiter.Policy.
type PolicyConfig struct {
	Name           string        `mapstructure:"name"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	Algorithm      string        `mapstructure:"algorithm"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Window         time.Duration `mapstructure:"window"`
	IncludeHeaders bool          `mapstructure:"include_headers"`
	HeaderNames    []string      `mapstructure:"header_names"`
	ErrorMessage   string        `mapstructure:"error_message"`
}

// Policy converts the file form. KeyPrefix defaults to Name.
func (pc PolicyConfig) Policy() (limiter.Policy, error) {
	algo, err := limiter.ParseAlgorithm(pc.Algorithm)
	if err != nil {
		return limiter.Policy{}, fmt.Errorf("policy %q: %w", pc.Name, err)
	}
	prefix := pc.KeyPrefix
	if prefix == "" {
		prefix = pc.Name
	}
	return limiter.Policy{
		Name:           pc.Name,
		KeyPrefix:      prefix,
		Window:         pc.Window,
		MaxAttempts:    pc.MaxAttempts,
		Algorithm:      algo,
		IncludeHeaders: pc.IncludeHeaders,
		HeaderNames:    pc.HeaderNames,
		ErrorMessage:   pc.ErrorMessage,
	}, nil
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			Backend: store.BackendMemory,
			Memory:  store.MemoryConfig{CleanupInterval: time.Minute},
			Redis: store.RedisConfig{
				Host:      "localhost",
				Port:      6379,
				PoolSize:  20,
				KeyPrefix: "gatekeep:",
			},
		},
		Fingerprint: FingerprintConfig{
			Headers: []string{"User-Agent", "Accept-Language"},
		},
		Policies: DefaultPolicies(),
	}
}

// DefaultPolicies are used when the configuration names none.
func DefaultPolicies() []PolicyConfig {
	return []PolicyConfig{
		{
			Name:        "login",
			Algorithm:   string(limiter.AlgorithmFixedWindow),
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		{
			Name:           "password-reset",
			Algorithm:      string(limiter.AlgorithmFixedWindow),
			MaxAttempts:    1,
			Window:         24 * time.Hour,
			IncludeHeaders: true,
			ErrorMessage:   "A reset link was already sent today.",
		},
		{
			Name:        "search",
			Algorithm:   string(limiter.AlgorithmSlidingWindow),
			MaxAttempts: 30,
			Window:      time.Minute,
		},
	}
}

// Validate checks that the config is usable. Errors wrap ErrInvalidConfig
// and, for policy problems, limiter.ErrInvalidPolicy.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	switch c.Storage.Backend {
	case store.BackendMemory:
	case store.BackendRedis:
		if !c.Storage.Redis.Cluster && c.Storage.Redis.Host == "" {
			return fmt.Errorf("%w: storage.redis.host is required", ErrInvalidConfig)
		}
		if c.Storage.Redis.Cluster && len(c.Storage.Redis.ClusterNodes) == 0 {
			return fmt.Errorf("%w: storage.redis.cluster_nodes is required when cluster=true", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q, must be one of: memory, redis", ErrInvalidConfig, c.Storage.Backend)
	}
	if len(c.Policies) == 0 {
		return fmt.Errorf("%w: at least one policy is required", ErrInvalidConfig)
	}
	if _, err := c.PolicySet(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// PolicySet builds the validated policy registry.
func (c Config) PolicySet() (*limiter.PolicySet, error) {
	policies := make([]limiter.Policy, 0, len(c.Policies))
	for _, pc := range c.Policies {
		p, err := pc.Policy()
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return limiter.NewPolicySet(policies...)
}

// RecordHeaders lists every request header a live decision can depend on:
// the fingerprint headers, the forwarded headers when they are trusted, and
// the headers each policy mixes into its key. Captured traffic keeps these
// so a replay keys callers the same way the server did.
func (c Config) RecordHeaders() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(names ...string) {
		for _, n := range names {
			k := http.CanonicalHeaderKey(strings.TrimSpace(n))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}

	if len(c.Fingerprint.Headers) > 0 {
		add(c.Fingerprint.Headers...)
	} else {
		add(fingerprint.DefaultHeaders...)
	}
	if c.Fingerprint.TrustForwardedFor {
		add(fingerprint.ForwardedHeaders...)
	}
	for _, pc := range c.Policies {
		if !pc.IncludeHeaders {
			continue
		}
		if len(pc.HeaderNames) == 0 {
			add(limiter.DefaultHeader)
			continue
		}
		add(pc.HeaderNames...)
	}
	return out
}

// Load reads path (YAML or JSON, chosen by extension) over the defaults and
// applies GATEKEEP_* environment overrides. An empty path loads defaults and
// environment only. Policies in the file replace the default policies.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Default(), fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Policies) == 0 {
		cfg.Policies = DefaultPolicies()
	}
	return cfg, nil
}

// LoadFile is Load for a required file path.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Default(), fmt.Errorf("config file path is required")
	}
	return Load(path)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows, so every scalar gets a
	// default.
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.memory.cleanup_interval", d.Storage.Memory.CleanupInterval)
	v.SetDefault("storage.redis.host", d.Storage.Redis.Host)
	v.SetDefault("storage.redis.port", d.Storage.Redis.Port)
	v.SetDefault("storage.redis.password", d.Storage.Redis.Password)
	v.SetDefault("storage.redis.db", d.Storage.Redis.DB)
	v.SetDefault("storage.redis.cluster", d.Storage.Redis.Cluster)
	v.SetDefault("storage.redis.cluster_nodes", d.Storage.Redis.ClusterNodes)
	v.SetDefault("storage.redis.pool_size", d.Storage.Redis.PoolSize)
	v.SetDefault("storage.redis.max_retries", d.Storage.Redis.MaxRetries)
	v.SetDefault("storage.redis.dial_timeout", d.Storage.Redis.DialTimeout)
	v.SetDefault("storage.redis.read_timeout", d.Storage.Redis.ReadTimeout)
	v.SetDefault("storage.redis.write_timeout", d.Storage.Redis.WriteTimeout)
	v.SetDefault("storage.redis.key_prefix", d.Storage.Redis.KeyPrefix)
	v.SetDefault("fingerprint.trust_forwarded_for", d.Fingerprint.TrustForwardedFor)
	v.SetDefault("fingerprint.headers", d.Fingerprint.Headers)
	return v
}

// WriteExample writes an example YAML config file to the given path.
func WriteExample(path string) error {
	return os.WriteFile(path, []byte(exampleYAML), 0o644)
}

const exampleYAML = `server:
  addr: ":8080"
  shutdown_timeout: 10s

log:
  level: info        # debug, info, warn, error
  development: false

storage:
  backend: memory    # memory or redis
  memory:
    cleanup_interval: 1m
  redis:
    host: localhost
    port: 6379
    password: ""
    db: 0
    cluster: false
    cluster_nodes: []
    pool_size: 20
    key_prefix: "gatekeep:"

fingerprint:
  trust_forwarded_for: false
  headers: [User-Agent, Accept-Language]

policies:
  - name: login
    algorithm: fixed_window
    max_attempts: 5
    window: 15m
  - name: password-reset
    algorithm: fixed_window
    max_attempts: 1
    window: 24h
    include_headers: true
    error_message: "A reset link was already sent today."
  - name: search
    algorithm: sliding_window
    max_attempts: 30
    window: 1m
`
