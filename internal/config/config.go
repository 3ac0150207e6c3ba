package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backend names
const (
	BackendRedis  = "redis"
	BackendEtcd   = "etcd"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Config holds all configuration for a scaleout worker
type Config struct {
	// Server configuration
	HTTPPort int    `env:"SCALEOUT_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"SCALEOUT_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Master   MasterConfig
	Redis    RedisConfig
	Etcd     EtcdConfig
	Backends BackendConfig
	Worker   WorkerConfig
	Executor ExecutorConfig
	LLM      LLMConfig
	Timeouts TimeoutConfig
}

// MasterConfig locates the master. URL is the membership endpoint the
// worker joins; Path is the master topic on the bus.
type MasterConfig struct {
	URL  string `env:"MASTER_URL" envDefault:"etcd://localhost:2379"`
	Path string `env:"MASTER_PATH" envDefault:"master"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// EtcdConfig holds etcd connection configuration
type EtcdConfig struct {
	Endpoints   []string      `env:"ETCD_ENDPOINTS" envSeparator:"," envDefault:"localhost:2379"`
	DialTimeout time.Duration `env:"ETCD_DIAL_TIMEOUT" envDefault:"5s"`
	MemberTTL   int64         `env:"ETCD_MEMBER_TTL" envDefault:"10"`
}

// BackendConfig selects the adapters behind each port
type BackendConfig struct {
	Tracker    string `env:"TRACKER_BACKEND" envDefault:"redis"`
	Bus        string `env:"BUS_BACKEND" envDefault:"redis"`
	Membership string `env:"MEMBERSHIP_BACKEND" envDefault:"none"`
}

// WorkerConfig holds worker node and supervisor configuration
type WorkerConfig struct {
	Host              string        `env:"WORKER_HOST"`
	HeartbeatInterval time.Duration `env:"WORKER_HEARTBEAT_INTERVAL" envDefault:"30s"`
	MailboxSize       int           `env:"WORKER_MAILBOX_SIZE" envDefault:"64"`
	// RestartBackoff of zero restarts immediately
	RestartBackoff time.Duration `env:"WORKER_RESTART_BACKOFF" envDefault:"0s"`
	// MaxRestarts of zero never gives up
	MaxRestarts int `env:"WORKER_MAX_RESTARTS" envDefault:"0"`
}

// ExecutorConfig selects and configures the job executor
type ExecutorConfig struct {
	Kind             string `env:"EXECUTOR_KIND" envDefault:"docker"`
	DockerImage      string `env:"DOCKER_IMAGE" envDefault:"alpine:3.19"`
	DockerAPIVersion string `env:"DOCKER_API_VERSION"`
	DockerPull       bool   `env:"DOCKER_PULL" envDefault:"false"`
}

// LLMConfig holds the Anthropic executor configuration
type LLMConfig struct {
	APIKey           string `env:"LLM_API_KEY"`
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultMaxTokens int64  `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"1024"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	// JobExecution of zero lets a job run until it returns
	JobExecution time.Duration `env:"TIMEOUT_JOB_EXECUTION" envDefault:"300s"`
	Shutdown     time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Master.Path == "" {
		return fmt.Errorf("master path is required")
	}

	switch c.Backends.Tracker {
	case BackendRedis, BackendEtcd, BackendMemory:
	default:
		return fmt.Errorf("unsupported tracker backend: %s", c.Backends.Tracker)
	}
	switch c.Backends.Bus {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unsupported bus backend: %s", c.Backends.Bus)
	}
	switch c.Backends.Membership {
	case BackendEtcd, BackendNone:
	default:
		return fmt.Errorf("unsupported membership backend: %s", c.Backends.Membership)
	}

	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.UsesEtcd() && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("etcd endpoints are required")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Worker.MailboxSize < 1 {
		return fmt.Errorf("worker mailbox size must be at least 1")
	}
	if c.Worker.RestartBackoff < 0 || c.Worker.MaxRestarts < 0 {
		return fmt.Errorf("restart backoff and max restarts must not be negative")
	}

	switch c.Executor.Kind {
	case "docker", "echo":
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required for the anthropic executor")
		}
	default:
		return fmt.Errorf("unsupported executor kind: %s", c.Executor.Kind)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis client
func (c *Config) UsesRedis() bool {
	return c.Backends.Tracker == BackendRedis || c.Backends.Bus == BackendRedis
}

// UsesEtcd reports whether any backend needs an etcd client
func (c *Config) UsesEtcd() bool {
	return c.Backends.Tracker == BackendEtcd || c.Backends.Membership == BackendEtcd
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
