package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultAgentPort      = 4378
	DefaultRequestTimeout = 30 * time.Second
	DefaultPrintThreshold = 10
	DefaultPollInterval   = 15 * time.Second
	DefaultHTTPListen     = ":9378"
	DefaultLogLevel       = "info"
	DefaultKeyPrefix      = "lbwatch"
	DefaultPublishTTL     = 2 * time.Minute
	DefaultBufferSize     = 1000
	DefaultSnapshotTTL    = 5 * time.Minute
)

// Config is the top-level configuration of lbwatch.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	HTTP    HTTPConfig    `yaml:"http"`
	Publish PublishConfig `yaml:"publish"`
}

// AgentConfig describes how the Hermes agents are reached and polled.
type AgentConfig struct {
	// Port is the port every Hermes agent listens on.
	Port int `yaml:"port"`

	// Timeout bounds a single stats request.
	Timeout time.Duration `yaml:"timeout"`

	// PrintThreshold is the number of servers below which backend lists are
	// logged verbatim instead of as counts.
	PrintThreshold int `yaml:"print_threshold"`

	// PollInterval controls how often every target is polled.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Secret is the shared cluster secret sent in the Appscale-Secret header.
	Secret SecretConfig `yaml:"secret"`

	// Targets lists the load balancer nodes and the proxies to watch on each.
	Targets []Target `yaml:"targets"`
}

// Target is one load balancer node.
type Target struct {
	Host    string   `yaml:"host"`
	Proxies []string `yaml:"proxies"`
}

// SecretConfig locates the cluster secret. Env takes precedence over File.
type SecretConfig struct {
	// Env is the name of the environment variable holding the secret.
	Env string `yaml:"env"`

	// File is a path to a file holding the secret, e.g. /etc/appscale/secret.key.
	File string `yaml:"file"`
}

// Value resolves the secret. It returns an error only when a file is
// configured and cannot be read.
func (s SecretConfig) Value() (string, error) {
	if s.Env != "" {
		if v, ok := os.LookupEnv(s.Env); ok {
			return v, nil
		}
	}
	if s.File == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.File)
	if err != nil {
		return "", fmt.Errorf("config: read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// HTTPConfig configures the local status API.
type HTTPConfig struct {
	// Listen is the address the API binds to. Empty disables the API.
	Listen string `yaml:"listen"`

	// SnapshotTTL drops proxies from the API that have not been polled
	// successfully for this long.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// PublishConfig configures publishing poll results to Redis.
type PublishConfig struct {
	Enabled bool `yaml:"enabled"`

	// RedisURL is a redis:// URL, e.g. redis://localhost:6379/0.
	RedisURL string `yaml:"redis_url"`

	// PasswordEnv optionally names an environment variable with the Redis password.
	PasswordEnv string `yaml:"password_env"`

	// KeyPrefix namespaces every key and channel written.
	KeyPrefix string `yaml:"key_prefix"`

	// TTL is the expiry of each published proxy key.
	TTL time.Duration `yaml:"ttl"`

	// BufferSize is the maximum number of results held while Redis is unreachable.
	BufferSize int `yaml:"buffer_size"`
}

// Password returns the Redis password resolved from the environment.
func (p PublishConfig) Password() string {
	if p.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(p.PasswordEnv)
}

// SlogLevel maps LogLevel onto a slog.Level.
func (a AgentConfig) SlogLevel() slog.Level {
	switch strings.ToLower(a.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Port:           DefaultAgentPort,
			Timeout:        DefaultRequestTimeout,
			PrintThreshold: DefaultPrintThreshold,
			PollInterval:   DefaultPollInterval,
			LogLevel:       DefaultLogLevel,
		},
		HTTP: HTTPConfig{
			Listen:      DefaultHTTPListen,
			SnapshotTTL: DefaultSnapshotTTL,
		},
		Publish: PublishConfig{
			KeyPrefix:  DefaultKeyPrefix,
			TTL:        DefaultPublishTTL,
			BufferSize: DefaultBufferSize,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("agent.port %d out of range", a.Port)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive")
	}
	if a.PollInterval <= 0 {
		return fmt.Errorf("agent.poll_interval must be positive")
	}
	if a.PrintThreshold < 1 {
		return fmt.Errorf("agent.print_threshold must be at least 1")
	}
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level: unknown level %q", a.LogLevel)
	}
	for i, t := range a.Targets {
		if t.Host == "" {
			return fmt.Errorf("targets[%d]: host is required", i)
		}
		if len(t.Proxies) == 0 {
			return fmt.Errorf("targets[%d] %q: at least one proxy is required", i, t.Host)
		}
		for j, p := range t.Proxies {
			if p == "" {
				return fmt.Errorf("targets[%d] %q: proxies[%d] is empty", i, t.Host, j)
			}
		}
	}
	if cfg.HTTP.SnapshotTTL <= 0 {
		return fmt.Errorf("http.snapshot_ttl must be positive")
	}
	if cfg.Publish.Enabled {
		if cfg.Publish.RedisURL == "" {
			return fmt.Errorf("publish.redis_url is required when publishing is enabled")
		}
		if cfg.Publish.TTL <= 0 {
			return fmt.Errorf("publish.ttl must be positive")
		}
		if cfg.Publish.BufferSize <= 0 {
			return fmt.Errorf("publish.buffer_size must be positive")
		}
	}
	return nil
}
