package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Stream    StreamConfig    `yaml:"stream"`
	Acks      AckConfig       `yaml:"acks"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// StorageConfig selects and configures the state store.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // "bolt" or "postgres"
	DataDir     string `yaml:"dataDir"`
	PostgresDSN string `yaml:"postgresDsn"`
}

// BroadcastConfig controls fan-out buffering and the optional redis bridge.
// RedisAddr empty means in-process delivery only.
type BroadcastConfig struct {
	BufferSize    int    `yaml:"bufferSize"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	ChannelPrefix string `yaml:"channelPrefix"`
}

// StreamConfig controls live delivery channels.
type StreamConfig struct {
	PollInterval      Duration `yaml:"pollInterval"`
	HeartbeatInterval Duration `yaml:"heartbeatInterval"`
	MaxConnections    int      `yaml:"maxConnections"`
}

// AckConfig controls acknowledgment deadlines and the expiry sweeper.
// SweepInterval zero disables sweeping.
type AckConfig struct {
	DefaultDeadline Duration `yaml:"defaultDeadline"`
	SweepInterval   Duration `yaml:"sweepInterval"`
}

// AuthConfig selects the caller identity provider.
type AuthConfig struct {
	Mode            string `yaml:"mode"` // "none" or "jwt"
	JWTSecret       string `yaml:"jwtSecret"`
	AllowUserHeader bool   `yaml:"allowUserHeader"`
}

// RateLimitConfig bounds per-caller request rates. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// LogConfig controls log level and format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file or flags override it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Driver:  "bolt",
			DataDir: "/var/lib/hivesync",
		},
		Broadcast: BroadcastConfig{
			BufferSize:    100,
			ChannelPrefix: "hivesync:",
		},
		Stream: StreamConfig{
			PollInterval:      Duration(2 * time.Second),
			HeartbeatInterval: Duration(30 * time.Second),
			MaxConnections:    1024,
		},
		Acks: AckConfig{
			DefaultDeadline: Duration(time.Hour),
			SweepInterval:   Duration(time.Minute),
		},
		Auth: AuthConfig{
			Mode:            "none",
			AllowUserHeader: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "bolt":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.dataDir is required for the bolt driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgresDsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}

	if c.Stream.PollInterval <= 0 {
		return fmt.Errorf("stream.pollInterval must be positive")
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("stream.heartbeatInterval must be positive")
	}
	if c.Acks.DefaultDeadline <= 0 {
		return fmt.Errorf("acks.defaultDeadline must be positive")
	}
	if c.Acks.SweepInterval < 0 {
		return fmt.Errorf("acks.sweepInterval must be zero or positive")
	}

	switch c.Auth.Mode {
	case "", "none":
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwtSecret is required for jwt mode")
		}
	default:
		return fmt.Errorf("unknown auth mode: %s", c.Auth.Mode)
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rateLimit.requestsPerSecond must be zero or positive")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rateLimit.burst must be positive when limiting is enabled")
	}

	return nil
}
