package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Workspace WorkspaceConfig
	Executor  ExecutorConfig
	Terminal  TerminalConfig
	Store     StoreConfig
	Events    EventsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	Format      string `envconfig:"LOG_FORMAT"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// WorkspaceConfig locates the project and the startup policy files.
// Empty file paths select the built-in tool registry and permission policy.
type WorkspaceConfig struct {
	ProjectRoot          string   `envconfig:"NOCODO_PROJECT_ROOT" default:"."`
	ToolsFile            string   `envconfig:"NOCODO_TOOLS_FILE"`
	PolicyFile           string   `envconfig:"NOCODO_POLICY_FILE"`
	AllowedDirs          []string `envconfig:"NOCODO_ALLOWED_DIRS"`
	ProtectSensitiveDirs bool     `envconfig:"NOCODO_PROTECT_SENSITIVE_DIRS" default:"true"`
}

// ExecutorConfig bounds one-shot bash calls.
type ExecutorConfig struct {
	Shell          string        `envconfig:"BASH_SHELL" default:"bash"`
	DefaultTimeout time.Duration `envconfig:"BASH_DEFAULT_TIMEOUT" default:"120s"`
	MaxTimeout     time.Duration `envconfig:"BASH_MAX_TIMEOUT" default:"10m"`
	MaxOutputBytes int           `envconfig:"BASH_MAX_OUTPUT" default:"10485760"`
	KillGrace      time.Duration `envconfig:"KILL_GRACE" default:"2s"`
}

// TerminalConfig bounds interactive PTY sessions.
type TerminalConfig struct {
	TranscriptCap int           `envconfig:"TERMINAL_TRANSCRIPT_CAP" default:"20971520"`
	IdleTimeout   time.Duration `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"10m"`
	Retention     time.Duration `envconfig:"TERMINAL_RETENTION" default:"30m"`
	SinkQueue     int           `envconfig:"TERMINAL_SINK_QUEUE" default:"256"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"memory"`
	DSN    string `envconfig:"STORE_DSN"`
	// MemorySessions caps the records the memory backend keeps.
	MemorySessions int `envconfig:"STORE_MEMORY_SESSIONS" default:"256"`
}

// EventsConfig configures lifecycle event publishing. An empty URL disables it.
type EventsConfig struct {
	NATSURL       string `envconfig:"NATS_URL"`
	SubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"nocodo.sessions"`
	ClientName    string `envconfig:"NATS_CLIENT_NAME" default:"nocodo-backend"`
	MaxReconnects int    `envconfig:"NATS_MAX_RECONNECTS" default:"10"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values that would make the executor or terminal unusable.
func (c *Config) Validate() error {
	switch {
	case c.Executor.DefaultTimeout <= 0:
		return fmt.Errorf("BASH_DEFAULT_TIMEOUT must be positive")
	case c.Executor.MaxTimeout < c.Executor.DefaultTimeout:
		return fmt.Errorf("BASH_MAX_TIMEOUT must be at least BASH_DEFAULT_TIMEOUT")
	case c.Executor.MaxOutputBytes <= 0:
		return fmt.Errorf("BASH_MAX_OUTPUT must be positive")
	case c.Executor.KillGrace <= 0:
		return fmt.Errorf("KILL_GRACE must be positive")
	case c.Terminal.TranscriptCap <= 0:
		return fmt.Errorf("TERMINAL_TRANSCRIPT_CAP must be positive")
	case c.Terminal.IdleTimeout <= 0:
		return fmt.Errorf("TERMINAL_IDLE_TIMEOUT must be positive")
	case c.Terminal.SinkQueue <= 0:
		return fmt.Errorf("TERMINAL_SINK_QUEUE must be positive")
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Workspace: WorkspaceConfig{
			ProjectRoot:          ".",
			ProtectSensitiveDirs: true,
		},
		Executor: ExecutorConfig{
			Shell:          "bash",
			DefaultTimeout: 120 * time.Second,
			MaxTimeout:     10 * time.Minute,
			MaxOutputBytes: 10 << 20,
			KillGrace:      2 * time.Second,
		},
		Terminal: TerminalConfig{
			TranscriptCap: 20 << 20,
			IdleTimeout:   10 * time.Minute,
			Retention:     30 * time.Minute,
			SinkQueue:     256,
		},
		Store: StoreConfig{
			Driver:         "memory",
			MemorySessions: 256,
		},
		Events: EventsConfig{
			SubjectPrefix: "nocodo.sessions",
			ClientName:    "nocodo-backend",
			MaxReconnects: 10,
		},
	}
}
