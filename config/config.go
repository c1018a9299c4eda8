package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete service configuration.
type Config struct {
	// Server HTTP/metrics server settings
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Database relational store settings
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis quota limiter backend
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Auth JWT verification settings
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Pipeline validation pipeline settings
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Log logging settings
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OpenTelemetry settings
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// HTTP API port
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Prometheus metrics port
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Allowed CORS origins
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// Per-IP request rate limit
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Per-IP burst allowance
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	// Driver name: postgres or sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// Connection string
	DSN string `yaml:"dsn" env:"DSN"`
	// Pool sizing
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// RedisConfig holds the quota limiter backend settings. When disabled, the
// start endpoint falls back to an in-process fixed-window limiter.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// AuthConfig holds JWT bearer verification settings.
type AuthConfig struct {
	// HMAC signing secret for HS256 tokens
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// Expected issuer; empty disables the issuer check
	Issuer string `yaml:"issuer" env:"ISSUER"`
}

// AgentEndpoint configures one remote agent.
type AgentEndpoint struct {
	// URL of the agent's POST endpoint
	URL string `yaml:"url" env:"URL"`
	// Per-attempt hard timeout
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PipelineConfig holds the validation pipeline settings.
type PipelineConfig struct {
	// Budget is the aggregate wall-clock budget for one full run,
	// independent of any single agent's own timeout.
	Budget time.Duration `yaml:"budget" env:"BUDGET"`
	// RetryBackoff is the base delay before the single retry of a failed
	// agent attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	// ServiceToken is sent as a bearer token on every agent call.
	ServiceToken string `yaml:"service_token" env:"SERVICE_TOKEN"`
	// AgentBaseURL derives default agent endpoints as
	// {base}/agents/{stage} for stages without an explicit entry.
	AgentBaseURL string `yaml:"agent_base_url" env:"AGENT_BASE_URL"`
	// Agents maps stage name to its endpoint, overriding the derived URL.
	Agents map[string]AgentEndpoint `yaml:"agents"`
	// QuotaLimit is the number of pipeline starts allowed per caller per
	// QuotaWindow.
	QuotaLimit int `yaml:"quota_limit" env:"QUOTA_LIMIT"`
	// QuotaWindow is the fixed quota window.
	QuotaWindow time.Duration `yaml:"quota_window" env:"QUOTA_WINDOW"`
	// InputMinChars / InputMaxChars bound the sanitized input length.
	InputMinChars int `yaml:"input_min_chars" env:"INPUT_MIN_CHARS"`
	InputMaxChars int `yaml:"input_max_chars" env:"INPUT_MAX_CHARS"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// defaultAgentTimeouts are the per-stage hard timeouts. Agents are slow LLM
// calls; the composer is the most expensive stage.
var defaultAgentTimeouts = map[string]time.Duration{
	"extract":     30 * time.Second,
	"research":    60 * time.Second,
	"competitors": 60 * time.Second,
	"score":       45 * time.Second,
	"mvp":         45 * time.Second,
	"compose":     120 * time.Second,
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:           8080,
			MetricsPort:        9090,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			CORSAllowedOrigins: []string{"*"},
			RateLimitRPS:       10,
			RateLimitBurst:     20,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			DSN:             "host=localhost user=ventureflow dbname=ventureflow sslmode=disable",
			MaxIdleConns:    5,
			MaxOpenConns:    25,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Auth: AuthConfig{},
		Pipeline: PipelineConfig{
			Budget:        300 * time.Second,
			RetryBackoff:  time.Second,
			AgentBaseURL:  "http://localhost:8090",
			QuotaLimit:    5,
			QuotaWindow:   5 * time.Minute,
			InputMinChars: 10,
			InputMaxChars: 5000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "ventureflow",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// AgentEndpointFor resolves the endpoint for a stage, falling back to the
// URL derived from AgentBaseURL and the default timeout table.
func (p PipelineConfig) AgentEndpointFor(stage string) AgentEndpoint {
	ep, ok := p.Agents[stage]
	if !ok {
		ep = AgentEndpoint{}
	}
	if ep.URL == "" {
		ep.URL = strings.TrimRight(p.AgentBaseURL, "/") + "/agents/" + stage
	}
	if ep.Timeout <= 0 {
		if d, ok := defaultAgentTimeouts[stage]; ok {
			ep.Timeout = d
		} else {
			ep.Timeout = 60 * time.Second
		}
	}
	return ep
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Pipeline.Budget <= 0 {
		errs = append(errs, "pipeline budget must be positive")
	}
	if c.Pipeline.QuotaLimit <= 0 || c.Pipeline.QuotaWindow <= 0 {
		errs = append(errs, "pipeline quota must be positive")
	}
	if c.Pipeline.InputMinChars <= 0 || c.Pipeline.InputMaxChars <= c.Pipeline.InputMinChars {
		errs = append(errs, "invalid input length bounds")
	}
	for stage := range c.Pipeline.Agents {
		if _, ok := defaultAgentTimeouts[stage]; !ok {
			errs = append(errs, fmt.Sprintf("unknown agent stage %q", stage))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
