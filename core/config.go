package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// CORSConfig controls the gateway's CORS middleware.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// HTTPConfig bounds the gateway's HTTP server.
type HTTPConfig struct {
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	CORS              CORSConfig
}

// Config is the process-wide configuration, built once at startup and
// passed explicitly to every component.
type Config struct {
	Name    string
	Version string

	Port   int // gateway listen port
	WSPort int // 0 means the WebSocket shares the gateway port

	SafetyProfile          SafetyProfile
	RunDir                 string
	CutCooldown            time.Duration // breaker open cooldown
	MaxConcurrentDangerous int

	// Executor defaults, overridable by Aurora's imposed limits.
	MaxTimeMS       int64
	MaxRetries      int
	MaxFilesChanged int
	ParallelFanout  int

	RedisURL string // optional session index backend

	LogLevel    LogLevel
	Development bool

	HTTP HTTPConfig
}

// Option mutates a Config during construction.
type Option func(*Config) error

// DefaultConfig returns production-ready defaults matching the platform's
// documented environment variable defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:                   "operand",
		Version:                "0.1.0",
		Port:                   3333,
		SafetyProfile:          ProfileNormal,
		RunDir:                 "runs",
		CutCooldown:            30 * time.Second,
		MaxConcurrentDangerous: 1,
		MaxTimeMS:              5 * 60 * 1000,
		MaxRetries:             3,
		MaxFilesChanged:        200,
		ParallelFanout:         4,
		LogLevel:               InfoLevel,
		HTTP: HTTPConfig{
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID"},
				MaxAge:         86400,
			},
		},
	}
}

// NewConfig builds a Config from defaults, then environment, then options,
// in that precedence order (options win).
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironment() error {
	// API_PORT wins over the generic PORT when both are set.
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT=%q: %w", v, ErrInvalidConfiguration)
		}
		c.Port = port
	}
	if v := os.Getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("API_PORT=%q: %w", v, ErrInvalidConfiguration)
		}
		c.Port = port
	}
	if v := os.Getenv("WS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WS_PORT=%q: %w", v, ErrInvalidConfiguration)
		}
		c.WSPort = port
	}
	if v := os.Getenv("SAFETY_PROFILE"); v != "" {
		profile, err := ParseSafetyProfile(v)
		if err != nil {
			return err
		}
		c.SafetyProfile = profile
	}
	if v := os.Getenv("AURORA_CUT_COOLDOWN_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("AURORA_CUT_COOLDOWN_MS=%q: %w", v, ErrInvalidConfiguration)
		}
		c.CutCooldown = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("RUN_DIR"); v != "" {
		c.RunDir = v
	}
	if v := os.Getenv("MAX_CONCURRENT_DANGEROUS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("MAX_CONCURRENT_DANGEROUS=%q: %w", v, ErrInvalidConfiguration)
		}
		c.MaxConcurrentDangerous = n
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = ParseLogLevel(v)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range: %w", c.Port, ErrInvalidConfiguration)
	}
	if c.WSPort < 0 || c.WSPort > 65535 {
		return fmt.Errorf("ws port %d out of range: %w", c.WSPort, ErrInvalidConfiguration)
	}
	if c.RunDir == "" {
		return fmt.Errorf("run dir is required: %w", ErrInvalidConfiguration)
	}
	if c.ParallelFanout < 1 {
		return fmt.Errorf("parallel fanout %d must be >= 1: %w", c.ParallelFanout, ErrInvalidConfiguration)
	}
	return nil
}

// WithName sets the service name.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithPort sets the gateway port.
func WithPort(port int) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithSafetyProfile sets the danger policy.
func WithSafetyProfile(profile SafetyProfile) Option {
	return func(c *Config) error {
		p, err := ParseSafetyProfile(string(profile))
		if err != nil {
			return err
		}
		c.SafetyProfile = p
		return nil
	}
}

// WithRunDir sets the persisted-state root.
func WithRunDir(dir string) Option {
	return func(c *Config) error {
		c.RunDir = dir
		return nil
	}
}

// WithCutCooldown sets the breaker open cooldown.
func WithCutCooldown(d time.Duration) Option {
	return func(c *Config) error {
		c.CutCooldown = d
		return nil
	}
}

// WithMaxConcurrentDangerous sizes the dangerous-skill pool.
func WithMaxConcurrentDangerous(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("dangerous pool size %d must be >= 1: %w", n, ErrInvalidConfiguration)
		}
		c.MaxConcurrentDangerous = n
		return nil
	}
}

// WithRedisURL enables the redis-backed session index.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithLogLevel sets the log verbosity.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.LogLevel = ParseLogLevel(level)
		return nil
	}
}

// WithDevelopmentMode enables verbose request logging.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development = enabled
		return nil
	}
}

// WithCORS restricts allowed origins.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}
