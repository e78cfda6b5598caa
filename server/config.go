package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docparse/docparse"
)

// Config holds the full docparse service configuration.
type Config struct {
	Listen         string          `yaml:"listen"`
	Environment    string          `yaml:"environment"`
	LogLevel       string          `yaml:"log_level"`
	DBPath         string          `yaml:"db_path"`
	DocumentRoot   string          `yaml:"document_root"`
	MaxFileMB      int             `yaml:"max_file_mb"`
	ProcessTimeout time.Duration   `yaml:"process_timeout"`
	MaxConnections int             `yaml:"max_connections"`
	TrustProxy     bool            `yaml:"trust_proxy"`
	Telemetry      bool            `yaml:"telemetry"`
	CORS           CORSConfig      `yaml:"cors"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	URLFetch       URLFetchConfig  `yaml:"url_fetch"`
	MCP            MCPConfig       `yaml:"mcp"`
	Retention      RetentionConfig `yaml:"retention"`
}

// CORSConfig lists the browser origins allowed to call the API. One
// wildcard per origin is allowed ("https://*.vercel.app").
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig is the default rule seeded for both extraction
// endpoints. Rules already stored in the database win.
type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxRequests   int  `yaml:"max_requests"`
	WindowSeconds int  `yaml:"window_seconds"`
}

// URLFetchConfig configures POST /api/process-url.
type URLFetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	AllowPrivate bool          `yaml:"allow_private"` // tests and trusted intranets only
}

// MCPConfig toggles the streamable HTTP MCP endpoint at /mcp.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RetentionConfig bounds the observability tables, in days.
type RetentionConfig struct {
	EventDays  int `yaml:"event_days"`
	MetricDays int `yaml:"metric_days"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:         ":8080",
		Environment:    "development",
		LogLevel:       "info",
		DBPath:         "data/docparse.db",
		MaxFileMB:      int(docparse.MaxFileSize >> 20),
		ProcessTimeout: 120 * time.Second,
		MaxConnections: 256,
		CORS: CORSConfig{
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:8000",
				"https://*.vercel.app",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			MaxRequests:   10,
			WindowSeconds: 60,
		},
		URLFetch: URLFetchConfig{
			Timeout: 60 * time.Second,
		},
		MCP: MCPConfig{Enabled: true},
		Retention: RetentionConfig{
			EventDays:  30,
			MetricDays: 30,
		},
	}
}

// LoadConfig builds the configuration: defaults, then the YAML file at
// path (skipped when path is empty or the file does not exist), then
// environment overrides, then validation.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from PORT, LOG_LEVEL, ENVIRONMENT,
// FRONTEND_ORIGINS (comma-separated, appended), DOCPARSE_DB and TELEMETRY.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	for _, o := range strings.Split(getenv("FRONTEND_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.CORS.AllowedOrigins = append(c.CORS.AllowedOrigins, o)
		}
	}
	if v := getenv("DOCPARSE_DB"); v != "" {
		c.DBPath = v
	}
	if getenv("TELEMETRY") != "" {
		c.Telemetry = true
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.MaxFileMB <= 0 || int64(c.MaxFileMB) > docparse.MaxFileSize>>20 {
		return fmt.Errorf("max_file_mb must be between 1 and %d", docparse.MaxFileSize>>20)
	}
	if c.ProcessTimeout <= 0 {
		return fmt.Errorf("process_timeout must be > 0")
	}
	if c.URLFetch.Timeout <= 0 {
		return fmt.Errorf("url_fetch.timeout must be > 0")
	}
	if c.IsProduction() && c.URLFetch.AllowPrivate {
		return fmt.Errorf("url_fetch.allow_private is not allowed in production")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be >= 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowSeconds <= 0) {
		return fmt.Errorf("rate_limit: max_requests and window_seconds must be > 0")
	}
	if c.Retention.EventDays < 0 || c.Retention.MetricDays < 0 {
		return fmt.Errorf("retention days must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	for i, o := range c.CORS.AllowedOrigins {
		if strings.Count(o, "*") > 1 {
			return fmt.Errorf("cors.allowed_origins[%d]: at most one wildcard", i)
		}
	}
	return nil
}

// MaxFileBytes returns the upload ceiling in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) << 20 }

// IsProduction reports whether the service runs with ENVIRONMENT=production.
func (c *Config) IsProduction() bool { return c.Environment == "production" }
