// Package config provides configuration management for rapport.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// environment variables with the RAPPORT_ prefix. A .env file in the working
// directory is loaded into the environment first without overriding
// variables that are already set.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/scrypster/rapport/internal/backup"
	"github.com/scrypster/rapport/internal/llm"
	"github.com/scrypster/rapport/internal/logging"
	"github.com/scrypster/rapport/pkg/types"
)

// Config holds all configuration settings for rapport.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	LLM         LLMConfig         `yaml:"llm"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Personality PersonalityConfig `yaml:"personality"`
	Log         LogConfig         `yaml:"log"`
	Backup      BackupConfig      `yaml:"backup"`
	Inbox       InboxConfig       `yaml:"inbox"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host           string        `yaml:"host"`            // default: 127.0.0.1
	Port           int           `yaml:"port"`            // default: 8080
	Mode           string        `yaml:"mode"`            // development or production
	APIToken       string        `yaml:"api_token"`       // required in production
	RateLimit      int           `yaml:"rate_limit"`      // requests per minute per client; 0 disables
	ReadTimeout    time.Duration `yaml:"read_timeout"`    // default: 15s
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // default: 90s
	RequestTimeout time.Duration `yaml:"request_timeout"` // per-request deadline; default: 60s
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres or memory
	DSN    string `yaml:"dsn"`
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider           string        `yaml:"provider"` // groq, openai, gemini, anthropic, ollama
	Model              string        `yaml:"model"`
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RequestsPerMinute  int           `yaml:"requests_per_minute"`
	BreakerMaxFailures int           `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

// ExtractionConfig tunes the memory extractor.
type ExtractionConfig struct {
	MaxMessages    int     `yaml:"max_messages"`
	RepairAttempts int     `yaml:"repair_attempts"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

// PersonalityConfig tunes reply generation and comparison.
type PersonalityConfig struct {
	MaxTokens   int `yaml:"max_tokens"`
	Concurrency int `yaml:"concurrency"`
}

// LogConfig controls the base logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BackupConfig controls SQLite snapshots. Interval 0 disables the scheduler.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Hourly   int           `yaml:"keep_hourly"`
	Daily    int           `yaml:"keep_daily"`
	Weekly   int           `yaml:"keep_weekly"`
	Monthly  int           `yaml:"keep_monthly"`
}

// InboxConfig controls the transcript drop directory. An empty Dir disables it.
type InboxConfig struct {
	Dir string `yaml:"dir"`
}

// CleanupConfig controls the purge of old conversations, comparison entries
// and events. Interval 0 disables the scheduler.
type CleanupConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`  // default: 720h
	Interval time.Duration `yaml:"interval"` // time between purges
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			Mode:           "development",
			RateLimit:      60,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   90 * time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "./data/rapport.db",
		},
		LLM: LLMConfig{
			Provider:           "groq",
			Timeout:            30 * time.Second,
			MaxRetries:         3,
			RequestsPerMinute:  30,
			BreakerMaxFailures: 3,
			BreakerTimeout:     30 * time.Second,
		},
		Extraction: ExtractionConfig{
			MaxMessages:    types.MaxMessages,
			RepairAttempts: 2,
			MaxTokens:      2000,
			Temperature:    0.3,
		},
		Personality: PersonalityConfig{
			MaxTokens:   500,
			Concurrency: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backup: BackupConfig{
			Dir: "./data/backups",
		},
		Cleanup: CleanupConfig{
			MaxAge: 30 * 24 * time.Hour,
		},
	}
}

// Load reads configuration from the YAML file at path (optional when empty),
// a .env file in the working directory (when present) and the environment.
func Load(path string) (*Config, error) {
	return LoadFiles(path, ".env")
}

// LoadFiles is Load with an explicit .env path. A missing envFile is ignored;
// a missing YAML file is an error.
func LoadFiles(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: failed to load %s: %w", envFile, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("RAPPORT_HOST", s.Host)
	s.Port = getEnvInt("RAPPORT_PORT", s.Port)
	s.Mode = getEnv("RAPPORT_MODE", s.Mode)
	s.APIToken = getEnv("RAPPORT_API_TOKEN", s.APIToken)
	s.RateLimit = getEnvInt("RAPPORT_RATE_LIMIT", s.RateLimit)
	s.ReadTimeout = getEnvDuration("RAPPORT_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("RAPPORT_WRITE_TIMEOUT", s.WriteTimeout)
	s.RequestTimeout = getEnvDuration("RAPPORT_REQUEST_TIMEOUT", s.RequestTimeout)

	c.Storage.Driver = getEnv("RAPPORT_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("RAPPORT_STORAGE_DSN", c.Storage.DSN)

	l := &c.LLM
	l.Provider = getEnv("RAPPORT_LLM_PROVIDER", l.Provider)
	l.Model = getEnv("RAPPORT_LLM_MODEL", getEnv("GROQ_MODEL", l.Model))
	l.BaseURL = getEnv("RAPPORT_LLM_BASE_URL", l.BaseURL)
	l.APIKey = getEnv("RAPPORT_LLM_API_KEY", getEnv("GROQ_API_KEY", l.APIKey))
	l.Timeout = getEnvDuration("RAPPORT_LLM_TIMEOUT", l.Timeout)
	l.MaxRetries = getEnvInt("RAPPORT_LLM_MAX_RETRIES", l.MaxRetries)
	l.RequestsPerMinute = getEnvInt("RAPPORT_LLM_REQUESTS_PER_MINUTE", l.RequestsPerMinute)
	l.BreakerMaxFailures = getEnvInt("RAPPORT_LLM_BREAKER_MAX_FAILURES", l.BreakerMaxFailures)
	l.BreakerTimeout = getEnvDuration("RAPPORT_LLM_BREAKER_TIMEOUT", l.BreakerTimeout)

	e := &c.Extraction
	e.MaxMessages = getEnvInt("RAPPORT_EXTRACTION_MAX_MESSAGES", e.MaxMessages)
	e.RepairAttempts = getEnvInt("RAPPORT_EXTRACTION_REPAIR_ATTEMPTS", e.RepairAttempts)
	e.MaxTokens = getEnvInt("RAPPORT_EXTRACTION_MAX_TOKENS", e.MaxTokens)
	e.Temperature = getEnvFloat("RAPPORT_EXTRACTION_TEMPERATURE", e.Temperature)

	c.Personality.MaxTokens = getEnvInt("RAPPORT_PERSONALITY_MAX_TOKENS", c.Personality.MaxTokens)
	c.Personality.Concurrency = getEnvInt("RAPPORT_PERSONALITY_CONCURRENCY", c.Personality.Concurrency)

	c.Log.Level = getEnv("RAPPORT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("RAPPORT_LOG_FORMAT", c.Log.Format)

	c.Backup.Dir = getEnv("RAPPORT_BACKUP_DIR", c.Backup.Dir)
	c.Backup.Interval = getEnvDuration("RAPPORT_BACKUP_INTERVAL", c.Backup.Interval)
	c.Inbox.Dir = getEnv("RAPPORT_INBOX_DIR", c.Inbox.Dir)
	c.Cleanup.MaxAge = getEnvDuration("RAPPORT_CLEANUP_MAX_AGE", c.Cleanup.MaxAge)
	c.Cleanup.Interval = getEnvDuration("RAPPORT_CLEANUP_INTERVAL", c.Cleanup.Interval)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "development":
	case "production":
		if c.Server.APIToken == "" {
			fail("server.api_token is required in production mode")
		}
	default:
		fail("server.mode must be development or production, got %q", c.Server.Mode)
	}
	if c.Server.RateLimit < 0 {
		fail("server.rate_limit must not be negative")
	}
	if c.Server.RequestTimeout <= 0 {
		fail("server.request_timeout must be positive")
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			fail("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		fail("storage.driver must be sqlite, postgres or memory, got %q", c.Storage.Driver)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "ollama":
	case "groq", "openai", "gemini", "anthropic":
		if c.LLM.APIKey == "" {
			fail("llm.api_key is required for the %s provider", c.LLM.Provider)
		}
	default:
		fail("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		fail("llm.max_retries must not be negative")
	}

	if c.Extraction.MaxMessages < 1 || c.Extraction.MaxMessages > types.MaxMessages {
		fail("extraction.max_messages must be between 1 and %d, got %d", types.MaxMessages, c.Extraction.MaxMessages)
	}
	if c.Extraction.RepairAttempts < 0 {
		fail("extraction.repair_attempts must not be negative")
	}
	if c.Extraction.Temperature < 0 || c.Extraction.Temperature > 2 {
		fail("extraction.temperature must be between 0 and 2")
	}
	if c.Personality.Concurrency < 1 {
		fail("personality.concurrency must be at least 1")
	}

	if c.Backup.Interval < 0 {
		fail("backup.interval must not be negative")
	}
	if c.Backup.Interval > 0 && c.Storage.Driver != "sqlite" {
		fail("backup.interval requires the sqlite driver")
	}

	if c.Cleanup.Interval < 0 {
		fail("cleanup.interval must not be negative")
	}
	if c.Cleanup.MaxAge <= 0 {
		fail("cleanup.max_age must be positive")
	}

	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		fail("log.format must be text, json or logfmt, got %q", c.Log.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Mode == "production"
}

// ProviderConfig converts the LLM settings for llm.NewGateway.
func (l LLMConfig) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:           l.Provider,
		APIKey:             l.APIKey,
		Model:              l.Model,
		BaseURL:            l.BaseURL,
		Timeout:            l.Timeout,
		BreakerMaxFailures: uint32(max(l.BreakerMaxFailures, 0)),
		BreakerTimeout:     l.BreakerTimeout,
		Retry: llm.RetryConfig{
			MaxRetries:        uint64(max(l.MaxRetries, 0)),
			RequestsPerMinute: l.RequestsPerMinute,
		},
	}
}

// LoggingConfig converts the log settings for logging.New.
func (l LogConfig) LoggingConfig() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format}
}

// ServiceConfig converts the backup settings for backup.New against the
// sqlite database at dbPath.
func (b BackupConfig) ServiceConfig(dbPath string) backup.Config {
	return backup.Config{
		DBPath:   dbPath,
		Dir:      b.Dir,
		Interval: b.Interval,
		Retention: backup.RetentionPolicy{
			Hourly:  b.Hourly,
			Daily:   b.Daily,
			Weekly:  b.Weekly,
			Monthly: b.Monthly,
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
