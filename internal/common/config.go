package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment" validate:"required"` // "development" or "production" - reported to the upload endpoint as isDev
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Queue       QueueConfig      `toml:"queue"`
	Extraction  ExtractionConfig `toml:"extraction"`
	Upload      UploadConfig     `toml:"upload"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Output []string `toml:"output" validate:"dive,oneof=stdout console file"`
}

// QueueConfig holds the controller's scheduling limits.
type QueueConfig struct {
	MaxRetries     int    `toml:"max_retries" validate:"min=1"`     // Failures before a job stops being retried automatically
	MaxConcurrency int    `toml:"max_concurrency" validate:"min=1"` // Simultaneously active runners
	WakeDelay      string `toml:"wake_delay"`                       // e.g. "5s" - first apply cycle after boot
	WakeSchedule   string `toml:"wake_schedule"`                    // Optional cron expression for periodic apply cycles
}

// ExtractionConfig configures the page text extraction runner
type ExtractionConfig struct {
	Mode           string   `toml:"mode" validate:"oneof=chrome static"` // "chrome" renders JavaScript, "static" fetches HTML only
	SettleDelay    string   `toml:"settle_delay"`                        // Pause after page load before collecting text
	Timeout        string   `toml:"timeout"`                             // Per-job deadline, started at tab creation
	IgnoreElements []string `toml:"ignore_elements"`                     // Element names whose text is skipped
	Headless       bool     `toml:"headless"`
	NoSandbox      bool     `toml:"no_sandbox"`
	UserAgent      string   `toml:"user_agent"`
	ChromePath     string   `toml:"chrome_path"` // Empty = let chromedp find the browser
}

// UploadConfig configures the upload runner
type UploadConfig struct {
	Endpoint  string `toml:"endpoint" validate:"required,url"`
	Timeout   string `toml:"timeout"`
	RateLimit string `toml:"rate_limit"` // Minimum spacing between submissions, "0s" disables pacing
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Queue: QueueConfig{
			MaxRetries:     3,
			MaxConcurrency: 3,
			WakeDelay:      "5s",
			WakeSchedule:   "",
		},
		Extraction: ExtractionConfig{
			Mode:           "chrome",
			SettleDelay:    "5s",
			Timeout:        "60s",
			IgnoreElements: []string{"NOSCRIPT", "SCRIPT", "STYLE"},
			Headless:       true,
			NoSandbox:      false,
			UserAgent:      "",
		},
		Upload: UploadConfig{
			Endpoint:  "https://pagesponge.com/api/post",
			Timeout:   "30s",
			RateLimit: "0s",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PAGESPONGE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("PAGESPONGE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PAGESPONGE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("PAGESPONGE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("PAGESPONGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PAGESPONGE_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Queue configuration
	if maxRetries := os.Getenv("PAGESPONGE_QUEUE_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Queue.MaxRetries = mr
		}
	}
	if maxConcurrency := os.Getenv("PAGESPONGE_QUEUE_MAX_CONCURRENCY"); maxConcurrency != "" {
		if mc, err := strconv.Atoi(maxConcurrency); err == nil {
			config.Queue.MaxConcurrency = mc
		}
	}
	if wakeDelay := os.Getenv("PAGESPONGE_QUEUE_WAKE_DELAY"); wakeDelay != "" {
		config.Queue.WakeDelay = wakeDelay
	}
	if wakeSchedule := os.Getenv("PAGESPONGE_QUEUE_WAKE_SCHEDULE"); wakeSchedule != "" {
		config.Queue.WakeSchedule = wakeSchedule
	}

	// Extraction configuration
	if mode := os.Getenv("PAGESPONGE_EXTRACTION_MODE"); mode != "" {
		config.Extraction.Mode = mode
	}
	if settleDelay := os.Getenv("PAGESPONGE_EXTRACTION_SETTLE_DELAY"); settleDelay != "" {
		config.Extraction.SettleDelay = settleDelay
	}
	if timeout := os.Getenv("PAGESPONGE_EXTRACTION_TIMEOUT"); timeout != "" {
		config.Extraction.Timeout = timeout
	}
	if ignore := os.Getenv("PAGESPONGE_EXTRACTION_IGNORE_ELEMENTS"); ignore != "" {
		if elements := splitList(ignore); len(elements) > 0 {
			config.Extraction.IgnoreElements = elements
		}
	}
	if headless := os.Getenv("PAGESPONGE_EXTRACTION_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Extraction.Headless = h
		}
	}
	if noSandbox := os.Getenv("PAGESPONGE_EXTRACTION_NO_SANDBOX"); noSandbox != "" {
		if ns, err := strconv.ParseBool(noSandbox); err == nil {
			config.Extraction.NoSandbox = ns
		}
	}
	if chromePath := os.Getenv("PAGESPONGE_EXTRACTION_CHROME_PATH"); chromePath != "" {
		config.Extraction.ChromePath = chromePath
	}

	// Upload configuration
	if endpoint := os.Getenv("PAGESPONGE_UPLOAD_ENDPOINT"); endpoint != "" {
		config.Upload.Endpoint = endpoint
	}
	if timeout := os.Getenv("PAGESPONGE_UPLOAD_TIMEOUT"); timeout != "" {
		config.Upload.Timeout = timeout
	}
	if rateLimit := os.Getenv("PAGESPONGE_UPLOAD_RATE_LIMIT"); rateLimit != "" {
		config.Upload.RateLimit = rateLimit
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct tags and duration strings
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.wake_delay":        c.Queue.WakeDelay,
		"extraction.settle_delay": c.Extraction.SettleDelay,
		"extraction.timeout":      c.Extraction.Timeout,
		"upload.timeout":          c.Upload.Timeout,
		"upload.rate_limit":       c.Upload.RateLimit,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s: %w", key, err)
		}
	}

	if c.Queue.WakeSchedule != "" {
		if _, err := cron.ParseStandard(c.Queue.WakeSchedule); err != nil {
			return fmt.Errorf("invalid configuration: queue.wake_schedule: %w", err)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ParseDurationOr parses value, falling back to def when value is empty or invalid
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
