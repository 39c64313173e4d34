package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/interfaces"
)

// Config represents the scanner's application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production" - SQLite reset_on_startup only takes effect in "development"
	Server      ServerConfig    `toml:"server"`
	SQLite      SQLiteConfig    `toml:"sqlite"`
	Badger      BadgerConfig    `toml:"badger"`
	Logging     LoggingConfig   `toml:"logging"`
	Queue       QueueConfig     `toml:"queue"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Security    SecurityConfig  `toml:"security"`
	Retention   RetentionConfig `toml:"retention"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// SQLiteConfig controls the embedded relational store holding scan jobs,
// discovered images, checkpoints, and aggregate stats.
type SQLiteConfig struct {
	Path            string `toml:"path"`
	Environment     string `toml:"-"` // populated from Config.Environment at load time
	ResetOnStartup  bool   `toml:"reset_on_startup"`
	CacheSizeMB     int    `toml:"cache_size_mb"`
	BusyTimeoutMS   int    `toml:"busy_timeout_ms"`
	WALMode         bool   `toml:"wal_mode"`
}

// BadgerConfig backs the high-churn per-IP cooldown and rate-limit counters.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Format        string   `toml:"format"`           // "json" or "text"
	Output        []string `toml:"output"`           // "stdout", "file", "memory"
	TimeFormat    string   `toml:"time_format"`      // Time format for logs (default: "15:04:05.000")
	FilePath      string   `toml:"file_path"`        // Path for file output, when enabled
	MinEventLevel string   `toml:"min_event_level"`  // Minimum level forwarded to the push layer's debug stream
}

// QueueConfig governs fair-share admission, priority, and aging of scan jobs.
type QueueConfig struct {
	MaxConcurrentScans    int    `toml:"max_concurrent_scans"`
	MaxQueueSize          int    `toml:"max_queue_size"`
	MaxQueuedJobsPerIP    int    `toml:"max_queued_jobs_per_ip"`
	FairnessSlotSeconds   int64  `toml:"fairness_slot_seconds"`
	AgingBoostSeconds     int64  `toml:"aging_boost_seconds"`
	AgingIntervalSeconds  int    `toml:"aging_interval_seconds"`
	CooldownSeconds       int    `toml:"cooldown_seconds"`
	PollInterval          string `toml:"poll_interval"` // e.g. "1s" - queue processor tick fallback
	TicksPerSecond        int64  `toml:"ticks_per_second"`
}

// CrawlerConfig governs the browser-driven crawl engine.
type CrawlerConfig struct {
	UserAgent               string        `toml:"user_agent"`
	MaxPagesPerScan         int           `toml:"max_pages_per_scan"`
	PageTimeoutSeconds      int           `toml:"page_timeout_seconds"`
	NavigationMaxWait       time.Duration `toml:"navigation_max_wait"`
	NetworkQuiesceWindow    time.Duration `toml:"network_quiesce_window"`
	PostLoadGracePeriod     time.Duration `toml:"post_load_grace_period"`
	MaxScanDuration         time.Duration `toml:"max_scan_duration"`
	MaxRetries              int           `toml:"max_retries"`
	InitialBackoff          time.Duration `toml:"initial_backoff"`
	MaxBackoff              time.Duration `toml:"max_backoff"`
	BackoffMultiplier       float64       `toml:"backoff_multiplier"`
	MaxPageSizeBytes        int64         `toml:"max_page_size_bytes"`
	MaxRequestsPerPage      int           `toml:"max_requests_per_page"`
	CheckpointIntervalPages int           `toml:"checkpoint_interval_pages"`
	AllowedCDNDomains       []string      `toml:"allowed_cdn_domains"`
	FollowRobotsTxt         bool          `toml:"follow_robots_txt"`
	DelayBetweenPagesMS     int           `toml:"delay_between_pages_ms"`
	HeadlessArgs            []string      `toml:"headless_args"`
}

// SecurityConfig governs admission/SSRF and ingress rate limits.
type SecurityConfig struct {
	EnforceHTTPS         bool `toml:"enforce_https"`
	MaxRequestsPerMinute int  `toml:"max_requests_per_minute"`
}

// RetentionConfig governs cleanup of completed scans and derived artifacts.
type RetentionConfig struct {
	RetentionHours    int    `toml:"retention_hours"`
	Schedule          string `toml:"schedule"` // cron expression, default hourly
	MaxDeletesPerRun  int    `toml:"max_deletes_per_run"`
	BundleDir         string `toml:"bundle_dir"`
	BundleExpiryHours int    `toml:"bundle_expiry_hours"`
}

// WebSocketConfig governs the progress push layer.
type WebSocketConfig struct {
	Path              string `toml:"path"` // push channel path, e.g. "/hubs/scanprogress"
	WriteTimeout      time.Duration `toml:"write_timeout"`
	SendBufferSize    int           `toml:"send_buffer_size"`
}

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		SQLite: SQLiteConfig{
			Path:          "./data/scanner.db",
			CacheSizeMB:   64,
			BusyTimeoutMS: 5000,
			WALMode:       true,
		},
		Badger: BadgerConfig{
			Path: "./data/kv",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			TimeFormat:    "15:04:05.000",
			FilePath:      "./data/logs/scanner.log",
			MinEventLevel: "info",
		},
		Queue: QueueConfig{
			MaxConcurrentScans:   3,
			MaxQueueSize:         200,
			MaxQueuedJobsPerIP:   5,
			FairnessSlotSeconds:  3600,
			AgingBoostSeconds:    30,
			AgingIntervalSeconds: 15,
			CooldownSeconds:      10,
			PollInterval:         "1s",
			TicksPerSecond:       1,
		},
		Crawler: CrawlerConfig{
			UserAgent:               "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 WebPScanner/1.0",
			MaxPagesPerScan:         50,
			PageTimeoutSeconds:      30,
			NavigationMaxWait:       5 * time.Second,
			NetworkQuiesceWindow:    500 * time.Millisecond,
			PostLoadGracePeriod:     300 * time.Millisecond,
			MaxScanDuration:         10 * time.Minute,
			MaxRetries:              3,
			InitialBackoff:          1 * time.Second,
			MaxBackoff:              30 * time.Second,
			BackoffMultiplier:       2.0,
			MaxPageSizeBytes:        20 * 1024 * 1024,
			MaxRequestsPerPage:      500,
			CheckpointIntervalPages: 10,
			AllowedCDNDomains:       []string{},
			FollowRobotsTxt:         true,
			DelayBetweenPagesMS:     0,
			HeadlessArgs:            []string{"--disable-gpu", "--no-sandbox"},
		},
		Security: SecurityConfig{
			EnforceHTTPS:         false,
			MaxRequestsPerMinute: 30,
		},
		Retention: RetentionConfig{
			RetentionHours:    24 * 7,
			Schedule:          "0 0 * * * *",
			MaxDeletesPerRun:  500,
			BundleDir:         "./data/bundles",
			BundleExpiryHours: 24,
		},
		WebSocket: WebSocketConfig{
			Path:           "/hubs/scanprogress",
			WriteTimeout:   5 * time.Second,
			SendBufferSize: 32,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(kvStorage interfaces.KeyValueStorage, path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles(kvStorage)
	}
	return LoadFromFiles(kvStorage, path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override earlier
// ones. kvStorage may be nil, in which case key replacement is skipped.
func LoadFromFiles(kvStorage interfaces.KeyValueStorage, paths ...string) (*Config, error) {
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

	if kvStorage != nil {
		ctx := context.Background()
		kvMap, err := kvStorage.GetAll(ctx)
		if err != nil {
			logger := arbor.NewLogger()
			logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
		} else {
			logger := arbor.NewLogger()
			if err := ReplaceInStruct(config, kvMap, logger); err != nil {
				logger.Warn().Err(err).Msg("Failed to replace key references in config")
			} else {
				logger.Info().Int("keys", len(kvMap)).Msg("Applied key/value replacements to config")
			}
		}
	}

	applyEnvOverrides(config)
	config.SQLite.Environment = config.Environment

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SCANNER_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("SCANNER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SCANNER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if path := os.Getenv("SCANNER_SQLITE_PATH"); path != "" {
		config.SQLite.Path = path
	}
	if path := os.Getenv("SCANNER_BADGER_PATH"); path != "" {
		config.Badger.Path = path
	}

	if level := os.Getenv("SCANNER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("SCANNER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if v := os.Getenv("SCANNER_MAX_CONCURRENT_SCANS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.MaxConcurrentScans = n
		}
	}
	if v := os.Getenv("SCANNER_MAX_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.MaxQueueSize = n
		}
	}
	if v := os.Getenv("SCANNER_MAX_QUEUED_JOBS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.MaxQueuedJobsPerIP = n
		}
	}

	if v := os.Getenv("SCANNER_MAX_PAGES_PER_SCAN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Crawler.MaxPagesPerScan = n
		}
	}
	if v := os.Getenv("SCANNER_PAGE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Crawler.PageTimeoutSeconds = n
		}
	}

	if v := os.Getenv("SCANNER_MAX_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Security.MaxRequestsPerMinute = n
		}
	}
	if v := os.Getenv("SCANNER_ENFORCE_HTTPS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Security.EnforceHTTPS = b
		}
	}

	if v := os.Getenv("SCANNER_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Retention.RetentionHours = n
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config. CLI flags
// are the highest-priority layer.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Helper functions for string manipulation (kept free of extra dependencies
// since these run before any config is available to pick a library from).
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// ValidateCronSchedule validates a cron schedule expression used by the
// retention sweeper.
func ValidateCronSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowPrivateTestURLs returns true outside production. The submission
// validator does not consult it: localhost and private-range URLs are
// rejected in every environment.
func (c *Config) AllowPrivateTestURLs() bool {
	return !c.IsProduction()
}

// DeepCloneConfig creates a deep copy of the Config struct so callers cannot
// mutate shared configuration state.
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}
	if len(c.Crawler.AllowedCDNDomains) > 0 {
		clone.Crawler.AllowedCDNDomains = make([]string, len(c.Crawler.AllowedCDNDomains))
		copy(clone.Crawler.AllowedCDNDomains, c.Crawler.AllowedCDNDomains)
	}
	if len(c.Crawler.HeadlessArgs) > 0 {
		clone.Crawler.HeadlessArgs = make([]string, len(c.Crawler.HeadlessArgs))
		copy(clone.Crawler.HeadlessArgs, c.Crawler.HeadlessArgs)
	}

	return &clone
}
