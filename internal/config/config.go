package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Profiles  ProfilesConfig   `yaml:"profiles"`
	Discovery DiscoveryConfig  `yaml:"discovery"`
	Detection DetectionConfig  `yaml:"detection"`
	Parse     ParseConfig      `yaml:"parse"`
	Scan      ScanConfig       `yaml:"scan"`
	Tail      TailConfig       `yaml:"tail"`
	Watch     WatchConfig      `yaml:"watch"`
	Retry     *RetryConfig     `yaml:"retry,omitempty"`
	Breaker   *BreakerConfig   `yaml:"circuit_breaker,omitempty"`
	Metrics   *MetricsConfig   `yaml:"metrics,omitempty"`
	Health    *HealthConfig    `yaml:"health,omitempty"`
	Tracing   *TracingConfig   `yaml:"tracing,omitempty"`
	Profiling *ProfilingConfig `yaml:"profiling,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// ProfilesConfig controls loading of format profiles
type ProfilesConfig struct {
	// Dir holds user profiles overriding builtins by id. Empty means
	// builtins only.
	Dir              string `yaml:"dir,omitempty"`
	HotReload        bool   `yaml:"hot_reload,omitempty"`
	MaxProfiles      int    `yaml:"max_profiles,omitempty"`
	MaxFileSize      int64  `yaml:"max_file_size,omitempty"`
	MaxPatternLength int    `yaml:"max_pattern_length,omitempty"`
}

// DiscoveryConfig controls the directory walk
type DiscoveryConfig struct {
	IncludePatterns    []string `yaml:"include_patterns,omitempty"`
	ExcludePatterns    []string `yaml:"exclude_patterns,omitempty"`
	MaxDepth           int      `yaml:"max_depth,omitempty"`
	MaxFiles           int      `yaml:"max_files,omitempty"`
	LargeFileThreshold int64    `yaml:"large_file_threshold,omitempty"`
}

// DetectionConfig controls profile auto-detection
type DetectionConfig struct {
	SampleLines   int     `yaml:"sample_lines,omitempty"`
	MinConfidence float64 `yaml:"min_confidence,omitempty"`
	FilenameBonus float64 `yaml:"filename_bonus,omitempty"`
	Workers       int     `yaml:"workers,omitempty"`
}

// ParseConfig bounds the per-file parser
type ParseConfig struct {
	ChunkSize             int `yaml:"chunk_size,omitempty"`
	MaxEntrySize          int `yaml:"max_entry_size,omitempty"`
	MaxParseErrorsPerFile int `yaml:"max_parse_errors_per_file,omitempty"`
}

// ScanConfig bounds a whole scan session
type ScanConfig struct {
	MaxTotalEntries     int `yaml:"max_total_entries,omitempty"`
	MaxTotalParseErrors int `yaml:"max_total_parse_errors,omitempty"`
	EntryBatchSize      int `yaml:"entry_batch_size,omitempty"`
}

// TailConfig controls live file following
type TailConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
	MaxReadPerTick int64         `yaml:"max_read_per_tick,omitempty"`
	MaxLineBuffer  int           `yaml:"max_line_buffer,omitempty"`
	// RateLimit bounds read bandwidth across all tailed files in
	// bytes per second. Zero disables the limiter.
	RateLimit int64 `yaml:"rate_limit,omitempty"`
}

// WatchConfig controls directory watching
type WatchConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	BatchSize    int           `yaml:"batch_size,omitempty"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty"`
	Jitter         bool          `yaml:"jitter,omitempty"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests,omitempty"`
	Interval         time.Duration `yaml:"interval,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	FailureThreshold uint32        `yaml:"failure_threshold,omitempty"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path,omitempty"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Address            string `yaml:"address"`
	CPUProfilePath     string `yaml:"cpu_profile,omitempty"`
	MemProfilePath     string `yaml:"mem_profile,omitempty"`
	BlockProfile       bool   `yaml:"block_profile"`
	MutexProfile       bool   `yaml:"mutex_profile"`
	GoroutineThreshold int    `yaml:"goroutine_threshold"`
}

// Default values
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMaxDepth           = 10
	AbsoluteMaxDepth          = 50
	DefaultMaxFiles           = 500
	AbsoluteMaxFiles          = 10000
	DefaultLargeFileThreshold = 100 * 1024 * 1024

	DefaultSampleLines   = 20
	DefaultMinConfidence = 0.30
	DefaultFilenameBonus = 0.30

	DefaultChunkSize             = 64 * 1024
	DefaultMaxEntrySize          = 64 * 1024
	DefaultMaxParseErrorsPerFile = 1000
	DefaultMaxTotalParseErrors   = 10000
	DefaultMaxTotalEntries       = 1000000
	DefaultEntryBatchSize        = 500

	DefaultTailPollInterval   = 500 * time.Millisecond
	MinTailPollInterval       = 100 * time.Millisecond
	MaxTailPollInterval       = 10 * time.Second
	DefaultTailMaxReadPerTick = 512 * 1024
	DefaultTailMaxLineBuffer  = 64 * 1024

	DefaultWatchPollInterval = 2 * time.Second
	MinWatchPollInterval     = time.Second
	MaxWatchPollInterval     = 60 * time.Second
	DefaultWatchBatchSize    = 20

	DefaultMaxProfiles      = 100
	DefaultMaxProfileSize   = 64 * 1024
	DefaultMaxPatternLength = 4096

	DefaultMetricsAddress = ":9090"
	DefaultMetricsPath    = "/metrics"
	DefaultHealthAddress  = ":8085"

	DefaultProfilingAddress   = "localhost:6060"
	DefaultGoroutineThreshold = 10000
)

// DefaultIncludePatterns matches the common log file names.
func DefaultIncludePatterns() []string {
	return []string{"*.log", "*.log.[0-9]*", "*.txt"}
}

// DefaultExcludePatterns skips compressed archives and tooling
// directories. Directory names here are pruned before descent.
func DefaultExcludePatterns() []string {
	return []string{"*.gz", "*.zip", "*.bak", "*.tmp", "node_modules", ".git", "__pycache__"}
}

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration and
// clamps tunables into their allowed ranges.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Profiles.MaxProfiles <= 0 {
		c.Profiles.MaxProfiles = DefaultMaxProfiles
	}
	if c.Profiles.MaxFileSize <= 0 {
		c.Profiles.MaxFileSize = DefaultMaxProfileSize
	}
	if c.Profiles.MaxPatternLength <= 0 {
		c.Profiles.MaxPatternLength = DefaultMaxPatternLength
	}

	if len(c.Discovery.IncludePatterns) == 0 {
		c.Discovery.IncludePatterns = DefaultIncludePatterns()
	}
	if len(c.Discovery.ExcludePatterns) == 0 {
		c.Discovery.ExcludePatterns = DefaultExcludePatterns()
	}
	if c.Discovery.MaxDepth <= 0 {
		c.Discovery.MaxDepth = DefaultMaxDepth
	}
	if c.Discovery.MaxDepth > AbsoluteMaxDepth {
		c.Discovery.MaxDepth = AbsoluteMaxDepth
	}
	if c.Discovery.MaxFiles <= 0 {
		c.Discovery.MaxFiles = DefaultMaxFiles
	}
	if c.Discovery.MaxFiles > AbsoluteMaxFiles {
		c.Discovery.MaxFiles = AbsoluteMaxFiles
	}
	if c.Discovery.LargeFileThreshold <= 0 {
		c.Discovery.LargeFileThreshold = DefaultLargeFileThreshold
	}

	if c.Detection.SampleLines <= 0 {
		c.Detection.SampleLines = DefaultSampleLines
	}
	if c.Detection.MinConfidence <= 0 {
		c.Detection.MinConfidence = DefaultMinConfidence
	}
	if c.Detection.FilenameBonus <= 0 {
		c.Detection.FilenameBonus = DefaultFilenameBonus
	}
	if c.Detection.Workers <= 0 {
		c.Detection.Workers = 4
	}

	if c.Parse.ChunkSize <= 0 {
		c.Parse.ChunkSize = DefaultChunkSize
	}
	if c.Parse.MaxEntrySize <= 0 {
		c.Parse.MaxEntrySize = DefaultMaxEntrySize
	}
	if c.Parse.MaxParseErrorsPerFile <= 0 {
		c.Parse.MaxParseErrorsPerFile = DefaultMaxParseErrorsPerFile
	}

	if c.Scan.MaxTotalEntries <= 0 {
		c.Scan.MaxTotalEntries = DefaultMaxTotalEntries
	}
	if c.Scan.MaxTotalParseErrors <= 0 {
		c.Scan.MaxTotalParseErrors = DefaultMaxTotalParseErrors
	}
	if c.Scan.EntryBatchSize <= 0 {
		c.Scan.EntryBatchSize = DefaultEntryBatchSize
	}

	if c.Tail.PollInterval <= 0 {
		c.Tail.PollInterval = DefaultTailPollInterval
	}
	if c.Tail.PollInterval < MinTailPollInterval {
		c.Tail.PollInterval = MinTailPollInterval
	}
	if c.Tail.PollInterval > MaxTailPollInterval {
		c.Tail.PollInterval = MaxTailPollInterval
	}
	if c.Tail.MaxReadPerTick <= 0 {
		c.Tail.MaxReadPerTick = DefaultTailMaxReadPerTick
	}
	if c.Tail.MaxLineBuffer <= 0 {
		c.Tail.MaxLineBuffer = DefaultTailMaxLineBuffer
	}

	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = DefaultWatchPollInterval
	}
	if c.Watch.PollInterval < MinWatchPollInterval {
		c.Watch.PollInterval = MinWatchPollInterval
	}
	if c.Watch.PollInterval > MaxWatchPollInterval {
		c.Watch.PollInterval = MaxWatchPollInterval
	}
	if c.Watch.BatchSize <= 0 {
		c.Watch.BatchSize = DefaultWatchBatchSize
	}

	if c.Metrics != nil && c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			c.Metrics.Address = DefaultMetricsAddress
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = DefaultMetricsPath
		}
	}
	if c.Health != nil && c.Health.Enabled {
		if c.Health.Address == "" {
			c.Health.Address = DefaultHealthAddress
		}
		if c.Health.LivenessPath == "" {
			c.Health.LivenessPath = "/healthz"
		}
		if c.Health.ReadinessPath == "" {
			c.Health.ReadinessPath = "/ready"
		}
		if c.Health.Timeout <= 0 {
			c.Health.Timeout = 5 * time.Second
		}
	}
	if c.Profiling != nil && c.Profiling.Enabled {
		if c.Profiling.Address == "" {
			c.Profiling.Address = DefaultProfilingAddress
		}
		if c.Profiling.GoroutineThreshold <= 0 {
			c.Profiling.GoroutineThreshold = DefaultGoroutineThreshold
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Profiles.Dir != "" {
		info, err := os.Stat(c.Profiles.Dir)
		if err != nil {
			return fmt.Errorf("profile dir %s: %w", c.Profiles.Dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("profile dir %s is not a directory", c.Profiles.Dir)
		}
	}

	if c.Detection.MinConfidence > 1.0 {
		return fmt.Errorf("detection min_confidence %v out of range (0, 1]", c.Detection.MinConfidence)
	}
	if c.Detection.FilenameBonus > 1.0 {
		return fmt.Errorf("detection filename_bonus %v out of range (0, 1]", c.Detection.FilenameBonus)
	}

	if c.Retry != nil && c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}

	return nil
}

// LoadOrDefault loads configuration from file or returns a default configuration
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
	cfg.applyDefaults()
	return cfg
}
