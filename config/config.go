package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Batch worker.
	QueueSize  int           // max queued batch jobs before backpressure; default: 16
	JobTimeout time.Duration // 0 = no timeout for async jobs
	ItemPause  time.Duration // pause between items; 0 = yield only

	// Validation limits.
	MaxFileBytes int64 // 0 = no limit

	// Encode defaults applied when batch settings leave them unset.
	DefaultQuality int // 1-100; default 85

	Search      SearchConfig
	Analyzer    AnalyzerConfig
	Accelerated AcceleratedConfig

	// Outer surfaces used by cmd/imgopt.
	Storage LocalConfig
	Server  ServerConfig

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"
}

// SearchConfig controls the target-size quality search.
type SearchConfig struct {
	MinQuality    int     // default 10
	MaxQuality    int     // default 95
	MaxIterations int     // default 10
	Tolerance     float64 // fraction of the target size; default 0.10
}

// AnalyzerConfig controls content analysis sampling.
type AnalyzerConfig struct {
	Stride int // sample every Nth pixel; default 10
}

// AcceleratedConfig controls the optional libvips compression pass.
type AcceleratedConfig struct {
	Enabled     bool
	CacheSize   int
	Concurrency int
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string
	Permissions uint32 // default 0644
}

// ServerConfig configures the HTTP endpoint of cmd/imgopt.
type ServerConfig struct {
	Listen       string
	MaxBodyBytes int
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		QueueSize:      16,
		MaxFileBytes:   50 * 1024 * 1024,
		DefaultQuality: 85,
		Search: SearchConfig{
			MinQuality:    10,
			MaxQuality:    95,
			MaxIterations: 10,
			Tolerance:     0.10,
		},
		Analyzer: AnalyzerConfig{Stride: 10},
		Storage: LocalConfig{
			RootDir:     "optimized",
			Permissions: 0o644,
		},
		Server: ServerConfig{
			Listen:       ":8080",
			MaxBodyBytes: 64 * 1024 * 1024,
		},
		LogLevel: "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 1 and 100")
	}
	if c.MaxFileBytes < 0 {
		return errors.New("config: MaxFileBytes must not be negative")
	}
	if c.Search.MinQuality < 1 || c.Search.MaxQuality > 100 {
		return errors.New("config: Search quality bounds must be within 1-100")
	}
	if c.Search.MinQuality >= c.Search.MaxQuality {
		return errors.New("config: Search.MinQuality must be less than MaxQuality")
	}
	if c.Search.MaxIterations <= 0 {
		return errors.New("config: Search.MaxIterations must be positive")
	}
	if c.Search.Tolerance <= 0 || c.Search.Tolerance >= 1 {
		return errors.New("config: Search.Tolerance must be in (0, 1)")
	}
	if c.Analyzer.Stride <= 0 {
		return errors.New("config: Analyzer.Stride must be positive")
	}
	return nil
}
