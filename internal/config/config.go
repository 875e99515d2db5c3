// Package config loads and validates the pipeline's YAML configuration,
// following the teacher's internal/config/providers.go shape: a typed
// struct tree with explicit Validate methods and plain-integer duration
// fields (seconds for the *_sec keys, milliseconds for backoff_ms),
// loaded via yaml.v3, unknown options rejected at decode time.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pipeline configuration.
type Config struct {
	Cache     CacheConfig               `yaml:"cache"`
	Global    GlobalConfig              `yaml:"global"`
	Vision    VisionConfig              `yaml:"vision"`
	REST      RESTConfig                `yaml:"rest"`
	Audit     AuditConfig               `yaml:"audit"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// CacheConfig addresses the on-disk cache root and retention policy.
type CacheConfig struct {
	Root      string `yaml:"root"`
	MaxAgeSec int    `yaml:"max_age_sec"` // advisory only; checksum is authoritative
}

// GlobalConfig holds settings shared by every provider.
type GlobalConfig struct {
	MaxConcurrentDownloads int    `yaml:"max_concurrent_downloads"`
	UserAgent              string `yaml:"user_agent"`
}

// VisionConfig addresses the bulk-archive HTTP source.
type VisionConfig struct {
	Host                  string `yaml:"host"`
	FreshnessThresholdSec int    `yaml:"freshness_threshold_sec"`
	Concurrency           int    `yaml:"concurrency"`
}

// RESTConfig addresses the paginated REST source.
type RESTConfig struct {
	BaseURLByMarket map[string]string `yaml:"base_url_by_market"`
	PageLimit       int               `yaml:"page_limit"`
	Concurrency     int               `yaml:"concurrency"`
}

// AuditConfig enables the optional Postgres quarantine audit trail.
type AuditConfig struct {
	DSN string `yaml:"dsn"`
}

// ProviderConfig tunes per-provider rate limiting, backoff, and circuit
// breaking, matching the teacher's ProviderConfig shape.
type ProviderConfig struct {
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	Backoff BackoffConfig `yaml:"backoff_ms"`
	Circuit CircuitConfig `yaml:"circuit"`
}

// BackoffConfig tunes exponential backoff for one provider, in
// milliseconds.
type BackoffConfig struct {
	BaseMS int `yaml:"base"`
	MaxMS  int `yaml:"max"`
}

// Base returns the configured base backoff as a Duration.
func (b BackoffConfig) Base() time.Duration { return time.Duration(b.BaseMS) * time.Millisecond }

// Max returns the configured max backoff as a Duration.
func (b BackoffConfig) Max() time.Duration { return time.Duration(b.MaxMS) * time.Millisecond }

// CircuitConfig tunes one provider's circuit breaker.
type CircuitConfig struct {
	ConsecutiveFailures uint32  `yaml:"consecutive_failures"`
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold"`
	IntervalSec         int     `yaml:"interval_sec"`
	TimeoutSec          int     `yaml:"timeout_sec"`
}

// Interval returns the configured breaker interval as a Duration.
func (c CircuitConfig) Interval() time.Duration { return time.Duration(c.IntervalSec) * time.Second }

// Timeout returns the configured breaker open-state timeout as a Duration.
func (c CircuitConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

// FreshnessThreshold returns Vision's publication-freshness cutoff.
func (v VisionConfig) FreshnessThreshold() time.Duration {
	return time.Duration(v.FreshnessThresholdSec) * time.Second
}

// MaxAge returns the cache's advisory max age.
func (c CacheConfig) MaxAge() time.Duration { return time.Duration(c.MaxAgeSec) * time.Second }

// Default returns a Config with the spec's documented safe-for-interactive
// defaults.
func Default() Config {
	return Config{
		Cache:  CacheConfig{Root: "./cache-data"},
		Global: GlobalConfig{MaxConcurrentDownloads: 32, UserAgent: "kline-fcp/1.0"},
		Vision: VisionConfig{Host: "data.binance.vision", FreshnessThresholdSec: 48 * 3600, Concurrency: 32},
		REST:   RESTConfig{PageLimit: 1000, Concurrency: 8},
	}
}

// Load reads and validates a YAML config file at path. Unknown fields are
// rejected by enabling strict decoding, matching the teacher's posture of
// never silently ignoring config typos.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Cache.Root == "" {
		return fmt.Errorf("cache.root cannot be empty")
	}
	if c.Global.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("global.max_concurrent_downloads must be positive")
	}
	if c.Vision.FreshnessThresholdSec <= 0 {
		return fmt.Errorf("vision.freshness_threshold_sec must be positive")
	}
	if c.REST.PageLimit <= 0 {
		return fmt.Errorf("rest.page_limit must be positive")
	}
	if c.REST.Concurrency <= 0 {
		return fmt.Errorf("rest.concurrency must be positive")
	}
	for name, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("providers.%s: %w", name, err)
		}
	}
	return nil
}

// Validate ensures a single provider's configuration is well-formed.
func (p *ProviderConfig) Validate() error {
	if p.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %v", p.RPS)
	}
	if p.Burst < int(p.RPS) {
		return fmt.Errorf("burst (%d) must be >= rps (%v)", p.Burst, p.RPS)
	}
	if p.Backoff.MaxMS > 0 && p.Backoff.MaxMS <= p.Backoff.BaseMS {
		return fmt.Errorf("backoff_ms.max (%d) must be > backoff_ms.base (%d)", p.Backoff.MaxMS, p.Backoff.BaseMS)
	}
	return nil
}
