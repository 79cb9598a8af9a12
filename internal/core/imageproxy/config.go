package imageproxy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config validation errors
var (
	// ErrInvalidFetchTimeout is returned when FetchTimeout is not positive
	ErrInvalidFetchTimeout = errors.New("FetchTimeout must be positive")
	// ErrInvalidMaxOriginBytes is returned when MaxOriginBytes is not positive
	ErrInvalidMaxOriginBytes = errors.New("MaxOriginBytes must be positive")
	// ErrInvalidMaxOutputBytes is returned when MaxOutputBytes is not positive
	ErrInvalidMaxOutputBytes = errors.New("MaxOutputBytes must be positive")
	// ErrInvalidMaxInputPixels is returned when MaxInputPixels is not positive
	ErrInvalidMaxInputPixels = errors.New("MaxInputPixels must be positive")
	// ErrInvalidCacheTTL is returned when CacheTTL is shorter than one second
	ErrInvalidCacheTTL = errors.New("CacheTTL must be at least one second")
	// ErrInvalidLockTTL is returned when LockTTL does not outlast FetchTimeout
	ErrInvalidLockTTL = errors.New("LockTTL must exceed FetchTimeout")
	// ErrInvalidLockWait is returned when LockWaitTimeout is not positive
	ErrInvalidLockWait = errors.New("LockWaitTimeout must be positive")
	// ErrInvalidPollInterval is returned when PollInterval is not positive or not shorter than LockWaitTimeout
	ErrInvalidPollInterval = errors.New("PollInterval must be positive and shorter than LockWaitTimeout")
)

// Config holds the tunables of the proxy pipeline.
type Config struct {
	// FetchTimeout bounds the whole origin exchange, body included.
	FetchTimeout time.Duration

	// MaxOriginBytes caps the origin body, declared or streamed.
	MaxOriginBytes int64

	// MaxOutputBytes caps the transcoded image.
	MaxOutputBytes int64

	// MaxInputPixels caps width*height of the decoded source.
	MaxInputPixels int64

	// CacheTTL is how long transcoded images stay in the shared store.
	CacheTTL time.Duration

	// LockTTL is how long a lock survives a holder that never releases it.
	LockTTL time.Duration

	// LockWaitTimeout bounds how long a request waits for another worker.
	LockWaitTimeout time.Duration

	// PollInterval is the delay between cache polls while waiting.
	PollInterval time.Duration

	// AllowList holds the origin allow rules. At least one is required.
	AllowList []AllowRule
}

// DefaultConfig returns a Config with sensible default values. The allow
// list is empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:    5 * time.Second,
		MaxOriginBytes:  10 * 1024 * 1024,
		MaxOutputBytes:  10 * 1024 * 1024,
		MaxInputPixels:  16_000_000,
		CacheTTL:        time.Hour,
		LockTTL:         30 * time.Second,
		LockWaitTimeout: 10 * time.Second,
		PollInterval:    150 * time.Millisecond,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFetchTimeout, c.FetchTimeout)
	}
	if c.MaxOriginBytes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxOriginBytes, c.MaxOriginBytes)
	}
	if c.MaxOutputBytes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxOutputBytes, c.MaxOutputBytes)
	}
	if c.MaxInputPixels <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxInputPixels, c.MaxInputPixels)
	}
	if c.CacheTTL < time.Second {
		return fmt.Errorf("%w: got %v", ErrInvalidCacheTTL, c.CacheTTL)
	}
	if c.LockTTL <= c.FetchTimeout {
		return fmt.Errorf("%w: lock ttl %v, fetch timeout %v", ErrInvalidLockTTL, c.LockTTL, c.FetchTimeout)
	}
	if c.LockWaitTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidLockWait, c.LockWaitTimeout)
	}
	if c.PollInterval <= 0 || c.PollInterval >= c.LockWaitTimeout {
		return fmt.Errorf("%w: got %v", ErrInvalidPollInterval, c.PollInterval)
	}
	if len(c.AllowList) == 0 {
		return ErrEmptyAllowList
	}
	return nil
}

// fileConfig mirrors Config for YAML files. Zero values keep the base value.
type fileConfig struct {
	OriginTimeoutMS   int64    `yaml:"origin_timeout_ms"`
	OriginMaxBytes    int64    `yaml:"origin_max_bytes"`
	OutputMaxBytes    int64    `yaml:"output_max_bytes"`
	MaxInputPixels    int64    `yaml:"max_input_pixels"`
	CacheTTLSeconds   int64    `yaml:"cache_ttl_seconds"`
	LockTTLSeconds    int64    `yaml:"lock_ttl_seconds"`
	LockWaitTimeoutMS int64    `yaml:"lock_wait_timeout_ms"`
	LockRetryDelayMS  int64    `yaml:"lock_retry_delay_ms"`
	AllowedDomains    []string `yaml:"allowed_domains"`
}

// ParseConfigYAML overlays YAML data on base.
func ParseConfigYAML(base Config, data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("parse config: %w", err)
	}
	cfg := base
	if fc.OriginTimeoutMS > 0 {
		cfg.FetchTimeout = time.Duration(fc.OriginTimeoutMS) * time.Millisecond
	}
	if fc.OriginMaxBytes > 0 {
		cfg.MaxOriginBytes = fc.OriginMaxBytes
	}
	if fc.OutputMaxBytes > 0 {
		cfg.MaxOutputBytes = fc.OutputMaxBytes
	}
	if fc.MaxInputPixels > 0 {
		cfg.MaxInputPixels = fc.MaxInputPixels
	}
	if fc.CacheTTLSeconds > 0 {
		cfg.CacheTTL = time.Duration(fc.CacheTTLSeconds) * time.Second
	}
	if fc.LockTTLSeconds > 0 {
		cfg.LockTTL = time.Duration(fc.LockTTLSeconds) * time.Second
	}
	if fc.LockWaitTimeoutMS > 0 {
		cfg.LockWaitTimeout = time.Duration(fc.LockWaitTimeoutMS) * time.Millisecond
	}
	if fc.LockRetryDelayMS > 0 {
		cfg.PollInterval = time.Duration(fc.LockRetryDelayMS) * time.Millisecond
	}
	if len(fc.AllowedDomains) > 0 {
		rules, err := ParseAllowList(strings.Join(fc.AllowedDomains, ","))
		if err != nil {
			return base, err
		}
		cfg.AllowList = rules
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML config file and overlays it on base.
func LoadConfigFile(base Config, path string) (Config, error) {
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	return ParseConfigYAML(base, data)
}

// ConfigFromEnv creates a Config from environment variables.
// Uses defaults for any missing environment variables.
func ConfigFromEnv() Config {
	return ApplyEnv(DefaultConfig())
}

// ApplyEnv overlays environment variables on base.
//
// Environment variables:
//   - ORIGIN_TIMEOUT_MS: origin fetch timeout in ms (default: 5000)
//   - ORIGIN_MAX_BYTES: origin body cap (default: 10485760)
//   - OUTPUT_MAX_BYTES: transcoded image cap (default: 10485760)
//   - MAX_INPUT_PIXELS: decode pixel ceiling (default: 16000000, legacy name SHARP_MAX_PIXELS)
//   - CACHE_TTL_SECONDS: cache entry TTL (default: 3600, legacy name REDIS_TTL_SECONDS)
//   - LOCK_TTL_SECONDS: lock auto-expiry (default: 30)
//   - LOCK_WAIT_TIMEOUT_MS: how long to wait on another worker (default: 10000)
//   - LOCK_RETRY_DELAY_MS: cache poll interval while waiting (default: 150)
//   - ALLOWED_DOMAINS: comma-separated bare domains and/or URL prefixes (legacy name ALLOWED_PREFIXES)
func ApplyEnv(base Config) Config {
	cfg := base

	if ms, ok := envInt64("ORIGIN_TIMEOUT_MS"); ok {
		cfg.FetchTimeout = time.Duration(ms) * time.Millisecond
	}
	if n, ok := envInt64("ORIGIN_MAX_BYTES"); ok {
		cfg.MaxOriginBytes = n
	}
	if n, ok := envInt64("OUTPUT_MAX_BYTES"); ok {
		cfg.MaxOutputBytes = n
	}
	if n, ok := envInt64("SHARP_MAX_PIXELS"); ok {
		cfg.MaxInputPixels = n
	}
	if n, ok := envInt64("MAX_INPUT_PIXELS"); ok {
		cfg.MaxInputPixels = n
	}
	if s, ok := envInt64("REDIS_TTL_SECONDS"); ok {
		cfg.CacheTTL = time.Duration(s) * time.Second
	}
	if s, ok := envInt64("CACHE_TTL_SECONDS"); ok {
		cfg.CacheTTL = time.Duration(s) * time.Second
	}
	if s, ok := envInt64("LOCK_TTL_SECONDS"); ok {
		cfg.LockTTL = time.Duration(s) * time.Second
	}
	if ms, ok := envInt64("LOCK_WAIT_TIMEOUT_MS"); ok {
		cfg.LockWaitTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms, ok := envInt64("LOCK_RETRY_DELAY_MS"); ok {
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	raw := os.Getenv("ALLOWED_DOMAINS")
	if raw == "" {
		if legacy := os.Getenv("ALLOWED_PREFIXES"); legacy != "" {
			slog.Warn("[IMAGE-PROXY] ALLOWED_PREFIXES is deprecated, use ALLOWED_DOMAINS")
			raw = legacy
		}
	}
	if raw != "" {
		if rules, err := ParseAllowList(raw); err == nil {
			cfg.AllowList = rules
		} else {
			slog.Warn("[IMAGE-PROXY] invalid ALLOWED_DOMAINS value, keeping previous allow list",
				"value", raw,
				"error", err,
			)
		}
	}

	return cfg
}

// envInt64 reads a positive integer variable. Unset variables report false;
// invalid ones are logged and also report false so the caller keeps its value.
func envInt64(key string) (int64, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		slog.Warn("[IMAGE-PROXY] invalid "+key+" value, using default",
			"value", v,
			"error", err,
		)
		return 0, false
	}
	return n, true
}
