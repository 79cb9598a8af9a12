package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"Imgate/internal/core/imageproxy"
)

// serverConfig holds process-level settings that sit outside the proxy pipeline.
type serverConfig struct {
	Port           string
	MetricsAddr    string
	RateLimitRPS   float64
	RateLimitBurst int
	Proxy          imageproxy.Config
}

// loadDotEnv loads .env, or .env.production when APP_ENV (or NODE_ENV when
// APP_ENV is unset) is "production". A missing file is not an error;
// variables already set are never overridden.
func loadDotEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("NODE_ENV")
	}
	file := ".env"
	if env == "production" {
		file = ".env.production"
	}
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

// loadServerConfig builds the configuration in order: defaults, CONFIG_FILE
// (YAML), then environment variables.
func loadServerConfig() (serverConfig, error) {
	proxyCfg := imageproxy.DefaultConfig()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		var err error
		proxyCfg, err = imageproxy.LoadConfigFile(proxyCfg, path)
		if err != nil {
			return serverConfig{}, err
		}
	}
	proxyCfg = imageproxy.ApplyEnv(proxyCfg)
	if err := proxyCfg.Validate(); err != nil {
		return serverConfig{}, fmt.Errorf("invalid proxy config: %w", err)
	}

	cfg := serverConfig{
		Port:           "3000",
		MetricsAddr:    ":9090",
		RateLimitRPS:   0,
		RateLimitBurst: 20,
		Proxy:          proxyCfg,
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return serverConfig{}, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Port = port
	}
	if addr, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(addr)
	}
	if raw := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps < 0 {
			slog.Warn("invalid RATE_LIMIT_RPS value, rate limiting disabled", "value", raw)
			rps = 0
		}
		cfg.RateLimitRPS = rps
	}
	if raw := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); raw != "" {
		if burst, err := strconv.Atoi(raw); err == nil && burst > 0 {
			cfg.RateLimitBurst = burst
		} else {
			slog.Warn("invalid RATE_LIMIT_BURST value, using default", "value", raw, "default", cfg.RateLimitBurst)
		}
	}
	return cfg, nil
}
