// Package redis implements the shared cache store on Redis.
package redis

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	envRedisURL           = "REDIS_URL"
	envRedisHost          = "REDIS_HOST"
	envRedisPort          = "REDIS_PORT"
	envRedisPassword      = "REDIS_PASSWORD"
	envRedisDB            = "REDIS_DB"
	envRedisTimeoutMS     = "REDIS_TIMEOUT_MS"
	envRedisTLSCA         = "REDIS_TLS_CA"
	envRedisTLSCert       = "REDIS_TLS_CERT"
	envRedisTLSKey        = "REDIS_TLS_KEY"
	envRedisTLSInsecure   = "REDIS_TLS_INSECURE"
	envRedisTLSServerName = "REDIS_TLS_SERVER_NAME"
	envRedisClusterAddrs  = "REDIS_CLUSTER_ADDRESSES"

	defaultHost    = "127.0.0.1"
	defaultPort    = 6379
	defaultTimeout = time.Second
)

// ClientConfig describes how to reach Redis.
type ClientConfig struct {
	// URL takes precedence over the discrete fields when set.
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	// ClusterAddrs switches the client to cluster mode.
	ClusterAddrs []string

	// Timeout bounds dialing and every read and write.
	Timeout time.Duration
}

// ClientConfigFromEnv reads REDIS_URL or REDIS_HOST/PORT/PASSWORD/DB,
// REDIS_TIMEOUT_MS and REDIS_CLUSTER_ADDRESSES.
func ClientConfigFromEnv() (ClientConfig, error) {
	cfg := ClientConfig{
		URL:          strings.TrimSpace(os.Getenv(envRedisURL)),
		Host:         defaultHost,
		Port:         defaultPort,
		Password:     os.Getenv(envRedisPassword),
		ClusterAddrs: parseAddrListEnv(envRedisClusterAddrs),
		Timeout:      defaultTimeout,
	}
	if host := strings.TrimSpace(os.Getenv(envRedisHost)); host != "" {
		cfg.Host = host
	}
	if port, ok, err := parseIntEnv(envRedisPort); err != nil {
		return cfg, err
	} else if ok {
		cfg.Port = port
	}
	if db, ok, err := parseIntEnv(envRedisDB); err != nil {
		return cfg, err
	} else if ok {
		cfg.DB = db
	}
	if ms, ok, err := parseIntEnv(envRedisTimeoutMS); err != nil {
		return cfg, err
	} else if ok && ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	return cfg, nil
}

// Addr returns a printable address for logs. Credentials are never included.
func (c ClientConfig) Addr() string {
	if len(c.ClusterAddrs) > 0 {
		return strings.Join(c.ClusterAddrs, ",")
	}
	if c.URL != "" {
		if opts, err := goredis.ParseURL(c.URL); err == nil {
			return opts.Addr
		}
		return "invalid-url"
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewClient creates a Redis universal client with optional TLS and clustering support.
func NewClient(cfg ClientConfig) (goredis.UniversalClient, error) {
	opts, err := parseOptions(cfg)
	if err != nil {
		return nil, err
	}
	addrs := cfg.ClusterAddrs
	if len(addrs) == 0 {
		addrs = []string{opts.Addr}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	uopts := &goredis.UniversalOptions{
		Addrs:        addrs,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		TLSConfig:    opts.TLSConfig,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	}
	return goredis.NewUniversalClient(uopts), nil
}

func parseOptions(cfg ClientConfig) (*goredis.Options, error) {
	var opts *goredis.Options
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		host := cfg.Host
		if host == "" {
			host = defaultHost
		}
		port := cfg.Port
		if port == 0 {
			port = defaultPort
		}
		opts = &goredis.Options{
			Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	tlsConfig, err := tlsConfigFromEnv(opts.TLSConfig)
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = tlsConfig
	return opts, nil
}

func tlsConfigFromEnv(existing *tls.Config) (*tls.Config, error) {
	caPath := strings.TrimSpace(os.Getenv(envRedisTLSCA))
	certPath := strings.TrimSpace(os.Getenv(envRedisTLSCert))
	keyPath := strings.TrimSpace(os.Getenv(envRedisTLSKey))
	serverName := strings.TrimSpace(os.Getenv(envRedisTLSServerName))
	insecure := parseBoolEnv(envRedisTLSInsecure)

	if caPath == "" && certPath == "" && keyPath == "" && serverName == "" && !insecure {
		return existing, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if existing != nil {
		cfg = existing.Clone()
	}
	if serverName != "" {
		cfg.ServerName = serverName
	}
	if insecure {
		// #nosec G402 -- explicit operator opt-in for self-signed test setups.
		cfg.InsecureSkipVerify = true
	}

	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls ca read: %w", err)
		}
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("redis tls ca parse: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("redis tls cert/key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, true, nil
}

func parseBoolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseAddrListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
