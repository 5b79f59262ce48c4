// Package config binds the bridge configuration from environment variables,
// command line flags and an optional YAML file, validated once at startup.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// BridgeConfig holds everything the bridge needs at startup.
type BridgeConfig struct {
	// ServerURL is the remote endpoint. Empty triggers mDNS discovery.
	ServerURL string `yaml:"server_url"`
	// APIKey is sent as X-API-Key when set.
	APIKey string `yaml:"api_key"`
	// ClientName identifies this bridge in the initialize handshake.
	ClientName string `yaml:"client_name"`

	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ToolCacheTTL    time.Duration `yaml:"tool_cache_ttl"`
	NoToolCache     bool          `yaml:"no_tool_cache"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
	// WaitHealthy, when positive, polls the peer's health endpoint for up to
	// this long before the handshake.
	WaitHealthy time.Duration `yaml:"wait_healthy"`

	MetricsAddr string `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
	ConfigFile  string `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *BridgeConfig) BindFlags() {
	c.ConfigFile = getEnv("CONFIG_FILE", DefaultConfigPath("bridge.yaml"))
	c.LogLevel = getEnv("LOG_LEVEL", "info")

	c.ServerURL = getEnv("POCKETMCP_URL", "")
	c.APIKey = getEnv("POCKETMCP_API_KEY", "")
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "bridge-" + uuid.NewString()[:8]
	}
	c.ClientName = getEnv("CLIENT_NAME", host)

	c.RequestTimeout = envSeconds("REQUEST_TIMEOUT", 30*time.Second)
	c.ToolCacheTTL = envSeconds("TOOL_CACHE_TTL", 30*time.Second)
	c.DiscoverTimeout = envSeconds("DISCOVER_TIMEOUT", 5*time.Second)
	c.WaitHealthy = envSeconds("WAIT_HEALTHY", 0)
	if b, err := strconv.ParseBool(getEnv("NO_TOOL_CACHE", "false")); err == nil {
		c.NoToolCache = b
	}
	c.MetricsAddr = normalizePort(getEnv("METRICS_PORT", ""))

	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "bridge config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.StringVar(&c.ServerURL, "server-url", c.ServerURL, "PocketMCP endpoint (http(s):// or ws(s)://; empty to discover via mDNS)")
	flag.StringVar(&c.APIKey, "api-key", c.APIKey, "API key sent as X-API-Key")
	flag.StringVar(&c.ClientName, "client-name", c.ClientName, "client name reported in the initialize handshake")
	bindSeconds("request-timeout", "per-call timeout in seconds", &c.RequestTimeout)
	bindSeconds("tool-cache-ttl", "tool catalog cache TTL in seconds", &c.ToolCacheTTL)
	bindSeconds("discover-timeout", "mDNS discovery ceiling in seconds", &c.DiscoverTimeout)
	bindSeconds("wait-healthy", "wait up to this many seconds for the peer's health endpoint before starting", &c.WaitHealthy)
	flag.BoolVar(&c.NoToolCache, "no-tool-cache", c.NoToolCache, "disable the tool catalog cache")
	flag.Func("metrics-port", "metrics listen address or port (disabled when empty; e.g. 127.0.0.1:9090 or 9090)", func(v string) error {
		c.MetricsAddr = normalizePort(v)
		return nil
	})
}

// Validate rejects configurations the bridge cannot start with.
func (c *BridgeConfig) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.ToolCacheTTL <= 0 {
		return fmt.Errorf("tool cache ttl must be positive")
	}
	return nil
}

// fileConfig mirrors BridgeConfig for YAML decoding. Durations accept either
// bare seconds ("30", "2.5") or Go duration strings ("45s", "1m").
type fileConfig struct {
	ServerURL       *string `yaml:"server_url"`
	APIKey          *string `yaml:"api_key"`
	ClientName      *string `yaml:"client_name"`
	RequestTimeout  *string `yaml:"request_timeout"`
	ToolCacheTTL    *string `yaml:"tool_cache_ttl"`
	NoToolCache     *bool   `yaml:"no_tool_cache"`
	DiscoverTimeout *string `yaml:"discover_timeout"`
	WaitHealthy     *string `yaml:"wait_healthy"`
	MetricsAddr     *string `yaml:"metrics_port"`
	LogLevel        *string `yaml:"log_level"`
}

// LoadFile populates the config from a YAML file. Fields absent from the file
// keep their current values.
func (c *BridgeConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f fileConfig
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	setString(&c.ServerURL, f.ServerURL)
	setString(&c.APIKey, f.APIKey)
	setString(&c.ClientName, f.ClientName)
	setString(&c.LogLevel, f.LogLevel)
	if f.NoToolCache != nil {
		c.NoToolCache = *f.NoToolCache
	}
	if f.MetricsAddr != nil {
		c.MetricsAddr = normalizePort(*f.MetricsAddr)
	}
	for _, d := range []struct {
		raw *string
		dst *time.Duration
	}{
		{f.RequestTimeout, &c.RequestTimeout},
		{f.ToolCacheTTL, &c.ToolCacheTTL},
		{f.DiscoverTimeout, &c.DiscoverTimeout},
		{f.WaitHealthy, &c.WaitHealthy},
	} {
		if d.raw == nil {
			continue
		}
		v, err := parseSeconds(*d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// parseSeconds accepts a bare number of seconds or a Go duration string.
func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func bindSeconds(name, usage string, dst *time.Duration) {
	flag.Func(name, usage, func(v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	})
}

func envSeconds(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := parseSeconds(v)
	if err != nil {
		return def
	}
	return d
}

func normalizePort(v string) string {
	if v == "" {
		return ""
	}
	if _, err := strconv.Atoi(v); err == nil {
		return ":" + v
	}
	return v
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
