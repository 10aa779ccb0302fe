package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// OCX Cluster Backend - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server          ServerConfig          `yaml:"server"`
	FailureDetector FailureDetectorConfig `yaml:"failure_detector"`
	PreparedOps     PreparedOpsConfig     `yaml:"prepared_ops"`
	LogStore        LogStoreConfig        `yaml:"log_store"`
	Recovery        RecoveryConfig        `yaml:"recovery"`
	AdminAPI        AdminAPIConfig        `yaml:"admin_api"`
	Metrics         MetricsConfig         `yaml:"metrics"`
}

type ServerConfig struct {
	Env             string `yaml:"env"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// FailureDetectorConfig parameterizes the peer-to-peer probing loop
// and locator resolution.
type FailureDetectorConfig struct {
	SelfLocator         string   `yaml:"self_locator"`
	ListenLocator       string   `yaml:"listen_locator"`
	CoordinatorLocator  string   `yaml:"coordinator_locator"`
	LocatorPreference   []string `yaml:"locator_preference"`
	ProbeIntervalMicros uint64   `yaml:"probe_interval_micros"`
	TimeoutMicros       uint64   `yaml:"timeout_micros"`
	MaxDatagramBytes    int      `yaml:"max_datagram_bytes"`
}

// PreparedOpsConfig parameterizes the prepared-operations table's
// watchdog.
type PreparedOpsConfig struct {
	TxTimeoutMicros uint64 `yaml:"tx_timeout_micros"`
}

// LogStoreConfig selects and parameterizes the prepared-op log backend.
type LogStoreConfig struct {
	Backend     string `yaml:"backend"` // "memory", "redis", or "postgres"
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RecoveryConfig parameterizes the transaction-recovery worker pool.
type RecoveryConfig struct {
	WorkerCount int `yaml:"worker_count"`
}

// AdminAPIConfig parameterizes the operator-facing HTTP/websocket
// surface (internal/adminapi).
type AdminAPIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Enabled    bool   `yaml:"enabled"`
}

// MetricsConfig parameterizes the Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Enabled    bool   `yaml:"enabled"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from YAML file
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("OCX_ENV", c.Server.Env)
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	c.FailureDetector.SelfLocator = getEnv("OCX_SELF_LOCATOR", c.FailureDetector.SelfLocator)
	c.FailureDetector.ListenLocator = getEnv("OCX_LISTEN_LOCATOR", c.FailureDetector.ListenLocator)
	c.FailureDetector.CoordinatorLocator = getEnv("OCX_COORDINATOR_LOCATOR", c.FailureDetector.CoordinatorLocator)
	if prefs := getEnv("OCX_LOCATOR_PREFERENCE", ""); prefs != "" {
		c.FailureDetector.LocatorPreference = splitCSV(prefs)
	}
	if v := getEnvUint("OCX_PROBE_INTERVAL_MICROS", 0); v > 0 {
		c.FailureDetector.ProbeIntervalMicros = v
	}
	if v := getEnvUint("OCX_TIMEOUT_MICROS", 0); v > 0 {
		c.FailureDetector.TimeoutMicros = v
	}
	if v := getEnvInt("OCX_MAX_DATAGRAM_BYTES", 0); v > 0 {
		c.FailureDetector.MaxDatagramBytes = v
	}

	if v := getEnvUint("OCX_TX_TIMEOUT_MICROS", 0); v > 0 {
		c.PreparedOps.TxTimeoutMicros = v
	}

	c.LogStore.Backend = getEnv("LOGSTORE_BACKEND", c.LogStore.Backend)
	c.LogStore.RedisAddr = getEnv("LOGSTORE_REDIS_ADDR", c.LogStore.RedisAddr)
	if v := getEnvInt("LOGSTORE_REDIS_DB", 0); v > 0 {
		c.LogStore.RedisDB = v
	}
	c.LogStore.PostgresDSN = getEnv("LOGSTORE_POSTGRES_DSN", c.LogStore.PostgresDSN)

	if v := getEnvInt("OCX_RECOVERY_WORKERS", 0); v > 0 {
		c.Recovery.WorkerCount = v
	}

	c.AdminAPI.ListenAddr = getEnv("OCX_ADMIN_LISTEN_ADDR", c.AdminAPI.ListenAddr)
	c.AdminAPI.Enabled = getEnvBool("OCX_ADMIN_ENABLED", c.AdminAPI.Enabled)

	c.Metrics.ListenAddr = getEnv("OCX_METRICS_LISTEN_ADDR", c.Metrics.ListenAddr)
	c.Metrics.Enabled = getEnvBool("OCX_METRICS_ENABLED", c.Metrics.Enabled)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields
func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}

	if c.FailureDetector.ListenLocator == "" {
		c.FailureDetector.ListenLocator = c.FailureDetector.SelfLocator
	}
	if len(c.FailureDetector.LocatorPreference) == 0 {
		c.FailureDetector.LocatorPreference = []string{"infrc", "fast+udp", "tcp"}
	}
	if c.FailureDetector.ProbeIntervalMicros == 0 {
		c.FailureDetector.ProbeIntervalMicros = 100_000 // 100ms
	}
	if c.FailureDetector.TimeoutMicros == 0 {
		c.FailureDetector.TimeoutMicros = 500_000 // 500ms
	}
	if c.FailureDetector.MaxDatagramBytes == 0 {
		c.FailureDetector.MaxDatagramBytes = 1500
	}

	if c.PreparedOps.TxTimeoutMicros == 0 {
		c.PreparedOps.TxTimeoutMicros = 500 // nominal prepared-op watchdog delay
	}

	if c.LogStore.Backend == "" {
		c.LogStore.Backend = "memory"
	}

	if c.Recovery.WorkerCount == 0 {
		c.Recovery.WorkerCount = 4
	}

	if c.AdminAPI.ListenAddr == "" {
		c.AdminAPI.ListenAddr = ":8080"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}
