package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Config represents the complete configuration for apguard.
type Config struct {
	Version int           `yaml:"version"`
	Policy  PolicyConfig  `yaml:"policy"`
	Scan    ScanConfig    `yaml:"scan"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Wifi    WifiConfig    `yaml:"wifi"`
	Prompt  PromptConfig  `yaml:"prompt"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Metrics MetricsConfig `yaml:"metrics"`
	Auth    AuthConfig    `yaml:"auth"`
}

// PolicyConfig holds the three user preferences. It is the only section
// that hot-reloads.
type PolicyConfig struct {
	OnlyAvailableNetworks   bool `yaml:"only_available_networks"`
	OnlyKnownAccessPoints   bool `yaml:"only_known_access_points"`
	TrustEnterpriseNetworks bool `yaml:"trust_enterprise_networks"`
}

// Core converts the section into the engine's policy.
func (p PolicyConfig) Core() core.PolicyConfig {
	return core.PolicyConfig{
		RestrictToAvailableNetworks: p.OnlyAvailableNetworks,
		RestrictToKnownAccessPoints: p.OnlyKnownAccessPoints,
		TrustEnterpriseAccessPoints: p.TrustEnterpriseNetworks,
	}
}

// ScanConfig configures cycle timing.
type ScanConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`      // how often scan results are re-evaluated
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"` // how often a rescan is requested
	MinInterval       time.Duration `yaml:"min_interval"`       // debounce window between accepted triggers
	CycleTimeout      time.Duration `yaml:"cycle_timeout"`
	PromptTimeout     time.Duration `yaml:"prompt_timeout"` // per pending-decision delivery
}

// LedgerConfig selects the trust ledger backend.
type LedgerConfig struct {
	Backend string      `yaml:"backend"` // "sqlite", "redis" or "memory"
	Path    string      `yaml:"path"`    // sqlite file
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis ledger backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// WifiConfig selects the OS Wi-Fi driver.
type WifiConfig struct {
	Driver    string `yaml:"driver"` // "nmcli" or "static"
	Interface string `yaml:"interface"`
	Binary    string `yaml:"binary"`
	Fixture   string `yaml:"fixture"` // static driver only
}

// PromptConfig configures how pending decisions reach the user.
type PromptConfig struct {
	TrustVisibleSiblings bool          `yaml:"trust_visible_siblings"`
	Webhook              WebhookConfig `yaml:"webhook"`
}

// WebhookConfig configures the pending-decision webhook.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Format  string            `yaml:"format"` // "json" or "slack"
	Headers map[string]string `yaml:"headers"`
	Events  []string          `yaml:"events"`
	Timeout time.Duration     `yaml:"timeout"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	JSONLPath  string `yaml:"jsonl_path"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stderr", "stdout", or file path
}

// DaemonConfig configures daemon mode.
type DaemonConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ReleaseOnExit   bool          `yaml:"release_on_exit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WatchConfig     bool          `yaml:"watch_config"`
	PIDFile         string        `yaml:"pid_file"` // empty disables the single-instance lock
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuthConfig configures API authentication for the daemon.
type AuthConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Key         string   `yaml:"key"`
	KeyEnv      string   `yaml:"key_env"`
	KeysFile    string   `yaml:"keys_file"`
	HeaderName  string   `yaml:"header_name"`
	DefaultRole string   `yaml:"default_role"`
	PublicPaths []string `yaml:"public_paths"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Policy: PolicyConfig{
			OnlyAvailableNetworks:   true,
			OnlyKnownAccessPoints:   false,
			TrustEnterpriseNetworks: false,
		},
		Scan: ScanConfig{
			PollInterval:      5 * time.Second,
			KeepaliveInterval: 15 * time.Minute,
			MinInterval:       500 * time.Millisecond,
			CycleTimeout:      10 * time.Second,
			PromptTimeout:     3 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend: "sqlite",
			Path:    "apguard.db",
			Redis:   RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "apguard:"},
		},
		Wifi: WifiConfig{
			Driver: "nmcli",
			Binary: "nmcli",
		},
		Prompt: PromptConfig{
			TrustVisibleSiblings: true,
			Webhook: WebhookConfig{
				Format:  "json",
				Timeout: 10 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Daemon: DaemonConfig{
			HTTPAddr:        "127.0.0.1:8787",
			MetricsAddr:     "127.0.0.1:9090",
			ReleaseOnExit:   true,
			ShutdownTimeout: 10 * time.Second,
			WatchConfig:     true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Auth: AuthConfig{
			Enabled:     false,
			HeaderName:  "X-API-Key",
			DefaultRole: "operator",
			PublicPaths: []string{"/health", "/", "/ui/"},
		},
	}
}

// Load reads a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads config from path if it exists, otherwise returns defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return Load(path)
}

// FindConfigFile searches for a config file in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"apguard.yaml",
		"apguard.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "apguard", "config.yaml"),
		"/etc/apguard/config.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Marshal encodes the config as YAML.
func Marshal(c *Config) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
