package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/flatfile"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the transfer service and CLI
type Config struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Storage    StorageConfig    `yaml:"storage"`
	Transfer   TransferConfig   `yaml:"transfer"`
	Server     ServerConfig     `yaml:"server"`
	History    HistoryConfig    `yaml:"history"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ClickHouseConfig holds the default connection. Requests may override any field.
type ClickHouseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Database    string        `yaml:"database"`
	User        string        `yaml:"user"`
	Token       string        `yaml:"token"` // password or JWT
	Secure      bool          `yaml:"secure"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// StorageConfig holds the flat-file side
type StorageConfig struct {
	Root      string `yaml:"root"`      // every file path is relative to this directory
	Delimiter string `yaml:"delimiter"` // single character, default ","
	Encoding  string `yaml:"encoding"`  // utf-8 (default), latin1, windows-1252
}

// TransferConfig holds engine tuning
type TransferConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	PreviewLimit       int           `yaml:"preview_limit"`
	MalformedThreshold float64       `yaml:"malformed_threshold"` // fraction of a batch's records
	MaxParseErrors     int           `yaml:"max_parse_errors"`    // kept on each result
	ProgressInterval   time.Duration `yaml:"progress_interval"`   // JSON progress line throttle
}

// ServerConfig holds HTTP boundary settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Mode            string        `yaml:"mode"` // gin mode: release (default), debug, test
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	PushRate        float64       `yaml:"push_rate"` // max websocket events/sec per client, 0 = unthrottled
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HistoryConfig holds transfer history settings
type HistoryConfig struct {
	Enabled       *bool  `yaml:"enabled"`
	Backend       string `yaml:"backend"` // "sqlite" (default) or "file"
	DataDir       string `yaml:"data_dir"`
	File          string `yaml:"file"` // history file for the file backend
	RetentionDays int    `yaml:"retention_days"`
}

// IsEnabled reports whether history is recorded. Defaults to true.
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// MetricsConfig holds Prometheus Pushgateway settings. Metrics are off when
// PushgatewayURL is empty.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// NotifyConfig holds webhook notification settings
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	Channel     string `yaml:"channel"`
	Username    string `yaml:"username"`
	Enabled     bool   `yaml:"enabled"`
	NotifyStart bool   `yaml:"notify_start"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// DefaultDataDir returns the default data directory for history storage.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".chxfer")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	// ClickHouse defaults
	if c.ClickHouse.Host == "" {
		c.ClickHouse.Host = "localhost"
	}
	if c.ClickHouse.Port == 0 {
		if c.ClickHouse.Secure {
			c.ClickHouse.Port = 9440
		} else {
			c.ClickHouse.Port = 9000
		}
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "default"
	}
	if c.ClickHouse.User == "" {
		c.ClickHouse.User = "default"
	}
	if c.ClickHouse.DialTimeout == 0 {
		c.ClickHouse.DialTimeout = 10 * time.Second
	}

	// Storage defaults
	if c.Storage.Root == "" {
		c.Storage.Root = "./data"
	} else {
		c.Storage.Root = expandTilde(c.Storage.Root)
	}
	if c.Storage.Delimiter == "" {
		c.Storage.Delimiter = ","
	}
	if c.Storage.Encoding == "" {
		c.Storage.Encoding = flatfile.EncodingUTF8
	}

	// Transfer defaults
	if c.Transfer.BatchSize == 0 {
		c.Transfer.BatchSize = 10000
	}
	if c.Transfer.PreviewLimit == 0 {
		c.Transfer.PreviewLimit = 100
	}
	if c.Transfer.MalformedThreshold == 0 {
		c.Transfer.MalformedThreshold = flatfile.DefaultMalformedThreshold
	}
	if c.Transfer.MaxParseErrors == 0 {
		c.Transfer.MaxParseErrors = 1000
	}
	if c.Transfer.ProgressInterval == 0 {
		c.Transfer.ProgressInterval = 250 * time.Millisecond
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	// History defaults
	if c.History.Backend == "" {
		c.History.Backend = "sqlite"
	}
	if c.History.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.History.DataDir = filepath.Join(home, ".chxfer")
	} else {
		c.History.DataDir = expandTilde(c.History.DataDir)
	}
	if c.History.File == "" {
		c.History.File = filepath.Join(c.History.DataDir, "history.yaml")
	} else {
		c.History.File = expandTilde(c.History.File)
	}
	if c.History.RetentionDays == 0 {
		c.History.RetentionDays = 30
	}

	if c.Metrics.Job == "" {
		c.Metrics.Job = "chxfer"
	}
}

func (c *Config) validate() error {
	if c.ClickHouse.Port < 1 || c.ClickHouse.Port > 65535 {
		return fmt.Errorf("clickhouse.port must be between 1 and 65535, got %d", c.ClickHouse.Port)
	}

	if _, err := c.FileDefaults(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if c.Transfer.BatchSize < 1 || c.Transfer.BatchSize > 1000000 {
		return fmt.Errorf("transfer.batch_size must be between 1 and 1000000, got %d", c.Transfer.BatchSize)
	}
	if c.Transfer.PreviewLimit < 1 || c.Transfer.PreviewLimit > 10000 {
		return fmt.Errorf("transfer.preview_limit must be between 1 and 10000, got %d", c.Transfer.PreviewLimit)
	}
	if c.Transfer.MalformedThreshold <= 0 || c.Transfer.MalformedThreshold > 1 {
		return fmt.Errorf("transfer.malformed_threshold must be in (0, 1], got %g", c.Transfer.MalformedThreshold)
	}
	if c.Transfer.MaxParseErrors < 0 {
		return fmt.Errorf("transfer.max_parse_errors must not be negative")
	}

	if c.Server.PushRate < 0 {
		return fmt.Errorf("server.push_rate must not be negative")
	}
	switch c.Server.Mode {
	case "release", "debug", "test":
	default:
		return fmt.Errorf("server.mode must be 'release', 'debug' or 'test', got '%s'", c.Server.Mode)
	}

	if c.History.Backend != "sqlite" && c.History.Backend != "file" {
		return fmt.Errorf("history.backend must be 'sqlite' or 'file', got '%s'", c.History.Backend)
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}

	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when notify.enabled is true")
	}
	return nil
}

// Connection returns the configured default connection.
func (c *Config) Connection() driver.ConnectionSpec {
	return driver.ConnectionSpec{
		Host:     c.ClickHouse.Host,
		Port:     c.ClickHouse.Port,
		Database: c.ClickHouse.Database,
		User:     c.ClickHouse.User,
		Token:    c.ClickHouse.Token,
		Secure:   c.ClickHouse.Secure,
	}
}

// FileDefaults returns a FileSpec carrying the configured delimiter and
// encoding, for requests that leave them unset.
func (c *Config) FileDefaults() (flatfile.FileSpec, error) {
	spec := flatfile.FileSpec{Encoding: c.Storage.Encoding}
	d, err := flatfile.ParseDelimiter(c.Storage.Delimiter)
	if err != nil {
		return spec, err
	}
	spec.Delimiter = d
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	if sanitized.ClickHouse.Token != "" {
		sanitized.ClickHouse.Token = "[REDACTED]"
	}

	if sanitized.Notify.WebhookURL != "" {
		sanitized.Notify.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}

// approxRowBytes is a rough per-row footprint used for the batch memory warning.
const approxRowBytes = 1024

// Warnings returns advisory messages about settings that load but may misbehave.
func (c *Config) Warnings() []string {
	var warnings []string
	batchMB := int64(c.Transfer.BatchSize) * approxRowBytes / (1024 * 1024)
	if availableMB := getAvailableMemoryMB(); batchMB > availableMB/4 {
		warnings = append(warnings, fmt.Sprintf(
			"transfer.batch_size %d may hold ~%dMB per batch, more than a quarter of system memory (%dMB)",
			c.Transfer.BatchSize, batchMB, availableMB))
	}
	if c.ClickHouse.Token != "" && !c.ClickHouse.Secure && c.ClickHouse.Host != "localhost" && c.ClickHouse.Host != "127.0.0.1" {
		warnings = append(warnings, "clickhouse.token is sent to a remote host without TLS (set clickhouse.secure)")
	}
	return warnings
}
