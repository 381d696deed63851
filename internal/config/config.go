// Package config loads and validates cr4wler's YAML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/cr4wler/internal/db"
	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/scanning"
)

// Config represents the complete cr4wler configuration
type Config struct {
	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Enrichment configuration
	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScanningConfig holds broad and deep scan settings
type ScanningConfig struct {
	// Number of concurrent deep-scan workers
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size"`

	// Address range handed to the broad scanner
	AddressRange string `yaml:"address_range" json:"address_range"`

	// Broad scan packet rate
	Rate int `yaml:"rate" json:"rate"`

	// Ports probed in both phases
	Ports string `yaml:"ports" json:"ports"`

	// Scanner binaries; empty means look up on PATH
	MasscanPath string `yaml:"masscan_path" json:"masscan_path"`
	NmapPath    string `yaml:"nmap_path" json:"nmap_path"`

	// Maximum duration of a single deep scan
	DeepScanTimeout time.Duration `yaml:"deep_scan_timeout" json:"deep_scan_timeout"`

	// Cron expression for repeated runs; empty runs once
	Schedule string `yaml:"schedule" json:"schedule"`
}

// EnrichmentConfig holds geolocation, reverse DNS and WHOIS settings
type EnrichmentConfig struct {
	// Per-lookup timeout
	LookupTimeout time.Duration `yaml:"lookup_timeout" json:"lookup_timeout"`

	// Geolocation provider: ipinfo, maxmind or none
	GeoProvider string `yaml:"geo_provider" json:"geo_provider"`

	IPInfoURL   string `yaml:"ipinfo_url" json:"ipinfo_url"`
	IPInfoToken string `yaml:"ipinfo_token" json:"ipinfo_token"`

	MaxMindCityDB string `yaml:"maxmind_city_db" json:"maxmind_city_db"`
	MaxMindASNDB  string `yaml:"maxmind_asn_db" json:"maxmind_asn_db"`

	// Resolver used for PTR lookups (host:port); empty reads resolv.conf
	DNSServer   string `yaml:"dns_server" json:"dns_server"`
	RDNSEnabled bool   `yaml:"rdns_enabled" json:"rdns_enabled"`

	WhoisEnabled bool   `yaml:"whois_enabled" json:"whois_enabled"`
	RDAPURL      string `yaml:"rdap_url" json:"rdap_url"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins    []string      `yaml:"cors_origins" json:"cors_origins"`

	// Maximum accepted request body size in bytes
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Log file rotation
	Rotation RotationConfig `yaml:"rotation" json:"rotation"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// RotationConfig holds log rotation settings
type RotationConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	MaxSizeMB  int  `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `yaml:"compress" json:"compress"`
}

const (
	// DefaultAddressRange is the range swept when none is given.
	DefaultAddressRange = "0.0.0.0/0"
	// DefaultRate is the broad scan packet rate when none is given.
	DefaultRate = 10000

	defaultWorkerPoolSize  = 10
	defaultLookupTimeout   = 10 * time.Second
	defaultDeepScanTimeout = 10 * time.Minute
	defaultAPIPort         = 5000
	defaultMaxRequestSize  = 10 << 20

	dirPerm  = 0o750
	filePerm = 0o600
)

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Database: db.DefaultConfig(),
		Scanning: ScanningConfig{
			WorkerPoolSize:  defaultWorkerPoolSize,
			AddressRange:    DefaultAddressRange,
			Rate:            DefaultRate,
			Ports:           scanning.DefaultPorts,
			DeepScanTimeout: defaultDeepScanTimeout,
		},
		Enrichment: EnrichmentConfig{
			LookupTimeout: defaultLookupTimeout,
			GeoProvider:   "ipinfo",
			IPInfoURL:     "https://ipinfo.io",
			RDNSEnabled:   true,
			WhoisEnabled:  true,
			RDAPURL:       "https://rdap.org",
		},
		API: APIConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           defaultAPIPort,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
			EnableCORS:     true,
			CORSOrigins:    []string{"*"},
			MaxRequestSize: defaultMaxRequestSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			Rotation: RotationConfig{
				Enabled:    false,
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
			RequestLogging: true,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
// JSON files are accepted too since JSON is a subset of YAML.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.ErrConfigMissing("database.host")
	}
	if c.Database.Database == "" {
		return errors.ErrConfigMissing("database.database")
	}
	if c.Database.Username == "" {
		return errors.ErrConfigMissing("database.username")
	}

	if err := c.Scanning.validate(); err != nil {
		return err
	}
	if err := c.Enrichment.validate(); err != nil {
		return err
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return errors.ErrConfigInvalid("api.port", c.API.Port)
		}
		if c.API.Host == "" {
			return errors.ErrConfigMissing("api.host")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

func (s *ScanningConfig) validate() error {
	if s.WorkerPoolSize <= 0 {
		return errors.ErrConfigInvalid("scanning.worker_pool_size", s.WorkerPoolSize)
	}
	if s.Rate <= 0 {
		return errors.ErrConfigInvalid("scanning.rate", s.Rate)
	}
	if _, _, err := net.ParseCIDR(s.AddressRange); err != nil && net.ParseIP(s.AddressRange) == nil {
		return errors.ErrConfigInvalid("scanning.address_range", s.AddressRange)
	}
	if strings.TrimSpace(s.Ports) == "" {
		return errors.ErrConfigMissing("scanning.ports")
	}
	if s.DeepScanTimeout <= 0 {
		return errors.ErrConfigInvalid("scanning.deep_scan_timeout", s.DeepScanTimeout)
	}
	return nil
}

func (e *EnrichmentConfig) validate() error {
	if e.LookupTimeout <= 0 {
		return errors.ErrConfigInvalid("enrichment.lookup_timeout", e.LookupTimeout)
	}
	switch e.GeoProvider {
	case "ipinfo":
		if e.IPInfoURL == "" {
			return errors.ErrConfigMissing("enrichment.ipinfo_url")
		}
	case "maxmind":
		if e.MaxMindCityDB == "" {
			return errors.ErrConfigMissing("enrichment.maxmind_city_db")
		}
	case "none":
	default:
		return errors.ErrConfigInvalid("enrichment.geo_provider", e.GeoProvider)
	}
	if e.WhoisEnabled && e.RDAPURL == "" {
		return errors.ErrConfigMissing("enrichment.rdap_url")
	}
	return nil
}

// GetDatabaseConfig returns the database configuration
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return net.JoinHostPort(c.API.Host, fmt.Sprint(c.API.Port))
}

// LoggerConfig converts the logging section into a logging.Config.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Logging.Level),
		Format: logging.LogFormat(c.Logging.Format),
		Output: c.Logging.Output,
		Rotation: logging.RotationConfig{
			Enabled:    c.Logging.Rotation.Enabled,
			MaxSizeMB:  c.Logging.Rotation.MaxSizeMB,
			MaxBackups: c.Logging.Rotation.MaxBackups,
			MaxAgeDays: c.Logging.Rotation.MaxAgeDays,
			Compress:   c.Logging.Rotation.Compress,
		},
	}
}
