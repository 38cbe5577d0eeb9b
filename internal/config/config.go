package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds nix-runner settings. Script directives decide what runs;
// these settings decide how nix is invoked around it.
type Config struct {
	NixBin       string        `yaml:"nix_bin"`       // Overrides the backend's default binary
	Backend      string        `yaml:"backend"`       // flake, legacy
	PackageFlake string        `yaml:"package_flake"` // Flake that #!package names resolve in
	LogLevel     string        `yaml:"log_level"`
	HistoryDir   string        `yaml:"history_dir"` // "off" disables run history
	Timeout      time.Duration `yaml:"timeout"`     // 0 means no limit
	Server       ServerConfig  `yaml:"server"`
}

// ServerConfig holds settings for the parse service.
type ServerConfig struct {
	Port           int    `yaml:"port"`
	Bind           string `yaml:"bind"`
	TLSCert        string `yaml:"tls_cert"`
	TLSKey         string `yaml:"tls_key"`
	MaxScriptBytes int64  `yaml:"max_script_bytes"`
}

// Backends
const (
	BackendFlake  = "flake"
	BackendLegacy = "legacy"
)

// Defaults
const (
	DefaultBackend        = BackendFlake
	DefaultPackageFlake   = "nixpkgs"
	DefaultLogLevel       = "warn"
	DefaultTimeout        = 0
	DefaultPort           = 9100
	DefaultBind           = "127.0.0.1"
	DefaultMaxScriptBytes = 1 << 20
)

// Environment variables
const (
	EnvConfig   = "NIX_RUNNER_CONFIG"
	EnvRoot     = "NIX_RUNNER_ROOT"
	EnvLogLevel = "NIX_RUNNER_LOG_LEVEL"
)

// Parse parses YAML config data
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// "off" disables run history
	if cfg.HistoryDir == "off" {
		cfg.HistoryDir = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads config from a file path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// LoadDefault loads the file named by NIX_RUNNER_CONFIG, or the per-user
// config file. A missing per-user file yields Default().
func LoadDefault() (*Config, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		return Load(path)
	}
	cfg, err := Load(DefaultConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks config validity
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFlake, BackendLegacy:
	default:
		return fmt.Errorf("backend must be flake or legacy, got %q", c.Backend)
	}

	if c.PackageFlake == "" || strings.ContainsAny(c.PackageFlake, " \t\n#") {
		return fmt.Errorf("package_flake must be a flake reference without spaces or '#', got %q", c.PackageFlake)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.MaxScriptBytes < 1 {
		return fmt.Errorf("server max_script_bytes must be positive, got %d", c.Server.MaxScriptBytes)
	}

	return nil
}

// Default returns a config with default values
func Default() *Config {
	return &Config{
		Backend:      DefaultBackend,
		PackageFlake: DefaultPackageFlake,
		LogLevel:     DefaultLogLevel,
		HistoryDir:   DefaultHistoryPath(),
		Timeout:      DefaultTimeout,
		Server: ServerConfig{
			Port:           DefaultPort,
			Bind:           DefaultBind,
			TLSCert:        filepath.Join(DefaultRoot(), "tls", "cert.pem"),
			TLSKey:         filepath.Join(DefaultRoot(), "tls", "key.pem"),
			MaxScriptBytes: DefaultMaxScriptBytes,
		},
	}
}

// DefaultRoot returns the state directory: NIX_RUNNER_ROOT if set,
// otherwise ~/.nix-runner
func DefaultRoot() string {
	if root := os.Getenv(EnvRoot); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".nix-runner")
}

// DefaultHistoryPath returns the default run history directory.
func DefaultHistoryPath() string {
	return filepath.Join(DefaultRoot(), "history")
}

// DefaultConfigPath returns the per-user config file path.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(DefaultRoot(), "config.yaml")
	}
	return filepath.Join(dir, "nix-runner", "config.yaml")
}

// ResolveLogLevel returns NIX_RUNNER_LOG_LEVEL when set, else the configured level.
func (c *Config) ResolveLogLevel() string {
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		return strings.ToLower(lvl)
	}
	return c.LogLevel
}
