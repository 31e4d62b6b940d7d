// Package config provides configuration management for secret-shepherd.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Storage StorageConfig `yaml:"storage"`
	Anchor  AnchorConfig  `yaml:"anchor"`
	Limits  LimitsConfig  `yaml:"limits"`
	Values  ValuesConfig  `yaml:"values"`
	Git     GitConfig     `yaml:"git"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StorageConfig selects and configures the metadata store backend
type StorageConfig struct {
	Type  string      `yaml:"type"` // "memory", "file" or "redis"
	Path  string      `yaml:"path"` // file backend location
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"` //#nosec G117 -- Password field is intentional for Redis auth config
	DB       int    `yaml:"db"`
}

// AnchorConfig contains anchor token format settings
type AnchorConfig struct {
	Prefix string `yaml:"prefix"`
}

// LimitsConfig carries the policy constants
type LimitsConfig struct {
	MinSecretLength int `yaml:"min_secret_length"`
	MaxPathLength   int `yaml:"max_path_length"`
}

// ValuesConfig controls live-value resolution
type ValuesConfig struct {
	// ParallelFetch allows concurrent provider calls. Off by default:
	// sequential fetch is the safe policy unless the backend is known
	// race-safe.
	ParallelFetch bool `yaml:"parallel_fetch"`
	// Static maps secret names to values supplied directly in config,
	// served by the static provider.
	Static map[string]string `yaml:"static"`
}

// GitConfig controls the pre-commit guard collaborator
type GitConfig struct {
	GuardHook bool   `yaml:"guard_hook"`
	RepoDir   string `yaml:"repo_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string      `yaml:"level"`
	Audit AuditConfig `yaml:"audit"`
}

// AuditConfig contains audit trail settings
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	// Level controls what events are logged: "minimal", "standard" or
	// "verbose".
	Level string `yaml:"level"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".secret-shepherd")

	return &Config{
		DataDir: dataDir,
		Storage: StorageConfig{
			Type: "file",
			Path: filepath.Join(dataDir, "metadata.json"),
			Redis: RedisConfig{
				Address: "localhost:6379",
				DB:      0,
			},
		},
		Anchor: AnchorConfig{
			Prefix: "@KeeShepherd",
		},
		Limits: LimitsConfig{
			MinSecretLength: 6,
			MaxPathLength:   4096,
		},
		Values: ValuesConfig{
			ParallelFetch: false,
		},
		Git: GitConfig{
			GuardHook: true,
			RepoDir:   ".",
		},
		Logging: LoggingConfig{
			Level: "info",
			Audit: AuditConfig{
				Enabled: true,
				Level:   "standard",
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load loads the configuration from file or environment
func Load() (*Config, error) {
	configPath := os.Getenv("SHEPHERD_CONFIG")
	if configPath == "" {
		configPath = "shepherd.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile loads the configuration from the given path, falling back to
// defaults when the file does not exist.
func LoadFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	configPath = sanitizeConfigPath(configPath)

	data, err := os.ReadFile(configPath) //#nosec G304 -- config path is sanitized above
	if err != nil {
		if os.IsNotExist(err) {
			// No config file, use defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// sanitizeConfigPath cleans and validates a config file path
func sanitizeConfigPath(path string) string {
	cleaned := filepath.Clean(path)

	// If path is absolute, use it as-is (operator explicitly set full path)
	// If relative, ensure it doesn't escape the current directory
	if !filepath.IsAbs(cleaned) {
		for len(cleaned) > 2 && cleaned[:3] == "../" {
			cleaned = cleaned[3:]
		}
		if cleaned == ".." {
			cleaned = "shepherd.yaml"
		}
	}

	return cleaned
}
