// Package config loads pgbranch's on-disk configuration: the ZFS pool and
// dataset base, the WAL archive and cert roots, and the container engine
// socket. CLI flags override config values; config values override the
// defaults below.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the persisted configuration document at ~/.pgbranch/config.yaml.
type Config struct {
	ConfigRoot    string `yaml:"-"` // directory this file lives in; not persisted
	ZFSPool       string `yaml:"zfsPool"`
	ZFSBase       string `yaml:"zfsDatasetBase"`
	DockerSocket  string `yaml:"dockerSocket"`
	DefaultImage  string `yaml:"defaultImage"`
	WALArchiveDir string `yaml:"walArchiveDir,omitempty"`
	CertDir       string `yaml:"certDir,omitempty"`
}

// DefaultConfigPath returns ~/.pgbranch/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pgbranch", "config.yaml"), nil
}

// Default returns the built-in defaults, rooted at configRoot.
func Default(configRoot string) *Config {
	return &Config{
		ConfigRoot:   configRoot,
		ZFSBase:      "pgbranch",
		DockerSocket: "unix:///var/run/docker.sock",
		DefaultImage: "postgres:16-alpine",
	}
}

// Load reads path, falling back to defaults for any field left unset and
// for a missing file entirely (not initialized yet is not an error, mirroring
// the state store's own Load semantics).
func Load(path string) (*Config, error) {
	root := filepath.Dir(path)
	cfg := Default(root)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ConfigRoot = root
	return cfg, nil
}

// StateFilePath returns <configRoot>/state.json.
func (c *Config) StateFilePath() string {
	return filepath.Join(c.ConfigRoot, "state.json")
}

// WALRoot returns the WAL archive root, defaulting to <configRoot>/wal-archive.
func (c *Config) WALRoot() string {
	if c.WALArchiveDir != "" {
		return c.WALArchiveDir
	}
	return filepath.Join(c.ConfigRoot, "wal-archive")
}

// CertRoot returns the SSL cert root, defaulting to <configRoot>/certs.
func (c *Config) CertRoot() string {
	if c.CertDir != "" {
		return c.CertDir
	}
	return filepath.Join(c.ConfigRoot, "certs")
}

// Save writes the config back to path, creating its parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
