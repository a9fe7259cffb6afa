package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	Version = "0.1.0"

	DefaultMCPPort = 9233
	DefaultDBFile  = "traffic.db"
	ConfigDirName  = ".proxyscope"
)

// Server-side caps. Caller-supplied values are clamped to these regardless of
// what the tool invocation asks for.
const (
	DefaultTruncateAt   = 4000 // inline body threshold T
	DefaultListLimit    = 50
	MaxListLimit        = 200
	DefaultSearchLimit  = 10
	MaxSearchLimit      = 100
	DefaultContextBytes = 80
	MaxContextBytes     = 500
	MaxReadBytes        = 8000
)

// Config holds the proxyscope configuration stored in .proxyscope/config.json.
type Config struct {
	Version    string `json:"version"`
	DBPath     string `json:"db_path"`
	MCPPort    int    `json:"mcp_port"`
	TruncateAt int    `json:"truncate_at"` // inline body threshold in bytes
}

// DefaultConfig returns a new Config with default values rooted at workDir.
func DefaultConfig(workDir string) *Config {
	return &Config{
		Version:    Version,
		DBPath:     filepath.Join(workDir, ConfigDirName, DefaultDBFile),
		MCPPort:    DefaultMCPPort,
		TruncateAt: DefaultTruncateAt,
	}
}

// Load reads and parses config from the given path.
// If the file doesn't exist, returns os.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Save writes the config to the given path atomically.
func (c *Config) Save(path string) error {
	if c == nil {
		return errors.New("config is nil")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Write atomically by writing to temp file then renaming
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// applyDefaults fills in zero values with defaults
func (c *Config) applyDefaults() {
	if c.MCPPort == 0 {
		c.MCPPort = DefaultMCPPort
	}
	if c.TruncateAt <= 0 {
		c.TruncateAt = DefaultTruncateAt
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(ConfigDirName, DefaultDBFile)
	}
}
