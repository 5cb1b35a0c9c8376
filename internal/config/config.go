// Package config loads and persists the daemon's JSON configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/exobrain/taskdaemon/internal/transport"
)

// Config represents daemon configuration as stored in config.json.
type Config struct {
	Transport    string `json:"transport"` // unix, pipe, http or auto
	SocketPath   string `json:"socket_path"`
	PipeName     string `json:"pipe_name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	EnableRemote bool   `json:"enable_remote"`
	AuthToken    string `json:"auth_token,omitempty"`

	StoragePath        string `json:"storage_path"`
	PidFilePath        string `json:"pid_file"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`

	CleanupIntervalMinutes int `json:"cleanup_interval_minutes"`
	RetentionHours         int `json:"retention_hours"`
	MaxTasks               int `json:"max_tasks"`

	LogLevel string `json:"log_level"` // debug, info, warn, error, none
	LogPath  string `json:"log_path"`
}

func baseDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".exobrain")
}

// GetConfigPath returns the default config file path.
func GetConfigPath() string {
	return filepath.Join(baseDir(), "config.json")
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	dir := baseDir()

	return &Config{
		Transport:    string(transport.TypeAuto),
		SocketPath:   transport.DefaultSocketPath,
		PipeName:     transport.DefaultPipeName,
		Host:         transport.DefaultHTTPHost,
		Port:         transport.DefaultHTTPPort,
		EnableRemote: false,

		StoragePath:        filepath.Join(dir, "tasks"),
		PidFilePath:        filepath.Join(dir, "task-daemon.pid"),
		MaxConcurrentTasks: 10,

		CleanupIntervalMinutes: 60,
		RetentionHours:         168,
		MaxTasks:               1000,

		LogLevel: "info",
		LogPath:  filepath.Join(dir, "task-daemon.log"),
	}
}

// Load reads configuration from path. Missing files yield defaults, and a
// file that sets only some fields keeps defaults for the rest.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.Transport == "" {
		cfg.Transport = string(transport.TypeAuto)
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = filepath.Join(baseDir(), "tasks")
	}
	if cfg.PidFilePath == "" {
		cfg.PidFilePath = filepath.Join(baseDir(), "task-daemon.pid")
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 10
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Save writes configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// TransportType parses the configured transport name.
func (c *Config) TransportType() (transport.Type, error) {
	return transport.ParseType(c.Transport)
}

// TransportConfig converts the daemon config into transport settings.
func (c *Config) TransportConfig() *transport.Config {
	return &transport.Config{
		SocketPath:   c.SocketPath,
		PipeName:     c.PipeName,
		Host:         c.Host,
		Port:         c.Port,
		EnableRemote: c.EnableRemote,
		AuthToken:    c.AuthToken,
	}
}
