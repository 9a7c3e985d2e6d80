// Package config loads Crucible's process configuration from a YAML file,
// applying the documented defaults for any field left unset.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every option the engine and its HTTP adapter recognize.
type Config struct {
	ListenPort int    `yaml:"listen_port"`
	DBPath     string `yaml:"db_path"`

	RuntimeSocket string `yaml:"runtime_socket"`
	ProjectLabel  string `yaml:"project_label"`

	DeadlineMS     int64 `yaml:"deadline_ms"`
	OutputCapBytes int   `yaml:"output_cap_bytes"`

	SandboxImage     string `yaml:"sandbox_image"`
	MemoryLimitBytes int64  `yaml:"memory_limit_bytes"`
	CPUWeight        int64  `yaml:"cpu_weight"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Defaults returns a Config populated with Crucible's documented defaults.
func Defaults() Config {
	return Config{
		ListenPort:       3000,
		DBPath:           "crucible.db",
		RuntimeSocket:    "/run/containerd/containerd.sock",
		ProjectLabel:     "crucible",
		DeadlineMS:       10000,
		OutputCapBytes:   10000,
		SandboxImage:     "openjdk:17-alpine",
		MemoryLimitBytes: 512 * 1024 * 1024,
		CPUWeight:        512,
		LogLevel:         "info",
		LogJSON:          true,
	}
}

// Load reads a YAML file at path and overlays it onto Defaults(). A
// missing file is not an error; it simply yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}
