// Package config loads the pipeline's structured settings from a YAML
// document, with environment-variable overrides for connection secrets.
// No secrets are ever hardcoded; the YAML document carries topology
// (paths, collection names, queue names, type lists) while credentials
// may be supplied at deploy time via the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML document.
type Config struct {
	Dirs struct {
		Barn      string `yaml:"barn"`
		Warehouse string `yaml:"warehouse"`
	} `yaml:"dirs"`

	MongoDB struct {
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		Name        string `yaml:"name"`
		Collections struct {
			Images string `yaml:"images"`
			Videos string `yaml:"videos"`
		} `yaml:"collections"`
	} `yaml:"mongodb"`

	RabbitMQ struct {
		Host  string `yaml:"host"`
		Port  int    `yaml:"port"`
		Queue string `yaml:"queue"`
	} `yaml:"rabbitmq"`

	VideoTypes []string `yaml:"video_types"`
	ImageTypes []string `yaml:"image_types"`

	Monitor struct {
		MaxNumTry int `yaml:"max_num_try"`
		Timeout   int `yaml:"timeout"`
	} `yaml:"monitor"`

	Orchestrator struct {
		DestroyOnDuplicate bool `yaml:"destroy_on_duplicate"`
	} `yaml:"orchestrator"`
}

// Load reads the YAML file at path and applies environment overrides for
// connection credentials. It does not validate barn/warehouse existence —
// that check happens at component construction time (a missing barn
// directory at startup is configuration-fatal, but the watcher/orchestrator
// are the ones that know when "startup" is).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Monitor.MaxNumTry == 0 {
		cfg.Monitor.MaxNumTry = 3
	}
	if cfg.Monitor.Timeout == 0 {
		cfg.Monitor.Timeout = 30
	}
	if cfg.MongoDB.Collections.Images == "" {
		cfg.MongoDB.Collections.Images = "images"
	}
	if cfg.MongoDB.Collections.Videos == "" {
		cfg.MongoDB.Collections.Videos = "videos"
	}
}

// applyEnvOverrides lets deploy-time secrets (MongoDB username and
// password) and the RabbitMQ host win over whatever (if anything) is
// checked into the YAML document.
func applyEnvOverrides(cfg *Config) {
	cfg.MongoDB.Username = getEnv("DWARF_MONGODB_USERNAME", cfg.MongoDB.Username)
	cfg.MongoDB.Password = getEnv("DWARF_MONGODB_PASSWORD", cfg.MongoDB.Password)
	cfg.RabbitMQ.Host = getEnv("DWARF_RABBITMQ_HOST", cfg.RabbitMQ.Host)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
