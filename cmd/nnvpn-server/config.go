package main

import (
	"fmt"
	"time"

	"nnvpn/internal/config"
)

// Config is the listener's configuration, loaded from YAML. Keys match
// spec.md's external-interface table (address/port/psize/cert/key/device/
// log) plus the ambient additions documented in SPEC_FULL.md.
type Config struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	PSize   int    `yaml:"psize"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
	Device  string `yaml:"device"`
	Log     string `yaml:"log"`

	TunAddress string `yaml:"tun_address"`
	TunNetmask string `yaml:"tun_netmask"`

	LogLevel      string        `yaml:"log_level"`
	LogJSON       bool          `yaml:"log_json"`
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
	Backlog       int           `yaml:"backlog"`
	MetricsAddr   string        `yaml:"metrics_addr"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if err := config.Load(path, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8443
	}
	if cfg.PSize == 0 {
		cfg.PSize = 1500
	}
	if cfg.Device == "" {
		cfg.Device = "nnvpn0"
	}
	if cfg.TunNetmask == "" {
		cfg.TunNetmask = "255.255.255.0"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = 1
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9100"
	}
}

func validateConfig(cfg Config) error {
	if cfg.Cert == "" || cfg.Key == "" {
		return fmt.Errorf("cert and key are required")
	}
	if cfg.TunAddress == "" {
		return fmt.Errorf("tun_address is required")
	}
	if cfg.PSize <= 0 || cfg.PSize%1500 != 0 {
		return fmt.Errorf("invalid payload size: %d (must be a positive multiple of 1500)", cfg.PSize)
	}
	return nil
}
