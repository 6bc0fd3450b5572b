package main

import (
	"fmt"

	"nnvpn/internal/config"
)

// Config is the dialer's configuration. Keys mirror the listener's
// (address is the remote host here, not a bind address) per spec.md §6.
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

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
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
}

func validateConfig(cfg Config) error {
	if cfg.Address == "" {
		return fmt.Errorf("address is required")
	}
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
