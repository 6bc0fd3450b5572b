package main

import "testing"

func TestValidateConfigRejectsOversizedPSize(t *testing.T) {
	cfg := Config{Cert: "c", Key: "k", TunAddress: "10.10.0.1", PSize: 1501}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected rejection of psize=1501")
	}
}

func TestValidateConfigAcceptsMultipleOfMTU(t *testing.T) {
	cfg := Config{Cert: "c", Key: "k", TunAddress: "10.10.0.1", PSize: 3000}
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestValidateConfigRequiresTunAddress(t *testing.T) {
	cfg := Config{Cert: "c", Key: "k", PSize: 1500}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected rejection of missing tun_address")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	if cfg.PSize != 1500 {
		t.Fatalf("expected default psize 1500, got %d", cfg.PSize)
	}
	if cfg.Port != 8443 {
		t.Fatalf("expected default port 8443, got %d", cfg.Port)
	}
	if cfg.Device == "" {
		t.Fatalf("expected a default device name")
	}
	if cfg.Backlog != 1 {
		t.Fatalf("expected default backlog 1, got %d", cfg.Backlog)
	}
}
