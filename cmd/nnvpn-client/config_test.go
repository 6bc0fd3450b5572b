package main

import "testing"

func TestValidateConfigRequiresAddress(t *testing.T) {
	cfg := Config{Cert: "c", Key: "k", TunAddress: "10.10.0.2", PSize: 1500}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected rejection of missing address")
	}
}

func TestValidateConfigRejectsOversizedPSize(t *testing.T) {
	cfg := Config{Address: "10.0.0.1", Cert: "c", Key: "k", TunAddress: "10.10.0.2", PSize: 1501}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected rejection of psize=1501")
	}
}
