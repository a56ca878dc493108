package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("DATABASE_URL", "postgres://localhost:5432/hdx_test")
	t.Cleanup(func() { os.Unsetenv("DATABASE_URL") })
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Errorf("expected development mode by default")
	}
	if cfg.DBMaxConns != 20 || cfg.DBMinConns != 5 {
		t.Errorf("unexpected pool defaults: %d/%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestDerivedURLs(t *testing.T) {
	cfg := &Config{
		GatewayURL: "https://gw.example.net/gateway",
		BackendURL: "https://bridge.example.org",
	}
	if got := cfg.SessionURL(); got != "https://gw.example.net/gateway/v0.5/sessions" {
		t.Errorf("SessionURL = %s", got)
	}
	if got := cfg.CertsURL(); got != "https://gw.example.net/gateway/v0.5/certs" {
		t.Errorf("CertsURL = %s", got)
	}
	cfg.GatewayJWKSURL = "https://gw.example.net/custom/certs"
	if got := cfg.CertsURL(); got != "https://gw.example.net/custom/certs" {
		t.Errorf("CertsURL override = %s", got)
	}
	if got := cfg.DataPushURL(); got != "https://bridge.example.org/api/v3/hiu/health-information/transfer" {
		t.Errorf("DataPushURL = %s", got)
	}
}

func TestValidate_Production(t *testing.T) {
	cfg := &Config{Env: "production"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure without gateway settings")
	}

	cfg.GatewayURL = "https://gw.example.net/gateway"
	cfg.GatewayClientID = "client"
	cfg.GatewayClientSecret = "secret"
	cfg.GatewayCMID = "sbx"
	cfg.BackendURL = "https://bridge.example.org"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
