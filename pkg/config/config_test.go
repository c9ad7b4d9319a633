package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddress != "0.0.0.0:8080" {
		t.Fatalf("expected default bind address, got %s", cfg.BindAddress)
	}
	if cfg.HeartbeatTimeout != 2*time.Minute {
		t.Fatalf("expected default heartbeat timeout 2m, got %s", cfg.HeartbeatTimeout)
	}
	if cfg.LockTTL != 10*time.Minute {
		t.Fatalf("expected default lock ttl 10m, got %s", cfg.LockTTL)
	}
	if cfg.AuthMode != "none" {
		t.Fatalf("expected default auth mode none, got %s", cfg.AuthMode)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatchd.yaml")
	yaml := `
bind_address: "127.0.0.1:9090"
db_path: "/var/lib/dispatchd/custom.db"
heartbeat_timeout: "5m"
lock_ttl: "1h"
auth_mode: "token"
token_secret: "s3cret"
allowed_origins:
  - "https://example.com"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddress != "127.0.0.1:9090" {
		t.Fatalf("expected bind address from file, got %s", cfg.BindAddress)
	}
	if cfg.HeartbeatTimeout != 5*time.Minute {
		t.Fatalf("expected heartbeat_timeout 5m, got %s", cfg.HeartbeatTimeout)
	}
	if cfg.LockTTL != time.Hour {
		t.Fatalf("expected lock_ttl 1h, got %s", cfg.LockTTL)
	}
	if cfg.AuthMode != "token" || cfg.TokenSecret != "s3cret" {
		t.Fatalf("expected token auth with secret, got %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://example.com" {
		t.Fatalf("expected allowed_origins from file, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadEnvOverridesWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("DISPATCHD_BIND_ADDRESS", "0.0.0.0:7000")
	t.Setenv("DISPATCHD_AUTH_MODE", "token")
	t.Setenv("DISPATCHD_TOKEN_SECRET", "env-secret")
	t.Setenv("DISPATCHD_HEARTBEAT_TIMEOUT", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddress != "0.0.0.0:7000" {
		t.Fatalf("expected env override for bind address, got %s", cfg.BindAddress)
	}
	if cfg.AuthMode != "token" || cfg.TokenSecret != "env-secret" {
		t.Fatalf("expected env override for auth mode/secret, got %+v", cfg)
	}
	if cfg.HeartbeatTimeout != 90*time.Second {
		t.Fatalf("expected env override heartbeat_timeout 90s, got %s", cfg.HeartbeatTimeout)
	}
}

func TestApplyDefaultsFoldsDeprecatedDBConnection(t *testing.T) {
	cfg := &Config{DBConnection: "/legacy/path.db"}
	ApplyDefaults(cfg)
	if cfg.DBPath != "/legacy/path.db" {
		t.Fatalf("expected db_connection to be folded into db_path, got %s", cfg.DBPath)
	}
}

func TestApplyDefaultsPrefersExplicitDBPath(t *testing.T) {
	cfg := &Config{DBPath: "/explicit/path.db", DBConnection: "/legacy/path.db"}
	ApplyDefaults(cfg)
	if cfg.DBPath != "/explicit/path.db" {
		t.Fatalf("expected explicit db_path to win over db_connection, got %s", cfg.DBPath)
	}
}

func TestValidateRejectsEmptyBindAddress(t *testing.T) {
	cfg := defaultConfig()
	cfg.BindAddress = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for empty bind_address")
	}
}

func TestValidateRejectsMismatchedTLSPair(t *testing.T) {
	cfg := defaultConfig()
	cfg.TLSCert = "/cert.pem"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for a cert set without a matching key")
	}
}

func TestValidateRejectsOSIntegratedAuthMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.AuthMode = "os-integrated"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected os-integrated auth_mode to be rejected as not implemented")
	}
}

func TestValidateRequiresTokenSecretForTokenMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.AuthMode = "token"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error when auth_mode is token but token_secret is empty")
	}
	cfg.TokenSecret = "s3cret"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected a token_secret to satisfy validation, got %v", err)
	}
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	cfg := defaultConfig()
	cfg.HeartbeatTimeout = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for a zero heartbeat_timeout")
	}

	cfg = defaultConfig()
	cfg.LockTTL = -time.Second
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for a negative lock_ttl")
	}
}
