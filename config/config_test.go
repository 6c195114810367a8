package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// noEnvFile keeps tests from reading a .env in the package directory.
func noEnvFile(t *testing.T) []string {
	return []string{"-env-file", filepath.Join(t.TempDir(), "missing.env")}
}

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "AUTH_TOKEN", "JWT_SECRET", "JWKS_URL", "DEV_MODE", "DATA_DIR", "LOG_FILE",
		"SESSION_IDLE_TIMEOUT", "SNAPSHOT_BACKEND", "DATABASE_URL", "TABLE_PREFIX", "TEMPLATE_DIR",
		"CORS_ORIGINS", "CONFIG_FILE", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
		"S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_PREFIX", "S3_PRESIGN_TTL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_TOKEN", "secret")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.SnapshotBackend != BackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.SnapshotBackend)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("expected 30m idle timeout, got %v", cfg.SessionIdleTimeout)
	}
	if !filepath.IsAbs(cfg.DataDir) {
		t.Errorf("expected absolute data dir, got %q", cfg.DataDir)
	}
	if cfg.S3.Enabled() {
		t.Error("expected S3 disabled by default")
	}
}

func TestLoad_RequiresAnAuthSource(t *testing.T) {
	clearEnv(t)

	_, err := Load(noEnvFile(t))
	if err == nil {
		t.Fatal("expected error without any auth source")
	}
	if !strings.Contains(err.Error(), "AUTH_TOKEN") {
		t.Errorf("expected error to name AUTH_TOKEN, got %v", err)
	}

	t.Setenv("JWKS_URL", "https://idp.example.com/jwks.json")
	if _, err := Load(noEnvFile(t)); err != nil {
		t.Errorf("expected JWKS_URL alone to be enough, got %v", err)
	}
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_TOKEN", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	t.Setenv("SNAPSHOT_BACKEND", "disk")
	t.Setenv("CORS_ORIGINS", "http://localhost:5173, https://league.example.com,")
	t.Setenv("S3_BUCKET", "archives")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9090 || !cfg.DevMode {
		t.Errorf("expected port 9090 in dev mode, got %d dev=%v", cfg.Port, cfg.DevMode)
	}
	if cfg.SessionIdleTimeout != 5*time.Minute {
		t.Errorf("expected 5m, got %v", cfg.SessionIdleTimeout)
	}
	if cfg.SnapshotBackend != BackendDisk {
		t.Errorf("expected disk backend, got %q", cfg.SnapshotBackend)
	}
	want := []string{"http://localhost:5173", "https://league.example.com"}
	if !slices.Equal(cfg.CORSOrigins, want) {
		t.Errorf("expected origins %v, got %v", want, cfg.CORSOrigins)
	}
	if !cfg.S3.Enabled() || cfg.S3.Region != "us-east-1" {
		t.Errorf("expected S3 enabled with default region, got %+v", cfg.S3)
	}
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad port", "PORT", "http"},
		{"bad duration", "SESSION_IDLE_TIMEOUT", "soon"},
		{"unknown backend", "SNAPSHOT_BACKEND", "redis"},
		{"postgres without url", "SNAPSHOT_BACKEND", "postgres"},
		{"negative timeout", "SESSION_IDLE_TIMEOUT", "-1m"},
		{"sub-second timeout", "SESSION_IDLE_TIMEOUT", "3ns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("AUTH_TOKEN", "secret")
			t.Setenv(tt.key, tt.value)
			if _, err := Load(noEnvFile(t)); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_ZeroIdleTimeoutDisablesEviction(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_TOKEN", "secret")
	t.Setenv("SESSION_IDLE_TIMEOUT", "0s")

	cfg, err := Load(noEnvFile(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionIdleTimeout != 0 {
		t.Errorf("expected idle timeout 0, got %v", cfg.SessionIdleTimeout)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "collab.yaml")
	data := `
port: 7000
auth_token: from-file
session_idle_timeout: 90s
snapshot_backend: postgres
database_url: postgres://localhost/collab
cors_origins:
  - https://league.example.com
s3:
  bucket: archives
  region: eu-west-1
  presign_ttl: 1h
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7100")

	cfg, err := Load(append(noEnvFile(t), "-config", path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 7100 {
		t.Errorf("expected env to override file port, got %d", cfg.Port)
	}
	if cfg.AuthToken != "from-file" {
		t.Errorf("expected token from file, got %q", cfg.AuthToken)
	}
	if cfg.SessionIdleTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.SessionIdleTimeout)
	}
	if cfg.SnapshotBackend != BackendPostgres || cfg.DatabaseURL == "" {
		t.Errorf("expected postgres backend with url, got %q %q", cfg.SnapshotBackend, cfg.DatabaseURL)
	}
	if cfg.S3.Region != "eu-west-1" || cfg.S3.PresignTTL != time.Hour || cfg.S3.Prefix != "exports/" {
		t.Errorf("unexpected S3 config %+v", cfg.S3)
	}
}

func TestLoad_FlagsWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_TOKEN", "from-env")
	t.Setenv("PORT", "9090")
	dir := t.TempDir()

	cfg, err := Load(append(noEnvFile(t), "-port", "7777", "-auth-token", "from-flag", "-dev", "-data-dir", dir))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 7777 || cfg.AuthToken != "from-flag" || !cfg.DevMode || cfg.DataDir != dir {
		t.Errorf("expected flag values, got %+v", cfg)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("S3_PREFIX")
	t.Cleanup(func() { os.Unsetenv("S3_PREFIX") })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("S3_PREFIX=dotenv/\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUTH_TOKEN", "secret")

	cfg, err := Load([]string{"-env-file", path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.S3.Prefix != "dotenv/" {
		t.Errorf("expected prefix from .env, got %q", cfg.S3.Prefix)
	}
}

func TestLoad_VersionSkipsValidation(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(append(noEnvFile(t), "-version"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.ShowVersion {
		t.Error("expected ShowVersion")
	}
}
