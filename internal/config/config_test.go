package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Type != "file" {
		t.Errorf("Storage.Type = %q, want file", cfg.Storage.Type)
	}
	if cfg.Anchor.Prefix != "@KeeShepherd" {
		t.Errorf("Anchor.Prefix = %q, want @KeeShepherd", cfg.Anchor.Prefix)
	}
	if cfg.Limits.MinSecretLength != 6 {
		t.Errorf("Limits.MinSecretLength = %d, want 6", cfg.Limits.MinSecretLength)
	}
	if cfg.Values.ParallelFetch {
		t.Error("Values.ParallelFetch = true, want sequential default")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error for missing file: %v", err)
	}
	if cfg.Storage.Type != "file" {
		t.Errorf("missing config did not fall back to defaults")
	}
}

func TestLoadFile_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shepherd.yaml")
	data := []byte(`
storage:
  type: redis
  redis:
    address: redis.internal:6379
    db: 3
anchor:
  prefix: "@Vault"
limits:
  min_secret_length: 10
values:
  parallel_fetch: true
  static:
    k1: ABC123XYZ
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Storage.Type != "redis" {
		t.Errorf("Storage.Type = %q, want redis", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.Address != "redis.internal:6379" || cfg.Storage.Redis.DB != 3 {
		t.Errorf("Redis = %+v, want overridden address/db", cfg.Storage.Redis)
	}
	if cfg.Anchor.Prefix != "@Vault" {
		t.Errorf("Anchor.Prefix = %q, want @Vault", cfg.Anchor.Prefix)
	}
	if cfg.Limits.MinSecretLength != 10 {
		t.Errorf("Limits.MinSecretLength = %d, want 10", cfg.Limits.MinSecretLength)
	}
	if !cfg.Values.ParallelFetch {
		t.Error("Values.ParallelFetch = false, want true")
	}
	if cfg.Values.Static["k1"] != "ABC123XYZ" {
		t.Errorf("Values.Static = %v, want k1 entry", cfg.Values.Static)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default info", cfg.Logging.Level)
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shepherd.yaml")
	if err := os.WriteFile(path, []byte("storage: [not a mapping"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile() accepted malformed YAML")
	}
}

func TestSanitizeConfigPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"plain relative", "shepherd.yaml", "shepherd.yaml"},
		{"dot relative", "./shepherd.yaml", "shepherd.yaml"},
		{"escaping relative", "../../etc/shepherd.yaml", "etc/shepherd.yaml"},
		{"bare dot dot", "..", "shepherd.yaml"},
		{"absolute kept", "/etc/shepherd/shepherd.yaml", "/etc/shepherd/shepherd.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeConfigPath(tt.path); got != tt.want {
				t.Errorf("sanitizeConfigPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
