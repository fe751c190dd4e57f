package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Database != def.Database {
		t.Errorf("Database = %q, want default %q", cfg.Database, def.Database)
	}
	if cfg.Retry.MaxAttempts != 8 || cfg.Retry.BaseDelay != 10*time.Millisecond {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Watch.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v, want 2s", cfg.Watch.Debounce)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database: /tmp/custom.db
export_dir: /exports
log:
  max_size_mb: 99
watch:
  debounce: 5s
retry:
  max_attempts: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database != "/tmp/custom.db" || cfg.ExportDir != "/exports" {
		t.Errorf("paths not loaded: %+v", cfg)
	}
	if cfg.Log.MaxSizeMB != 99 {
		t.Errorf("MaxSizeMB = %d, want 99", cfg.Log.MaxSizeMB)
	}
	if cfg.Watch.Debounce != 5*time.Second {
		t.Errorf("Debounce = %v, want 5s", cfg.Watch.Debounce)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	// Untouched settings keep their defaults.
	if cfg.Log.MaxBackups != Default().Log.MaxBackups {
		t.Errorf("MaxBackups = %d, want default", cfg.Log.MaxBackups)
	}
}

func TestLoadEnvOverridesNestedKeys(t *testing.T) {
	t.Setenv("TANALITE_DATABASE", "/srv/env.db")
	t.Setenv("TANALITE_LOG_MAX_BACKUPS", "9")
	t.Setenv("TANALITE_RETRY_MAX_ATTEMPTS", "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database != "/srv/env.db" {
		t.Errorf("Database = %q, want /srv/env.db", cfg.Database)
	}
	if cfg.Log.MaxBackups != 9 {
		t.Errorf("Log.MaxBackups = %d, want 9", cfg.Log.MaxBackups)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if cfg.Retry.MaxAttempts != Default().Retry.MaxAttempts {
		t.Errorf("round-trip lost retry config: %+v", cfg.Retry)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("expected error overwriting existing config")
	}
}
