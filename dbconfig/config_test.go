package dbconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() failed Validate: %v", err)
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"100MB": 100 * 1024 * 1024,
		"1GB":   1024 * 1024 * 1024,
		"512KB": 512 * 1024,
		"10B":   10,
		"42":    42,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Errorf("ParseSize(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseSizeInvalid(t *testing.T) {
	if _, err := ParseSize(""); err == nil {
		t.Error("expected error for empty size string")
	}
	if _, err := ParseSize("notasize"); err == nil {
		t.Error("expected error for non-numeric size string")
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	cfg := Default()
	cfg.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty path")
	}

	cfg = Default()
	cfg.CheckpointInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero checkpoint interval")
	}

	cfg = Default()
	cfg.LogLevel = 99
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range log level")
	}

	cfg = Default()
	cfg.CacheSize = "not-a-size"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unparseable cache size")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Path = "/var/lib/ternstore"
	cfg.LockTimeout = 3 * time.Second

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Path != cfg.Path {
		t.Errorf("Path = %q, want %q", loaded.Path, cfg.Path)
	}
	if loaded.LockTimeout != cfg.LockTimeout {
		t.Errorf("LockTimeout = %v, want %v", loaded.LockTimeout, cfg.LockTimeout)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	os.Setenv("TERN_PATH", "/tmp/env-path")
	os.Setenv("TERN_LOG_LEVEL", "10")
	defer os.Unsetenv("TERN_PATH")
	defer os.Unsetenv("TERN_LOG_LEVEL")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Path != "/tmp/env-path" {
		t.Errorf("Path = %q, want /tmp/env-path", cfg.Path)
	}
	if cfg.LogLevel != 10 {
		t.Errorf("LogLevel = %d, want 10", cfg.LogLevel)
	}
}

func TestCacheSizeBytes(t *testing.T) {
	cfg := Default()
	cfg.CacheSize = "64MB"
	if got, want := cfg.CacheSizeBytes(), int64(64*1024*1024); got != want {
		t.Errorf("CacheSizeBytes() = %d, want %d", got, want)
	}
}
