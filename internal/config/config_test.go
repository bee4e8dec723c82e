package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRuntimePort(t *testing.T) {
	orig := GetRuntimePort()
	defer SetRuntimePort(orig)

	SetRuntimePort(0)
	if got := GetRuntimePort(); got != orig {
		t.Fatalf("expected port to remain %d, got %d", orig, got)
	}

	SetRuntimePort(9090)
	if got := GetRuntimePort(); got != 9090 {
		t.Fatalf("expected port 9090, got %d", got)
	}
}

func TestRuntimeDataDirAndEnv(t *testing.T) {
	SetRuntimeDataDir("")
	defer SetRuntimeDataDir("")

	tmp := t.TempDir()
	SetRuntimeDataDir(tmp)
	dir, err := GetDataDir(Settings{})
	if err != nil {
		t.Fatalf("GetDataDir: %v", err)
	}
	if dir != tmp {
		t.Fatalf("expected runtime dir %q, got %q", tmp, dir)
	}

	SetRuntimeDataDir("")
	tmpEnv := filepath.Join(t.TempDir(), "data")
	t.Setenv(envDataDir, tmpEnv)
	dir, err = GetDataDir(Settings{DataDir: "/ignored"})
	if err != nil {
		t.Fatalf("GetDataDir env: %v", err)
	}
	if dir != tmpEnv {
		t.Fatalf("expected env dir %q, got %q", tmpEnv, dir)
	}
}

func TestGetDBPath(t *testing.T) {
	SetRuntimeDataDir("")
	path := filepath.Join(t.TempDir(), "db.sqlite")
	t.Setenv(envDBPath, path)
	got, err := GetDBPath(Settings{})
	if err != nil {
		t.Fatalf("GetDBPath: %v", err)
	}
	if got != path {
		t.Fatalf("expected %q, got %q", path, got)
	}

	t.Setenv(envDBPath, "")
	dir := t.TempDir()
	got, err = GetDBPath(Settings{DataDir: dir, DBName: "watch.db"})
	if err != nil {
		t.Fatalf("GetDBPath settings: %v", err)
	}
	if got != filepath.Join(dir, "watch.db") {
		t.Fatalf("unexpected db path %q", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.AI.MaxAttempts != 1 {
		t.Fatalf("expected retry disabled by default, got %d attempts", s.AI.MaxAttempts)
	}
	if s.DrainTimeout().Seconds() != 30 {
		t.Fatalf("drain timeout = %v", s.DrainTimeout())
	}
	if s.Timezone != "Asia/Shanghai" || s.DBName != defaultDBName {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panwatch.yaml")
	content := `
timezone: America/New_York
http_proxy: http://proxy.local:8080
ai:
  base_url: https://example.invalid/v1
  model: file-model
  max_attempts: 3
  requests_per_minute: 20
scheduler:
  drain_timeout_seconds: 5
markets:
  cn:
    holidays: ["2026-10-01", "2026-10-02"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(envAIModel, "env-model")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.AI.Model != "env-model" {
		t.Fatalf("env override not applied: %q", s.AI.Model)
	}
	if s.AI.BaseURL != "https://example.invalid/v1" || s.AI.MaxAttempts != 3 || s.AI.RequestsPerMinute != 20 {
		t.Fatalf("ai settings = %+v", s.AI)
	}
	if s.HTTPProxy != "http://proxy.local:8080" {
		t.Fatalf("proxy = %q", s.HTTPProxy)
	}
	if s.DrainTimeout().Seconds() != 5 {
		t.Fatalf("drain timeout = %v", s.DrainTimeout())
	}
	if got := s.Holidays()["CN"]; len(got) != 2 {
		t.Fatalf("holidays = %v", s.Holidays())
	}
	loc, err := s.Location()
	if err != nil || loc.String() != "America/New_York" {
		t.Fatalf("location = %v, %v", loc, err)
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panwatch.yaml")
	if err := os.WriteFile(path, []byte("timezone: Mars/Olympus\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
