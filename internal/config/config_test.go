package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/tmp/turf.db")
	if cfg.Database.Path != "/tmp/turf.db" || cfg.Database.Driver != "sqlite" {
		t.Fatalf("unexpected database config %#v", cfg.Database)
	}
	if cfg.Conquest.ClosureTolerance != 20 || cfg.Conquest.MinArea != 100 || cfg.Conquest.DestroyThreshold != 0.95 {
		t.Fatalf("unexpected conquest defaults %#v", cfg.Conquest)
	}
	if cfg.Conquest.MaxConflictRetries != 3 || cfg.Conquest.SelfOverlap != "ignore" || cfg.Conquest.Index != "rtree" {
		t.Fatalf("unexpected resolution defaults %#v", cfg.Conquest)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/turf.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != defaults.Database.Path {
		t.Fatalf("expected default db path, got %q", cfg.Database.Path)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/custom/turf.db"

[logging]
level = "debug"

[conquest]
destroy_threshold = 0.9
min_duration_seconds = 120
self_overlap = "merge"
index = "scan"

[event_mode]
provider = "window"
starts_at = 2026-06-01T09:00:00Z
ends_at = 2026-06-01T11:00:00Z
`)

	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/custom/turf.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
	if cfg.Conquest.DestroyThreshold != 0.9 || cfg.Conquest.MinDuration() != 2*time.Minute {
		t.Fatalf("unexpected conquest config %#v", cfg.Conquest)
	}
	if cfg.Conquest.ClosureTolerance != 20 {
		t.Fatalf("expected untouched default closure tolerance, got %v", cfg.Conquest.ClosureTolerance)
	}
	if cfg.Conquest.SelfOverlap != "merge" || cfg.Conquest.Index != "scan" {
		t.Fatalf("unexpected policy fields %#v", cfg.Conquest)
	}
	want := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	if !cfg.EventMode.StartsAt.Equal(want) || !cfg.EventMode.EndsAt.Equal(want.Add(2*time.Hour)) {
		t.Fatalf("unexpected event window %s - %s", cfg.EventMode.StartsAt, cfg.EventMode.EndsAt)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "/custom/turf.db"
`)
	t.Setenv("TURF_DB_PATH", "/env/turf.db")
	t.Setenv("TURF_EVENT_MODE", "true")
	t.Setenv("TURF_MAX_CONFLICT_RETRIES", "5")
	t.Setenv("TURF_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/env/turf.db" {
		t.Fatalf("expected env db path, got %q", cfg.Database.Path)
	}
	if !cfg.EventMode.Enabled {
		t.Fatal("expected event mode enabled from env")
	}
	if cfg.Conquest.MaxConflictRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.Conquest.MaxConflictRetries)
	}
	if cfg.EventMode.Redis.Addr != "redis:6379" || cfg.EventMode.Redis.Key != "turf:event_mode" {
		t.Fatalf("unexpected redis config %#v", cfg.EventMode.Redis)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "driver", content: "[database]\ndriver = \"oracle\"\n", want: "database.driver"},
		{name: "postgres dsn", content: "[database]\ndriver = \"postgres\"\n", want: "database.dsn"},
		{name: "log level", content: "[logging]\nlevel = \"loud\"\n", want: "logging.level"},
		{name: "threshold", content: "[conquest]\ndestroy_threshold = 1.5\n", want: "destroy_threshold"},
		{name: "min points", content: "[conquest]\nmin_points = 2\n", want: "min_points"},
		{name: "self overlap", content: "[conquest]\nself_overlap = \"steal\"\n", want: "self_overlap"},
		{name: "index", content: "[conquest]\nindex = \"quadtree\"\n", want: "conquest.index"},
		{name: "provider", content: "[event_mode]\nprovider = \"etcd\"\n", want: "event_mode.provider"},
		{name: "empty window", content: "[event_mode]\nprovider = \"window\"\n", want: "starts_at or ends_at"},
		{name: "reversed window", content: "[event_mode]\nprovider = \"window\"\nstarts_at = 2026-06-02T00:00:00Z\nends_at = 2026-06-01T00:00:00Z\n", want: "after starts_at"},
		{name: "endpoint", content: "[server]\napi_endpoint = \"api\"\n", want: "server.api_endpoint"},
		{name: "sample ratio", content: "[telemetry]\nsample_ratio = 2.0\n", want: "sample_ratio"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content), Default("/tmp/turf.db"))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TURF_TEST_DOTENV_A=file\nTURF_TEST_DOTENV_B=file\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("TURF_TEST_DOTENV_A", "process")
	t.Setenv("TURF_TEST_DOTENV_B", "")
	if err := os.Unsetenv("TURF_TEST_DOTENV_B"); err != nil {
		t.Fatalf("Unsetenv() error = %v", err)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("TURF_TEST_DOTENV_A"); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
	if got := os.Getenv("TURF_TEST_DOTENV_B"); got != "file" {
		t.Fatalf("expected file value, got %q", got)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := EnsureConfigDir(path); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected config dir, got %v", err)
	}
	if err := EnsureConfigDir("config.toml"); err != nil {
		t.Fatalf("EnsureConfigDir(relative) error = %v", err)
	}
}
