package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "APP_") {
			key := strings.SplitN(kv, "=", 2)[0]
			t.Setenv(key, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_DB_DSN", "postgres://u:p@localhost/db")
	t.Setenv("APP_SESSION_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Sync.RetryBaseDelay != time.Second || cfg.Sync.MaxRetries != 3 || cfg.Sync.PaceDelay != 200*time.Millisecond {
		t.Errorf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if cfg.Google.CalendarID != "primary" {
		t.Errorf("Google.CalendarID = %q", cfg.Google.CalendarID)
	}
	if cfg.RemoteEnabled() {
		t.Error("remote should be disabled without google credentials")
	}
}

func TestLoadBuildsDSNFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_DB_HOST", "db")
	t.Setenv("APP_DB_NAME", "planner")
	t.Setenv("APP_DB_USER", "app")
	t.Setenv("APP_DB_PASSWORD", "pw")
	t.Setenv("APP_SESSION_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := "postgres://app:pw@db:5432/planner?sslmode=disable"
	if cfg.DB.DSN != want {
		t.Errorf("DSN = %q, want %q", cfg.DB.DSN, want)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing dsn",
			env:  map[string]string{"APP_SESSION_SECRET": testSecret},
			want: "APP_DB_DSN is required",
		},
		{
			name: "short secret",
			env:  map[string]string{"APP_STORE_BACKEND": "memory", "APP_SESSION_SECRET": "short"},
			want: "at least 32 characters",
		},
		{
			name: "unknown backend",
			env:  map[string]string{"APP_STORE_BACKEND": "mongo", "APP_SESSION_SECRET": testSecret},
			want: "unsupported store backend",
		},
		{
			name: "half google config",
			env:  map[string]string{"APP_STORE_BACKEND": "memory", "APP_SESSION_SECRET": testSecret, "APP_GOOGLE_CLIENT_ID": "id"},
			want: "requires both",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "planner.yaml")
	body := `listen_addr: ":9090"
store:
  backend: sqlite
sqlite:
  path: /tmp/planner.db
session:
  secret: "` + testSecret + `"
sync:
  pace_delay: 50ms
  max_retries: 5
  cron: "*/10 * * * *"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("APP_SYNC_MAX_RETRIES", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Store.Backend != "sqlite" || cfg.SQLite.Path != "/tmp/planner.db" {
		t.Errorf("unexpected store config: %+v %+v", cfg.Store, cfg.SQLite)
	}
	if cfg.Sync.PaceDelay != 50*time.Millisecond {
		t.Errorf("PaceDelay = %v", cfg.Sync.PaceDelay)
	}
	if cfg.Sync.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want env override 2", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.Cron != "*/10 * * * *" {
		t.Errorf("Cron = %q", cfg.Sync.Cron)
	}
}
