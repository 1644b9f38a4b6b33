package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	BaseURL    string `yaml:"base_url"`

	Store struct {
		// Backend selects the document store: postgres, redis, sqlite or memory.
		Backend string `yaml:"backend"`
	} `yaml:"store"`

	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RedirectPath string `yaml:"redirect_path"`
		IssuerURL    string `yaml:"issuer_url"`
		CalendarID   string `yaml:"calendar_id"`
	} `yaml:"google"`

	Session struct {
		Secret string `yaml:"secret"`
		// TrustedUserHeader names a header set by an authenticating proxy.
		TrustedUserHeader string `yaml:"trusted_user_header"`
	} `yaml:"session"`

	Sync SyncConfig `yaml:"sync"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	PrometheusEnabled bool     `yaml:"prometheus_enabled"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

// SyncConfig tunes the remote calendar adapter and the reconciliation engine.
type SyncConfig struct {
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	MaxRetries     int           `yaml:"max_retries"`
	PaceDelay      time.Duration `yaml:"pace_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	Window         time.Duration `yaml:"window"`
	ImportRemote   bool          `yaml:"import_remote"`
	PruneRanges    bool          `yaml:"prune_ranges"`
	Cron           string        `yaml:"cron"`
	Parallelism    int           `yaml:"parallelism"`
}

// RemoteEnabled reports whether Google credentials are configured.
func (c *Config) RemoteEnabled() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

func defaults() *Config {
	cfg := &Config{}
	cfg.ListenAddr = ":8080"
	cfg.BaseURL = "http://localhost:8080"
	cfg.Store.Backend = "postgres"
	cfg.Redis.Addr = "localhost:6379"
	cfg.SQLite.Path = "planner.db"
	cfg.Google.RedirectPath = "/auth/google/callback"
	cfg.Google.IssuerURL = "https://accounts.google.com"
	cfg.Google.CalendarID = "primary"
	cfg.Sync = SyncConfig{
		RetryBaseDelay: time.Second,
		MaxRetries:     3,
		PaceDelay:      200 * time.Millisecond,
		Timeout:        30 * time.Second,
		Window:         365 * 24 * time.Hour,
		ImportRemote:   true,
		PruneRanges:    true,
		Parallelism:    4,
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("APP_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", cfg.ListenAddr)
	cfg.BaseURL = getenvDefault("APP_BASE_URL", cfg.BaseURL)
	cfg.Store.Backend = strings.ToLower(getenvDefault("APP_STORE_BACKEND", cfg.Store.Backend))
	cfg.DB.DSN = getenvDefault("APP_DB_DSN", cfg.DB.DSN)

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.Redis.Addr = getenvDefault("APP_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("APP_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getenvInt("APP_REDIS_DB", cfg.Redis.DB)
	cfg.SQLite.Path = getenvDefault("APP_SQLITE_PATH", cfg.SQLite.Path)

	cfg.Google.ClientID = getenvDefault("APP_GOOGLE_CLIENT_ID", cfg.Google.ClientID)
	cfg.Google.ClientSecret = getenvDefault("APP_GOOGLE_CLIENT_SECRET", cfg.Google.ClientSecret)
	cfg.Google.RedirectPath = getenvDefault("APP_GOOGLE_REDIRECT_PATH", cfg.Google.RedirectPath)
	cfg.Google.IssuerURL = getenvDefault("APP_GOOGLE_ISSUER_URL", cfg.Google.IssuerURL)
	cfg.Google.CalendarID = getenvDefault("APP_GOOGLE_CALENDAR_ID", cfg.Google.CalendarID)

	cfg.Session.Secret = getenvDefault("APP_SESSION_SECRET", cfg.Session.Secret)
	cfg.Session.TrustedUserHeader = getenvDefault("APP_TRUSTED_USER_HEADER", cfg.Session.TrustedUserHeader)

	cfg.Sync.RetryBaseDelay = getenvDuration("APP_SYNC_RETRY_BASE_DELAY", cfg.Sync.RetryBaseDelay)
	cfg.Sync.MaxRetries = getenvInt("APP_SYNC_MAX_RETRIES", cfg.Sync.MaxRetries)
	cfg.Sync.PaceDelay = getenvDuration("APP_SYNC_PACE_DELAY", cfg.Sync.PaceDelay)
	cfg.Sync.Timeout = getenvDuration("APP_SYNC_TIMEOUT", cfg.Sync.Timeout)
	cfg.Sync.Window = getenvDuration("APP_SYNC_WINDOW", cfg.Sync.Window)
	cfg.Sync.ImportRemote = getenvBool("APP_SYNC_IMPORT_REMOTE", cfg.Sync.ImportRemote)
	cfg.Sync.PruneRanges = getenvBool("APP_SYNC_PRUNE_RANGES", cfg.Sync.PruneRanges)
	cfg.Sync.Cron = getenvDefault("APP_SYNC_CRON", cfg.Sync.Cron)
	cfg.Sync.Parallelism = getenvInt("APP_SYNC_PARALLELISM", cfg.Sync.Parallelism)

	cfg.Log.Level = getenvDefault("APP_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("APP_LOG_FORMAT", cfg.Log.Format)

	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", cfg.PrometheusEnabled)
	if proxies := getenvList("APP_TRUSTED_PROXIES"); proxies != nil {
		cfg.TrustedProxies = proxies
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("APP_REDIS_ADDR is required for the redis store backend")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			return errors.New("APP_SQLITE_PATH is required for the sqlite store backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}

	if (c.Google.ClientID == "") != (c.Google.ClientSecret == "") {
		return errors.New("google configuration requires both APP_GOOGLE_CLIENT_ID and APP_GOOGLE_CLIENT_SECRET")
	}
	if c.Session.Secret == "" {
		return errors.New("APP_SESSION_SECRET is required")
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("APP_SESSION_SECRET must be at least 32 characters long (got %d)", len(c.Session.Secret))
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("APP_SYNC_MAX_RETRIES must not be negative (got %d)", c.Sync.MaxRetries)
	}
	if c.Sync.Window <= 0 {
		return errors.New("APP_SYNC_WINDOW must be positive")
	}
	if c.Sync.Parallelism <= 0 {
		c.Sync.Parallelism = 1
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
