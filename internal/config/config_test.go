package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServer_Defaults(t *testing.T) {
	for _, key := range []string{"ADDR", "DB_DRIVER", "DATABASE_URL", "SESSION_SECRET", "REDIS_URL", "CORS_ORIGINS", "LOG_LEVEL", "APP_ENV"} {
		t.Setenv(key, "")
	}

	cfg := LoadServer()
	if cfg.Addr != ":8080" || cfg.DBDriver != "sqlite3" || cfg.DatabaseURL != "rentchat.db" {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.SessionSecret != "" || cfg.RedisURL != "" || len(cfg.CORSOrigins) != 0 {
		t.Errorf("Expected optional settings to be empty: %+v", cfg)
	}
}

func TestLoadServer_Env(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/rentchat")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CORS_ORIGINS", "http://a.example, https://b.example ,")
	t.Setenv("APP_ENV", "development")

	cfg := LoadServer()
	if cfg.Addr != ":9000" || cfg.DBDriver != "postgres" || cfg.RedisURL == "" || !cfg.Development {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadDevice(t *testing.T) {
	t.Setenv("RENTCHAT_SERVER", "http://chat.example/")
	t.Setenv("RENTCHAT_HOME", "/tmp/rentchat-test")
	t.Setenv("RENTCHAT_SEND_TIMEOUT", "bogus")

	cfg := LoadDevice()
	if cfg.ServerURL != "http://chat.example" {
		t.Errorf("Expected trailing slash trimmed, got %q", cfg.ServerURL)
	}
	if cfg.Home != "/tmp/rentchat-test" {
		t.Errorf("Unexpected home %q", cfg.Home)
	}
	if cfg.SendTimeout != 15*time.Second {
		t.Errorf("Expected default timeout for bad value, got %v", cfg.SendTimeout)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("RENTCHAT_TEST_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RENTCHAT_TEST_VALUE", "")
	os.Unsetenv("RENTCHAT_TEST_VALUE")

	if !LoadDotEnv(path) {
		t.Fatal("LoadDotEnv did not read the file")
	}
	if got := os.Getenv("RENTCHAT_TEST_VALUE"); got != "from-file" {
		t.Errorf("Expected value from .env, got %q", got)
	}
	if LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")) {
		t.Error("Expected false for a missing file")
	}
}
