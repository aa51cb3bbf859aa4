// Package config loads server and device settings from the environment,
// reading a .env file first when one exists.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server holds the backend settings.
type Server struct {
	Addr        string
	DBDriver    string
	DatabaseURL string

	// SessionSecret signs session cookies. Empty means the caller should
	// generate an ephemeral one.
	SessionSecret string

	// RedisURL enables cross-instance notifications when set.
	RedisURL string

	CORSOrigins []string
	LogLevel    string
	Development bool
}

// Device holds the CLI settings.
type Device struct {
	ServerURL string

	// Home keeps the secret store and the session cookie.
	Home string

	// DeviceKey optionally overrides the generated secret sealing key.
	DeviceKey   string
	SendTimeout time.Duration
	LogLevel    string
}

// LoadDotEnv reads .env if present. A missing file is not an error.
func LoadDotEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

func LoadServer() *Server {
	return &Server{
		Addr:          getEnv("ADDR", ":8080"),
		DBDriver:      getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL:   getEnv("DATABASE_URL", "rentchat.db"),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "")),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Development:   getEnv("APP_ENV", "") == "development",
	}
}

func LoadDevice() *Device {
	home := getEnv("RENTCHAT_HOME", "")
	if home == "" {
		if dir, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(dir, ".rentchat")
		} else {
			home = ".rentchat"
		}
	}

	timeout, err := time.ParseDuration(getEnv("RENTCHAT_SEND_TIMEOUT", "15s"))
	if err != nil || timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Device{
		ServerURL:   strings.TrimRight(getEnv("RENTCHAT_SERVER", "http://localhost:8080"), "/"),
		Home:        home,
		DeviceKey:   getEnv("RENTCHAT_DEVICE_KEY", ""),
		SendTimeout: timeout,
		LogLevel:    getEnv("LOG_LEVEL", "warn"),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
