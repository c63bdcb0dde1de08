package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting read from the environment.
type Config struct {
	Addr      string
	OutputDir string
	LogLevel  slog.Level

	YtDlpPath          string
	CookiesFromBrowser string
	CookiesFile        string

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BoltPath      string

	DownloadTimeout time.Duration
	MetadataTimeout time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
}

// Load reads the configuration. Invalid values fall back to defaults.
func Load() Config {
	return Config{
		Addr:      envOrDefault("APP_ADDR", ":8080"),
		OutputDir: envOrDefault("OUTPUTS_DIR", "downloads"),
		LogLevel:  envLevelOrDefault("LOG_LEVEL", slog.LevelInfo),

		YtDlpPath:          envOrDefault("YTDLP_PATH", "yt-dlp"),
		CookiesFromBrowser: os.Getenv("YTDLP_COOKIES_FROM_BROWSER"),
		CookiesFile:        os.Getenv("YTDLP_COOKIES_FILE"),

		StoreBackend:  strings.ToLower(envOrDefault("STORE_BACKEND", "memory")),
		RedisAddr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntOrDefault("REDIS_DB", 0),
		BoltPath:      envOrDefault("BOLT_PATH", "sessions.db"),

		DownloadTimeout: envDurationOrDefault("DOWNLOAD_TIMEOUT", 30*time.Minute),
		MetadataTimeout: envDurationOrDefault("METADATA_TIMEOUT", 30*time.Second),
		Retention:       envDurationOrDefault("RETENTION", 24*time.Hour),
		CleanupInterval: envDurationOrDefault("CLEANUP_INTERVAL", 30*time.Minute),
	}
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envLevelOrDefault(key string, fallback slog.Level) slog.Level {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(val)); err != nil {
		return fallback
	}
	return level
}
