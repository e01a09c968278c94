package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime settings. Values come from the environment with
// sensible defaults; a .env file is loaded when present.
type Config struct {
	Addr             string
	DBPath           string
	PublicURL        string
	ReconnectGrace   time.Duration
	MaxScore         int
	CountdownSeconds int
	StaleMatchAge    time.Duration
	FactRetention    time.Duration
}

// LoadConfig reads configuration from the environment, after loading a
// .env file when one exists next to the binary.
func LoadConfig() Config {
	godotenv.Load()

	return Config{
		Addr:             envStr("PONG_ADDR", ":8080"),
		DBPath:           envStr("PONG_DB_PATH", "pong.db"),
		PublicURL:        envStr("PONG_PUBLIC_URL", "http://localhost:8080"),
		ReconnectGrace:   envDuration("PONG_RECONNECT_GRACE", 10*time.Second),
		MaxScore:         envInt("PONG_MAX_SCORE", DefaultMaxScore),
		CountdownSeconds: envInt("PONG_COUNTDOWN_SECONDS", DefaultCountdownSeconds),
		StaleMatchAge:    envDuration("PONG_STALE_MATCH_AGE", 10*time.Minute),
		FactRetention:    envDuration("PONG_FACT_RETENTION", 30*24*time.Hour),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
