package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port               string
	Timezone           string
	DataPath           string
	DatabaseURL        string
	SeedOnEmpty        bool
	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	tz := os.Getenv("APP_TZ")
	if tz == "" {
		tz = "Asia/Riyadh"
	}

	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		dataPath = "data/db.json"
	}

	return Config{
		Port:               port,
		Timezone:           tz,
		DataPath:           dataPath,
		DatabaseURL:        os.Getenv("DB_DSN"),
		SeedOnEmpty:        readBool("SEED_ON_EMPTY", true),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 240),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 60),
	}
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
