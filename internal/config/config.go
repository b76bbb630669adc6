// Package config loads all server configuration from the environment in a
// single validated pass, following the single-struct loader shape used by
// a sibling chess-bot project in the retrieval pack rather than scattering
// os.Getenv calls across every package.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-derived setting the server needs.
type Config struct {
	Port string

	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	DefaultTimeControl time.Duration
	LivenessThreshold  time.Duration
	SweepInterval       time.Duration
	TimerBroadcastEvery time.Duration

	TokenExpire time.Duration // zero means "never expires"

	LogLevel string
}

// Load reads every setting from the environment, applying the defaults
// named in the external-interfaces section of the specification, and
// returns an error (rather than exiting) if a required setting is
// missing or malformed.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "3000"),
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		DefaultTimeControl:   30 * time.Minute,
		LivenessThreshold:    180 * time.Second,
		SweepInterval:        60 * time.Second,
		TimerBroadcastEvery:  5 * time.Second,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("REDIS_DB must be an integer")
		}
		cfg.RedisDB = n
	}

	if v := strings.TrimSpace(os.Getenv("DEFAULT_TIME_CONTROL_MINUTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("DEFAULT_TIME_CONTROL_MINUTES must be a positive integer")
		}
		cfg.DefaultTimeControl = time.Duration(n) * time.Minute
	}

	expire := strings.TrimSpace(os.Getenv("TOKEN_EXPIRE_TIME"))
	if expire != "" && expire != "never" && expire != "0" {
		d, err := time.ParseDuration(expire)
		if err != nil {
			return nil, errors.New("TOKEN_EXPIRE_TIME must be a duration string or \"never\"")
		}
		cfg.TokenExpire = d
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
