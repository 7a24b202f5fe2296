package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr string
	// DatabaseURL selects the PostgreSQL stores when set; empty keeps the
	// in-memory stores.
	DatabaseURL string
	Redis       RedisConfig
}

// RedisConfig holds connection settings for the distributed cache backend.
// An empty URL means Redis is not configured and the in-memory store is used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("MATHILDA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return Server{
		Addr:        addr,
		DatabaseURL: os.Getenv("MATHILDA_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("MATHILDA_REDIS_URL"),
			PoolSize:     envInt("MATHILDA_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("MATHILDA_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("MATHILDA_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("MATHILDA_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("MATHILDA_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
