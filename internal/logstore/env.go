package logstore

import (
	"os"
	"strconv"
)

// NewFromEnv builds a LogStore from environment variables: an env var
// picks the backend, and backend-specific env vars parameterize it.
func NewFromEnv() (LogStore, error) {
	backend := os.Getenv("LOGSTORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	redisDB, _ := strconv.Atoi(os.Getenv("LOGSTORE_REDIS_DB"))

	return New(Config{
		Backend:     backend,
		RedisAddr:   os.Getenv("LOGSTORE_REDIS_ADDR"),
		RedisDB:     redisDB,
		PostgresDSN: os.Getenv("LOGSTORE_POSTGRES_DSN"),
	})
}
