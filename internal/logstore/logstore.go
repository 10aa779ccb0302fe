// Package logstore implements the opaque append-only log the core talks
// to through LogStore.Append/LogStore.Read. The core itself never
// interprets a LogRef beyond equality and pass-through; it is a packed
// (segmentID, offset) handle.
//
// Backend selection is a multi-backend factory: NewFromEnv picks an
// in-memory backend for tests and local development, a Redis backend
// (github.com/redis/go-redis/v9) for a durable-across-restarts dev
// deployment, or a Postgres backend (github.com/lib/pq) for a
// production-shaped one.
package logstore

import (
	"context"
	"fmt"
)

// LogRef is an opaque 64-bit handle into the append-only log store,
// packing (segmentID uint32, offset uint32) as segmentID<<32 | offset.
type LogRef uint64

// NilLogRef is the null sentinel returned when no record is present.
const NilLogRef LogRef = 0

// NewLogRef packs a segment ID and an offset within it into a LogRef.
func NewLogRef(segmentID, offset uint32) LogRef {
	return LogRef(uint64(segmentID)<<32 | uint64(offset))
}

// SegmentID unpacks the segment component of a LogRef.
func (r LogRef) SegmentID() uint32 {
	return uint32(r >> 32)
}

// Offset unpacks the offset component of a LogRef.
func (r LogRef) Offset() uint32 {
	return uint32(r)
}

// LogStore is the opaque append-only log the prepared-ops table and
// recovery path read and write through.
type LogStore interface {
	Append(ctx context.Context, data []byte) (LogRef, error)
	Read(ctx context.Context, ref LogRef) ([]byte, error)
	Close() error
}

// Config selects and parameterizes a LogStore backend.
type Config struct {
	Backend     string // "memory", "redis", or "postgres"
	RedisAddr   string
	RedisDB     int
	PostgresDSN string
}

// New constructs the configured LogStore backend.
func New(cfg Config) (LogStore, error) {
	switch cfg.Backend {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("logstore: redis backend requires RedisAddr")
		}
		return newRedisStore(cfg.RedisAddr, cfg.RedisDB)

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("logstore: postgres backend requires PostgresDSN")
		}
		return newPostgresStore(cfg.PostgresDSN)

	case "memory", "":
		return newMemoryStore(), nil

	default:
		return nil, fmt.Errorf("logstore: unknown backend %q", cfg.Backend)
	}
}
