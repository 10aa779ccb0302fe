package logstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps one logical segment as a Redis list: RPUSH appends,
// and the resulting list index plus one becomes the LogRef offset. Durable across
// process restarts, unlike memoryStore, at the cost of a network hop per
// operation.
type redisStore struct {
	client    *redis.Client
	keyPrefix string
}

const redisSegmentID = 0

func newRedisStore(addr string, db int) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return &redisStore{client: client, keyPrefix: "preparedlog:segment:0"}, nil
}

func (s *redisStore) Append(ctx context.Context, data []byte) (LogRef, error) {
	length, err := s.client.RPush(ctx, s.keyPrefix, data).Result()
	if err != nil {
		return NilLogRef, fmt.Errorf("logstore: redis RPUSH: %w", err)
	}
	// RPush returns the list length after the push, so the new element's
	// list index is length-1. The offset is stored as that index plus
	// one, so offset 0 stays reserved and a valid LogRef's packed form
	// is never NewLogRef(0, 0), which equals NilLogRef.
	offset := uint32(length)
	return NewLogRef(redisSegmentID, offset), nil
}

func (s *redisStore) Read(ctx context.Context, ref LogRef) ([]byte, error) {
	if ref.SegmentID() != redisSegmentID {
		return nil, fmt.Errorf("logstore: redis backend has only segment %d, got %d", redisSegmentID, ref.SegmentID())
	}
	data, err := s.client.LIndex(ctx, s.keyPrefix, int64(ref.Offset())-1).Bytes()
	if err != nil {
		return nil, fmt.Errorf("logstore: redis LINDEX at offset %d: %w", ref.Offset(), err)
	}
	return data, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
