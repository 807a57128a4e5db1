package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoSnapshot = errors.New("no snapshot published")

// UpdatesChannel is the pub/sub channel notified whenever the snapshot at key changes.
func UpdatesChannel(key string) string {
	return key + ":updates"
}

// PublishSnapshot stores a rendered document under key and notifies subscribers of
// UpdatesChannel(key). A zero ttl keeps the document until it is replaced.
func PublishSnapshot(ctx context.Context, r *Redis, key string, data []byte, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.Publish(ctx, UpdatesChannel(key), len(data))
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish snapshot %s: %w", key, err)
	}
	return nil
}

// Snapshot returns the last document published under key.
func Snapshot(ctx context.Context, r *Redis, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", key, err)
	}
	return data, nil
}
