package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ILiedAboutCake/Rustla2/internal/cache"
)

const writerLockTTL = time.Minute

// lockWriter takes the store writer lock for a short-lived command. Every process that
// writes the store assigns ids from its own registry, so two writers would hand out the
// same id. Without Redis there is nothing to coordinate with and the caller is trusted to
// be the only writer.
func lockWriter(ctx context.Context, rds *cache.Redis) (unlock func(), err error) {
	if rds == nil {
		return func() {}, nil
	}
	unlock, err = cache.TryLock(ctx, rds, cache.WriterLockKey, writerLockTTL)
	if errors.Is(err, cache.ErrLocked) {
		return nil, fmt.Errorf("another process is writing the stream store (%w); queue the job with --enqueue instead", err)
	}
	if err != nil {
		return nil, fmt.Errorf("writer lock: %w", err)
	}
	return unlock, nil
}
