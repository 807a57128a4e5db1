package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ILiedAboutCake/Rustla2/internal/cache"
	"github.com/ILiedAboutCake/Rustla2/internal/logging"
	"github.com/ILiedAboutCake/Rustla2/internal/models"
	"github.com/ILiedAboutCake/Rustla2/internal/streams"
)

// Publish renders the public aggregate and stores it in Redis under key.
func Publish(ctx context.Context, reg *streams.Registry, rds *cache.Redis, key string, ttl time.Duration) error {
	data, err := reg.RenderAggregateJSON()
	if err != nil {
		return fmt.Errorf("render aggregate: %w", err)
	}
	return cache.PublishSnapshot(ctx, rds, key, data, ttl)
}

// Worker drains ingest jobs from a Redis queue and republishes the aggregate after
// every applied status.
type Worker struct {
	Registry *streams.Registry
	Fetcher  Fetcher
	Redis    *cache.Redis

	// Queue is the Redis list key; empty means cache.DefaultQueue.
	Queue       string
	SnapshotKey string
	SnapshotTTL time.Duration

	// PollTimeout bounds each blocking dequeue so shutdown is noticed.
	PollTimeout time.Duration
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	queue := cache.NewQueue(w.Redis, w.Queue)
	logger := logging.ExtractLogger(ctx).With().Str("queue", queue.Key()).Logger()
	logger.Info().Msg("ingest worker started")
	poll := w.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("ingest worker stopping")
			return
		default:
		}

		job, ok, err := queue.Pop(ctx, poll)
		if errors.Is(err, cache.ErrBadJob) {
			logger.Warn().Err(err).Msg("dropped ingest job")
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if !ok {
			continue
		}
		w.handle(ctx, job.Target())
	}
}

func (w *Worker) handle(ctx context.Context, ch models.Channel) {
	logger := logging.ExtractLogger(ctx).With().Stringer("channel", ch).Logger()

	_, err := Ingest(ctx, w.Registry, w.Fetcher, ch)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotPersisted):
		logger.Warn().Err(err).Msg("ingest applied without persistence")
	default:
		logger.Error().Err(err).Msg("ingest failed")
		return
	}

	if w.SnapshotKey == "" {
		return
	}
	if err := Publish(ctx, w.Registry, w.Redis, w.SnapshotKey, w.SnapshotTTL); err != nil {
		logger.Error().Err(err).Msg("publish snapshot failed")
	}
}
