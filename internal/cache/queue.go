package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ILiedAboutCake/Rustla2/internal/models"
)

// DefaultQueue is the Redis list key used for ingest jobs.
const DefaultQueue = "rustla:jobs:ingest"

var ErrBadJob = errors.New("malformed ingest job")

// IngestJob asks a worker to fetch and apply one channel's status.
type IngestJob struct {
	Service string `json:"service"`
	Channel string `json:"channel"`
	Path    string `json:"path,omitempty"`
}

// JobFor builds the job for ch.
func JobFor(ch models.Channel) IngestJob {
	return IngestJob{Service: ch.Service, Channel: ch.Channel, Path: ch.Path}
}

// Target normalizes the job back into a channel.
func (j IngestJob) Target() models.Channel {
	return models.NewChannel(j.Service, j.Channel, j.Path)
}

// Queue is a FIFO of ingest jobs stored in one Redis list. Jobs are pushed on the left
// and popped from the right.
type Queue struct {
	r   *Redis
	key string
}

// NewQueue returns the queue stored at key, or DefaultQueue when key is empty.
func NewQueue(r *Redis, key string) *Queue {
	if key == "" {
		key = DefaultQueue
	}
	return &Queue{r: r, key: key}
}

func (q *Queue) Key() string {
	return q.key
}

// Push appends job. Jobs without a service or channel are refused.
func (q *Queue) Push(ctx context.Context, job IngestJob) error {
	if job.Service == "" || job.Channel == "" {
		return ErrBadJob
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.r.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push %s: %w", q.key, err)
	}
	return nil
}

// Pop waits up to timeout for the next job. ok is false when the wait ended without a
// job, including when ctx was cancelled. A job that cannot be decoded is consumed and
// reported as ErrBadJob so one bad entry cannot wedge the queue.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (job IngestJob, ok bool, err error) {
	res, err := q.r.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return IngestJob{}, false, nil
		}
		return IngestJob{}, false, fmt.Errorf("pop %s: %w", q.key, err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return IngestJob{}, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil || job.Service == "" || job.Channel == "" {
		return IngestJob{}, false, fmt.Errorf("%w: %q", ErrBadJob, res[1])
	}
	return job, true, nil
}

// Len reports how many jobs are waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.r.client.LLen(ctx, q.key).Result()
}
