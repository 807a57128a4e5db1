package streams

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// RunRetryWorker re-persists streams queued under RetryOnFailure until ctx is done.
// Every queued stream gets its own backoff loop, so one stream that keeps failing does
// not hold up the others. The stream's current values are written, not the ones that
// first failed. The returned channel is closed once every loop has returned.
func (r *Registry) RunRetryWorker(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			r.log.Debug().Msg("shut down stream retry worker")
			close(done)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case id := <-r.retries:
				wg.Add(1)
				go func() {
					defer wg.Done()
					r.retry(ctx, id)
				}()
			}
		}
	}()
	return done
}

func (r *Registry) retry(ctx context.Context, id int64) {
	s, ok := r.LookupByID(id)
	if !ok {
		r.clearPending(id)
		return
	}

	boff := backoff.Backoff{
		Min:    r.retryMin,
		Max:    r.retryMax,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 1; attempt <= r.retryAttempts; attempt++ {
		dur := boff.Duration()
		timer := time.NewTimer(dur)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.clearPending(id)
			return
		case <-timer.C:
		}

		// The pending entry is dropped before s.mu is released, so a write that fails
		// after this point queues a fresh retry instead of being folded into this one.
		s.mu.Lock()
		ok := r.persistLocked(ctx, s, false)
		last := attempt == r.retryAttempts
		if ok || last {
			r.clearPending(id)
		}
		s.mu.Unlock()

		if ok {
			r.log.Info().Int64("id", id).Int("attempt", attempt).Msg("persisted stream after retry")
			return
		}
		r.log.Warn().Int64("id", id).Int("attempt", attempt).Dur("waited", dur).Msg("stream retry failed")
	}
	r.clearPending(id)
	r.log.Error().Int64("id", id).Int("attempts", r.retryAttempts).Msg("giving up on persisting stream")
}

func (r *Registry) clearPending(id int64) {
	r.retryMu.Lock()
	delete(r.retryPending, id)
	r.retryMu.Unlock()
}
