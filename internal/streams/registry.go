package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ILiedAboutCake/Rustla2/internal/config"
	"github.com/ILiedAboutCake/Rustla2/internal/logging"
	"github.com/ILiedAboutCake/Rustla2/internal/models"
	"github.com/ILiedAboutCake/Rustla2/internal/store"
)

// PersistPolicy decides what happens to in-memory values when writing them to the
// store fails.
type PersistPolicy int

const (
	// KeepOnFailure keeps the new values in memory.
	KeepOnFailure PersistPolicy = iota
	// RollbackOnFailure restores the values the stream had before the mutation.
	RollbackOnFailure
	// RetryOnFailure keeps the new values and queues the stream for RunRetryWorker.
	RetryOnFailure
)

// String returns the policy's config value.
func (p PersistPolicy) String() string {
	switch p {
	case RollbackOnFailure:
		return config.PersistRollback
	case RetryOnFailure:
		return config.PersistRetry
	}
	return config.PersistKeep
}

// ParsePersistPolicy maps a config value to a policy. Empty means KeepOnFailure.
func ParsePersistPolicy(s string) (PersistPolicy, error) {
	switch s {
	case "", config.PersistKeep:
		return KeepOnFailure, nil
	case config.PersistRollback:
		return RollbackOnFailure, nil
	case config.PersistRetry:
		return RetryOnFailure, nil
	}
	return KeepOnFailure, config.ErrUnknownPersistPolicy
}

const retryQueueSize = 1024

// Registry owns every tracked stream. mu guards only the two indices; each stream
// guards its own fields. No store call is made while mu is held.
type Registry struct {
	store  store.Store
	log    zerolog.Logger
	now    func() time.Time
	policy PersistPolicy

	retryAttempts int
	retryMin      time.Duration
	retryMax      time.Duration
	retries       chan int64
	retryMu       sync.Mutex
	retryPending  map[int64]struct{}

	mu        sync.RWMutex
	byID      map[int64]*Stream
	byChannel map[models.Channel]*Stream
	lastID    int64
}

// Option configures a Registry in Load.
type Option func(*Registry)

// WithLogger replaces the registry's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithPersistPolicy sets what happens to memory when a write fails.
func WithPersistPolicy(p PersistPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithRetryAttempts caps the retry worker's attempts per stream. n <= 0 is ignored.
func WithRetryAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.retryAttempts = n
		}
	}
}

// WithRetryBackoff bounds the delay between retry attempts.
func WithRetryBackoff(min, max time.Duration) Option {
	return func(r *Registry) { r.retryMin, r.retryMax = min, max }
}

// WithClock sets the time source for watermarks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Load creates the streams table if needed and reads every stored stream into both
// indices. The registry is returned only once loading is complete.
func Load(ctx context.Context, st store.Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:         st,
		log:           logging.GlobalLogger().With().Str("component", "streams").Logger(),
		now:           time.Now,
		retryAttempts: 5,
		retryMin:      500 * time.Millisecond,
		retryMax:      time.Minute,
		retries:       make(chan int64, retryQueueSize),
		retryPending:  make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := st.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	rows, err := st.LoadStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("load streams: %w", err)
	}

	byID := make(map[int64]*Stream, len(rows))
	byChannel := make(map[models.Channel]*Stream, len(rows))
	var lastID int64
	for _, row := range rows {
		s := streamFromRow(row, r.now)
		byID[s.id] = s
		byChannel[s.channel] = s
		if s.id > lastID {
			lastID = s.id
		}
	}

	r.mu.Lock()
	r.byID, r.byChannel, r.lastID = byID, byChannel, lastID
	r.mu.Unlock()

	r.log.Info().Int("streams", len(byID)).Msg("read streams")
	return r, nil
}

// GetOrCreate returns the stream for ch, creating and persisting it if it is not
// tracked yet. Callers racing on the same channel all get the same stream.
func (r *Registry) GetOrCreate(ctx context.Context, ch models.Channel) *Stream {
	r.mu.Lock()
	if s, ok := r.byChannel[ch]; ok {
		r.mu.Unlock()
		return s
	}
	r.lastID++
	s := newStream(r.lastID, ch, r.now)
	r.byID[s.id] = s
	r.byChannel[ch] = s
	r.mu.Unlock()

	r.Insert(ctx, s)
	return s
}

// LookupByID returns the stream with id, if tracked.
func (r *Registry) LookupByID(id int64) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// LookupByChannel returns the stream for ch, if tracked.
func (r *Registry) LookupByChannel(ch models.Channel) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byChannel[ch]
	return s, ok
}

// Len returns the number of tracked streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Insert writes s as a new row. It is a no-op for a stream that is already stored.
func (r *Registry) Insert(ctx context.Context, s *Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persisted {
		return true
	}
	return r.persistLocked(ctx, s, true)
}

// Update applies mutate and writes the result while holding the stream's write guard,
// so no other writer can interleave between the change and its persistence.
// On failure the in-memory values follow the registry's PersistPolicy.
func (r *Registry) Update(ctx context.Context, s *Stream, mutate func(*Fields)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevFields, prevUpdated := s.fields, s.updatedAt
	if mutate != nil {
		mutate(&s.fields)
	}
	s.touchLocked()

	if r.persistLocked(ctx, s, true) {
		return true
	}
	if r.policy == RollbackOnFailure {
		s.fields, s.updatedAt = prevFields, prevUpdated
	}
	return false
}

// Save writes the current values of s without changing them.
func (r *Registry) Save(ctx context.Context, s *Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.persistLocked(ctx, s, true)
}

// persistLocked must be called with s.mu held for writing.
func (r *Registry) persistLocked(ctx context.Context, s *Stream, queueRetry bool) bool {
	row := s.rowLocked()
	op := "update"
	var err error
	if s.persisted {
		err = r.store.UpdateStream(ctx, &row)
		if errors.Is(err, store.ErrNotFound) {
			op = "insert"
			err = r.store.InsertStream(ctx, &row)
		}
	} else {
		op = "insert"
		err = r.store.InsertStream(ctx, &row)
	}

	if err != nil {
		r.log.Error().Err(err).Str("op", op).Str("policy", r.policy.String()).Object("stream", row).Msg("failed to persist stream")
		if queueRetry && r.policy == RetryOnFailure {
			r.queueRetry(s.id)
		}
		return false
	}

	if op == "insert" {
		s.createdAt = row.CreatedAt
		s.persisted = true
	}
	if row.UpdatedAt.After(s.updatedAt) {
		s.updatedAt = row.UpdatedAt
	}
	return true
}

func (r *Registry) queueRetry(id int64) {
	r.retryMu.Lock()
	if _, ok := r.retryPending[id]; ok {
		r.retryMu.Unlock()
		return
	}
	r.retryPending[id] = struct{}{}
	r.retryMu.Unlock()

	select {
	case r.retries <- id:
	default:
		r.retryMu.Lock()
		delete(r.retryPending, id)
		r.retryMu.Unlock()
		r.log.Warn().Int64("id", id).Msg("retry queue full, dropping stream")
	}
}

// PendingRetries returns how many streams wait for the retry worker.
func (r *Registry) PendingRetries() int {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()
	return len(r.retryPending)
}
