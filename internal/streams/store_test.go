package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ILiedAboutCake/Rustla2/internal/models"
	"github.com/ILiedAboutCake/Rustla2/internal/store"
)

var errInjected = errors.New("injected I/O error")

// memStore is an in-memory store.Store with failure injection.
type memStore struct {
	mu sync.Mutex

	rows    map[int64]models.StreamRow
	inserts int
	updates int

	failInserts int
	failUpdates int
	failLoad    bool
	// failIDs rejects every update of these ids without using up failUpdates.
	failIDs map[int64]bool

	now func() time.Time
}

var _ store.Store = (*memStore)(nil)

func newMemStore(rows ...models.StreamRow) *memStore {
	m := &memStore{rows: make(map[int64]models.StreamRow), now: time.Now}
	for _, r := range rows {
		m.rows[r.ID] = r
	}
	return m
}

func (m *memStore) EnsureSchema(context.Context) error { return nil }
func (m *memStore) Close() error                        { return nil }

func (m *memStore) LoadStreams(context.Context) ([]models.StreamRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad {
		return nil, errInjected
	}
	out := make([]models.StreamRow, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) InsertStream(_ context.Context, r *models.StreamRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInserts > 0 {
		m.failInserts--
		return errInjected
	}
	if _, ok := m.rows[r.ID]; ok {
		return fmt.Errorf("duplicate id %d", r.ID)
	}
	for _, existing := range m.rows {
		if existing.ContentChannel() == r.ContentChannel() {
			return fmt.Errorf("duplicate channel %s", r.ContentChannel())
		}
	}
	now := m.now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	m.rows[r.ID] = *r
	m.inserts++
	return nil
}

func (m *memStore) UpdateStream(_ context.Context, r *models.StreamRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[r.ID] {
		return errInjected
	}
	if m.failUpdates > 0 {
		m.failUpdates--
		return errInjected
	}
	prev, ok := m.rows[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	r.CreatedAt = prev.CreatedAt
	r.UpdatedAt = m.now().UTC()
	m.rows[r.ID] = *r
	m.updates++
	return nil
}

func (m *memStore) row(id int64) (models.StreamRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

func (m *memStore) counts() (inserts, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts, m.updates
}

func (m *memStore) setFailures(inserts, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInserts, m.failUpdates = inserts, updates
}

func (m *memStore) failAlways(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs == nil {
		m.failIDs = make(map[int64]bool)
	}
	m.failIDs[id] = true
}

// gatedWriter holds the first log line containing msg until release is closed.
type gatedWriter struct {
	syncBuffer
	msg     string
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func newGatedWriter(msg string) *gatedWriter {
	return &gatedWriter{msg: msg, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), g.msg) {
		blocked := false
		g.once.Do(func() { blocked = true })
		if blocked {
			close(g.reached)
			<-g.release
		}
	}
	return g.syncBuffer.Write(p)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
