package streams

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILiedAboutCake/Rustla2/internal/models"
)

func newTestRegistry(t *testing.T, st *memStore, opts ...Option) (*Registry, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	r, err := Load(context.Background(), st, append([]Option{WithLogger(zerolog.New(logs))}, opts...)...)
	require.NoError(t, err)
	return r, logs
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestGetOrCreateScenario(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	r, _ := newTestRegistry(t, st)

	ch := models.NewChannel("twitch", "foo", "/foo")
	first := r.GetOrCreate(ctx, ch)
	assert.Equal(t, int64(1), first.ID())
	assert.True(t, first.Persisted())

	second := r.GetOrCreate(ctx, ch)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), second.ID())

	inserts, updates := st.counts()
	assert.Equal(t, 1, inserts)
	assert.Equal(t, 0, updates)

	row, ok := st.row(1)
	require.True(t, ok)
	assert.Equal(t, "foo", row.Channel)
	assert.Equal(t, "/foo", row.Path)
	assert.Equal(t, "foo", row.ChatChannel, "chat defaults to the content channel")
	assert.Equal(t, "twitch", row.ChatService)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	r, _ := newTestRegistry(t, st)

	const n = 64
	ch := models.NewChannel("twitch", "foo", "")
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.GetOrCreate(ctx, ch).ID()
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, r.Len())
	inserts, _ := st.counts()
	assert.Equal(t, 1, inserts)

	byID, ok := r.LookupByID(ids[0])
	require.True(t, ok)
	byChannel, ok := r.LookupByChannel(ch)
	require.True(t, ok)
	assert.Same(t, byID, byChannel)
}

func TestLoad(t *testing.T) {
	created := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	st := newMemStore(
		models.StreamRow{ID: 3, Channel: "foo", Service: "twitch", ChatChannel: "bar", ChatService: "strims", Live: true, Title: "t", CreatedAt: created, UpdatedAt: created},
		models.StreamRow{ID: 7, Channel: "baz", Service: "youtube", Path: "/baz", ChatChannel: "baz", ChatService: "youtube"},
	)
	r, _ := newTestRegistry(t, st)
	require.Equal(t, 2, r.Len())

	for _, id := range []int64{3, 7} {
		s, ok := r.LookupByID(id)
		require.True(t, ok)
		other, ok := r.LookupByChannel(s.Channel())
		require.True(t, ok, "stream %d must be in both indices", id)
		assert.Same(t, s, other)
		assert.True(t, s.Persisted())
	}

	s, _ := r.LookupByID(3)
	snap := s.Snapshot()
	assert.Equal(t, models.Channel{Service: "strims", Channel: "bar"}, snap.Fields.Chat)
	assert.True(t, snap.Fields.Live)
	assert.Equal(t, created, snap.CreatedAt)

	next := r.GetOrCreate(context.Background(), models.NewChannel("twitch", "new", ""))
	assert.Equal(t, int64(8), next.ID())

	_, ok := r.LookupByChannel(models.NewChannel("twitch", "missing", ""))
	assert.False(t, ok)
	_, ok = r.LookupByID(100)
	assert.False(t, ok)
}

func TestLoadFailure(t *testing.T) {
	st := newMemStore()
	st.failLoad = true
	_, err := Load(context.Background(), st)
	assert.ErrorIs(t, err, errInjected)
}

func TestRustlerCounters(t *testing.T) {
	r, _ := newTestRegistry(t, newMemStore())
	s := r.GetOrCreate(context.Background(), models.NewChannel("twitch", "foo", ""))

	check := func() {
		t.Helper()
		snap := s.Snapshot()
		require.GreaterOrEqual(t, snap.Rustlers, snap.AFK)
		view := snap.PublicView()
		require.Equal(t, snap.Rustlers, view.Rustlers+view.AFKRustlers)
		full := snap.FullView()
		require.Equal(t, snap.Rustlers, full.Rustlers+full.AFKRustlers)
	}

	assert.False(t, s.IncrAFK(), "no rustlers to mark afk")
	check()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		switch rng.Intn(5) {
		case 0, 1:
			s.IncrRustlers()
		case 2:
			s.DecrRustlers()
		case 3:
			s.IncrAFK()
		case 4:
			s.DecrAFK()
		}
		check()
	}

	s.SetRustlers(3, 10)
	assert.Equal(t, uint64(3), s.RustlerCount())
	assert.Equal(t, uint64(3), s.AFKCount())
	check()

	s.DecrRustlers()
	assert.Equal(t, uint64(2), s.AFKCount())
	check()

	s.SetRustlers(0, 0)
	s.DecrRustlers()
	assert.Equal(t, uint64(0), s.RustlerCount())
}

func TestUpdateFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	r, logs := newTestRegistry(t, st)
	s := r.GetOrCreate(ctx, models.NewChannel("twitch", "foo", ""))
	s.IncrRustlers()

	st.setFailures(0, 1)
	ok := r.Update(ctx, s, func(f *Fields) {
		f.Title = "new title"
		f.Live = true
	})
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "failed to persist stream")
	assert.Contains(t, logs.String(), `"title":"new title"`, "log carries the field dump")

	view := s.PublicView()
	assert.Equal(t, "new title", view.Title)
	assert.True(t, view.Live)

	row, _ := st.row(s.ID())
	assert.Equal(t, "", row.Title, "store keeps the old copy")

	agg := r.Aggregate()
	require.Len(t, agg.StreamList, 1)
	assert.Equal(t, "new title", agg.StreamList[0].Title)

	assert.True(t, r.Update(ctx, s, nil))
	row, _ = st.row(s.ID())
	assert.Equal(t, "new title", row.Title)
}

func TestUpdateFailureRollback(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	r, _ := newTestRegistry(t, st, WithPersistPolicy(RollbackOnFailure))
	s := r.GetOrCreate(ctx, models.NewChannel("twitch", "foo", ""))
	require.True(t, r.Update(ctx, s, func(f *Fields) { f.Title = "old" }))
	before := s.UpdatedAt()

	st.setFailures(0, 1)
	assert.False(t, r.Update(ctx, s, func(f *Fields) { f.Title = "new" }))

	snap := s.Snapshot()
	assert.Equal(t, "old", snap.Fields.Title)
	assert.Equal(t, before, snap.UpdatedAt)
}

func TestUpdateFailureRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newMemStore()
	r, logs := newTestRegistry(t, st,
		WithPersistPolicy(RetryOnFailure),
		WithRetryAttempts(5),
		WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
	)
	done := r.RunRetryWorker(ctx)

	s := r.GetOrCreate(ctx, models.NewChannel("twitch", "foo", ""))
	st.setFailures(0, 3)
	assert.False(t, r.Update(ctx, s, func(f *Fields) { f.Title = "retried" }))

	require.Eventually(t, func() bool {
		row, _ := st.row(s.ID())
		return row.Title == "retried" && r.PendingRetries() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, logs.String(), "persisted stream after retry")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry worker did not stop")
	}
}

func TestRetryGivesUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newMemStore()
	r, logs := newTestRegistry(t, st,
		WithPersistPolicy(RetryOnFailure),
		WithRetryAttempts(2),
		WithRetryBackoff(time.Millisecond, time.Millisecond),
	)
	r.RunRetryWorker(ctx)

	s := r.GetOrCreate(ctx, models.NewChannel("twitch", "foo", ""))
	st.setFailures(0, 100)
	assert.False(t, r.Update(ctx, s, func(f *Fields) { f.Title = "lost" }))

	require.Eventually(t, func() bool { return r.PendingRetries() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, logs.String(), "giving up on persisting stream")
	assert.Equal(t, "lost", s.Snapshot().Fields.Title)
}

func TestRetryRequeuesWriteFailedAfterPersist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newMemStore()
	logs := newGatedWriter("persisted stream after retry")
	r, err := Load(ctx, st,
		WithLogger(zerolog.New(logs)),
		WithPersistPolicy(RetryOnFailure),
		WithRetryAttempts(5),
		WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
	)
	require.NoError(t, err)
	done := r.RunRetryWorker(ctx)

	s := r.GetOrCreate(ctx, models.NewChannel("twitch", "foo", ""))
	st.setFailures(0, 1)
	assert.False(t, r.Update(ctx, s, func(f *Fields) { f.Title = "v1" }))

	select {
	case <-logs.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("first retry never succeeded")
	}
	row, _ := st.row(s.ID())
	assert.Equal(t, "v1", row.Title)

	// The first retry has written v1 and is still finishing up.
	st.setFailures(0, 1)
	assert.False(t, r.Update(ctx, s, func(f *Fields) { f.Title = "v2" }))
	close(logs.release)

	require.Eventually(t, func() bool {
		row, _ := st.row(s.ID())
		return row.Title == "v2" && r.PendingRetries() == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry worker did not stop")
	}
}

func TestRetryStuckStreamDoesNotBlockOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newMemStore()
	r, _ := newTestRegistry(t, st,
		WithPersistPolicy(RetryOnFailure),
		WithRetryAttempts(1000),
		WithRetryBackoff(10*time.Millisecond, 10*time.Millisecond),
	)
	done := r.RunRetryWorker(ctx)

	stuck := r.GetOrCreate(ctx, models.NewChannel("twitch", "stuck", ""))
	other := r.GetOrCreate(ctx, models.NewChannel("twitch", "other", ""))

	st.failAlways(stuck.ID())
	assert.False(t, r.Update(ctx, stuck, func(f *Fields) { f.Title = "never" }))
	st.setFailures(0, 1)
	assert.False(t, r.Update(ctx, other, func(f *Fields) { f.Title = "soon" }))

	require.Eventually(t, func() bool {
		row, _ := st.row(other.ID())
		return row.Title == "soon" && r.PendingRetries() == 1
	}, time.Second, 5*time.Millisecond, "only the stuck stream should still be queued")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry worker did not stop")
	}
	assert.Equal(t, 0, r.PendingRetries())
}

func TestInsertFailureThenUpdateInserts(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	r, _ := newTestRegistry(t, st)

	st.setFailures(1, 0)
	s := r.GetOrCreate(ctx, models.NewChannel("twitch", "foo", ""))
	assert.False(t, s.Persisted())
	assert.Equal(t, 1, r.Len(), "failed insert stays visible")

	assert.True(t, r.Update(ctx, s, func(f *Fields) { f.Title = "later" }))
	assert.True(t, s.Persisted())
	assert.True(t, r.Insert(ctx, s), "insert of a stored stream is a no-op")

	inserts, updates := st.counts()
	assert.Equal(t, 1, inserts)
	assert.Equal(t, 0, updates)
}

func TestSaveRecreatesMissingRow(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(models.StreamRow{ID: 1, Channel: "foo", Service: "twitch"})
	r, _ := newTestRegistry(t, st)
	s, _ := r.LookupByID(1)

	st.mu.Lock()
	delete(st.rows, 1)
	st.mu.Unlock()

	assert.True(t, r.Save(ctx, s))
	_, ok := st.row(1)
	assert.True(t, ok)
}

func TestFilterUpdatedSince(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := newMemStore()
	st.now = clock.Now
	r, _ := newTestRegistry(t, st, WithClock(clock.Now))

	a := r.GetOrCreate(ctx, models.NewChannel("twitch", "a", ""))
	b := r.GetOrCreate(ctx, models.NewChannel("twitch", "b", ""))
	clock.Advance(time.Minute)
	mark := clock.Now()
	clock.Advance(time.Second)

	require.True(t, r.Update(ctx, b, func(f *Fields) { f.Live = true }))

	got := r.FilterUpdatedSince(mark)
	require.Len(t, got, 1)
	assert.Same(t, b, got[0])

	a.IncrRustlers()
	got = r.FilterUpdatedSince(mark)
	assert.Len(t, got, 2)
	assert.Len(t, r.FilterAll(All), 2)
	assert.Len(t, r.FilterAll(nil), 2)
}

type fixture struct {
	channel  string
	live     bool
	rustlers uint64
}

func buildRegistry(t *testing.T, fixtures []fixture) *Registry {
	t.Helper()
	ctx := context.Background()
	r, _ := newTestRegistry(t, newMemStore())
	for _, f := range fixtures {
		s := r.GetOrCreate(ctx, models.NewChannel("twitch", f.channel, ""))
		live := f.live
		require.True(t, r.Update(ctx, s, func(fl *Fields) { fl.Live = live }))
		s.SetRustlers(f.rustlers, 0)
	}
	return r
}

func channelsOf(streams []*Stream) []string {
	out := make([]string, len(streams))
	for i, s := range streams {
		out[i] = s.Channel().Channel
	}
	return out
}

func TestFilterAllSortedPermutationInvariant(t *testing.T) {
	fixtures := []fixture{
		{"a", false, 10},
		{"b", true, 1},
		{"c", true, 50},
		{"d", false, 0},
		{"e", false, 3},
		{"f", true, 7},
	}
	want := []string{"c", "f", "b", "a", "e", "d"}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := append([]fixture(nil), fixtures...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		r := buildRegistry(t, shuffled)
		assert.Equal(t, want, channelsOf(r.FilterAllSorted(All, ByLiveThenRustlers)))
	}
}

func TestFilterAllSortedTiesKeepInsertionOrder(t *testing.T) {
	r := buildRegistry(t, []fixture{{"x", true, 2}, {"y", true, 2}, {"z", true, 2}})
	assert.Equal(t, []string{"x", "y", "z"}, channelsOf(r.FilterAllSorted(All, ByLiveThenRustlers)))
	assert.Equal(t, []string{"x", "y", "z"}, channelsOf(r.FilterAllSorted(IsLive, nil)))
}

func TestRenderAggregateJSON(t *testing.T) {
	ctx := context.Background()
	r := buildRegistry(t, []fixture{
		{"quiet", true, 0},
		{"small", false, 2},
		{"big", true, 9},
	})
	pathed := r.GetOrCreate(ctx, models.NewChannel("youtube", "vid", "destiny"))
	pathed.SetRustlers(4, 1)

	raw, err := r.RenderAggregateJSON()
	require.NoError(t, err)

	var doc struct {
		StreamList []map[string]any  `json:"stream_list"`
		Streams    map[string]uint64 `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))

	urls := make(map[string]bool)
	var order []string
	for _, v := range doc.StreamList {
		urls[v["url"].(string)] = true
		order = append(order, v["channel"].(string))
		total := v["rustlers"].(float64) + v["afk_rustlers"].(float64)
		assert.Greater(t, total, 0.0)
	}
	assert.Equal(t, []string{"big", "vid", "small"}, order)
	assert.Len(t, doc.Streams, len(urls))
	for url := range urls {
		_, ok := doc.Streams[url]
		assert.True(t, ok, url)
	}
	assert.Equal(t, uint64(4), doc.Streams["/destiny"])
	assert.Equal(t, uint64(9), doc.Streams["/twitch/big"])
	assert.NotContains(t, doc.Streams, "/twitch/quiet")

	full, err := r.RenderFullJSON()
	require.NoError(t, err)
	var views []FullView
	require.NoError(t, json.Unmarshal(full, &views))
	require.Len(t, views, 3)
	assert.Equal(t, "destiny", views[1].OverrustleID)
	assert.Equal(t, uint64(3), views[1].Rustlers)
	assert.Equal(t, uint64(1), views[1].AFKRustlers)
}

func TestRenderEmptyAggregate(t *testing.T) {
	r, _ := newTestRegistry(t, newMemStore())
	raw, err := r.RenderAggregateJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"stream_list": [], "streams": {}}`, string(raw))

	full, err := r.RenderFullJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(full))
}

func TestConcurrentUpdatesAndRenders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, _ := newTestRegistry(t, newMemStore())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s := r.GetOrCreate(ctx, models.NewChannel("twitch", string(rune('a'+i%10)), ""))
				s.IncrRustlers()
				title := string(rune('A' + w))
				r.Update(ctx, s, func(f *Fields) {
					f.Title = title
					f.Thumbnail = title
				})
				if i%3 == 0 {
					s.DecrRustlers()
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for _, v := range r.Aggregate().StreamList {
				assert.Equal(t, v.Title, v.Thumbnail, "render saw a half-applied update")
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 10, r.Len())
}
