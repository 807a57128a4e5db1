package streams

import (
	"sort"
	"time"
)

// Predicate selects streams by a snapshot of their values.
type Predicate func(Snapshot) bool

// Less orders two snapshots.
type Less func(a, b Snapshot) bool

func All(Snapshot) bool {
	return true
}

// HasRustlers matches streams somebody is watching.
func HasRustlers(s Snapshot) bool {
	return s.Rustlers > 0
}

func IsLive(s Snapshot) bool {
	return s.Fields.Live
}

// UpdatedSince matches streams whose watermark is at or after t.
func UpdatedSince(t time.Time) Predicate {
	return func(s Snapshot) bool {
		return !s.UpdatedAt.Before(t)
	}
}

// ByLiveThenRustlers puts live streams first, then more rustlers first.
func ByLiveThenRustlers(a, b Snapshot) bool {
	if a.Fields.Live != b.Fields.Live {
		return a.Fields.Live
	}
	return a.Rustlers > b.Rustlers
}

type entry struct {
	stream *Stream
	snap   Snapshot
}

// handles copies the id index under the collection guard, ordered by id.
func (r *Registry) handles() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// filter evaluates pred outside the collection guard, one read guard per stream.
func (r *Registry) filter(pred Predicate) []entry {
	if pred == nil {
		pred = All
	}
	var out []entry
	for _, s := range r.handles() {
		snap := s.Snapshot()
		if pred(snap) {
			out = append(out, entry{stream: s, snap: snap})
		}
	}
	return out
}

func (r *Registry) filterSorted(pred Predicate, less Less) []entry {
	entries := r.filter(pred)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].snap, entries[j].snap
		if less != nil {
			if less(a, b) {
				return true
			}
			if less(b, a) {
				return false
			}
		}
		return a.ID < b.ID
	})
	return entries
}

// FilterAll returns the streams matching pred, ordered by id.
func (r *Registry) FilterAll(pred Predicate) []*Stream {
	return streamsOf(r.filter(pred))
}

// FilterAllSorted returns the streams matching pred ordered by less, ties broken by id.
func (r *Registry) FilterAllSorted(pred Predicate, less Less) []*Stream {
	return streamsOf(r.filterSorted(pred, less))
}

// FilterUpdatedSince returns the streams changed at or after t.
func (r *Registry) FilterUpdatedSince(t time.Time) []*Stream {
	return r.FilterAll(UpdatedSince(t))
}

func streamsOf(entries []entry) []*Stream {
	out := make([]*Stream, len(entries))
	for i, e := range entries {
		out[i] = e.stream
	}
	return out
}
