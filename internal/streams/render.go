package streams

import (
	"github.com/goccy/go-json"
)

// Aggregate is the document served to public clients. StreamList and Streams are built
// from the same snapshots, so they always describe the same streams.
type Aggregate struct {
	StreamList []PublicView      `json:"stream_list"`
	Streams    map[string]uint64 `json:"streams"`
}

// Aggregate collects every stream with rustlers, live first, then by rustler count.
// When two streams share a url the higher ranked one owns the streams entry.
func (r *Registry) Aggregate() Aggregate {
	entries := r.filterSorted(HasRustlers, ByLiveThenRustlers)
	agg := Aggregate{
		StreamList: make([]PublicView, 0, len(entries)),
		Streams:    make(map[string]uint64, len(entries)),
	}
	for _, e := range entries {
		view := e.snap.PublicView()
		agg.StreamList = append(agg.StreamList, view)
		if _, ok := agg.Streams[view.URL]; !ok {
			agg.Streams[view.URL] = e.snap.Rustlers
		}
	}
	return agg
}

// RenderAggregateJSON serializes Aggregate.
func (r *Registry) RenderAggregateJSON() ([]byte, error) {
	return json.Marshal(r.Aggregate())
}

// FullViews returns the full projection of every stream with rustlers.
func (r *Registry) FullViews() []FullView {
	entries := r.filterSorted(HasRustlers, ByLiveThenRustlers)
	out := make([]FullView, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snap.FullView())
	}
	return out
}

// RenderFullJSON serializes FullViews.
func (r *Registry) RenderFullJSON() ([]byte, error) {
	return json.Marshal(r.FullViews())
}
