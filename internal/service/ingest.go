package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ILiedAboutCake/Rustla2/internal/logging"
	"github.com/ILiedAboutCake/Rustla2/internal/models"
	"github.com/ILiedAboutCake/Rustla2/internal/streams"
	"github.com/ILiedAboutCake/Rustla2/internal/validate"
)

var (
	ErrUnsupportedService = errors.New("unsupported service")
	ErrNotPersisted       = errors.New("stream updated in memory but not persisted")
)

// Fetcher returns the raw platform status document for a channel.
type Fetcher interface {
	Fetch(ctx context.Context, ch models.Channel) ([]byte, error)
}

// Ingest fetches the status of ch, runs it through the validation gate and applies it to
// the registry. A document the gate rejects never reaches the registry; the returned
// error is a *validate.Error carrying the gate's status.
//
// ErrNotPersisted means the in-memory record was updated but the store write failed.
func Ingest(ctx context.Context, reg *streams.Registry, f Fetcher, ch models.Channel) (*streams.Stream, error) {
	logger := logging.ExtractLogger(ctx).With().Stringer("channel", ch).Logger()

	p, ok := validate.ForService(ch.Service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedService, ch.Service)
	}

	raw, err := f.Fetch(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest cancelled: %w", err)
	}

	if st := validate.Decode(p, raw); !st.OK() {
		logger.Warn().
			Str("kind", st.Kind.String()).
			Str("detail", st.Detail).
			Str("document_pointer", st.DocumentPointer).
			Str("schema_pointer", st.SchemaPointer).
			Msg(st.Message)
		return nil, st.Err()
	}
	status := p.Status()

	s := reg.GetOrCreate(ctx, ch)
	if !reg.Update(ctx, s, func(f *streams.Fields) { f.ApplyStatus(status) }) {
		return s, ErrNotPersisted
	}
	logger.Debug().Int64("id", s.ID()).Bool("live", status.Live).Uint64("viewers", status.Viewers).Msg("ingested stream status")
	return s, nil
}
