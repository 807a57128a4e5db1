package streams

import (
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/ILiedAboutCake/Rustla2/internal/models"
)

// Fields are the persisted, replaceable values of a stream.
type Fields struct {
	Chat      models.Channel
	NSFW      bool
	Hidden    bool
	AFK       bool
	Promoted  bool
	Bot       bool
	Live      bool
	Title     string
	Thumbnail string
	Viewers   uint64
}

// ApplyStatus copies what a platform reported. A platform can mark a stream NSFW but
// never clears the flag.
func (f *Fields) ApplyStatus(st models.StreamStatus) {
	f.Live = st.Live
	f.Title = st.Title
	f.Thumbnail = st.Thumbnail
	f.Viewers = st.Viewers
	if st.NSFW {
		f.NSFW = true
	}
}

// Stream is one tracked stream. All field access goes through mu; id and channel
// never change.
type Stream struct {
	id      int64
	channel models.Channel
	now     func() time.Time

	mu        sync.RWMutex
	fields    Fields
	rustlers  uint64
	afk       uint64
	createdAt time.Time
	updatedAt time.Time
	persisted bool
}

func newStream(id int64, ch models.Channel, now func() time.Time) *Stream {
	return &Stream{
		id:        id,
		channel:   ch,
		now:       now,
		fields:    Fields{Chat: ch},
		updatedAt: now(),
	}
}

func streamFromRow(row models.StreamRow, now func() time.Time) *Stream {
	return &Stream{
		id:      row.ID,
		channel: row.ContentChannel(),
		now:     now,
		fields: Fields{
			Chat:      row.ChatChannelValue(),
			NSFW:      row.NSFW,
			Hidden:    row.Hidden,
			AFK:       row.AFK,
			Promoted:  row.Promoted,
			Bot:       row.Bot,
			Live:      row.Live,
			Title:     row.Title,
			Thumbnail: row.Thumbnail,
			Viewers:   row.Viewers,
		},
		createdAt: row.CreatedAt,
		updatedAt: row.UpdatedAt,
		persisted: true,
	}
}

// ID returns the stream's immutable id.
func (s *Stream) ID() int64 {
	return s.id
}

// Channel returns the content channel the stream was created for.
func (s *Stream) Channel() models.Channel {
	return s.channel
}

// RustlerCount returns the total number of viewers, afk ones included.
func (s *Stream) RustlerCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rustlers
}

// AFKCount returns how many of the rustlers are afk.
func (s *Stream) AFKCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.afk
}

// Live reports whether the platform last said the stream is live.
func (s *Stream) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields.Live
}

// UpdatedAt returns the change watermark.
func (s *Stream) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Persisted reports whether the stream has a row in the store.
func (s *Stream) Persisted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persisted
}

// IncrRustlers counts one more viewer routed to the stream.
func (s *Stream) IncrRustlers() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rustlers++
	s.touchLocked()
	return s.rustlers
}

// DecrRustlers removes one rustler. The afk count is clamped so it never exceeds the total.
func (s *Stream) DecrRustlers() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rustlers > 0 {
		s.rustlers--
	}
	if s.afk > s.rustlers {
		s.afk = s.rustlers
	}
	s.touchLocked()
	return s.rustlers
}

// IncrAFK marks one rustler inactive. It returns false when every rustler is already afk.
func (s *Stream) IncrAFK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.afk >= s.rustlers {
		return false
	}
	s.afk++
	s.touchLocked()
	return true
}

// DecrAFK marks one afk rustler as back. It stops at zero.
func (s *Stream) DecrAFK() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.afk > 0 {
		s.afk--
		s.touchLocked()
	}
}

// SetRustlers replaces both counters, clamping afk to total.
func (s *Stream) SetRustlers(total, afk uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if afk > total {
		afk = total
	}
	s.rustlers, s.afk = total, afk
	s.touchLocked()
}

func (s *Stream) touchLocked() {
	if t := s.now(); t.After(s.updatedAt) {
		s.updatedAt = t
	}
}

// Snapshot is a self-consistent copy of a stream taken under one read guard.
type Snapshot struct {
	ID        int64
	Channel   models.Channel
	Fields    Fields
	Rustlers  uint64
	AFK       uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Persisted bool
}

// Snapshot copies the stream's values under its read guard.
func (s *Stream) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Stream) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        s.id,
		Channel:   s.channel,
		Fields:    s.fields,
		Rustlers:  s.rustlers,
		AFK:       s.afk,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Persisted: s.persisted,
	}
}

func (s *Stream) rowLocked() models.StreamRow {
	return models.StreamRow{
		ID:          s.id,
		Channel:     s.channel.Channel,
		Service:     s.channel.Service,
		Path:        s.channel.Path,
		ChatChannel: s.fields.Chat.Channel,
		ChatService: s.fields.Chat.Service,
		NSFW:        s.fields.NSFW,
		Hidden:      s.fields.Hidden,
		AFK:         s.fields.AFK,
		Promoted:    s.fields.Promoted,
		Bot:         s.fields.Bot,
		Live:        s.fields.Live,
		Title:       s.fields.Title,
		Thumbnail:   s.fields.Thumbnail,
		Viewers:     s.fields.Viewers,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
}

// PublicView is the projection served to clients.
type PublicView struct {
	Live        bool   `json:"live"`
	NSFW        bool   `json:"nsfw"`
	Hidden      bool   `json:"hidden"`
	AFK         bool   `json:"afk"`
	Promoted    bool   `json:"promoted"`
	Bot         bool   `json:"bot"`
	Rustlers    uint64 `json:"rustlers"`
	AFKRustlers uint64 `json:"afk_rustlers"`
	Service     string `json:"service"`
	Channel     string `json:"channel"`
	ChatChannel string `json:"chat_channel"`
	ChatService string `json:"chat_service"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	URL         string `json:"url"`
	Viewers     uint64 `json:"viewers"`
}

// FullView is the administrative projection.
type FullView struct {
	ID           int64  `json:"id"`
	Channel      string `json:"channel"`
	Service      string `json:"service"`
	OverrustleID string `json:"overrustle_id"`
	ChatChannel  string `json:"chat_channel"`
	ChatService  string `json:"chat_service"`
	Title        string `json:"title"`
	Thumbnail    string `json:"thumbnail"`
	Live         bool   `json:"live"`
	NSFW         bool   `json:"nsfw"`
	Hidden       bool   `json:"hidden"`
	AFK          bool   `json:"afk"`
	Promoted     bool   `json:"promoted"`
	Bot          bool   `json:"bot"`
	Viewers      uint64 `json:"viewers"`
	Rustlers     uint64 `json:"rustlers"`
	AFKRustlers  uint64 `json:"afk_rustlers"`
}

// PublicView projects the snapshot for public clients.
func (sn Snapshot) PublicView() PublicView {
	return PublicView{
		Live:        sn.Fields.Live,
		NSFW:        sn.Fields.NSFW,
		Hidden:      sn.Fields.Hidden,
		AFK:         sn.Fields.AFK,
		Promoted:    sn.Fields.Promoted,
		Bot:         sn.Fields.Bot,
		Rustlers:    sn.Rustlers - sn.AFK,
		AFKRustlers: sn.AFK,
		Service:     sn.Channel.Service,
		Channel:     sn.Channel.Channel,
		ChatChannel: sn.Fields.Chat.Channel,
		ChatService: sn.Fields.Chat.Service,
		Title:       sn.Fields.Title,
		Thumbnail:   sn.Fields.Thumbnail,
		URL:         sn.Channel.URL(),
		Viewers:     sn.Fields.Viewers,
	}
}

// FullView projects every field of the snapshot.
func (sn Snapshot) FullView() FullView {
	return FullView{
		ID:           sn.ID,
		Channel:      sn.Channel.Channel,
		Service:      sn.Channel.Service,
		OverrustleID: sn.Channel.StreamPath(),
		ChatChannel:  sn.Fields.Chat.Channel,
		ChatService:  sn.Fields.Chat.Service,
		Title:        sn.Fields.Title,
		Thumbnail:    sn.Fields.Thumbnail,
		Live:         sn.Fields.Live,
		NSFW:         sn.Fields.NSFW,
		Hidden:       sn.Fields.Hidden,
		AFK:          sn.Fields.AFK,
		Promoted:     sn.Fields.Promoted,
		Bot:          sn.Fields.Bot,
		Viewers:      sn.Fields.Viewers,
		Rustlers:     sn.Rustlers - sn.AFK,
		AFKRustlers:  sn.AFK,
	}
}

// PublicView is Snapshot().PublicView().
func (s *Stream) PublicView() PublicView {
	return s.Snapshot().PublicView()
}

// FullView is Snapshot().FullView().
func (s *Stream) FullView() FullView {
	return s.Snapshot().FullView()
}

// MarshalPublicJSON encodes the public projection.
func (s *Stream) MarshalPublicJSON() ([]byte, error) {
	return json.Marshal(s.PublicView())
}

// MarshalFullJSON encodes the full projection.
func (s *Stream) MarshalFullJSON() ([]byte, error) {
	return json.Marshal(s.FullView())
}
