package models

import (
	"time"

	"github.com/rs/zerolog"
)

// StreamRow is one row of the streams table.
type StreamRow struct {
	ID          int64     `json:"id"`
	Channel     string    `json:"channel"`
	Service     string    `json:"service"`
	Path        string    `json:"path,omitempty"` // stored as NULL when empty
	ChatChannel string    `json:"chat_channel"`
	ChatService string    `json:"chat_service"`
	NSFW        bool      `json:"nsfw"`
	Hidden      bool      `json:"hidden"`
	AFK         bool      `json:"afk"`
	Promoted    bool      `json:"promoted"`
	Bot         bool      `json:"bot"`
	Live        bool      `json:"live"`
	Title       string    `json:"title"`
	Thumbnail   string    `json:"thumbnail"`
	Viewers     uint64    `json:"viewers"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ContentChannel returns the channel the row's video comes from.
func (r *StreamRow) ContentChannel() Channel {
	return Channel{Service: r.Service, Channel: r.Channel, Path: r.Path}
}

// ChatChannelValue returns the channel the row's chat comes from.
func (r *StreamRow) ChatChannelValue() Channel {
	return Channel{Service: r.ChatService, Channel: r.ChatChannel}
}

// MarshalZerologObject dumps every field so failed writes can be diagnosed from logs.
func (r StreamRow) MarshalZerologObject(e *zerolog.Event) {
	e.
		Int64("id", r.ID).
		Str("channel", r.Channel).
		Str("service", r.Service).
		Str("path", r.Path).
		Str("chat_channel", r.ChatChannel).
		Str("chat_service", r.ChatService).
		Bool("nsfw", r.NSFW).
		Bool("hidden", r.Hidden).
		Bool("afk", r.AFK).
		Bool("promoted", r.Promoted).
		Bool("bot", r.Bot).
		Str("title", r.Title).
		Str("thumbnail", r.Thumbnail).
		Bool("live", r.Live).
		Uint64("viewers", r.Viewers)
}

// StreamStatus is what a validated platform payload reports about a stream.
type StreamStatus struct {
	Live      bool
	Title     string
	Thumbnail string
	Viewers   uint64
	NSFW      bool
}
