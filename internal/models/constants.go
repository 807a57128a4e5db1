package models

// Service names (aligned with the values stored in streams.service).
const (
	ServiceTwitch     = "twitch"
	ServiceYouTube    = "youtube"
	ServiceAngelThump = "angelthump"
)

// DefaultChatService is the chat_service column default.
const DefaultChatService = "strims"
