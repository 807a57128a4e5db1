package validate

import (
	_ "embed"
	"sort"
	"strconv"
	"strings"

	"github.com/ILiedAboutCake/Rustla2/internal/models"
)

// Payload is one shape of third-party data allowed across the gate. The set is closed:
// only types in this package can implement it.
type Payload interface {
	// Name identifies the variant in statuses and logs.
	Name() string
	// Schema returns the JSON schema document the payload must satisfy.
	Schema() string
	// Status summarizes a decoded payload.
	Status() models.StreamStatus

	reset()
}

var (
	//go:embed schemas/twitch_streams.json
	twitchStreamsSchema string
	//go:embed schemas/youtube_videos.json
	youtubeVideosSchema string
	//go:embed schemas/angelthump_stream.json
	angelthumpStreamSchema string
)

const (
	NameTwitchStreams    = "twitch_streams"
	NameYouTubeVideos    = "youtube_videos"
	NameAngelThumpStream = "angelthump_stream"
)

var variants = map[string]func() Payload{
	NameTwitchStreams:    func() Payload { return &TwitchStreams{} },
	NameYouTubeVideos:    func() Payload { return &YouTubeVideos{} },
	NameAngelThumpStream: func() Payload { return &AngelThumpStream{} },
}

var byService = map[string]string{
	models.ServiceTwitch:     NameTwitchStreams,
	models.ServiceYouTube:    NameYouTubeVideos,
	models.ServiceAngelThump: NameAngelThumpStream,
}

// Variants lists every payload name, sorted.
func Variants() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns an empty payload for a variant name.
func New(name string) (Payload, bool) {
	f, ok := variants[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// ForService returns an empty payload for the platform a service name refers to.
func ForService(service string) (Payload, bool) {
	name, ok := byService[strings.ToLower(service)]
	if !ok {
		return nil, false
	}
	return New(name)
}

// TwitchStreams is the Helix "Get Streams" response. An empty data array means offline.
type TwitchStreams struct {
	Data []TwitchStream `json:"data"`
}

type TwitchStream struct {
	ID           string `json:"id"`
	UserLogin    string `json:"user_login"`
	UserName     string `json:"user_name"`
	GameName     string `json:"game_name"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	ViewerCount  uint64 `json:"viewer_count"`
	StartedAt    string `json:"started_at"`
	ThumbnailURL string `json:"thumbnail_url"`
	IsMature     bool   `json:"is_mature"`
}

const twitchThumbnailSize = "640x360"

func (*TwitchStreams) Name() string   { return NameTwitchStreams }
func (*TwitchStreams) Schema() string { return twitchStreamsSchema }
func (p *TwitchStreams) reset()       { *p = TwitchStreams{} }

func (p *TwitchStreams) Status() models.StreamStatus {
	if len(p.Data) == 0 {
		return models.StreamStatus{}
	}
	s := p.Data[0]
	return models.StreamStatus{
		Live:      s.Type == "live",
		Title:     s.Title,
		Thumbnail: strings.Replace(s.ThumbnailURL, "{width}x{height}", twitchThumbnailSize, 1),
		Viewers:   s.ViewerCount,
		NSFW:      s.IsMature,
	}
}

// YouTubeVideos is the Data API "videos.list" response with the snippet and
// liveStreamingDetails parts.
type YouTubeVideos struct {
	Items []YouTubeVideo `json:"items"`
}

type YouTubeVideo struct {
	ID      string `json:"id"`
	Snippet struct {
		Title                string                      `json:"title"`
		ChannelID            string                      `json:"channelId"`
		LiveBroadcastContent string                      `json:"liveBroadcastContent"`
		Thumbnails           map[string]YouTubeThumbnail `json:"thumbnails"`
	} `json:"snippet"`
	LiveStreamingDetails struct {
		ConcurrentViewers string `json:"concurrentViewers"`
	} `json:"liveStreamingDetails"`
	ContentDetails struct {
		ContentRating struct {
			YTRating string `json:"ytRating"`
		} `json:"contentRating"`
	} `json:"contentDetails"`
}

type YouTubeThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var youtubeThumbnailPreference = []string{"maxres", "standard", "high", "medium", "default"}

func (*YouTubeVideos) Name() string   { return NameYouTubeVideos }
func (*YouTubeVideos) Schema() string { return youtubeVideosSchema }
func (p *YouTubeVideos) reset()       { *p = YouTubeVideos{} }

func (p *YouTubeVideos) Status() models.StreamStatus {
	if len(p.Items) == 0 {
		return models.StreamStatus{}
	}
	v := p.Items[0]
	st := models.StreamStatus{
		Live:  v.Snippet.LiveBroadcastContent == "live",
		Title: v.Snippet.Title,
		NSFW:  v.ContentDetails.ContentRating.YTRating == "ytAgeRestricted",
	}
	for _, size := range youtubeThumbnailPreference {
		if t, ok := v.Snippet.Thumbnails[size]; ok && t.URL != "" {
			st.Thumbnail = t.URL
			break
		}
	}
	if n, err := strconv.ParseUint(v.LiveStreamingDetails.ConcurrentViewers, 10, 64); err == nil {
		st.Viewers = n
	}
	return st
}

// AngelThumpStream is the AngelThump per-channel stream document.
type AngelThumpStream struct {
	Username  string `json:"username"`
	Live      bool   `json:"live"`
	Title     string `json:"title"`
	Viewers   uint64 `json:"viewers"`
	Thumbnail string `json:"thumbnail"`
	NSFW      bool   `json:"nsfw"`
}

func (*AngelThumpStream) Name() string   { return NameAngelThumpStream }
func (*AngelThumpStream) Schema() string { return angelthumpStreamSchema }
func (p *AngelThumpStream) reset()       { *p = AngelThumpStream{} }

func (p *AngelThumpStream) Status() models.StreamStatus {
	return models.StreamStatus{
		Live:      p.Live,
		Title:     p.Title,
		Thumbnail: p.Thumbnail,
		Viewers:   p.Viewers,
		NSFW:      p.NSFW,
	}
}
