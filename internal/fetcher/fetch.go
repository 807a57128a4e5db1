package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ILiedAboutCake/Rustla2/internal/config"
	"github.com/ILiedAboutCake/Rustla2/internal/models"
)

var ErrUnsupportedService = errors.New("no platform api for service")

// maxBody bounds how much of a platform response is read.
const maxBody = 4 << 20

const (
	DefaultTwitchBaseURL     = "https://api.twitch.tv"
	DefaultYouTubeBaseURL    = "https://www.googleapis.com"
	DefaultAngelThumpBaseURL = "https://api.angelthump.com"
)

// HTTP fetches raw stream status documents from the platform APIs. It does not
// interpret the bytes; that is the validation gate's job.
type HTTP struct {
	Client    *http.Client
	UserAgent string

	TwitchClientID string
	TwitchToken    string
	YouTubeAPIKey  string

	TwitchBaseURL     string
	YouTubeBaseURL    string
	AngelThumpBaseURL string
}

func NewHTTP(cfg *config.Config) *HTTP {
	return &HTTP{
		Client:            &http.Client{Timeout: cfg.Timeout},
		UserAgent:         cfg.UserAgent,
		TwitchClientID:    cfg.TwitchClientID,
		TwitchToken:       cfg.TwitchToken,
		YouTubeAPIKey:     cfg.YouTubeAPIKey,
		TwitchBaseURL:     DefaultTwitchBaseURL,
		YouTubeBaseURL:    DefaultYouTubeBaseURL,
		AngelThumpBaseURL: DefaultAngelThumpBaseURL,
	}
}

// Request builds the status request for ch.
func (h *HTTP) Request(ctx context.Context, ch models.Channel) (*http.Request, error) {
	var target string
	switch ch.Service {
	case models.ServiceTwitch:
		target = h.TwitchBaseURL + "/helix/streams?" + url.Values{"user_login": {ch.Channel}}.Encode()
	case models.ServiceYouTube:
		q := url.Values{
			"part": {"snippet,liveStreamingDetails,contentDetails"},
			"id":   {ch.Channel},
			"key":  {h.YouTubeAPIKey},
		}
		target = h.YouTubeBaseURL + "/youtube/v3/videos?" + q.Encode()
	case models.ServiceAngelThump:
		target = h.AngelThumpBaseURL + "/v1/" + url.PathEscape(ch.Channel)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedService, ch.Service)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	req.Header.Set("Accept", "application/json")
	if ch.Service == models.ServiceTwitch {
		req.Header.Set("Client-Id", h.TwitchClientID)
		if h.TwitchToken != "" {
			req.Header.Set("Authorization", "Bearer "+h.TwitchToken)
		}
	}
	return req, nil
}

// Fetch returns the raw body of the platform's status document for ch.
func (h *HTTP) Fetch(ctx context.Context, ch models.Channel) ([]byte, error) {
	req, err := h.Request(ctx, ch)
	if err != nil {
		return nil, err
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("ReadAll: %w", err)
	}
	return body, nil
}
