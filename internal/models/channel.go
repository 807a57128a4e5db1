package models

import "strings"

// Channel identifies one addressable stream source: the platform, the identifier on
// that platform and an optional vanity path. It is a value type and is used directly
// as a map key.
type Channel struct {
	Service string `json:"service"`
	Channel string `json:"channel"`
	Path    string `json:"path,omitempty"`
}

// NewChannel normalizes the service name (trimmed, lowercase) and trims whitespace
// around the channel and path.
func NewChannel(service, channel, path string) Channel {
	return Channel{
		Service: strings.ToLower(strings.TrimSpace(service)),
		Channel: strings.TrimSpace(channel),
		Path:    strings.TrimSpace(path),
	}
}

// URL returns the redirect path clients use to reach the stream.
func (c Channel) URL() string {
	if c.Path != "" {
		if strings.HasPrefix(c.Path, "/") {
			return c.Path
		}
		return "/" + c.Path
	}
	return "/" + c.Service + "/" + c.Channel
}

// StreamPath returns the raw vanity path, which may be empty.
func (c Channel) StreamPath() string {
	return c.Path
}

func (c Channel) String() string {
	if c.Path == "" {
		return c.Service + "/" + c.Channel
	}
	return c.Service + "/" + c.Channel + " (" + c.Path + ")"
}
