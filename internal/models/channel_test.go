package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelURL(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
		want string
	}{
		{"no path", NewChannel("Twitch", "foo", ""), "/twitch/foo"},
		{"bare path", NewChannel("twitch", "foo", "bar"), "/bar"},
		{"slashed path", NewChannel("twitch", "foo", "/foo"), "/foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ch.URL())
		})
	}
}

func TestChannelIsComparable(t *testing.T) {
	m := map[Channel]int{}
	m[NewChannel(" TWITCH ", "foo", "")] = 1
	m[NewChannel("twitch", "foo", "")]++
	m[NewChannel("twitch", "foo", "x")]++

	assert.Len(t, m, 2)
	assert.Equal(t, 2, m[Channel{Service: "twitch", Channel: "foo"}])
}

func TestStreamRowChannels(t *testing.T) {
	row := StreamRow{Channel: "foo", Service: "twitch", Path: "p", ChatChannel: "bar", ChatService: "strims"}
	assert.Equal(t, Channel{Service: "twitch", Channel: "foo", Path: "p"}, row.ContentChannel())
	assert.Equal(t, Channel{Service: "strims", Channel: "bar"}, row.ChatChannelValue())
}
