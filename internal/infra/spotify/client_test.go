package spotify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/turntable/internal/domain/track"
)

func TestExtractTrackID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Spotify URI format",
			input:    "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Spotify URL format",
			input:    "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Localized URL with query params",
			input:    "https://open.spotify.com/intl-ja/track/4uLU6hMCjMI75M1A2tKUQC?si=abc123",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Trailing slash",
			input:    "https://open.spotify.com/track/abc/",
			expected: "abc",
		},
		{
			name:     "Plain track ID with spaces",
			input:    "  4uLU6hMCjMI75M1A2tKUQC ",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractTrackID(tt.input))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "api rate limit", err: spotify.Error{Message: "slow down", Status: 429}, expected: true},
		{name: "api server error", err: spotify.Error{Message: "oops", Status: 503}, expected: true},
		{name: "api not found", err: spotify.Error{Message: "Non existing id", Status: 404}, expected: false},
		{name: "rate limit text", err: errors.New("rate limit exceeded"), expected: true},
		{name: "server error 502", err: errors.New("502 Bad Gateway"), expected: true},
		{name: "client error 400", err: errors.New("400 Bad Request"), expected: false},
		{name: "generic error", err: errors.New("something went wrong"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestConvertTrack(t *testing.T) {
	ft := &spotify.FullTrack{
		SimpleTrack: spotify.SimpleTrack{
			ID:   "abc",
			Name: "Windowlicker",
			Artists: []spotify.SimpleArtist{
				{Name: "Aphex Twin"},
				{Name: "Someone Else"},
			},
			Duration: 367000,
			URI:      "spotify:track:abc",
		},
		Album: spotify.SimpleAlbum{Name: "Windowlicker EP"},
	}

	got := convertTrack(ft)
	assert.Equal(t, track.Track{
		ID:         "abc",
		Title:      "Windowlicker",
		ArtistName: "Aphex Twin, Someone Else",
		Album:      "Windowlicker EP",
		Duration:   367 * time.Second,
		URI:        "spotify:track:abc",
	}, got)
}

func TestTrackURI(t *testing.T) {
	assert.Equal(t, spotify.URI("spotify:track:x"), trackURI(track.Track{ID: "x"}))
	assert.Equal(t, spotify.URI("spotify:track:y"), trackURI(track.Track{ID: "x", URI: "spotify:track:y"}))
}

func TestRetry(t *testing.T) {
	c := &Client{maxRetries: 3, retryDelay: time.Millisecond}

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		err := c.retry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("503 Service Unavailable")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		err := c.retry(context.Background(), func() error {
			calls++
			return errors.New("404 not found")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := c.retry(context.Background(), func() error {
			calls++
			return errors.New("rate limit")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "max retries exceeded")
	})

	t.Run("honors context", func(t *testing.T) {
		slow := &Client{maxRetries: 3, retryDelay: time.Hour}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := slow.retry(ctx, func() error { return errors.New("500") })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "id"})
	assert.Error(t, err)

	c, err := New(context.Background(), Config{ClientID: "id", ClientSecret: "secret", RefreshToken: "token"})
	require.NoError(t, err)
	assert.Equal(t, "JP", c.market)
	assert.Nil(t, c.device())
}
