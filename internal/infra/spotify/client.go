// Package spotify provides the catalog and player backed by the Spotify API.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/turntable/internal/domain/track"
)

// maxSearchLimit is the largest page the search endpoint accepts.
const maxSearchLimit = 50

// Scopes are the OAuth scopes the session needs.
var Scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
}

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	deviceID   string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
	DeviceID     string // Optional; the active device is used when empty
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(Scopes...),
	)

	// Create token from refresh token
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	// Get HTTP client with auto-refresh capability
	httpClient := auth.Client(ctx, token)

	market := cfg.Market
	if market == "" {
		market = "JP"
	}

	return &Client{
		client:     spotify.New(httpClient),
		market:     market,
		deviceID:   cfg.DeviceID,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Authorize checks that the refresh token grants access to the account.
func (c *Client) Authorize(ctx context.Context) error {
	var user *spotify.PrivateUser
	err := c.retry(ctx, func() error {
		u, err := c.client.CurrentUser(ctx)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to get current user")
	}
	zlog.Info().Msgf("spotify: authorized user=%s market=%s", user.ID, c.market)
	return nil
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (track.Track, error) {
	id := extractTrackID(trackID)
	if id == "" {
		return track.Track{}, errors.New("track id is required")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return track.Track{}, errors.Wrap(err, "failed to get track")
	}

	return convertTrack(result), nil
}

// Search searches for tracks in catalog order.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var result *spotify.SearchResult
	err := c.retry(ctx, func() error {
		r, err := c.client.Search(ctx, query, spotify.SearchTypeTrack,
			spotify.Limit(limit),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search")
	}
	if result.Tracks == nil {
		return nil, nil
	}

	tracks := make([]track.Track, 0, len(result.Tracks.Tracks))
	for i := range result.Tracks.Tracks {
		tracks = append(tracks, convertTrack(&result.Tracks.Tracks[i]))
	}
	return tracks, nil
}

// Play starts the track immediately.
func (c *Client) Play(ctx context.Context, t track.Track) error {
	opts := &spotify.PlayOptions{
		URIs:     []spotify.URI{trackURI(t)},
		DeviceID: c.device(),
	}
	err := c.retry(ctx, func() error {
		return c.client.PlayOpt(ctx, opts)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to play %s", t.ID)
	}
	zlog.Debug().Msgf("spotify: play track=%s", t.ID)
	return nil
}

// EnqueueNext adds the track to the player's queue.
func (c *Client) EnqueueNext(ctx context.Context, t track.Track) error {
	opts := &spotify.PlayOptions{DeviceID: c.device()}
	err := c.retry(ctx, func() error {
		return c.client.QueueSongOpt(ctx, spotify.ID(t.ID), opts)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to queue %s", t.ID)
	}
	zlog.Debug().Msgf("spotify: queued track=%s", t.ID)
	return nil
}

// CurrentlyPlaying returns the player's current track, or nil when nothing
// is loaded.
func (c *Client) CurrentlyPlaying(ctx context.Context) (*track.NowPlaying, error) {
	cp, err := c.client.PlayerCurrentlyPlaying(ctx, spotify.Market(c.market))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get currently playing")
	}
	if cp == nil || cp.Item == nil {
		return nil, nil
	}
	return &track.NowPlaying{
		TrackID:  string(cp.Item.ID),
		Progress: time.Duration(cp.Progress) * time.Millisecond,
		Duration: time.Duration(cp.Item.Duration) * time.Millisecond,
		Playing:  cp.Playing,
	}, nil
}

// GetTrackURL returns the Spotify URL for a track.
func GetTrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

func (c *Client) device() *spotify.ID {
	if c.deviceID == "" {
		return nil
	}
	id := spotify.ID(c.deviceID)
	return &id
}

// convertTrack converts a Spotify FullTrack to domain Track.
func convertTrack(t *spotify.FullTrack) track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return track.Track{
		ID:         string(t.ID),
		Title:      t.Name,
		ArtistName: track.JoinArtists(artists),
		Album:      t.Album.Name,
		Duration:   time.Duration(t.Duration) * time.Millisecond,
		URI:        string(t.URI),
	}
}

func trackURI(t track.Track) spotify.URI {
	if t.URI != "" {
		return spotify.URI(t.URI)
	}
	return spotify.URI("spotify:track:" + t.ID)
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.WithSecondaryError(ctx.Err(), lastErr)
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// https://open.spotify.com/track/ID or https://open.spotify.com/intl-XX/track/ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			id := strings.Split(parts[len(parts)-1], "?")[0]
			return strings.TrimRight(id, "/")
		}
	}

	// Assume it's already a track ID
	return input
}
