// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Track represents a catalog track.
// Tracks are immutable values once resolved from the catalog.
type Track struct {
	ID         string        // Catalog track ID
	Title      string        // Track title
	ArtistName string        // Primary artist (or comma-joined artists)
	Album      string        // Album name
	Duration   time.Duration // Track duration (zero when unknown)
	URI        string        // Catalog URI used by the player
}

// NowPlaying is what a player reports for its current track.
type NowPlaying struct {
	TrackID  string
	Progress time.Duration
	Duration time.Duration
	Playing  bool
}

// Candidate represents a single catalog search hit.
type Candidate struct {
	ID     string // Catalog track ID
	Title  string // Title as returned by the catalog
	Artist string // Artist as returned by the catalog
	Track  Track  // Resolved track
}

// NewCandidate builds a Candidate from a resolved track.
func NewCandidate(t Track) Candidate {
	return Candidate{
		ID:     t.ID,
		Title:  t.Title,
		Artist: t.ArtistName,
		Track:  t,
	}
}

// IsZero reports whether the track carries no catalog identity.
func (t Track) IsZero() bool {
	return t.ID == ""
}

// String returns "artist - title".
func (t Track) String() string {
	if t.ArtistName == "" {
		return t.Title
	}
	return t.ArtistName + " - " + t.Title
}

// JoinArtists joins multiple artist names the way tracks display them.
func JoinArtists(names []string) string {
	return strings.Join(names, ", ")
}
