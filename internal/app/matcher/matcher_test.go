package matcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/turntable/internal/domain/track"
)

func cand(id, artist, title string) track.Candidate {
	return track.NewCandidate(track.Track{ID: id, ArtistName: artist, Title: title})
}

func filler(n int) []track.Candidate {
	out := make([]track.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cand(fmt.Sprintf("f%d", i), fmt.Sprintf("Nobody %d", i), fmt.Sprintf("Nothing %d", i)))
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercase", input: "Karma Police", expected: "karma police"},
		{name: "diacritics", input: "Beyoncé", expected: "beyonce"},
		{name: "more diacritics", input: "Sigur Rós", expected: "sigur ros"},
		{name: "curly quotes", input: "Don’t Stop Me Now", expected: "don't stop me now"},
		{name: "bracketed feat", input: "Crazy in Love (feat. Jay-Z)", expected: "crazy in love"},
		{name: "bracketed with", input: "Stay [with Justin Bieber]", expected: "stay"},
		{name: "trailing feat", input: "Crazy in Love feat. Jay-Z", expected: "crazy in love"},
		{name: "trailing featuring", input: "Empire State of Mind featuring Alicia Keys", expected: "empire state of mind"},
		{name: "ampersand", input: "Simon & Garfunkel", expected: "simon and garfunkel"},
		{name: "leading the", input: "The Beatles", expected: "beatles"},
		{name: "abbreviation", input: "R.E.M.", expected: "rem"},
		{name: "parenthetical", input: "Money (2011 Remaster)", expected: "money"},
		{name: "dash remaster", input: "Bohemian Rhapsody - Remastered 2011", expected: "bohemian rhapsody"},
		{name: "dash live", input: "Yellow - Live in Buenos Aires", expected: "yellow"},
		{name: "part marker", input: "Another Brick in the Wall, Pt. 2", expected: "another brick in the wall"},
		{name: "part word", input: "Echoes Part 1", expected: "echoes"},
		{name: "whitespace", input: "  Hey   Jude  ", expected: "hey jude"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		search    string
		candidate string
		expected  int
	}{
		{name: "exact", search: "karma police", candidate: "karma police", expected: ScoreExact},
		{name: "candidate contains search", search: "karma", candidate: "karma police", expected: ScoreCandidateContains},
		{name: "search contains candidate", search: "karma police", candidate: "karma", expected: ScoreSearchContains},
		{name: "unrelated", search: "karma police", candidate: "creep", expected: ScoreNone},
		{name: "empty search", search: "", candidate: "creep", expected: ScoreNone},
		{name: "empty candidate", search: "creep", candidate: "", expected: ScoreNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Score(tt.search, tt.candidate))
		})
	}
}

func TestAccepted(t *testing.T) {
	assert.True(t, Accepted(100, 100))
	assert.True(t, Accepted(100, 25))
	assert.True(t, Accepted(50, 50))
	assert.True(t, Accepted(25, 100))
	assert.False(t, Accepted(25, 50))
	assert.False(t, Accepted(100, 0))
	assert.False(t, Accepted(0, 100))
	assert.False(t, Accepted(25, 25))
}

func TestMatcher_Match(t *testing.T) {
	m := New(Options{})

	t.Run("exact match", func(t *testing.T) {
		r := m.Match("Radiohead", "Karma Police", []track.Candidate{
			cand("a", "Radiohead", "Creep"),
			cand("b", "Radiohead", "Karma Police"),
		})
		require.NotNil(t, r)
		assert.Equal(t, "b", r.Track.ID)
		assert.Equal(t, 200, r.ConfidenceScore)
		assert.Equal(t, 100, r.ArtistScore)
		assert.Equal(t, 100, r.TitleScore)
	})

	t.Run("normalization bridges versions", func(t *testing.T) {
		r := m.Match("The Beatles", "Hey Jude", []track.Candidate{
			cand("a", "Beatles", "Hey Jude - Remastered 2015"),
		})
		require.NotNil(t, r)
		assert.Equal(t, "a", r.Track.ID)
		assert.Equal(t, 200, r.ConfidenceScore)
	})

	t.Run("highest score wins", func(t *testing.T) {
		r := m.Match("Daft Punk", "One More Time", []track.Candidate{
			cand("partial", "Daft Punk", "One More Time / Aerodynamic"),
			cand("exact", "Daft Punk", "One More Time"),
		})
		require.NotNil(t, r)
		assert.Equal(t, "exact", r.Track.ID)
	})

	t.Run("tie keeps earlier candidate", func(t *testing.T) {
		r := m.Match("Queen", "Under Pressure", []track.Candidate{
			cand("first", "Queen", "Under Pressure"),
			cand("second", "Queen", "Under Pressure"),
		})
		require.NotNil(t, r)
		assert.Equal(t, "first", r.Track.ID)
	})

	t.Run("below threshold", func(t *testing.T) {
		r := m.Match("Radiohead", "Karma Police", []track.Candidate{
			cand("a", "Radiohead", "Creep"),
			cand("b", "Karma Police Tribute Band", "Karma Police"),
		})
		assert.Nil(t, r)
	})

	t.Run("no candidates", func(t *testing.T) {
		assert.Nil(t, m.Match("Radiohead", "Karma Police", nil))
	})
}

func TestMatcher_TwoPass(t *testing.T) {
	m := New(Options{FirstPass: 5, MaxCandidates: 20})

	t.Run("second pass finds match", func(t *testing.T) {
		candidates := append(filler(6), cand("late", "Massive Attack", "Teardrop"))
		r := m.Match("Massive Attack", "Teardrop", candidates)
		require.NotNil(t, r)
		assert.Equal(t, "late", r.Track.ID)
	})

	t.Run("first pass match preferred over better later match", func(t *testing.T) {
		candidates := filler(4)
		candidates = append(candidates, cand("early", "Massive Attack", "Teardrop (Mad Professor Mix) Extended"))
		candidates = append(candidates, cand("exact", "Massive Attack", "Teardrop"))
		r := m.Match("Massive Attack", "Teardrop", candidates)
		require.NotNil(t, r)
		assert.Equal(t, "early", r.Track.ID)
		assert.Equal(t, 150, r.ConfidenceScore)
	})

	t.Run("candidates beyond max are ignored", func(t *testing.T) {
		candidates := append(filler(20), cand("too-late", "Massive Attack", "Teardrop"))
		assert.Nil(t, m.Match("Massive Attack", "Teardrop", candidates))
	})
}

func TestNew_Defaults(t *testing.T) {
	m := New(Options{})
	assert.Equal(t, DefaultMaxCandidates, m.MaxCandidates())

	m = New(Options{FirstPass: 30, MaxCandidates: 10})
	assert.Equal(t, 10, m.MaxCandidates())
	assert.Equal(t, 10, m.opts.FirstPass)
}
