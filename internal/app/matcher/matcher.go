// Package matcher resolves free-text artist/title recommendations to catalog tracks.
package matcher

import (
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/domain/track"
)

// Score values for a single field comparison.
const (
	ScoreExact             = 100 // normalized strings are equal
	ScoreCandidateContains = 50  // candidate contains the search term
	ScoreSearchContains    = 25  // search term contains the candidate
	ScoreNone              = 0

	MinFieldScore = 25
	MinTotalScore = 100
)

// Default pass sizes.
const (
	DefaultFirstPass     = 5
	DefaultMaxCandidates = 20
)

// Result is the best accepted candidate.
type Result struct {
	Track           track.Track
	ConfidenceScore int // ArtistScore + TitleScore
	ArtistScore     int
	TitleScore      int
}

// Options configures the pass sizes.
type Options struct {
	FirstPass     int `yaml:"first_pass" mapstructure:"first_pass" default:"5" validate:"gte=1"`
	MaxCandidates int `yaml:"max_candidates" mapstructure:"max_candidates" default:"20" validate:"gte=1"`
}

// Matcher scores catalog candidates against a recommendation.
type Matcher struct {
	opts Options
}

// New creates a matcher. Non-positive sizes fall back to defaults.
func New(opts Options) *Matcher {
	if opts.FirstPass <= 0 {
		opts.FirstPass = DefaultFirstPass
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.FirstPass > opts.MaxCandidates {
		opts.FirstPass = opts.MaxCandidates
	}
	return &Matcher{opts: opts}
}

// MaxCandidates returns how many candidates the caller should fetch.
func (m *Matcher) MaxCandidates() int {
	return m.opts.MaxCandidates
}

// Match returns the best candidate for artist/title, or nil when none qualifies.
//
// The first FirstPass candidates are scored first; only when none of them
// qualifies are the remaining candidates (up to MaxCandidates) scored.
// Within a pass the highest total wins and ties keep the earlier candidate.
func (m *Matcher) Match(artist, title string, candidates []track.Candidate) *Result {
	if len(candidates) > m.opts.MaxCandidates {
		candidates = candidates[:m.opts.MaxCandidates]
	}

	searchArtist := Normalize(artist)
	searchTitle := Normalize(title)

	first := candidates
	var rest []track.Candidate
	if len(candidates) > m.opts.FirstPass {
		first = candidates[:m.opts.FirstPass]
		rest = candidates[m.opts.FirstPass:]
	}

	if r := bestOf(searchArtist, searchTitle, first); r != nil {
		return r
	}
	if r := bestOf(searchArtist, searchTitle, rest); r != nil {
		return r
	}

	zlog.Debug().Msgf("matcher: no match artist=%q title=%q candidates=%d", artist, title, len(candidates))
	return nil
}

func bestOf(searchArtist, searchTitle string, candidates []track.Candidate) *Result {
	var best *Result
	for _, c := range candidates {
		as := Score(searchArtist, Normalize(c.Artist))
		ts := Score(searchTitle, Normalize(c.Title))
		if !Accepted(as, ts) {
			continue
		}
		total := as + ts
		if best == nil || total > best.ConfidenceScore {
			best = &Result{
				Track:           c.Track,
				ConfidenceScore: total,
				ArtistScore:     as,
				TitleScore:      ts,
			}
		}
	}
	return best
}

// Score compares two already-normalized strings.
func Score(search, candidate string) int {
	if search == "" || candidate == "" {
		return ScoreNone
	}
	switch {
	case search == candidate:
		return ScoreExact
	case strings.Contains(candidate, search):
		return ScoreCandidateContains
	case strings.Contains(search, candidate):
		return ScoreSearchContains
	default:
		return ScoreNone
	}
}

// Accepted reports whether field scores clear the thresholds.
func Accepted(artistScore, titleScore int) bool {
	return artistScore >= MinFieldScore &&
		titleScore >= MinFieldScore &&
		artistScore+titleScore >= MinTotalScore
}
