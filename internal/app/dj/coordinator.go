// Package dj runs the AI side of the session: it asks the model for the
// next track, resolves it against the catalog and queues it, unless a newer
// request or a human pick has made the work obsolete.
package dj

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/matcher"
	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/app/retry"
	"github.com/osa030/turntable/internal/app/session/state"
	"github.com/osa030/turntable/internal/app/validate"
	"github.com/osa030/turntable/internal/domain/session"
	"github.com/osa030/turntable/internal/domain/track"
	"github.com/osa030/turntable/internal/infra/ai"
	"github.com/osa030/turntable/internal/infra/lastfm"
	"github.com/osa030/turntable/internal/infra/metrics"
)

const (
	// validationRuns is how many times a pick may go through validation.
	// The last run is accepted even if rejected.
	validationRuns = 2
	// suggestionLimit is how many similar tracks are offered to the model.
	suggestionLimit = 5
	// HistoryLimit is how many recent plays are sent with each request.
	HistoryLimit = 20
)

var (
	ErrSuperseded       = errors.New("prefetch superseded")
	ErrNoRecommendation = errors.New("no recommendation")
	ErrNoMatch          = errors.New("no catalog match")
)

// Recommender picks the next track.
type Recommender interface {
	SelectNextSong(ctx context.Context, req ai.SelectRequest) (*ai.Recommendation, error)
}

// Catalog searches the streaming catalog.
type Catalog interface {
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
}

// Validator checks a resolved track against the active persona.
type Validator interface {
	Validate(ctx context.Context, t track.Track, p persona.Persona) (*validate.Verdict, error)
}

// Personas supplies the active persona and its recent picks.
type Personas interface {
	Active() persona.Persona
	Exclusions() []persona.Pair
	Remember(artist, title string)
}

// Inspiration suggests tracks similar to the one playing.
type Inspiration interface {
	GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.SimilarTrack, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithValidator sets the validation chain run on resolved tracks.
func WithValidator(v Validator) Option {
	return func(c *Coordinator) { c.validator = v }
}

// WithInspiration sets the source of similar-track suggestions.
func WithInspiration(i Inspiration) Option {
	return func(c *Coordinator) { c.inspiration = i }
}

// WithMatcher replaces the default catalog matcher.
func WithMatcher(m *matcher.Matcher) Option {
	return func(c *Coordinator) { c.matcher = m }
}

// Coordinator runs AI prefetch pipelines. Only the pipeline holding the
// latest generation token may change session state.
type Coordinator struct {
	store       *state.Store
	recommender Recommender
	catalog     Catalog
	personas    Personas
	matcher     *matcher.Matcher
	validator   Validator
	inspiration Inspiration

	mu         sync.Mutex
	generation uint64
	direction  string

	wg sync.WaitGroup
}

// New creates a Coordinator.
func New(store *state.Store, recommender Recommender, catalog Catalog, personas Personas, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		recommender: recommender,
		catalog:     catalog,
		personas:    personas,
		matcher:     matcher.New(matcher.Options{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prefetch starts a pipeline that queues an AI pick with the given status.
// Any pipeline still running is superseded.
func (c *Coordinator) Prefetch(ctx context.Context, status session.QueueStatus) *Handle {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	h := newHandle(gen, status, func() { c.discard(gen) })
	c.store.SetAIThinking(true)
	c.mu.Unlock()

	zlog.Debug().Msgf("dj: prefetch started generation=%d status=%s", gen, status)

	c.wg.Add(1)
	go c.run(ctx, h)
	return h
}

// Supersede invalidates any running pipeline.
func (c *Coordinator) Supersede() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.store.SetAIThinking(false)
}

// Generation returns the current generation token.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetDirection biases the next pick. It is consumed once a pick is queued.
func (c *Coordinator) SetDirection(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.direction = prompt
}

// Direction returns the pending direction, if any.
func (c *Coordinator) Direction() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction
}

// Wait blocks until every started pipeline has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) discard(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.generation++
	c.store.SetAIThinking(false)
}

func (c *Coordinator) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// release clears the thinking flag unless a newer pipeline owns it.
func (c *Coordinator) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.generation {
		c.store.SetAIThinking(false)
	}
}

func (c *Coordinator) run(ctx context.Context, h *Handle) {
	defer c.wg.Done()

	start := time.Now()
	outcome := OutcomeFailed
	var entry session.Entry
	var err error

	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("dj: pipeline panic generation=%d: %v", h.generation, r)
			outcome, err = OutcomeFailed, errors.Newf("pipeline panic: %v", r)
		}
		if outcome != OutcomeEnqueued {
			c.release(h.generation)
		}
		metrics.PrefetchTotal.WithLabelValues(outcome.String()).Inc()
		metrics.PrefetchDuration.Observe(time.Since(start).Seconds())
		zlog.Debug().Msgf("dj: prefetch finished generation=%d outcome=%s", h.generation, outcome)
		h.finish(outcome, entry, err)
	}()

	outcome, entry, err = c.pipeline(ctx, h)
}

func (c *Coordinator) pipeline(ctx context.Context, h *Handle) (Outcome, session.Entry, error) {
	gen := h.generation
	if c.obsolete(gen) {
		return OutcomeSuperseded, session.Entry{}, ErrSuperseded
	}

	p := c.personas.Active()
	direction := c.Direction()
	base := ai.SelectRequest{
		PersonaStyle: p.Style,
		History:      HistoryItems(c.store.Snapshot(), HistoryLimit),
		Exclusions:   c.exclusions(),
		Suggestions:  c.suggestions(ctx),
		Direction:    direction,
	}

	for run := 1; run <= validationRuns; run++ {
		rec, err := c.recommend(ctx, base)
		if err != nil {
			zlog.Warn().Msgf("dj: recommendation failed generation=%d: %v", gen, err)
			return OutcomeFailed, session.Entry{}, err
		}
		if rec == nil {
			zlog.Warn().Msgf("dj: no recommendation generation=%d", gen)
			return OutcomeNoRecommendation, session.Entry{}, ErrNoRecommendation
		}

		if c.obsolete(gen) {
			return OutcomeSuperseded, session.Entry{}, ErrSuperseded
		}

		result, err := c.resolve(ctx, rec)
		if err != nil {
			zlog.Warn().Msgf("dj: catalog search failed generation=%d: %v", gen, err)
			return OutcomeFailed, session.Entry{}, err
		}
		if result == nil {
			zlog.Info().Msgf("dj: no catalog match generation=%d artist=%q title=%q", gen, rec.Artist, rec.Title)
			if c.isCurrent(gen) {
				c.store.SetNotice(fmt.Sprintf("Couldn't find %s - %s in the catalog", rec.Artist, rec.Title))
			}
			return OutcomeNoMatch, session.Entry{}, ErrNoMatch
		}

		if c.obsolete(gen) {
			return OutcomeSuperseded, session.Entry{}, ErrSuperseded
		}

		if reason, rejected := c.check(ctx, result.Track, p); rejected {
			if run < validationRuns {
				zlog.Info().Msgf("dj: pick rejected, retrying generation=%d track=%q reason=%q", gen, result.Track, reason)
				base.RejectionReason = reason
				continue
			}
			zlog.Info().Msgf("dj: pick rejected again, accepting generation=%d track=%q", gen, result.Track)
		}

		metrics.MatchConfidence.Observe(float64(result.ConfidenceScore))
		return c.commit(h, result.Track, rec, direction)
	}
	return OutcomeFailed, session.Entry{}, errors.New("validation loop exhausted")
}

// obsolete reports whether the pipeline should stop at a checkpoint.
func (c *Coordinator) obsolete(gen uint64) bool {
	return !c.isCurrent(gen) || c.store.UserPicked()
}

// recommend asks for a pick, retrying once on a transient error or on an
// already played track. A repeat after the retry is accepted.
func (c *Coordinator) recommend(ctx context.Context, req ai.SelectRequest) (*ai.Recommendation, error) {
	strict := req
	strict.AvoidRepeats = true

	repeated := false
	return retry.Execute(ctx,
		func(ctx context.Context) (*ai.Recommendation, error) {
			return c.recommender.SelectNextSong(ctx, req)
		},
		retry.WithRetryOperation(func(ctx context.Context) (*ai.Recommendation, error) {
			if repeated {
				return c.recommender.SelectNextSong(ctx, strict)
			}
			return c.recommender.SelectNextSong(ctx, req)
		}),
		retry.WithRetryIf[*ai.Recommendation](ai.IsTransient),
		retry.WithShouldRetry(func(rec *ai.Recommendation) bool {
			return rec == nil || c.store.HasBeenPlayed(rec.Artist, rec.Title)
		}),
		retry.WithOnRetry(func(attempt int, rec *ai.Recommendation, err error) {
			switch {
			case err != nil:
				zlog.Warn().Msgf("dj: recommendation attempt=%d failed: %v", attempt, err)
			case rec != nil:
				repeated = true
				zlog.Info().Msgf("dj: recommendation attempt=%d already played: %s - %s", attempt, rec.Artist, rec.Title)
			default:
				zlog.Info().Msgf("dj: recommendation attempt=%d was empty", attempt)
			}
		}),
	)
}

func (c *Coordinator) resolve(ctx context.Context, rec *ai.Recommendation) (*matcher.Result, error) {
	tracks, err := c.catalog.Search(ctx, rec.Artist+" "+rec.Title, c.matcher.MaxCandidates())
	if err != nil {
		return nil, errors.Wrap(err, "catalog search")
	}
	candidates := make([]track.Candidate, 0, len(tracks))
	for _, t := range tracks {
		candidates = append(candidates, track.NewCandidate(t))
	}
	return c.matcher.Match(rec.Artist, rec.Title, candidates), nil
}

// check runs the validator. Errors never reject.
func (c *Coordinator) check(ctx context.Context, t track.Track, p persona.Persona) (string, bool) {
	if c.validator == nil {
		return "", false
	}
	verdict, err := c.validator.Validate(ctx, t, p)
	if err != nil {
		zlog.Warn().Msgf("dj: validation failed, accepting track=%q: %v", t, err)
		return "", false
	}
	if verdict == nil || verdict.IsValid {
		return "", false
	}
	return verdict.Reason, true
}

func (c *Coordinator) commit(h *Handle, t track.Track, rec *ai.Recommendation, direction string) (Outcome, session.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.generation != c.generation {
		return OutcomeSuperseded, session.Entry{}, ErrSuperseded
	}
	if queued, ok := c.store.NextQueued(); ok && queued.SelectedBy == session.SelectorUser && queued.QueueStatus == h.status {
		return OutcomeSuperseded, session.Entry{}, ErrSuperseded
	}

	entry := session.NewEntry(t, session.SelectorAI, rec.Rationale, h.status)
	if err := c.store.Enqueue(entry); err != nil {
		return OutcomeFailed, session.Entry{}, err
	}
	c.personas.Remember(rec.Artist, rec.Title)
	if direction != "" && c.direction == direction {
		c.direction = ""
	}
	c.store.ClearNotice()
	c.store.SetAIThinking(false)

	zlog.Info().Msgf("dj: queued generation=%d track=%q status=%s", h.generation, t, h.status)
	return OutcomeEnqueued, entry, nil
}

// HistoryItems converts the most recent limit history entries into the
// form sent to the recommender.
func HistoryItems(st session.State, limit int) []ai.HistoryItem {
	history := st.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	items := make([]ai.HistoryItem, 0, len(history))
	for _, e := range history {
		items = append(items, ai.HistoryItem{
			Artist:     e.Track.ArtistName,
			Title:      e.Track.Title,
			SelectedBy: e.SelectedBy.String(),
		})
	}
	return items
}

func (c *Coordinator) exclusions() []string {
	pairs := c.personas.Exclusions()
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.String())
	}
	return out
}

func (c *Coordinator) suggestions(ctx context.Context) []string {
	if c.inspiration == nil {
		return nil
	}
	playing, ok := c.store.Playing()
	if !ok || playing.Track.Title == "" || playing.Track.ArtistName == "" {
		return nil
	}
	similar, err := c.inspiration.GetSimilarTracks(ctx, playing.Track.Title, playing.Track.ArtistName, suggestionLimit)
	if err != nil {
		zlog.Debug().Msgf("dj: similar tracks unavailable: %v", err)
		return nil
	}
	out := make([]string, 0, len(similar))
	for _, s := range similar {
		out = append(out, s.Artist+" - "+s.Name)
	}
	return out
}
