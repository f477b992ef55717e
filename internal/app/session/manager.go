// Package session provides the session manager, which wires the turn-based
// DJ core together and exposes the human's actions.
package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/dj"
	"github.com/osa030/turntable/internal/app/matcher"
	"github.com/osa030/turntable/internal/app/notification"
	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/app/playback"
	"github.com/osa030/turntable/internal/app/session/state"
	"github.com/osa030/turntable/internal/app/session/turn"
	"github.com/osa030/turntable/internal/domain/session"
	"github.com/osa030/turntable/internal/domain/track"
	"github.com/osa030/turntable/internal/infra/ai"
	"github.com/osa030/turntable/internal/infra/metrics"
)

// DefaultSearchLimit is the number of results returned to the human.
const DefaultSearchLimit = 10

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrInvalidTrack   = errors.New("track has no id")
	ErrEmptyQuery     = errors.New("search query is empty")
	ErrNoDirection    = errors.New("no direction suggested")
)

// Catalog is the streaming service: search, playback and the player itself.
type Catalog interface {
	dj.Catalog
	playback.Player
	Authorize(ctx context.Context) error
}

// Recommender is the AI service.
type Recommender interface {
	dj.Recommender
	GenerateDirectionChange(ctx context.Context, personaStyle string, history []ai.HistoryItem) (*ai.Direction, error)
}

// Options configures optional collaborators and tuning.
type Options struct {
	Playback    playback.Config
	Matcher     *matcher.Matcher
	Validator   dj.Validator
	Inspiration dj.Inspiration
	SearchLimit int
}

// Manager manages the DJ session.
type Manager struct {
	// Serializes human actions
	mu sync.Mutex

	// Components
	catalog      Catalog
	recommender  Recommender
	personas     *persona.Provider
	store        *state.Store
	turns        *turn.Manager
	dj           *dj.Coordinator
	monitor      *playback.Monitor
	notification *notification.Manager

	searchLimit int

	// Read by snapshot encoders while mu may be held
	labelMu        sync.RWMutex
	directionLabel string

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a new session manager.
func NewManager(catalog Catalog, recommender Recommender, personas *persona.Provider, opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	store := state.NewStore()
	turns := turn.NewManager(store)

	var djOpts []dj.Option
	if opts.Matcher != nil {
		djOpts = append(djOpts, dj.WithMatcher(opts.Matcher))
	}
	if opts.Validator != nil {
		djOpts = append(djOpts, dj.WithValidator(opts.Validator))
	}
	if opts.Inspiration != nil {
		djOpts = append(djOpts, dj.WithInspiration(opts.Inspiration))
	}
	coordinator := dj.New(store, recommender, catalog, personas, djOpts...)

	searchLimit := opts.SearchLimit
	if searchLimit <= 0 {
		searchLimit = DefaultSearchLimit
	}

	m := &Manager{
		catalog:      catalog,
		recommender:  recommender,
		personas:     personas,
		store:        store,
		turns:        turns,
		dj:           coordinator,
		monitor:      playback.NewMonitor(catalog, store, turns, coordinator, opts.Playback),
		notification: notification.NewManager(),
		searchLimit:  searchLimit,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	store.SetObserver(m.notification.Broadcast)
	return m
}

// Start authorizes the catalog and starts watching the player.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := m.catalog.Authorize(ctx); err != nil {
		m.started.Store(false)
		return errors.Wrap(err, "failed to authorize catalog")
	}

	m.personas.Start()

	go func() {
		defer close(m.done)
		if err := m.monitor.Run(m.ctx); err != nil {
			zlog.Error().Msgf("session: playback monitor: %v", err)
		}
	}()
	go m.eventLoop()

	zlog.Info().Msgf("session: started persona=%s", m.personas.Active().Name)
	return nil
}

// eventLoop logs playback events.
func (m *Manager) eventLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case e := <-m.monitor.Events():
			if e.Entry != nil {
				zlog.Debug().Msgf("session: playback event=%s entry=%s track=%q", e.Type, e.Entry.ID, e.Entry.Track.String())
			} else {
				zlog.Debug().Msgf("session: playback event=%s track_id=%s", e.Type, e.TrackID)
			}
		}
	}
}

// SelectTrack handles the human's pick. With nothing playing it starts
// immediately, otherwise it becomes the human's upNext entry.
func (m *Manager) SelectTrack(ctx context.Context, t track.Track) (session.Entry, error) {
	if t.IsZero() {
		return session.Entry{}, ErrInvalidTrack
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The session is left untouched when the player refuses.
	_, playing := m.store.Playing()
	if !playing {
		if err := m.catalog.Play(ctx, t); err != nil {
			return session.Entry{}, errors.Wrap(err, "failed to start playback")
		}
	}

	m.dj.Supersede()
	if removed := m.store.RemoveAIQueuedEntries(); removed > 0 {
		zlog.Debug().Msgf("session: discarded AI picks count=%d", removed)
	}
	m.store.ClearNotice()

	if !playing {
		e := m.turns.PlayNow(session.NewEntry(t, session.SelectorUser, "", session.StatusUpNext))
		metrics.TracksStarted.WithLabelValues(e.SelectedBy.String()).Inc()
		m.prefetchLocked()
		zlog.Info().Msgf("session: human pick playing now entry=%s track=%q", e.ID, t.String())
		return e, nil
	}

	e := session.NewEntry(t, session.SelectorUser, "", session.StatusUpNext)
	if err := m.store.Enqueue(e); err != nil {
		return session.Entry{}, err
	}
	m.store.MarkUserPicked()
	zlog.Info().Msgf("session: human pick queued entry=%s track=%q", e.ID, t.String())
	return e, nil
}

// SkipTo jumps to a queued entry and discards the rest of the queue.
func (m *Manager) SkipTo(ctx context.Context, entryID string) (session.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.store.Get(entryID)
	if !ok || !target.QueueStatus.IsQueued() {
		return session.Entry{}, errors.Wrapf(state.ErrEntryNotFound, "failed to skip to entry=%s", entryID)
	}
	if err := m.catalog.Play(ctx, target.Track); err != nil {
		return session.Entry{}, errors.Wrap(err, "failed to start playback")
	}

	m.dj.Supersede()
	e, err := m.turns.SkipToSong(entryID)
	if err != nil {
		return session.Entry{}, err
	}
	metrics.TracksStarted.WithLabelValues(e.SelectedBy.String()).Inc()
	m.prefetchLocked()
	return e, nil
}

// Search looks up tracks for the human.
func (m *Manager) Search(ctx context.Context, query string) ([]track.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	tracks, err := m.catalog.Search(ctx, query, m.searchLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search catalog")
	}
	return tracks, nil
}

// ChangeDirection asks the AI for a new direction and restarts its pick
// so the direction applies.
func (m *Manager) ChangeDirection(ctx context.Context) (*ai.Direction, error) {
	p := m.personas.Active()
	history := dj.HistoryItems(m.store.Snapshot(), dj.HistoryLimit)

	d, err := m.recommender.GenerateDirectionChange(ctx, p.Style, history)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate direction")
	}
	if d == nil || d.Prompt == "" {
		return nil, ErrNoDirection
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dj.SetDirection(d.Prompt)
	m.setDirectionLabel(d.Label)
	zlog.Info().Msgf("session: direction changed label=%q", d.Label)
	m.restartLocked()
	return d, nil
}

// DirectionLabel returns the label of the last direction change.
func (m *Manager) DirectionLabel() string {
	m.labelMu.RLock()
	defer m.labelMu.RUnlock()
	return m.directionLabel
}

func (m *Manager) setDirectionLabel(label string) {
	m.labelMu.Lock()
	defer m.labelMu.Unlock()
	m.directionLabel = label
}

// SetPersona switches the active persona and restarts the AI's pick.
func (m *Manager) SetPersona(name string) (persona.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.personas.SetActive(name)
	if err != nil {
		return persona.Persona{}, err
	}
	m.restartLocked()
	return p, nil
}

// Personas returns the configured personas and the active one.
func (m *Manager) Personas() ([]persona.Persona, persona.Persona) {
	return m.personas.List(), m.personas.Active()
}

// Reset clears the session.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dj.Supersede()
	m.dj.SetDirection("")
	m.setDirectionLabel("")
	m.store.Reset()
	zlog.Info().Msg("session: reset")
}

// State returns a snapshot of the session.
func (m *Manager) State() session.State {
	return m.store.Snapshot()
}

// RecentTracks returns up to n most recent history tracks, oldest first.
func (m *Manager) RecentTracks(n int) []track.Track {
	return m.store.RecentTracks(n)
}

// PlayerState returns the player state seen at the last poll.
func (m *Manager) PlayerState() playback.State {
	return m.monitor.State()
}

// Subscribe registers a stream for state snapshots and sends it the
// current state right away.
func (m *Manager) Subscribe(stream notification.Stream) string {
	id := m.notification.Subscribe(stream)
	m.store.WithSnapshot(func(st session.State) {
		m.notification.Send(id, st)
	})
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(id string) {
	m.notification.Unsubscribe(id)
}

// Done returns a channel that is closed when the monitor has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close stops the session and waits for background work.
func (m *Manager) Close() {
	m.cancel()
	if m.started.Load() {
		<-m.done
	}
	m.dj.Supersede()
	m.dj.Wait()
	m.personas.Close()
	m.notification.Close()
	zlog.Info().Msg("session: closed")
}

// prefetchLocked starts the AI pick for the slot after the current track.
func (m *Manager) prefetchLocked() {
	m.dj.Prefetch(m.ctx, turn.DetermineNextQueueStatus(m.store.Turn()))
}

// restartLocked drops queued AI picks and, if a track is playing and the
// human has not picked yet, starts a fresh one.
func (m *Manager) restartLocked() {
	m.dj.Supersede()
	m.store.RemoveAIQueuedEntries()
	if _, playing := m.store.Playing(); playing && !m.store.UserPicked() {
		m.prefetchLocked()
	}
}
