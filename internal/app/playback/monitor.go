package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/dj"
	"github.com/osa030/turntable/internal/app/session/state"
	"github.com/osa030/turntable/internal/app/session/turn"
	"github.com/osa030/turntable/internal/domain/session"
	"github.com/osa030/turntable/internal/domain/track"
	"github.com/osa030/turntable/internal/infra/metrics"
)

// Defaults for Config.
const (
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultPrebufferThreshold = 0.95
	DefaultEndThreshold       = 0.98

	restartTolerance = 2 * time.Second
)

// Errors
var (
	ErrAlreadyRunning = errors.New("playback monitor already running")
)

// Player is the external player being watched.
type Player interface {
	// CurrentlyPlaying returns nil when nothing is loaded.
	CurrentlyPlaying(ctx context.Context) (*track.NowPlaying, error)
	Play(ctx context.Context, t track.Track) error
	EnqueueNext(ctx context.Context, t track.Track) error
}

// Prefetcher starts an AI pick for the next slot.
type Prefetcher interface {
	Prefetch(ctx context.Context, status session.QueueStatus) *dj.Handle
	Supersede()
}

// Config holds monitor configuration.
type Config struct {
	PollInterval       time.Duration
	PrebufferThreshold float64 // Fraction of the track after which the next entry is pushed
	EndThreshold       float64 // Fraction of the track treated as its end
}

// Monitor polls the player and advances the session.
type Monitor struct {
	player     Player
	store      *state.Store
	turns      *turn.Manager
	prefetcher Prefetcher
	config     Config

	// Per-track state, guarded by tickMu
	tickMu     sync.Mutex
	trackID    string                   // Last observed player track id
	pushed     session.Entry            // Entry pushed to the player for the current track
	stray      map[string]session.Entry // Pushed entries the session dropped, by track id
	ended      bool                     // End trigger already fired for the current track
	progress   time.Duration
	wasPlaying bool
	state      State

	running atomic.Bool
	stateMu sync.RWMutex
	pending *dj.Handle

	eventCh chan Event
}

// NewMonitor creates a playback monitor.
func NewMonitor(player Player, store *state.Store, turns *turn.Manager, prefetcher Prefetcher, config Config) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.PrebufferThreshold <= 0 {
		config.PrebufferThreshold = DefaultPrebufferThreshold
	}
	if config.EndThreshold <= 0 {
		config.EndThreshold = DefaultEndThreshold
	}
	return &Monitor{
		player:     player,
		store:      store,
		turns:      turns,
		prefetcher: prefetcher,
		config:     config,
		state:      StateIdle,
		stray:      make(map[string]session.Entry),
		eventCh:    make(chan Event, 16),
	}
}

// Events returns the event channel. Events are dropped when it is full.
func (m *Monitor) Events() <-chan Event {
	return m.eventCh
}

// State returns the player state seen at the last poll.
func (m *Monitor) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Run polls until ctx is done. Only one Run may be active per monitor.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	zlog.Info().Msgf("playback: monitor started interval=%s prebuffer=%.2f end=%.2f",
		m.config.PollInterval, m.config.PrebufferThreshold, m.config.EndThreshold)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("playback: monitor stopped")
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs a single poll.
func (m *Monitor) Tick(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	np, err := m.player.CurrentlyPlaying(ctx)
	if err != nil {
		metrics.PollErrors.Inc()
		zlog.Warn().Msgf("playback: poll failed: %v", err)
		np = nil
	}

	if np == nil || np.TrackID == "" {
		m.setState(StateIdle)
		if m.wasPlaying && !m.ended {
			zlog.Info().Msgf("playback: unexpected stop track=%s", m.trackID)
			m.sendEvent(Event{Type: EventUnexpectedStop, TrackID: m.trackID})
			m.endTrack(ctx)
		}
		m.wasPlaying = false
		return
	}

	switch {
	case np.TrackID != m.trackID:
		m.trackChanged(ctx, np.TrackID)
	case m.ended && np.Progress+restartTolerance < m.progress:
		// Same track started over, e.g. a repeat pick.
		zlog.Debug().Msgf("playback: track restarted track=%s", np.TrackID)
		m.pushed = session.Entry{}
		m.ended = false
	}
	m.progress = np.Progress

	if !np.Playing {
		m.setState(StatePaused)
		return
	}
	m.setState(StatePlaying)
	m.wasPlaying = true

	if np.Duration <= 0 {
		return
	}
	progress := float64(np.Progress) / float64(np.Duration)

	if progress >= m.config.PrebufferThreshold && m.pushed.ID == "" {
		m.prebuffer(ctx)
	}
	if progress >= m.config.EndThreshold && !m.ended {
		m.sendEvent(Event{Type: EventTrackEnded, TrackID: m.trackID})
		m.endTrack(ctx)
	}
}

func (m *Monitor) trackChanged(ctx context.Context, trackID string) {
	zlog.Debug().Msgf("playback: track changed from=%s to=%s", m.trackID, trackID)
	m.trackID = trackID
	m.pushed = session.Entry{}
	m.ended = false
	m.sendEvent(Event{Type: EventTrackChanged, TrackID: trackID})

	if playing, ok := m.store.Playing(); ok && playing.Track.ID == trackID {
		return
	}

	// The player moved on its own, e.g. to a pre-buffered entry.
	entry, ok := m.turns.Adopt(trackID)
	if !ok {
		if stray, found := m.stray[trackID]; found {
			delete(m.stray, trackID)
			m.skipStray(ctx, stray)
			return
		}
		zlog.Debug().Msgf("playback: track=%s is not in the session queue", trackID)
		return
	}
	metrics.TracksStarted.WithLabelValues(entry.SelectedBy.String()).Inc()
	m.sendEvent(Event{Type: EventTrackStarted, TrackID: trackID, Entry: &entry})
	m.prefetchNext(ctx)
}

func (m *Monitor) prebuffer(ctx context.Context) {
	next, ok := m.store.NextQueued()
	if !ok {
		return
	}
	if err := m.player.EnqueueNext(ctx, next.Track); err != nil {
		zlog.Warn().Msgf("playback: prebuffer failed entry=%s: %v", next.ID, err)
		return
	}
	m.pushed = next
	zlog.Info().Msgf("playback: prebuffered entry=%s track=%q", next.ID, next.Track.String())
	m.sendEvent(Event{Type: EventPrebuffered, TrackID: next.Track.ID, Entry: &next})
}

func (m *Monitor) endTrack(ctx context.Context) {
	m.ended = true

	if current, ok := m.store.Playing(); ok {
		if err := m.store.MarkPlayed(current.ID); err != nil {
			zlog.Warn().Msgf("playback: mark played failed entry=%s: %v", current.ID, err)
		}
	}

	next, ok := m.turns.AdvanceToNextSong()
	if m.pushed.ID != "" && (!ok || next.ID != m.pushed.ID) {
		// Still in the player's queue, so the player will reach it.
		zlog.Debug().Msgf("playback: pushed entry=%s was dropped from the session", m.pushed.ID)
		m.stray[m.pushed.Track.ID] = m.pushed
	}
	if !ok {
		// A pick landing now would sit in the queue with nothing playing.
		m.prefetcher.Supersede()
		m.sendEvent(Event{Type: EventQueueEmpty})
		return
	}

	if next.ID != m.pushed.ID {
		if err := m.player.Play(ctx, next.Track); err != nil {
			zlog.Error().Msgf("playback: play failed entry=%s: %v", next.ID, err)
		}
	}
	metrics.TracksStarted.WithLabelValues(next.SelectedBy.String()).Inc()
	m.sendEvent(Event{Type: EventTrackStarted, TrackID: next.Track.ID, Entry: &next})
	m.prefetchNext(ctx)
}

// skipStray handles the player reaching a pushed entry the session dropped.
// A session entry that should be playing is started over the stray one;
// otherwise the stray entry is what the listener hears and is recorded as such.
func (m *Monitor) skipStray(ctx context.Context, stray session.Entry) {
	if current, ok := m.store.Playing(); ok {
		zlog.Warn().Msgf("playback: player reached dropped track=%s, restoring entry=%s", stray.Track.ID, current.ID)
		if err := m.player.Play(ctx, current.Track); err != nil {
			zlog.Error().Msgf("playback: play failed entry=%s: %v", current.ID, err)
		}
		return
	}

	entry := m.turns.Resume(stray)
	zlog.Info().Msgf("playback: recorded dropped entry=%s track=%q as playing", entry.ID, entry.Track.String())
	metrics.TracksStarted.WithLabelValues(entry.SelectedBy.String()).Inc()
	m.sendEvent(Event{Type: EventTrackStarted, TrackID: entry.Track.ID, Entry: &entry})
	m.prefetchNext(ctx)
}

func (m *Monitor) prefetchNext(ctx context.Context) {
	status := turn.DetermineNextQueueStatus(m.store.Turn())
	zlog.Debug().Msgf("playback: prefetch requested status=%s", status)
	h := m.prefetcher.Prefetch(ctx, status)

	m.stateMu.Lock()
	m.pending = h
	m.stateMu.Unlock()
}

// Pending returns the handle of the last prefetch the monitor started.
func (m *Monitor) Pending() *dj.Handle {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.pending
}

func (m *Monitor) setState(s State) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.state = s
}

// sendEvent sends an event without blocking.
func (m *Monitor) sendEvent(e Event) {
	select {
	case m.eventCh <- e:
	default:
	}
}
