// Package turn decides turn order and queue priority, and is the only place
// that starts an entry playing.
package turn

import (
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/session/state"
	"github.com/osa030/turntable/internal/domain/session"
)

// DetermineNextQueueStatus returns the status a new AI pick receives for the given turn.
// On the human's turn the pick only plays if the human does not choose.
func DetermineNextQueueStatus(turn session.Selector) session.QueueStatus {
	if turn == session.SelectorUser {
		return session.StatusQueuedIfUserSkips
	}
	return session.StatusUpNext
}

// Transition returns the turn after e starts playing. e carries its queued status.
//
//	upNext            -> opposite of whoever selected it
//	queuedIfUserSkips -> stays with the human
func Transition(e session.Entry) session.Selector {
	if e.QueueStatus == session.StatusQueuedIfUserSkips {
		return session.SelectorUser
	}
	return e.SelectedBy.Opposite()
}

// Manager applies turn transitions to the store.
type Manager struct {
	mu    sync.Mutex
	store *state.Store
}

// NewManager creates a turn manager over store.
func NewManager(store *state.Store) *Manager {
	return &Manager{store: store}
}

// AdvanceToNextSong starts the next queued entry.
// With nothing queued it clears the AI-thinking flag and reports false.
func (m *Manager) AdvanceToNextSong() (session.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.store.PromoteNext(Transition)
	if !ok {
		m.store.SetAIThinking(false)
		zlog.Info().Msg("turn: queue empty, nothing to advance to")
		return session.Entry{}, false
	}
	zlog.Info().Msgf("turn: advanced entry=%s track=%q by=%s turn=%s", e.ID, e.Track.String(), e.SelectedBy, m.store.Turn())
	return e, true
}

// SkipToSong starts the chosen queued entry and discards the rest of the queue.
func (m *Manager) SkipToSong(entryID string) (session.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.store.Promote(entryID, Transition, true)
	if err != nil {
		return session.Entry{}, errors.Wrap(err, "failed to skip")
	}
	zlog.Info().Msgf("turn: skipped to entry=%s track=%q turn=%s", e.ID, e.Track.String(), m.store.Turn())
	return e, nil
}

// PlayNow starts a human pick immediately, as the human's upNext.
func (m *Manager) PlayNow(e session.Entry) session.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.SelectedBy = session.SelectorUser
	e.QueueStatus = session.StatusUpNext
	started := m.store.PlayImmediately(e, Transition)
	zlog.Info().Msgf("turn: playing now entry=%s track=%q turn=%s", started.ID, started.Track.String(), m.store.Turn())
	return started
}

// Resume starts an entry that already left the queue, keeping who selected
// it and the status it was queued with.
func (m *Manager) Resume(e session.Entry) session.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := m.store.PlayImmediately(e, Transition)
	zlog.Info().Msgf("turn: resumed entry=%s track=%q by=%s turn=%s", started.ID, started.Track.String(), started.SelectedBy, m.store.Turn())
	return started
}

// Adopt starts the queued entry carrying trackID, used when the player moved
// to it on its own.
func (m *Manager) Adopt(trackID string) (session.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queued, ok := m.store.FindQueuedByTrack(trackID)
	if !ok {
		return session.Entry{}, false
	}
	e, err := m.store.Promote(queued.ID, Transition, false)
	if err != nil {
		return session.Entry{}, false
	}
	zlog.Info().Msgf("turn: adopted entry=%s track=%q turn=%s", e.ID, e.Track.String(), m.store.Turn())
	return e, true
}
