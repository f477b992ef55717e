package state

import (
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/matcher"
	"github.com/osa030/turntable/internal/domain/session"
	"github.com/osa030/turntable/internal/domain/track"
)

// Store holds the session history, queue, turn and AI-thinking flag.
// All methods are safe for concurrent use; reads return copies.
type Store struct {
	mu sync.RWMutex

	entries map[string]*session.Entry
	history []string // entry IDs, oldest first
	queue   []string // entry IDs, insertion order

	turn       session.Selector
	aiThinking bool
	userPicked bool
	notice     string

	notifyMu sync.Mutex
	observer Observer
}

// NewStore creates an empty store. The human has the first turn.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*session.Entry),
		turn:    session.SelectorUser,
	}
}

// SetObserver registers the mutation observer.
func (s *Store) SetObserver(o Observer) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.observer = o
}

// AddToHistory appends an entry to the history.
// A playing entry demotes any previously playing entry to played.
func (s *Store) AddToHistory(e session.Entry) {
	s.mu.Lock()
	s.addToHistoryLocked(e)
	s.commitLocked()
}

// Enqueue adds an AI or human pick to the queue.
// An existing entry with the same status is replaced.
func (s *Store) Enqueue(e session.Entry) error {
	if !isQueueStatus(e.QueueStatus) {
		return errors.Wrapf(ErrInvalidStatus, "cannot enqueue entry with status %s", e.QueueStatus)
	}

	s.mu.Lock()
	for _, id := range s.queue {
		if s.entries[id].QueueStatus == e.QueueStatus {
			zlog.Debug().Msgf("store: replacing queued entry id=%s status=%s", id, e.QueueStatus)
			s.removeLocked(id)
			break
		}
	}
	s.entries[e.ID] = &e
	s.queue = append(s.queue, e.ID)
	s.commitLocked()
	return nil
}

// NextQueued returns the entry that plays next: upNext before queuedIfUserSkips.
func (s *Store) NextQueued() (session.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.nextQueuedLocked(); e != nil {
		return *e, true
	}
	return session.Entry{}, false
}

// RemoveAIQueuedEntries discards every queued AI pick and returns how many were removed.
func (s *Store) RemoveAIQueuedEntries() int {
	s.mu.Lock()
	removed := 0
	for _, id := range append([]string(nil), s.queue...) {
		if s.entries[id].SelectedBy == session.SelectorAI {
			s.removeLocked(id)
			removed++
		}
	}
	if removed == 0 {
		s.mu.Unlock()
		return 0
	}
	s.commitLocked()
	return removed
}

// HasBeenPlayed reports whether artist/title already appears in the history,
// comparing normalized forms.
func (s *Store) HasBeenPlayed(artist, title string) bool {
	na := matcher.Normalize(artist)
	nt := matcher.Normalize(title)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.history {
		e := s.entries[id]
		if matcher.Normalize(e.Track.ArtistName) == na && matcher.Normalize(e.Track.Title) == nt {
			return true
		}
	}
	return false
}

// RecentTracks returns up to n most recent history tracks, oldest first.
func (s *Store) RecentTracks(n int) []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.history
	if n >= 0 && len(ids) > n {
		ids = ids[len(ids)-n:]
	}
	out := make([]track.Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entries[id].Track)
	}
	return out
}

// SetAIThinking sets the AI-thinking flag.
func (s *Store) SetAIThinking(v bool) {
	s.mu.Lock()
	if s.aiThinking == v {
		s.mu.Unlock()
		return
	}
	s.aiThinking = v
	s.commitLocked()
}

// AIThinking returns the AI-thinking flag.
func (s *Store) AIThinking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aiThinking
}

// Turn returns whose turn it is.
func (s *Store) Turn() session.Selector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turn
}

// SetTurn sets whose turn it is.
func (s *Store) SetTurn(t session.Selector) {
	s.mu.Lock()
	s.turn = t
	s.commitLocked()
}

// MarkUserPicked records that the human queued a track in the current cycle.
func (s *Store) MarkUserPicked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userPicked = true
}

// UserPicked reports whether the human queued a track in the current cycle.
func (s *Store) UserPicked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userPicked
}

// SetNotice sets the transient user-visible notice.
func (s *Store) SetNotice(msg string) {
	s.mu.Lock()
	s.notice = msg
	s.commitLocked()
}

// ClearNotice removes the notice if one is set.
func (s *Store) ClearNotice() {
	s.mu.Lock()
	if s.notice == "" {
		s.mu.Unlock()
		return
	}
	s.notice = ""
	s.commitLocked()
}

// Playing returns the entry currently playing.
func (s *Store) Playing() (session.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.playingLocked(); e != nil {
		return *e, true
	}
	return session.Entry{}, false
}

// Get returns an entry by ID.
func (s *Store) Get(id string) (session.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return *e, true
	}
	return session.Entry{}, false
}

// FindQueuedByTrack returns the queued entry carrying the given catalog track ID.
func (s *Store) FindQueuedByTrack(trackID string) (session.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.queue {
		if e := s.entries[id]; e.Track.ID == trackID {
			return *e, true
		}
	}
	return session.Entry{}, false
}

// MarkPlayed marks a history entry as played.
func (s *Store) MarkPlayed(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || !s.inHistoryLocked(id) {
		s.mu.Unlock()
		return errors.Wrapf(ErrEntryNotFound, "history entry %s", id)
	}
	if e.QueueStatus == session.StatusPlayed {
		s.mu.Unlock()
		return nil
	}
	e.QueueStatus = session.StatusPlayed
	s.commitLocked()
	return nil
}

// Remove deletes a queued entry.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if !s.inQueueLocked(id) {
		s.mu.Unlock()
		return false
	}
	s.removeLocked(id)
	s.commitLocked()
	return true
}

// Promote moves a queued entry into the history as playing and applies transition
// to the entry as it was queued. When exclusive is set, every other queued entry
// is discarded.
func (s *Store) Promote(id string, transition TransitionFunc, exclusive bool) (session.Entry, error) {
	s.mu.Lock()
	if !s.inQueueLocked(id) {
		s.mu.Unlock()
		return session.Entry{}, errors.Wrapf(ErrEntryNotFound, "queued entry %s", id)
	}
	queued := *s.entries[id]
	s.removeLocked(id)
	if exclusive {
		for _, other := range append([]string(nil), s.queue...) {
			s.removeLocked(other)
		}
	}
	promoted := s.startLocked(queued, transition)
	s.commitLocked()
	return promoted, nil
}

// PromoteNext promotes the entry NextQueued would return.
func (s *Store) PromoteNext(transition TransitionFunc) (session.Entry, bool) {
	s.mu.Lock()
	next := s.nextQueuedLocked()
	if next == nil {
		s.mu.Unlock()
		return session.Entry{}, false
	}
	queued := *next
	s.removeLocked(queued.ID)
	promoted := s.startLocked(queued, transition)
	s.commitLocked()
	return promoted, true
}

// PlayImmediately puts an entry that never sat in the queue straight into playing.
func (s *Store) PlayImmediately(e session.Entry, transition TransitionFunc) session.Entry {
	s.mu.Lock()
	promoted := s.startLocked(e, transition)
	s.commitLocked()
	return promoted
}

// Reset clears the whole session.
func (s *Store) Reset() {
	s.mu.Lock()
	s.entries = make(map[string]*session.Entry)
	s.history = nil
	s.queue = nil
	s.turn = session.SelectorUser
	s.aiThinking = false
	s.userPicked = false
	s.notice = ""
	s.commitLocked()
}

// Snapshot returns a deep copy of the session state.
func (s *Store) Snapshot() session.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// WithSnapshot calls fn with the current state, ordered with respect to the
// observer: fn sees no mutation that the observer has not been told about.
func (s *Store) WithSnapshot(fn func(session.State)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	snap := s.snapshotLocked()
	s.mu.RUnlock()
	fn(snap)
}

// startLocked demotes the current playing entry, records e as playing,
// and applies the turn transition. Must be called with s.mu held.
func (s *Store) startLocked(e session.Entry, transition TransitionFunc) session.Entry {
	s.turn = transition(e)
	s.userPicked = false
	e.QueueStatus = session.StatusPlaying
	s.addToHistoryLocked(e)
	return e
}

func (s *Store) addToHistoryLocked(e session.Entry) {
	if e.QueueStatus == session.StatusPlaying {
		if cur := s.playingLocked(); cur != nil {
			cur.QueueStatus = session.StatusPlayed
		}
	}
	s.entries[e.ID] = &e
	s.history = append(s.history, e.ID)
}

func (s *Store) nextQueuedLocked() *session.Entry {
	var fallback *session.Entry
	for _, id := range s.queue {
		e := s.entries[id]
		switch e.QueueStatus {
		case session.StatusUpNext:
			return e
		case session.StatusQueuedIfUserSkips:
			if fallback == nil {
				fallback = e
			}
		}
	}
	return fallback
}

func (s *Store) playingLocked() *session.Entry {
	for i := len(s.history) - 1; i >= 0; i-- {
		if e := s.entries[s.history[i]]; e.QueueStatus == session.StatusPlaying {
			return e
		}
	}
	return nil
}

func (s *Store) removeLocked(id string) {
	for i, qid := range s.queue {
		if qid == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			delete(s.entries, id)
			return
		}
	}
}

func (s *Store) inQueueLocked(id string) bool {
	for _, qid := range s.queue {
		if qid == id {
			return true
		}
	}
	return false
}

func (s *Store) inHistoryLocked(id string) bool {
	for _, hid := range s.history {
		if hid == id {
			return true
		}
	}
	return false
}

func (s *Store) snapshotLocked() session.State {
	st := session.State{
		History:     make([]session.Entry, 0, len(s.history)),
		Queue:       make([]session.Entry, 0, len(s.queue)),
		CurrentTurn: s.turn,
		AIThinking:  s.aiThinking,
		Notice:      s.notice,
	}
	for _, id := range s.history {
		st.History = append(st.History, *s.entries[id])
	}
	for _, id := range s.queue {
		st.Queue = append(st.Queue, *s.entries[id])
	}
	return st
}

// commitLocked releases s.mu and notifies the observer in mutation order.
// Must be called with s.mu held for writing.
func (s *Store) commitLocked() {
	s.notifyMu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if s.observer != nil {
		s.observer(snap)
	}
}
