// Package session provides the DJ session domain entities.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/osa030/turntable/internal/domain/track"
)

// QueueStatus represents where an entry sits in the session.
type QueueStatus int

const (
	StatusUpNext            QueueStatus = iota // Plays next
	StatusQueuedIfUserSkips                    // Plays only if the human does not pick
	StatusPlaying                              // Currently playing
	StatusPlayed                               // Finished
)

// String returns the string representation of the queue status.
func (s QueueStatus) String() string {
	switch s {
	case StatusUpNext:
		return "upNext"
	case StatusQueuedIfUserSkips:
		return "queuedIfUserSkips"
	case StatusPlaying:
		return "playing"
	case StatusPlayed:
		return "played"
	default:
		return "unknown"
	}
}

// IsQueued reports whether the status belongs to an entry waiting in the queue.
func (s QueueStatus) IsQueued() bool {
	return s == StatusUpNext || s == StatusQueuedIfUserSkips
}

// Selector identifies who picked a track. It doubles as the turn.
type Selector int

const (
	SelectorUser Selector = iota
	SelectorAI
)

// String returns the string representation of the selector.
func (s Selector) String() string {
	switch s {
	case SelectorUser:
		return "user"
	case SelectorAI:
		return "ai"
	default:
		return "unknown"
	}
}

// Opposite returns the other selector.
func (s Selector) Opposite() Selector {
	if s == SelectorUser {
		return SelectorAI
	}
	return SelectorUser
}

// Entry is a track placed into the session. Entries are addressed by ID.
type Entry struct {
	ID          string
	Track       track.Track
	SelectedBy  Selector
	Rationale   string // AI explanation, empty for human picks
	Timestamp   time.Time
	QueueStatus QueueStatus
}

// NewEntry creates an entry with a fresh ID.
func NewEntry(t track.Track, by Selector, rationale string, status QueueStatus) Entry {
	return Entry{
		ID:          uuid.New().String(),
		Track:       t,
		SelectedBy:  by,
		Rationale:   rationale,
		Timestamp:   time.Now(),
		QueueStatus: status,
	}
}

// State is a point-in-time snapshot of the session.
type State struct {
	History     []Entry
	Queue       []Entry
	CurrentTurn Selector
	AIThinking  bool
	Notice      string // Transient message shown to the human
}

// Playing returns the entry currently playing, if any.
func (s State) Playing() (Entry, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].QueueStatus == StatusPlaying {
			return s.History[i], true
		}
	}
	return Entry{}, false
}
