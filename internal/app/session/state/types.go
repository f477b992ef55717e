// Package state provides the session state store.
package state

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/turntable/internal/domain/session"
)

var (
	// ErrEntryNotFound is returned when an entry ID is unknown or not in the expected place.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrInvalidStatus is returned when an entry cannot be placed with its status.
	ErrInvalidStatus = errors.New("invalid queue status")
)

// TransitionFunc computes the next turn from an entry about to start playing.
// The entry carries its pre-promotion status.
type TransitionFunc func(e session.Entry) session.Selector

// Observer receives a snapshot after every mutation.
// It runs while mutations are held back and must not call into the store.
type Observer func(s session.State)

// isQueueStatus reports whether s is a status that lives in the queue.
func isQueueStatus(s session.QueueStatus) bool {
	return s == session.StatusUpNext || s == session.StatusQueuedIfUserSkips
}
