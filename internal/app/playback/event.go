package playback

import "github.com/osa030/turntable/internal/domain/session"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackChanged   EventType = iota // Player moved to a different track
	EventPrebuffered                     // Next entry pushed to the player's queue
	EventTrackEnded                      // End threshold reached
	EventUnexpectedStop                  // Player stopped while a track was playing
	EventTrackStarted                    // Next entry started after an end
	EventQueueEmpty                      // Track ended with nothing queued
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventPrebuffered:
		return "prebuffered"
	case EventTrackEnded:
		return "track_ended"
	case EventUnexpectedStop:
		return "unexpected_stop"
	case EventTrackStarted:
		return "track_started"
	case EventQueueEmpty:
		return "queue_empty"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type    EventType
	TrackID string         // Player track id (empty for some events)
	Entry   *session.Entry // Session entry involved, if any
}
