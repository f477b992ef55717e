// Package playback watches the external player and drives the session
// forward as tracks approach their end.
package playback

// State is the player state seen at the last poll.
type State int

const (
	StateIdle    State = iota // Nothing playing or the player is unreachable
	StatePlaying              // Track is playing
	StatePaused               // Track is loaded but paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}
