// Package playback tracks the progress of the track instance currently playing.
package playback

// State represents the tracker state for the current track instance.
type State int

const (
	StateIdle      State = iota // No track instance
	StatePlaying                // Progress advancing
	StatePaused                 // Progress frozen
	StateCompleted              // Completion fired
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
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}
