// Package state provides session state management.
package state

// Phase represents the session lifecycle phase.
type Phase int

const (
	PhaseIdle       Phase = iota // Not started
	PhaseActivating              // Waiting for the playback device
	PhaseActive                  // Rounds are running
	PhaseFailed                  // Device activation failed; the session is over
	PhaseEnded                   // Stopped or past the configured end time
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	case PhaseFailed:
		return "failed"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseFailed || p == PhaseEnded
}
