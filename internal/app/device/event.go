package device

import "time"

// EventType represents the type of a device event.
type EventType int

const (
	// EventSample carries a normalized position report for the loaded track.
	EventSample EventType = iota
	// EventTrackEnded is emitted once per loaded track when the device moves past it.
	EventTrackEnded
	// EventError reports a device-side problem that did not end the session.
	EventError
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventSample:
		return "sample"
	case EventTrackEnded:
		return "track_ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind classifies EventError.
type ErrorKind string

const (
	ErrorPollFailed        ErrorKind = "poll_failed"
	ErrorAuthExpired       ErrorKind = "auth_expired"
	ErrorWatchdogExhausted ErrorKind = "watchdog_exhausted"
	ErrorResumeFailed      ErrorKind = "resume_failed"
)

// Sample is one normalized observation of the loaded track.
type Sample struct {
	Position     time.Duration
	Playing      bool
	TrackURI     string
	PreviousURIs []string
	ObservedAt   time.Time
}

// RawState is a device state report before normalization, either polled from
// the remote API or pushed by a browser-hosted player.
type RawState struct {
	DeviceID     string
	TrackURI     string
	Position     time.Duration
	Paused       bool
	PreviousURIs []string
}

// Event represents a device event.
type Event struct {
	Type   EventType
	Sample Sample    // EventSample
	URI    string    // EventTrackEnded: the track that ended
	Kind   ErrorKind // EventError
	Err    error     // EventError
}
