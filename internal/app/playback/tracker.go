package playback

import (
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Config holds tracker configuration.
type Config struct {
	ResyncThreshold time.Duration // Device drift that forces a re-anchor
	EndEpsilon      time.Duration // Completion fires this close to the end
	RestartGuard    time.Duration // Minimum elapsed before paused-at-zero counts as the end
}

// DefaultConfig returns the standard tracker configuration.
func DefaultConfig() Config {
	return Config{
		ResyncThreshold: 2 * time.Second,
		EndEpsilon:      time.Second,
		RestartGuard:    5 * time.Second,
	}
}

// Sample is a device-reported playback state.
type Sample struct {
	Position time.Duration
	Playing  bool
	URI      string
}

// Progress is the tracker output for one tick or sample.
type Progress struct {
	Elapsed   time.Duration
	State     State
	Completed bool // True exactly once per track instance
}

// Seconds returns the elapsed whole seconds.
func (p Progress) Seconds() int {
	return int(p.Elapsed / time.Second)
}

// Tracker derives monotonic elapsed time for a single track instance.
// Each Start replaces the previous instance, so there is only ever one timeline.
//
// Tracker is not safe for concurrent use.
type Tracker struct {
	config Config
	now    func() time.Time

	trackID  string
	uri      string
	duration time.Duration

	state    State
	anchor   time.Time     // now - position while playing
	frozen   time.Duration // elapsed while paused
	reported time.Duration // highest elapsed handed out
}

// NewTracker creates a new tracker. A nil now uses time.Now.
func NewTracker(config Config, now func() time.Time) *Tracker {
	def := DefaultConfig()
	if config.ResyncThreshold <= 0 {
		config.ResyncThreshold = def.ResyncThreshold
	}
	if config.EndEpsilon <= 0 {
		config.EndEpsilon = def.EndEpsilon
	}
	if config.RestartGuard <= 0 {
		config.RestartGuard = def.RestartGuard
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		config: config,
		now:    now,
		state:  StateIdle,
	}
}

// Start begins a new track instance at position.
func (t *Tracker) Start(trackID, uri string, duration, position time.Duration, playing bool) {
	now := toWallTime(t.now())

	t.trackID = trackID
	t.uri = uri
	t.duration = duration
	t.reported = 0
	t.frozen = clamp(position, duration)
	t.anchor = now.Add(-t.frozen)
	t.state = StatePaused
	if playing {
		t.state = StatePlaying
	}

	zlog.Debug().Msgf("progress: instance started: track=%s duration=%v position=%v playing=%v",
		trackID, duration, position, playing)
}

// TrackID returns the track of the current instance.
func (t *Tracker) TrackID() string {
	return t.trackID
}

// State returns the tracker state.
func (t *Tracker) State() State {
	return t.state
}

// Elapsed returns the last reported elapsed time.
func (t *Tracker) Elapsed() time.Duration {
	return t.reported
}

// Tick computes elapsed time from the local anchor.
func (t *Tracker) Tick() Progress {
	if t.state == StateIdle || t.state == StateCompleted {
		return Progress{Elapsed: t.reported, State: t.state}
	}

	t.report(t.compute())
	if t.reported >= t.duration-t.config.EndEpsilon {
		return t.complete("duration reached")
	}
	return Progress{Elapsed: t.reported, State: t.state}
}

// Observe reconciles a device sample with the local timeline.
// Samples for another URI are ignored.
func (t *Tracker) Observe(s Sample) Progress {
	if t.state == StateIdle || t.state == StateCompleted {
		return Progress{Elapsed: t.reported, State: t.state}
	}
	if s.URI != "" && t.uri != "" && s.URI != t.uri {
		return Progress{Elapsed: t.reported, State: t.state}
	}

	now := toWallTime(t.now())
	position := clamp(s.Position, t.duration)

	if !s.Playing {
		if s.Position < time.Second && t.reported >= t.config.RestartGuard {
			return t.complete("paused at start after progress")
		}
		local := t.compute()
		if abs(local-position) >= t.config.ResyncThreshold {
			local = position
		}
		t.frozen = local
		t.state = StatePaused
		t.report(local)
		return Progress{Elapsed: t.reported, State: t.state}
	}

	switch {
	case t.state == StatePaused:
		t.anchor = now.Add(-position)
		t.state = StatePlaying
		zlog.Debug().Msgf("progress: resumed: track=%s position=%v", t.trackID, position)
	case abs(t.compute()-position) >= t.config.ResyncThreshold:
		t.anchor = now.Add(-position)
		zlog.Debug().Msgf("progress: re-anchored: track=%s position=%v", t.trackID, position)
	}

	t.report(t.compute())
	if t.reported >= t.duration-t.config.EndEpsilon {
		return t.complete("duration reached")
	}
	return Progress{Elapsed: t.reported, State: t.state}
}

// Complete forces completion of the current instance, e.g. on a device track-ended signal.
func (t *Tracker) Complete() Progress {
	if t.state == StateIdle || t.state == StateCompleted {
		return Progress{Elapsed: t.reported, State: t.state}
	}
	return t.complete("forced")
}

func (t *Tracker) complete(reason string) Progress {
	t.state = StateCompleted
	zlog.Info().Msgf("progress: track completed: track=%s elapsed=%v reason=%s", t.trackID, t.reported, reason)
	return Progress{Elapsed: t.reported, State: t.state, Completed: true}
}

func (t *Tracker) compute() time.Duration {
	if t.state != StatePlaying {
		return t.frozen
	}
	return clamp(toWallTime(t.now()).Sub(t.anchor), t.duration)
}

// report keeps elapsed non-decreasing within the instance.
func (t *Tracker) report(elapsed time.Duration) {
	if elapsed > t.reported {
		t.reported = elapsed
	}
}

func clamp(d, limit time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// toWallTime returns the time with monotonic clock stripped.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
