// Package device drives the remote playback device and normalizes its state reports.
package device

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/infra/spotify"
)

// Remote is the player side of the streaming service.
type Remote interface {
	PlayerDevices(ctx context.Context) ([]spotify.Device, error)
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
	PlayURI(ctx context.Context, deviceID, uri string) error
	Pause(ctx context.Context, deviceID string) error
	Resume(ctx context.Context, deviceID string) error
	SetVolume(ctx context.Context, deviceID string, level int) error
	PlayerState(ctx context.Context) (*spotify.PlayerState, error)
}

// Config holds adapter configuration.
type Config struct {
	DeviceName         string        // Empty selects the first available device
	PollInterval       time.Duration // Remote state polling interval for Run
	ActivationTimeout  time.Duration
	ActivationAttempts int
	ActivationBackoff  time.Duration
	WatchdogStall      time.Duration
	WatchdogMaxResumes int
	InitialVolume      int // 0 leaves the device volume unchanged
}

// DefaultConfig returns the standard adapter configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:       time.Second,
		ActivationTimeout:  20 * time.Second,
		ActivationAttempts: 6,
		ActivationBackoff:  400 * time.Millisecond,
		WatchdogStall:      5 * time.Second,
		WatchdogMaxResumes: 3,
	}
}

// Handle identifies the activated device.
type Handle struct {
	DeviceID string
	Name     string
}

const (
	eventBufferSize = 64
	commandTimeout  = 10 * time.Second
)

// Adapter controls one playback device.
// Commands may be issued from any goroutine; events are delivered on a single channel.
type Adapter struct {
	remote Remote
	config Config
	now    func() time.Time

	mu         sync.Mutex
	handle     *Handle
	loadedURI  string
	sawLoaded  bool // device has reported loadedURI at least once
	ended      bool // EventTrackEnded already emitted for loadedURI
	playing    bool // playback is expected to be running
	userPaused bool

	lastPosition   time.Duration
	lastProgressAt time.Time
	resumes        int
	exhausted      bool

	events chan Event
}

// New creates a new adapter. A nil now uses time.Now.
func New(remote Remote, config Config, now func() time.Time) *Adapter {
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.ActivationTimeout <= 0 {
		config.ActivationTimeout = def.ActivationTimeout
	}
	if config.ActivationAttempts <= 0 {
		config.ActivationAttempts = def.ActivationAttempts
	}
	if config.ActivationBackoff < 0 {
		config.ActivationBackoff = def.ActivationBackoff
	}
	if config.WatchdogStall <= 0 {
		config.WatchdogStall = def.WatchdogStall
	}
	if config.WatchdogMaxResumes < 0 {
		config.WatchdogMaxResumes = def.WatchdogMaxResumes
	}
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		remote: remote,
		config: config,
		now:    now,
		events: make(chan Event, eventBufferSize),
	}
}

// Events returns the normalized event channel.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Handle returns the activated device, if any.
func (a *Adapter) Handle() (Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil {
		return Handle{}, false
	}
	return *a.handle, true
}

// Activate transfers playback to the configured device and waits until the
// service confirms it active.
func (a *Adapter) Activate(ctx context.Context) (Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.ActivationTimeout)
	defer cancel()

	zlog.Info().Msgf("device: activating: name=%q attempts=%d timeout=%v",
		a.config.DeviceName, a.config.ActivationAttempts, a.config.ActivationTimeout)

	var (
		target      *spotify.Device
		transferred bool
		lastErr     error
	)
	for attempt := 1; attempt <= a.config.ActivationAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, a.config.ActivationBackoff); err != nil {
				return Handle{}, a.activationError(attempt-1, err)
			}
		}

		devices, err := a.remote.PlayerDevices(ctx)
		if err != nil {
			if errors.Is(err, spotify.ErrAuthExpired) {
				return Handle{}, a.activationError(attempt, err)
			}
			lastErr = err
			zlog.Warn().Err(err).Msgf("device: listing failed: attempt=%d", attempt)
			continue
		}

		target = a.pick(devices)
		if target == nil {
			lastErr = errors.Newf("device %q not found", a.config.DeviceName)
			zlog.Debug().Msgf("device: not found yet: attempt=%d devices=%d", attempt, len(devices))
			continue
		}
		if target.Active {
			return a.activated(ctx, *target, attempt)
		}
		if !transferred {
			if err := a.remote.TransferPlayback(ctx, target.ID, false); err != nil {
				lastErr = err
				zlog.Warn().Err(err).Msgf("device: transfer failed: device=%s attempt=%d", target.ID, attempt)
				continue
			}
			transferred = true
		}
		lastErr = errors.Newf("device %s not active yet", target.ID)
	}

	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return Handle{}, a.activationError(a.config.ActivationAttempts, lastErr)
}

func (a *Adapter) activated(ctx context.Context, d spotify.Device, attempt int) (Handle, error) {
	h := Handle{DeviceID: d.ID, Name: d.Name}
	a.mu.Lock()
	a.handle = &h
	a.mu.Unlock()

	zlog.Info().Msgf("device: activated: device=%s name=%q attempt=%d", d.ID, d.Name, attempt)

	if a.config.InitialVolume > 0 {
		if err := a.remote.SetVolume(ctx, d.ID, a.config.InitialVolume); err != nil {
			zlog.Warn().Err(err).Msgf("device: initial volume failed: level=%d", a.config.InitialVolume)
		}
	}
	return h, nil
}

func (a *Adapter) activationError(attempts int, err error) error {
	zlog.Error().Err(err).Msgf("device: activation failed: name=%q attempts=%d", a.config.DeviceName, attempts)
	return &ActivationError{DeviceName: a.config.DeviceName, Attempts: attempts, Err: err}
}

// pick returns the configured device, or the first one when no name is set.
func (a *Adapter) pick(devices []spotify.Device) *spotify.Device {
	for i := range devices {
		if a.config.DeviceName == "" || strings.EqualFold(devices[i].Name, a.config.DeviceName) {
			return &devices[i]
		}
	}
	return nil
}

// Load plays uri from the beginning on the activated device.
// Failures are returned as *CommandError and never retried here.
func (a *Adapter) Load(ctx context.Context, uri string) error {
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		return ErrNotActivated
	}

	if err := a.remote.PlayURI(ctx, h.DeviceID, uri); err != nil {
		zlog.Error().Err(err).Msgf("device: load failed: uri=%s", uri)
		return &CommandError{Op: "load", Retryable: spotify.IsRetryable(err), Err: err}
	}

	a.mu.Lock()
	a.loadedURI = uri
	a.sawLoaded = false
	a.ended = false
	a.playing = true
	a.userPaused = false
	a.resetWatchdog()
	a.mu.Unlock()

	zlog.Info().Msgf("device: loaded: uri=%s device=%s", uri, h.DeviceID)
	return nil
}

// LoadedURI returns the URI of the last successful Load.
func (a *Adapter) LoadedURI() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadedURI
}

// TogglePlayPause pauses or resumes playback and reports whether it is now playing.
func (a *Adapter) TogglePlayPause(ctx context.Context) (bool, error) {
	a.mu.Lock()
	h := a.handle
	playing := a.playing
	a.mu.Unlock()
	if h == nil {
		zlog.Warn().Msg("device: toggle ignored: not activated")
		return false, nil
	}

	if playing {
		if err := a.remote.Pause(ctx, h.DeviceID); err != nil {
			return true, &CommandError{Op: "pause", Retryable: spotify.IsRetryable(err), Err: err}
		}
		a.mu.Lock()
		a.playing = false
		a.userPaused = true
		a.mu.Unlock()
		zlog.Info().Msg("device: paused by user")
		return false, nil
	}

	if err := a.remote.Resume(ctx, h.DeviceID); err != nil {
		return false, &CommandError{Op: "resume", Retryable: spotify.IsRetryable(err), Err: err}
	}
	a.mu.Lock()
	a.playing = true
	a.userPaused = false
	a.resetWatchdog()
	a.mu.Unlock()
	zlog.Info().Msg("device: resumed by user")
	return true, nil
}

// SetVolume sets the device volume to level percent.
func (a *Adapter) SetVolume(ctx context.Context, level int) error {
	if level < 0 || level > 100 {
		return errors.Newf("volume out of range: %d", level)
	}
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		zlog.Warn().Msgf("device: volume ignored: not activated: level=%d", level)
		return nil
	}

	if err := a.remote.SetVolume(ctx, h.DeviceID, level); err != nil {
		return &CommandError{Op: "volume", Retryable: spotify.IsRetryable(err), Err: err}
	}
	zlog.Debug().Msgf("device: volume set: level=%d", level)
	return nil
}

// Run polls the remote player state until ctx is done.
func (a *Adapter) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Poll(ctx)
		}
	}
}

// Poll fetches the remote player state once and reports it.
func (a *Adapter) Poll(ctx context.Context) {
	if _, ok := a.Handle(); !ok {
		return
	}

	state, err := a.remote.PlayerState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		kind := ErrorPollFailed
		if errors.Is(err, spotify.ErrAuthExpired) {
			kind = ErrorAuthExpired
		}
		zlog.Warn().Err(err).Msgf("device: poll failed: kind=%s", kind)
		a.publish(Event{Type: EventError, Kind: kind, Err: err})
		return
	}

	a.Report(RawState{
		DeviceID: state.DeviceID,
		TrackURI: state.URI,
		Position: state.Position,
		Paused:   !state.Playing,
	})
}

// Report normalizes a device state report and publishes the resulting events.
// Reports are ignored until the device has been told to load something.
func (a *Adapter) Report(raw RawState) {
	a.mu.Lock()
	if a.loadedURI == "" {
		a.mu.Unlock()
		return
	}

	var (
		out    []Event
		resume *Handle
	)

	// A report for another URI before the loaded one has been seen is stale.
	if raw.TrackURI == a.loadedURI {
		a.sawLoaded = true
	}

	if !a.ended && a.sawLoaded &&
		(slices.Contains(raw.PreviousURIs, a.loadedURI) || (raw.TrackURI != "" && raw.TrackURI != a.loadedURI)) {
		a.ended = true
		a.playing = false
		out = append(out, Event{Type: EventTrackEnded, URI: a.loadedURI})
		zlog.Info().Msgf("device: track ended: uri=%s now=%s", a.loadedURI, raw.TrackURI)
	}

	if raw.TrackURI == a.loadedURI && !a.ended {
		now := a.now()
		playing := !raw.Paused

		if playing && a.userPaused {
			// Resumed from outside the session.
			a.userPaused = false
			a.playing = true
			a.resetWatchdog()
		} else if !playing && raw.Position > 0 && a.playing && !a.userPaused {
			// Paused from outside the session. A stall either keeps reporting
			// playing or never leaves the start of the track.
			a.userPaused = true
			a.playing = false
			zlog.Info().Msgf("device: paused outside the session: uri=%s position=%v", a.loadedURI, raw.Position)
		}

		out = append(out, Event{Type: EventSample, Sample: Sample{
			Position:     raw.Position,
			Playing:      playing,
			TrackURI:     raw.TrackURI,
			PreviousURIs: raw.PreviousURIs,
			ObservedAt:   now,
		}})

		if ev, h := a.watch(raw.Position, now); h != nil {
			resume = h
		} else if ev != nil {
			out = append(out, *ev)
		}
	}
	a.mu.Unlock()

	for _, ev := range out {
		a.publish(ev)
	}
	if resume != nil {
		go a.resume(*resume)
	}
}

// watch advances the stall watchdog. It returns the device to resume, or an
// exhaustion event the first time the resume budget runs out.
func (a *Adapter) watch(position time.Duration, now time.Time) (*Event, *Handle) {
	if !a.playing || a.userPaused || a.handle == nil {
		return nil, nil
	}
	if position > a.lastPosition {
		a.lastPosition = position
		a.lastProgressAt = now
		return nil, nil
	}
	if now.Sub(a.lastProgressAt) < a.config.WatchdogStall {
		return nil, nil
	}

	if a.resumes >= a.config.WatchdogMaxResumes {
		if a.exhausted {
			return nil, nil
		}
		a.exhausted = true
		zlog.Error().Msgf("device: watchdog exhausted: uri=%s resumes=%d", a.loadedURI, a.resumes)
		return &Event{
			Type: EventError,
			Kind: ErrorWatchdogExhausted,
			Err:  errors.Newf("playback stalled at %v after %d resumes", position, a.resumes),
		}, nil
	}

	a.resumes++
	a.lastProgressAt = now
	zlog.Warn().Msgf("device: stalled, resuming: uri=%s position=%v attempt=%d/%d",
		a.loadedURI, position, a.resumes, a.config.WatchdogMaxResumes)
	h := *a.handle
	return nil, &h
}

func (a *Adapter) resume(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := a.remote.Resume(ctx, h.DeviceID); err != nil {
		zlog.Warn().Err(err).Msgf("device: watchdog resume failed: device=%s", h.DeviceID)
		a.publish(Event{Type: EventError, Kind: ErrorResumeFailed, Err: err})
	}
}

// resetWatchdog must be called with mu held.
func (a *Adapter) resetWatchdog() {
	a.lastPosition = 0
	a.lastProgressAt = a.now()
	a.resumes = 0
	a.exhausted = false
}

// publish delivers ev without blocking. Samples are dropped when the buffer
// is full; other events wait briefly.
func (a *Adapter) publish(ev Event) {
	select {
	case a.events <- ev:
		return
	default:
	}
	if ev.Type == EventSample {
		zlog.Debug().Msg("device: event buffer full, sample dropped")
		return
	}

	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case a.events <- ev:
	case <-timer.C:
		zlog.Warn().Msgf("device: event buffer full, dropped: type=%s", ev.Type)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
