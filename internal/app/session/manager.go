// Package session provides the session manager.
package session

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/app/candidate"
	"github.com/osa030/djvote/internal/app/device"
	"github.com/osa030/djvote/internal/app/notification"
	"github.com/osa030/djvote/internal/app/playback"
	"github.com/osa030/djvote/internal/app/round"
	"github.com/osa030/djvote/internal/app/session/registry"
	"github.com/osa030/djvote/internal/app/session/state"
	"github.com/osa030/djvote/internal/app/tally"
	"github.com/osa030/djvote/internal/domain/listener"
	"github.com/osa030/djvote/internal/domain/track"
	"github.com/osa030/djvote/internal/infra/config"
	"github.com/osa030/djvote/internal/infra/spotify"
)

var (
	ErrSessionNotRunning = errors.New("session is not running")
	ErrNoRound           = errors.New("no round in progress")
	ErrTrackNotFound     = errors.New("track not found")
)

const (
	loadTimeout      = 15 * time.Second
	fetchTimeout     = 30 * time.Second
	recentTrackLimit = 20
	outboxSize       = 256
	searchLimit      = 10
)

// Catalog defines the catalog operations the session needs for seeding.
type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
	SearchTracks(ctx context.Context, query string, limit int) ([]track.Track, error)
}

// Device defines the playback device operations the session drives.
type Device interface {
	Activate(ctx context.Context) (device.Handle, error)
	Load(ctx context.Context, uri string) error
	TogglePlayPause(ctx context.Context) (bool, error)
	SetVolume(ctx context.Context, level int) error
	Report(raw device.RawState)
	Events() <-chan device.Event
	Run(ctx context.Context)
}

// Selector picks candidates for a seed.
type Selector interface {
	Select(ctx context.Context, seed track.Track, recent []track.Track) (candidate.Selection, error)
}

// Deps are the collaborators of a Manager.
// Store may be nil to disable vote mirroring. Now and Rand default to the
// wall clock and a time-seeded source.
type Deps struct {
	Catalog  Catalog
	Device   Device
	Selector Selector
	Store    tally.Store
	Now      func() time.Time
	Rand     *rand.Rand
}

// Manager runs the shared listening session.
// Round and progress state are owned by a single event loop goroutine;
// every other method talks to it through the inbox.
type Manager struct {
	config *config.Config
	now    func() time.Time

	// Components
	stateMgr     *state.Manager
	listenerReg  *registry.ListenerRegistry
	notification *notification.Manager
	catalog      Catalog
	device       Device
	selector     Selector
	store        tally.Store
	mirror       *tally.Mirror

	// Loop-owned state
	machine     *round.Machine
	tracker     *playback.Tracker
	trackerCfg  playback.Config
	loadedRound string            // Round whose seed the device is playing
	loadOwner   string            // Round the outstanding load will start
	sources     map[string]string // Candidate track ID -> provider display name
	recent      []track.Track     // Most recent first

	// Published snapshot
	snapMu sync.RWMutex
	snap   Status

	inbox  chan func()
	outbox chan *notification.Notification
	spawn  func(work func() func())

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Catalog == nil || deps.Device == nil || deps.Selector == nil {
		return nil, errors.New("catalog, device, and selector are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:       cfg,
		now:          deps.Now,
		stateMgr:     state.New(uuid.New().String(), cfg.Session.Title),
		listenerReg:  registry.NewListenerRegistry(),
		notification: notification.NewManager(),
		catalog:      deps.Catalog,
		device:       deps.Device,
		selector:     deps.Selector,
		store:        deps.Store,
		machine: round.NewMachine(round.Config{
			WindowSeconds:   cfg.Round.WindowSec,
			EndGuardSeconds: cfg.Round.EndGuardSec,
			CandidateCount:  cfg.Round.CandidateCount,
			Policy:          round.Policy(cfg.Round.Policy),
		}, deps.Rand, deps.Now),
		trackerCfg: playback.Config{
			ResyncThreshold: time.Duration(cfg.Progress.ResyncThresholdMs) * time.Millisecond,
			EndEpsilon:      time.Duration(cfg.Progress.EndEpsilonMs) * time.Millisecond,
			RestartGuard:    time.Duration(cfg.Progress.RestartGuardMs) * time.Millisecond,
		},
		sources:  make(map[string]string),
		inbox:    make(chan func(), 64),
		outbox:   make(chan *notification.Notification, outboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	m.tracker = playback.NewTracker(m.trackerCfg, deps.Now)
	m.spawn = m.spawnAsync
	if deps.Store != nil {
		m.mirror = tally.NewMirror(deps.Store, cfg.Tally.Workers, cfg.Tally.QueueSize)
	}

	end, err := cfg.ParseEndTime()
	if err != nil {
		cancel()
		return nil, err
	}
	m.stateMgr.SetEndTime(end)
	m.publishSnapshot()

	go m.notifyLoop()

	return m, nil
}

// Start activates the playback device and starts the event loop.
// Activation failure is fatal for the session: the phase becomes failed and
// the returned error matches device.ErrDeviceActivation.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.stateMgr.Transition(state.PhaseActivating); err != nil {
		return err
	}
	m.notifyPhase()

	handle, err := m.device.Activate(ctx)
	if err != nil {
		_ = m.stateMgr.Fail(err.Error())
		zlog.Error().Err(err).Msgf("phase changed: phase=FAILED session_id=%s", m.stateMgr.GetSessionID())
		m.notify(notification.TypeSessionFailed, m.stateMgr.Info())
		m.shutdown()
		return err
	}

	m.stateMgr.SetDevice(handle.Name)
	if err := m.stateMgr.Transition(state.PhaseActive); err != nil {
		return err
	}
	zlog.Info().Msgf("phase changed: phase=ACTIVE session_id=%s device=%s", m.stateMgr.GetSessionID(), handle.DeviceID)
	m.notifyPhase()

	go m.device.Run(m.ctx)
	go m.run()

	if seed := m.config.Session.InitialSeed; seed != "" {
		if _, err := m.Seed(ctx, seed); err != nil {
			zlog.Error().Err(err).Msgf("initial seed failed: seed=%q", seed)
		}
	}
	return nil
}

// Stop ends the session. It is safe to call more than once.
func (m *Manager) Stop(ctx context.Context) error {
	return m.end(ctx, "stopped")
}

func (m *Manager) end(ctx context.Context, reason string) error {
	phase := m.stateMgr.GetPhase()
	if phase.Terminal() {
		return nil
	}
	if err := m.stateMgr.Transition(state.PhaseEnded); err != nil {
		return err
	}
	zlog.Info().Msgf("phase changed: phase=ENDED session_id=%s reason=%s", m.stateMgr.GetSessionID(), reason)
	m.notifyPhase()

	m.shutdown()
	if phase == state.PhaseActive {
		select {
		case <-m.loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// shutdown cancels background work and flushes pending vote writes.
func (m *Manager) shutdown() {
	m.stopOnce.Do(func() {
		m.cancel()
		if m.mirror != nil {
			m.mirror.Close()
			written, dropped := m.mirror.Stats()
			zlog.Info().Msgf("vote mirror closed: written=%d dropped=%d", written, dropped)
		}
		close(m.done)
	})
}

// Done is closed when the session has ended or failed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close releases the session without waiting for the loop.
func (m *Manager) Close() {
	m.shutdown()
	m.notification.Close()
}

// Join registers a voter and returns their voter ID.
func (m *Manager) Join(displayName, externalUserID string) (string, error) {
	id, err := m.listenerReg.Join(displayName, externalUserID)
	if err != nil {
		return "", err
	}
	zlog.Info().Msgf("listener joined: id=%s name=%q", id, displayName)
	return id, nil
}

// ValidateListener checks that a voter exists and may vote.
func (m *Manager) ValidateListener(listenerID string) error {
	return m.listenerReg.Validate(listenerID)
}

// KickListener bars a voter from voting.
func (m *Manager) KickListener(listenerID string) error {
	if err := m.listenerReg.Kick(listenerID); err != nil {
		return err
	}
	zlog.Info().Msgf("listener kicked: id=%s", listenerID)
	return nil
}

// ListListeners returns all voters.
func (m *Manager) ListListeners() []listener.Session {
	return m.listenerReg.All()
}

// Notifications returns the notification manager.
func (m *Manager) Notifications() *notification.Manager {
	return m.notification
}

// Search passes a query through to the catalog for seed selection.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if limit <= 0 {
		limit = searchLimit
	}
	return m.catalog.SearchTracks(ctx, strings.TrimSpace(query), limit)
}

// Seed resolves input (track ID, URL, URI, or search query) and starts a new
// round with it, superseding the current one.
func (m *Manager) Seed(ctx context.Context, input string) (track.Track, error) {
	if !m.stateMgr.IsActive() {
		return track.Track{}, ErrSessionNotRunning
	}

	seed, err := m.resolveSeed(ctx, input)
	if err != nil {
		return track.Track{}, err
	}

	err = m.do(ctx, func() {
		m.startTrack(seed)
	})
	if err != nil {
		return track.Track{}, err
	}
	return seed, nil
}

var trackIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)

func (m *Manager) resolveSeed(ctx context.Context, input string) (track.Track, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return track.Track{}, errors.Wrap(ErrTrackNotFound, "empty seed")
	}

	if strings.Contains(input, "spotify:track:") || strings.Contains(input, "/track/") ||
		trackIDPattern.MatchString(input) {
		t, err := m.catalog.GetTrack(ctx, spotify.ExtractTrackID(input))
		if err != nil {
			return track.Track{}, errors.Wrapf(err, "failed to resolve seed %q", input)
		}
		return *t, nil
	}

	found, err := m.catalog.SearchTracks(ctx, input, 1)
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to search seed %q", input)
	}
	if len(found) == 0 {
		return track.Track{}, errors.Wrapf(ErrTrackNotFound, "query %q", input)
	}
	return found[0], nil
}

// Vote casts voterID's vote for the candidate at index in the current round.
// Rejections are reported in the result, not as errors.
func (m *Manager) Vote(ctx context.Context, voterID string, index int) (round.VoteResult, error) {
	if err := m.listenerReg.Validate(voterID); err != nil {
		return round.VoteResult{}, err
	}
	if !m.stateMgr.IsActive() {
		return round.VoteResult{}, ErrSessionNotRunning
	}

	var result round.VoteResult
	err := m.do(ctx, func() {
		result = m.castVote(voterID, index)
	})
	return result, err
}

// TogglePlayPause pauses or resumes the device and reports whether it is playing.
func (m *Manager) TogglePlayPause(ctx context.Context) (bool, error) {
	if !m.stateMgr.IsActive() {
		return false, ErrSessionNotRunning
	}
	playing, err := m.device.TogglePlayPause(ctx)
	if err != nil {
		return playing, err
	}
	m.post(func() { m.onUserToggle(playing) })
	return playing, nil
}

// SetVolume sets the device volume.
func (m *Manager) SetVolume(ctx context.Context, level int) error {
	if !m.stateMgr.IsActive() {
		return ErrSessionNotRunning
	}
	return m.device.SetVolume(ctx, level)
}

// Skip ends the current track instance now, as if it had completed.
func (m *Manager) Skip(ctx context.Context) error {
	if !m.stateMgr.IsActive() {
		return ErrSessionNotRunning
	}

	var skipErr error
	err := m.do(ctx, func() {
		if m.machine.Current() == nil {
			skipErr = ErrNoRound
			return
		}
		m.tracker.Complete()
		m.completeTrack("skip")
	})
	if err != nil {
		return err
	}
	return skipErr
}

// ReportPlayerState forwards a state report from a browser-hosted device.
func (m *Manager) ReportPlayerState(raw device.RawState) {
	m.device.Report(raw)
}

// Votes returns the persisted tally for a round.
func (m *Manager) Votes(ctx context.Context, roundID string) (map[string]int, error) {
	if m.store == nil {
		return map[string]int{}, nil
	}
	return m.store.GetVotes(ctx, roundID)
}

// Status returns a copy of the latest session snapshot.
func (m *Manager) Status() Status {
	m.snapMu.RLock()
	s := m.snap
	m.snapMu.RUnlock()

	s.Session = m.stateMgr.Info()
	s.Listeners = m.listenerReg.Count()
	return s
}

// do runs fn on the event loop and waits for it to finish.
func (m *Manager) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case m.inbox <- func() { defer close(finished); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrSessionNotRunning
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrSessionNotRunning
	}
}

// post queues fn on the event loop without waiting.
func (m *Manager) post(fn func()) {
	select {
	case m.inbox <- fn:
	case <-m.ctx.Done():
	}
}

// spawnAsync runs work off the loop and posts its completion back.
func (m *Manager) spawnAsync(work func() func()) {
	go func() {
		if done := work(); done != nil {
			m.post(done)
		}
	}()
}

// notify queues a notification for ordered delivery.
func (m *Manager) notify(t notification.Type, payload any) {
	n := notification.New(t, payload)
	n.Timestamp = m.now()
	select {
	case m.outbox <- n:
	default:
		zlog.Warn().Msgf("notification dropped: type=%s", t)
	}
}

func (m *Manager) notifyPhase() {
	m.notify(notification.TypeSessionPhase, m.stateMgr.Info())
}

// notifyLoop delivers queued notifications in order.
func (m *Manager) notifyLoop() {
	for {
		select {
		case n := <-m.outbox:
			m.notification.Broadcast(n)
		case <-m.done:
			// Flush what is already queued so subscribers see the final phase.
			for {
				select {
				case n := <-m.outbox:
					m.notification.Broadcast(n)
				default:
					return
				}
			}
		}
	}
}
