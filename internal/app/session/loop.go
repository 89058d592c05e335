package session

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/djvote/internal/app/candidate"
	"github.com/osa030/djvote/internal/app/device"
	"github.com/osa030/djvote/internal/app/notification"
	"github.com/osa030/djvote/internal/app/playback"
	"github.com/osa030/djvote/internal/app/round"
	"github.com/osa030/djvote/internal/app/tally"
	"github.com/osa030/djvote/internal/domain/track"
)

// run is the session event loop.
func (m *Manager) run() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session loop panicked: %v", r)
			if m.ctx.Err() == nil {
				// Restart loop to prevent zombie session
				zlog.Info().Msg("restarting session loop")
				go m.run()
				return
			}
		}
		close(m.loopDone)
	}()

	ticker := time.NewTicker(m.config.Session.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.onTick()
		case ev := <-m.device.Events():
			m.onDeviceEvent(ev)
		case fn := <-m.inbox:
			fn()
		}
	}
}

// onTick advances progress from the local clock.
func (m *Manager) onTick() {
	if end := m.stateMgr.GetEndTime(); end != nil && !m.now().Before(*end) {
		zlog.Info().Msgf("end time reached: end_time=%v", *end)
		go func() {
			_ = m.end(context.Background(), "end_time_reached")
		}()
		return
	}

	m.advance(m.tracker.Tick())
}

func (m *Manager) onDeviceEvent(ev device.Event) {
	switch ev.Type {
	case device.EventSample:
		if m.tracker.State() == playback.StateIdle {
			return
		}
		m.advance(m.tracker.Observe(playback.Sample{
			Position: ev.Sample.Position,
			Playing:  ev.Sample.Playing,
			URI:      ev.Sample.TrackURI,
		}))

	case device.EventTrackEnded:
		r := m.machine.Current()
		if r == nil || r.ID != m.loadedRound || r.Seed.URI != ev.URI {
			return
		}
		if p := m.tracker.Complete(); p.Completed {
			m.completeTrack("device_track_ended")
		}

	case device.EventError:
		zlog.Warn().Err(ev.Err).Msgf("device error: kind=%s", ev.Kind)
		m.notify(notification.TypePlaybackState, map[string]string{
			"error": string(ev.Kind),
		})
	}
}

// advance feeds tracker progress into the round machine.
func (m *Manager) advance(p playback.Progress) {
	if p.State == playback.StateIdle {
		return
	}
	if p.Completed {
		m.completeTrack("progress")
		return
	}

	for _, ev := range m.machine.Tick(p.Seconds()) {
		m.onRoundEvent(ev)
	}
	m.publishSnapshot()
}

func (m *Manager) onRoundEvent(ev round.Event) {
	zlog.Debug().Msgf("round event: type=%s round_id=%s remaining=%d", ev.Type, ev.RoundID, ev.TimeRemaining)

	switch ev.Type {
	case round.EventVotingOpened:
		m.notify(notification.TypeVotingOpened, m.roundView())
	case round.EventCountdown:
		m.notify(notification.TypeCountdown, map[string]any{
			"round_id":       ev.RoundID,
			"time_remaining": ev.TimeRemaining,
		})
	case round.EventResolved:
		m.notify(notification.TypeRoundResolved, m.roundView())
	}
}

// startTrack begins a new round for seed: load it on the device and fetch
// candidates. The progress tracker is replaced, so only one timeline exists.
func (m *Manager) startTrack(seed track.Track) {
	r := m.machine.Start(seed)
	m.tracker = playback.NewTracker(m.trackerCfg, m.now)
	m.loadedRound = ""
	clear(m.sources)

	m.notify(notification.TypeRoundStarted, m.roundView())
	m.load(r.ID, seed)
	m.fetchCandidates(seed)
	m.publishSnapshot()
}

// completeTrack promotes the next seed when the current instance ends.
func (m *Manager) completeTrack(reason string) {
	prev, ok := m.machine.Snapshot()
	next, ok2 := m.machine.Complete()
	if !ok || !ok2 {
		return
	}

	zlog.Info().Msgf("track completed: round_id=%s seed=%s next=%s reason=%s",
		prev.ID, prev.Seed.ID, next.ID, reason)
	if !prev.HasWinner() {
		// Resolved just now by fallback.
		m.notify(notification.TypeRoundResolved, m.roundView())
	}
	m.startTrack(next)
}

func (m *Manager) load(roundID string, t track.Track) {
	if !m.machine.BeginLoad(t.ID) {
		// The device is already loading this track; its result starts this round.
		zlog.Debug().Msgf("adopting outstanding load: round_id=%s track=%s", roundID, t.ID)
		m.loadOwner = roundID
		return
	}
	m.loadOwner = roundID

	m.spawn(func() func() {
		ctx, cancel := context.WithTimeout(m.ctx, loadTimeout)
		defer cancel()
		err := m.device.Load(ctx, t.URI)
		return func() { m.onLoaded(roundID, t, err) }
	})
}

func (m *Manager) onLoaded(roundID string, t track.Track, err error) {
	if m.machine.Loading() == t.ID {
		roundID = m.loadOwner
		m.loadOwner = ""
	}
	m.machine.EndLoad(t.ID, err)

	r := m.machine.Current()
	if r == nil || r.ID != roundID {
		zlog.Debug().Msgf("stale load result ignored: round_id=%s track=%s", roundID, t.ID)
		return
	}
	if m.loadedRound == roundID {
		zlog.Debug().Msgf("duplicate load result ignored: round_id=%s track=%s", roundID, t.ID)
		return
	}
	if err != nil {
		m.notify(notification.TypePlaybackState, map[string]string{
			"error":    "load_failed",
			"track_id": t.ID,
		})
		m.publishSnapshot()
		return
	}

	m.loadedRound = roundID
	m.tracker.Start(t.ID, t.URI, t.Duration, 0, true)
	m.pushRecent(t)

	zlog.Info().Msgf("now playing: round_id=%s track=%s name=%q artist=%q", roundID, t.ID, t.Name, t.Artist)
	m.notify(notification.TypeTrackChanged, NewTrackView(t))
	m.publishSnapshot()
}

func (m *Manager) fetchCandidates(seed track.Track) {
	recent := append([]track.Track(nil), m.recent...)

	m.spawn(func() func() {
		ctx, cancel := context.WithTimeout(m.ctx, fetchTimeout)
		defer cancel()
		sel, err := m.selector.Select(ctx, seed, recent)
		return func() { m.onCandidates(seed.ID, sel, err) }
	})
}

func (m *Manager) onCandidates(seedID string, sel candidate.Selection, err error) {
	if err != nil {
		zlog.Warn().Err(err).Msgf("candidate fetch failed: seed=%s", seedID)
	}
	if len(sel.Tracks) == 0 {
		return
	}
	if !m.machine.SetCandidates(seedID, sel.Tracks) {
		return
	}

	for i, t := range sel.Tracks {
		if i < len(sel.Sources) {
			m.sources[t.ID] = sel.Sources[i]
		}
	}

	r := m.machine.Current()
	if len(r.Candidates) < m.machine.Config().CandidateCount {
		zlog.Warn().Msgf("short candidate list, voting disabled: round_id=%s count=%d", r.ID, len(r.Candidates))
	}
	m.notify(notification.TypeCandidatesReady, m.roundView())
	m.publishSnapshot()
}

func (m *Manager) castVote(voterID string, index int) round.VoteResult {
	result := m.machine.CastVote(voterID, index)
	if !result.Accepted {
		zlog.Debug().Msgf("vote rejected: voter=%s index=%d reason=%s", voterID, index, result.Reason)
		return result
	}

	m.listenerReg.RecordVote(voterID, m.now())
	if m.mirror != nil {
		m.mirror.Submit(tally.Job{RoundID: result.RoundID, VoterID: voterID, TrackID: result.Track.ID})
	}

	view := m.roundView()
	m.notify(notification.TypeVoteCast, view)
	if result.Resolved {
		m.notify(notification.TypeRoundResolved, view)
	}
	m.publishSnapshot()
	return result
}

// onUserToggle mirrors a user pause or resume into the tracker immediately
// rather than waiting for the next device report.
func (m *Manager) onUserToggle(playing bool) {
	if m.tracker.State() == playback.StateIdle || m.tracker.State() == playback.StateCompleted {
		return
	}
	r := m.machine.Current()
	if r == nil {
		return
	}
	m.advance(m.tracker.Observe(playback.Sample{
		Position: m.tracker.Elapsed(),
		Playing:  playing,
		URI:      r.Seed.URI,
	}))
}

func (m *Manager) pushRecent(t track.Track) {
	m.recent = append([]track.Track{t}, m.recent...)
	if len(m.recent) > recentTrackLimit {
		m.recent = m.recent[:recentTrackLimit]
	}
}

func (m *Manager) roundView() *RoundView {
	r, ok := m.machine.Snapshot()
	if !ok {
		return nil
	}
	sources := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		sources[i] = m.sources[c.ID]
	}
	return NewRoundView(r, sources)
}

// publishSnapshot copies loop-owned state for readers.
func (m *Manager) publishSnapshot() {
	s := Status{
		Round:   m.roundView(),
		Loading: m.machine.Loading(),
		Progress: ProgressView{
			TrackID:    m.tracker.TrackID(),
			ElapsedSec: int(m.tracker.Elapsed() / time.Second),
			State:      m.tracker.State().String(),
		},
	}
	if s.Round != nil {
		s.Progress.DurationSec = s.Round.Seed.DurationSec
	}
	for _, t := range m.recent {
		s.Recent = append(s.Recent, NewTrackView(t))
	}

	m.snapMu.Lock()
	m.snap = s
	m.snapMu.Unlock()
}
