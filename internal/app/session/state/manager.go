package state

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidTransition is returned when a phase change is not allowed.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Info is a snapshot of the session lifecycle.
type Info struct {
	SessionID string     `json:"session_id"`
	Title     string     `json:"title"`
	Phase     string     `json:"phase"`
	Device    string     `json:"device,omitempty"`
	Failure   string     `json:"failure,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Manager manages session lifecycle state with thread-safe access.
type Manager struct {
	mu sync.RWMutex

	sessionID string
	title     string

	phase   Phase
	device  string
	failure string

	startedAt *time.Time
	endTime   *time.Time
}

// New creates a new state manager.
func New(sessionID, title string) *Manager {
	return &Manager{
		sessionID: sessionID,
		title:     title,
		phase:     PhaseIdle,
	}
}

// GetPhase returns the current session phase.
func (m *Manager) GetPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Transition moves to next if allowed.
// Terminal phases are final; idle may only move to activating or ended.
func (m *Manager) Transition(next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !allowed(m.phase, next) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", m.phase, next)
	}
	m.phase = next
	if next == PhaseActive && m.startedAt == nil {
		now := time.Now()
		m.startedAt = &now
	}
	return nil
}

func allowed(from, to Phase) bool {
	switch from {
	case PhaseIdle:
		return to == PhaseActivating || to == PhaseEnded
	case PhaseActivating:
		return to == PhaseActive || to == PhaseFailed || to == PhaseEnded
	case PhaseActive:
		return to == PhaseEnded
	default:
		return false
	}
}

// Fail records the failure reason and moves to PhaseFailed.
func (m *Manager) Fail(reason string) error {
	if err := m.Transition(PhaseFailed); err != nil {
		return err
	}
	m.mu.Lock()
	m.failure = reason
	m.mu.Unlock()
	return nil
}

// IsActive returns true while rounds are running.
func (m *Manager) IsActive() bool {
	return m.GetPhase() == PhaseActive
}

// SetDevice records the activated device name.
func (m *Manager) SetDevice(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = name
}

// SetEndTime sets the scheduled end time.
func (m *Manager) SetEndTime(end *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endTime = end
}

// GetEndTime returns the scheduled end time.
func (m *Manager) GetEndTime() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endTime
}

// GetSessionID returns the session ID.
func (m *Manager) GetSessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// Info returns a snapshot of the session lifecycle.
func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Info{
		SessionID: m.sessionID,
		Title:     m.title,
		Phase:     m.phase.String(),
		Device:    m.device,
		Failure:   m.failure,
		StartedAt: m.startedAt,
		EndTime:   m.endTime,
	}
}
