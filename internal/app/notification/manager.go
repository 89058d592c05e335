// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Type identifies a notification.
type Type string

const (
	TypeInitialState    Type = "initial_state"
	TypeSessionPhase    Type = "session_phase"
	TypeSessionFailed   Type = "session_failed"
	TypeRoundStarted    Type = "round_started"
	TypeCandidatesReady Type = "candidates_ready"
	TypeVotingOpened    Type = "voting_opened"
	TypeCountdown       Type = "countdown"
	TypeVoteCast        Type = "vote_cast"
	TypeRoundResolved   Type = "round_resolved"
	TypeTrackChanged    Type = "track_changed"
	TypePlaybackState   Type = "playback_state"
)

// Notification is a single broadcast message.
// Payload is encoded as JSON by the transports.
type Notification struct {
	Type       Type      `json:"type"`
	SequenceNo uint64    `json:"sequence_no"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// New creates a notification stamped with the current time.
func New(t Type, payload any) *Notification {
	return &Notification{Type: t, Timestamp: time.Now(), Payload: payload}
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

const sendTimeout = 500 * time.Millisecond

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	zlog.Debug().Msgf("notification: subscribed: id=%s total=%d", id, len(m.subscriptions))
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast stamps n with the next sequence number and sends it to all subscribers.
// Each send runs in its own goroutine and is abandoned after a short timeout,
// so a slow subscriber never blocks the caller for long.
func (m *Manager) Broadcast(n *Notification) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("notification: send failed: id=%s type=%s", s.id, n.Type)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s type=%s", s.id, n.Type)
			}
		}(sub)
	}

	wg.Wait()
}

// Send sends a notification to a specific subscriber.
func (m *Manager) Send(subscriptionID string, n *Notification) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return sub.stream.Send(n)
}

// SequenceNo returns the sequence number of the last broadcast.
func (m *Manager) SequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	return m.sequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
