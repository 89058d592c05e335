// Package registry keeps the set of joined voters.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/osa030/djvote/internal/domain/listener"
)

var (
	ErrInvalidListener = errors.New("invalid listener")
	ErrListenerKicked  = errors.New("listener is kicked")
)

const maxDisplayName = 64

// ListenerRegistry manages voter sessions with thread-safe access.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners map[string]*listener.Session
}

// NewListenerRegistry creates a new listener registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		listeners: make(map[string]*listener.Session),
	}
}

// Join adds a new voter and returns their stable voter ID.
// A known external user ID rejoins with its existing ID.
func (r *ListenerRegistry) Join(displayName, externalUserID string) (string, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "guest"
	}
	if len(displayName) > maxDisplayName {
		displayName = displayName[:maxDisplayName]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if externalUserID != "" {
		for _, session := range r.listeners {
			if session.ExternalUserID != externalUserID {
				continue
			}
			if session.IsKicked {
				return "", ErrListenerKicked
			}
			session.DisplayName = displayName
			return session.ID, nil
		}
	}

	id := uuid.New().String()
	r.listeners[id] = listener.NewSession(id, displayName, externalUserID)
	return id, nil
}

// Get returns a copy of a voter session.
func (r *ListenerRegistry) Get(listenerID string) (listener.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.listeners[listenerID]
	if !ok {
		return listener.Session{}, ErrInvalidListener
	}
	return *session, nil
}

// Validate checks if a voter exists and may vote.
func (r *ListenerRegistry) Validate(listenerID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.listeners[listenerID]
	if !ok {
		return ErrInvalidListener
	}
	if !session.CanVote() {
		return ErrListenerKicked
	}
	return nil
}

// Kick marks a voter as kicked.
func (r *ListenerRegistry) Kick(listenerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.listeners[listenerID]
	if !ok {
		return ErrInvalidListener
	}
	session.Kick()
	return nil
}

// RecordVote counts an accepted vote for the voter.
func (r *ListenerRegistry) RecordVote(listenerID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.listeners[listenerID]; ok {
		session.RecordVote(at)
	}
}

// All returns copies of all voter sessions ordered by join time.
func (r *ListenerRegistry) All() []listener.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]listener.Session, 0, len(r.listeners))
	for _, session := range r.listeners {
		result = append(result, *session)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

// Count returns the number of voters.
func (r *ListenerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
