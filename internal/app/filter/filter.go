// Package filter provides the filter chain applied to candidate tracks.
package filter

import (
	"context"

	"github.com/osa030/djvote/internal/domain/track"
)

// Context carries what a filter may compare a candidate against.
type Context struct {
	Seed   track.Track
	Recent []track.Track // Recently played, newest first
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "market_restriction", "recently_played"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for candidate filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// Check performs the filter check.
	Check(ctx context.Context, t track.Track, fc Context) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
