// Package filter provides the admission chain applied to tracks before they are queued.
package filter

import (
	"context"
	"sort"

	"github.com/osa030/lavabox/internal/domain/track"
)

// Request describes who is enqueuing and where.
type Request struct {
	GuildID     string
	RequesterID string
	Autoplay    bool // Machine-selected tracks bypass user-facing limits
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "duplicate_track", "duration_limit_exceeded", "queue_full"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// QueueView exposes the guild's pending tracks to filters.
type QueueView interface {
	// QueuedTracks returns the current track (if any) followed by the queue.
	QueuedTracks() []*track.Track
	// QueueLen returns the number of queued tracks, excluding the current one.
	QueueLen() int
}

// Filter is the interface for admission filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to the request.
	AppliesTo(req Request) bool
	// Check performs the filter check.
	Check(ctx context.Context, req Request, t *track.Track, q QueueView) Result
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

// RegisteredNames returns registered filter names in sorted order.
func RegisteredNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
