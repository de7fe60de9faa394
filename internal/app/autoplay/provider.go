// Package autoplay provides related-track lookups used when the user queue runs dry.
package autoplay

import (
	"context"
	"time"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// Provider looks up tracks related to a seed track.
type Provider interface {
	// Related returns candidates related to seed. Lookups go through searcher.
	Related(ctx context.Context, searcher node.Searcher, seed *track.Track) ([]*track.Track, error)

	// Name returns the provider name (used in config).
	Name() string
}

// Qualifies reports whether t can seed or fill autoplay: not a stream and at least minDuration long.
func Qualifies(t *track.Track, minDuration time.Duration) bool {
	return t != nil && !t.IsStream && t.Duration >= minDuration
}
