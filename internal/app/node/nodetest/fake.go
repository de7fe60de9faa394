// Package nodetest provides an in-memory node.Client for tests.
package nodetest

import (
	"context"
	"sync"
	"time"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// Operation names recorded by Fake.
const (
	OpLoad    = "load"
	OpPlay    = "play"
	OpStop    = "stop"
	OpPause   = "pause"
	OpSeek    = "seek"
	OpVolume  = "volume"
	OpFilters = "filters"
	OpVoice   = "voice"
	OpDestroy = "destroy"
)

// Call is one recorded client call.
type Call struct {
	Op         string
	GuildID    string
	Identifier string
	Track      *track.Track
	Position   time.Duration
	Paused     bool
	Volume     int
	Filters    node.Filters
	Voice      node.VoiceState
}

// Fake records calls and serves canned lookup results.
type Fake struct {
	mu      sync.Mutex
	id      string
	search  bool
	healthy bool
	calls   []Call
	results map[string]*node.LoadResult

	// LoadFunc, when set, replaces the canned results.
	LoadFunc func(identifier string) (*node.LoadResult, error)
	// PlayErr is returned by Play when set.
	PlayErr error
}

// New creates a healthy fake node.
func New(id string) *Fake {
	return &Fake{id: id, healthy: true, results: make(map[string]*node.LoadResult)}
}

func (f *Fake) ID() string { return f.id }

func (f *Fake) Search() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.search
}

func (f *Fake) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

// SetHealthy toggles health.
func (f *Fake) SetHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = v
}

// SetSearch toggles the search flag.
func (f *Fake) SetSearch(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.search = v
}

// SetResult registers the result returned for identifier.
func (f *Fake) SetResult(identifier string, r *node.LoadResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[identifier] = r
}

// Calls returns the recorded calls for op, or all calls when op is empty.
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int {
	return len(f.Calls(op))
}

// Reset forgets recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *Fake) LoadTracks(ctx context.Context, identifier string) (*node.LoadResult, error) {
	f.record(Call{Op: OpLoad, Identifier: identifier})
	if f.LoadFunc != nil {
		return f.LoadFunc(identifier)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[identifier]; ok {
		return r, nil
	}
	return &node.LoadResult{Type: node.LoadEmpty}, nil
}

func (f *Fake) Play(ctx context.Context, guildID string, t *track.Track, start time.Duration) error {
	f.record(Call{Op: OpPlay, GuildID: guildID, Track: t, Position: start})
	return f.PlayErr
}

func (f *Fake) Stop(ctx context.Context, guildID string) error {
	f.record(Call{Op: OpStop, GuildID: guildID})
	return nil
}

func (f *Fake) Pause(ctx context.Context, guildID string, paused bool) error {
	f.record(Call{Op: OpPause, GuildID: guildID, Paused: paused})
	return nil
}

func (f *Fake) Seek(ctx context.Context, guildID string, position time.Duration) error {
	f.record(Call{Op: OpSeek, GuildID: guildID, Position: position})
	return nil
}

func (f *Fake) SetVolume(ctx context.Context, guildID string, volume int) error {
	f.record(Call{Op: OpVolume, GuildID: guildID, Volume: volume})
	return nil
}

func (f *Fake) SetFilters(ctx context.Context, guildID string, filters node.Filters) error {
	f.record(Call{Op: OpFilters, GuildID: guildID, Filters: filters})
	return nil
}

func (f *Fake) UpdateVoice(ctx context.Context, guildID string, voice node.VoiceState) error {
	f.record(Call{Op: OpVoice, GuildID: guildID, Voice: voice})
	return nil
}

func (f *Fake) Destroy(ctx context.Context, guildID string) error {
	f.record(Call{Op: OpDestroy, GuildID: guildID})
	return nil
}

var _ node.Client = (*Fake)(nil)
