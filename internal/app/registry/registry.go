// Package registry owns the per-guild players and routes node events to them.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/playback"
)

// Registry holds at most one player per guild.
type Registry struct {
	mu       sync.RWMutex
	players  map[string]*playback.Player
	selector *node.Selector
	cfg      playback.Config
	deps     playback.Deps
}

// New creates a registry. deps.Owner is replaced by the registry itself.
func New(selector *node.Selector, cfg playback.Config, deps playback.Deps) *Registry {
	r := &Registry{
		players:  make(map[string]*playback.Player),
		selector: selector,
		cfg:      cfg,
	}
	deps.Selector = selector
	deps.Owner = r
	r.deps = deps
	return r
}

// GetOrCreate returns the guild's player, creating and starting one on the least-loaded node
// when none exists.
func (r *Registry) GetOrCreate(ctx context.Context, guildID string, opts playback.Options) (*playback.Player, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.players[guildID]; ok && !p.Closing() {
		return p, false, nil
	}

	c, err := r.selector.Select()
	if err != nil {
		return nil, false, errors.Wrap(err, "select node")
	}
	opts.GuildID = guildID
	opts.NodeID = c.ID()
	r.selector.Assign(c.ID())

	p := playback.New(opts, r.cfg, r.deps)
	r.players[guildID] = p
	p.Start()

	zlog.Info().Msgf("registry: player created: guild=%s node=%s", guildID, c.ID())
	return p, true, nil
}

// Get returns the guild's player, if any.
func (r *Registry) Get(guildID string) (*playback.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[guildID]
	return p, ok
}

// Owns reports whether p is still the registered player of its guild.
func (r *Registry) Owns(p *playback.Player) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.players[p.GuildID()] == p
}

// Release drops p from the registry. A newer player for the same guild is left alone.
func (r *Registry) Release(p *playback.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.players[p.GuildID()] == p {
		delete(r.players, p.GuildID())
	}
}

// All returns every registered player ordered by guild ID.
func (r *Registry) All() []*playback.Player {
	r.mu.RLock()
	out := make([]*playback.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].GuildID() < out[j].GuildID() })
	return out
}

// ByNode returns the players bound to the node.
func (r *Registry) ByNode(nodeID string) []*playback.Player {
	var out []*playback.Player
	for _, p := range r.All() {
		if p.NodeID() == nodeID {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of registered players.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Shutdown destroys every player without posting notices.
func (r *Registry) Shutdown(ctx context.Context) {
	players := r.All()
	for _, p := range players {
		p.Destroy(ctx, "")
	}
	zlog.Info().Msgf("registry: shutdown complete: players=%d", len(players))
}

// Run dispatches node events until ctx is cancelled or events is closed.
func (r *Registry) Run(ctx context.Context, events <-chan node.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			zlog.Error().Msgf("registry: dispatch loop panicked: %v", rec)
			zlog.Info().Msg("registry: restarting dispatch loop")
			go r.Run(ctx, events)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Registry) dispatch(ctx context.Context, ev node.Event) {
	switch ev.Type {
	case node.EventNodeReady:
		r.onNodeReady(ctx, ev)
	case node.EventNodeClosed:
		r.onNodeClosed(ctx, ev)
	default:
		if ev.GuildID == "" {
			return
		}
		p, ok := r.Get(ev.GuildID)
		if !ok {
			zlog.Debug().Msgf("registry: event for unknown guild: guild=%s type=%s", ev.GuildID, ev.Type)
			return
		}
		if !p.Deliver(ev) {
			zlog.Warn().Msgf("registry: event dropped: guild=%s type=%s", ev.GuildID, ev.Type)
		}
	}
}

func (r *Registry) onNodeReady(ctx context.Context, ev node.Event) {
	zlog.Info().Msgf("registry: node ready: node=%s resumed=%t", ev.NodeID, ev.Resumed)
	r.selector.SetRestarting(ev.NodeID, false)
	r.selector.MarkAvailable(ev.NodeID)

	players := r.ByNode(ev.NodeID)
	if len(players) == 0 {
		return
	}
	go func() {
		for _, p := range players {
			if err := p.OnNodeReady(ctx, ev.Resumed); err != nil && !errors.Is(err, playback.ErrClosed) {
				zlog.Warn().Msgf("registry: node recovery failed: guild=%s node=%s error=%v", p.GuildID(), ev.NodeID, err)
			}
		}
	}()
}

// onNodeClosed moves the node's players elsewhere one at a time so load counters stay balanced.
func (r *Registry) onNodeClosed(ctx context.Context, ev node.Event) {
	zlog.Warn().Msgf("registry: node closed: node=%s", ev.NodeID)
	r.selector.SetRestarting(ev.NodeID, true)

	players := r.ByNode(ev.NodeID)
	if len(players) == 0 {
		return
	}
	go func() {
		for _, p := range players {
			r.failover(ctx, p, ev.NodeID)
		}
	}()
}

func (r *Registry) failover(ctx context.Context, p *playback.Player, from string) {
	c, err := r.selector.Select(from)
	if err != nil {
		zlog.Warn().Msgf("registry: no node to move player to: guild=%s node=%s", p.GuildID(), from)
		p.Destroy(ctx, r.cfg.Messages.NoNodeAvailable)
		return
	}
	if err := p.ChangeNode(ctx, c.ID()); err != nil {
		if errors.Is(err, playback.ErrClosed) {
			return
		}
		zlog.Warn().Msgf("registry: change node failed: guild=%s from=%s to=%s error=%v", p.GuildID(), from, c.ID(), err)
		p.Destroy(ctx, r.cfg.Messages.NoNodeAvailable)
		return
	}
	zlog.Info().Msgf("registry: player moved: guild=%s from=%s to=%s", p.GuildID(), from, c.ID())
}
