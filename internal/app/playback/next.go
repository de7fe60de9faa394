package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/autoplay"
	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// ProcessNext starts the next track: the queue first, then autoplay, otherwise the player goes idle.
// It does nothing while the player is locked, closing or auto-paused.
func (p *Player) ProcessNext(ctx context.Context, start time.Duration) error {
	return p.exec(ctx, func() error {
		p.processNext(ctx, start)
		return nil
	})
}

func (p *Player) processNext(ctx context.Context, start time.Duration) {
	for {
		p.mu.Lock()
		if p.locked || p.closing || p.autoPause {
			p.mu.Unlock()
			return
		}
		candidate := p.queue.PopFront()
		fromQueue := candidate != nil
		if candidate == nil && p.autoplay {
			candidate = p.autoBuf.PopFront()
		}
		refill := candidate == nil && p.autoplay
		p.mu.Unlock()

		if refill {
			candidate = p.refillAutoplay(ctx)
		}
		if candidate == nil {
			p.enterIdle(ctx)
			return
		}

		if candidate.IsPartial() {
			resolved, err := p.resolve(ctx, candidate)
			if err != nil {
				zlog.Info().Msgf("playback: resolve failed: guild=%s query=%q error=%v", p.guildID, candidate.ResolveQuery(), err)
				p.notify(ctx, fmt.Sprintf(p.cfg.Messages.ResolveFailed, candidate.Title))
				continue
			}
			candidate = resolved
		}

		p.play(ctx, candidate, fromQueue, start)
		return
	}
}

// play makes t current and hands it to the bound node.
func (p *Player) play(ctx context.Context, t *track.Track, fromQueue bool, start time.Duration) {
	if t.IsStream {
		start = 0
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.current = t
	p.position = start
	p.positionAt = time.Now()
	p.paused = false
	p.streaming = true
	p.detached = false
	p.disarmIdleLocked()
	if fromQueue && !t.Autoplay {
		p.autoBuf.Clear()
	}
	p.dirty = true
	nodeID := p.nodeID
	p.mu.Unlock()

	c, err := p.client(nodeID)
	if err == nil {
		err = c.Play(ctx, p.guildID, t, start)
	}
	if err != nil {
		zlog.Warn().Msgf("playback: play failed: guild=%s node=%s track=%q error=%v", p.guildID, nodeID, t.Title, err)
		p.onTrackException(ctx, t.ID, &node.Exception{
			Message: "failed to start track",
			Cause:   err.Error(),
			Kind:    node.KindNodeUnreachable,
		})
		return
	}
	zlog.Debug().Msgf("playback: playing: guild=%s node=%s track=%q start=%v", p.guildID, nodeID, t.Title, start)
}

// enterIdle clears the current track and arms the idle timer. Repeated calls change nothing.
func (p *Player) enterIdle(ctx context.Context) {
	p.mu.Lock()
	wasStreaming := p.streaming
	changed := p.current != nil || wasStreaming
	p.current = nil
	p.streaming = false
	p.paused = false
	p.detached = false
	if p.armIdleLocked() {
		changed = true
	}
	if changed {
		p.dirty = true
	}
	nodeID := p.nodeID
	p.mu.Unlock()

	if !wasStreaming {
		return
	}
	if c, err := p.client(nodeID); err == nil {
		if err := c.Stop(ctx, p.guildID); err != nil {
			zlog.Warn().Msgf("playback: stop failed: guild=%s node=%s error=%v", p.guildID, nodeID, err)
		}
	}
}

// refillAutoplay fetches related tracks for the seed and returns the first one.
func (p *Player) refillAutoplay(ctx context.Context) *track.Track {
	p.mu.Lock()
	seed := p.seedLocked()
	nodeID := p.nodeID
	if seed == nil || p.deps.Autoplay == nil {
		p.mu.Unlock()
		return nil
	}
	seed = seed.Clone()
	p.locked = true
	p.mu.Unlock()

	var related []*track.Track
	searcher, err := p.deps.Selector.SelectSearch(nodeID)
	if err == nil {
		related, err = p.deps.Autoplay.Related(ctx, searcher, seed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = false
	if err != nil {
		zlog.Warn().Msgf("playback: autoplay lookup failed: guild=%s seed=%q provider=%s error=%v",
			p.guildID, seed.Title, p.deps.Autoplay.Name(), err)
		return nil
	}

	recent := p.recentLocked()
	for _, t := range related {
		if p.autoBuf.Len() >= p.autoBuf.Cap() {
			break
		}
		if !autoplay.Qualifies(t, p.cfg.MinAutoplayDuration) || recent[t.ID] || (t.PlatformID != "" && recent[t.PlatformID]) {
			continue
		}
		c := t.Clone()
		c.Autoplay = true
		c.Loops = 0
		c.RequesterID = ""
		p.autoBuf.Push(c)
		recent[c.ID] = true
	}
	zlog.Debug().Msgf("playback: autoplay buffer refilled: guild=%s seed=%q size=%d", p.guildID, seed.Title, p.autoBuf.Len())
	return p.autoBuf.PopFront()
}

// seedLocked picks the track autoplay looks up related tracks for.
// Must be called with lock held.
func (p *Player) seedLocked() *track.Track {
	min := p.cfg.MinAutoplayDuration
	if last := p.lastTrack; last != nil && last.PlatformID != "" && autoplay.Qualifies(last, min) {
		return last
	}
	for _, pool := range [][]*track.Track{p.played.Items(), p.autoBuf.Items()} {
		for i := len(pool) - 1; i >= 0; i-- {
			if autoplay.Qualifies(pool[i], min) {
				return pool[i]
			}
		}
	}
	if last := p.lastTrack; last != nil && !last.IsStream {
		return last
	}
	return nil
}

// recentLocked returns IDs and platform IDs autoplay must not repeat.
// Must be called with lock held.
func (p *Player) recentLocked() map[string]bool {
	recent := make(map[string]bool)
	add := func(t *track.Track) {
		if t == nil {
			return
		}
		if t.ID != "" {
			recent[t.ID] = true
		}
		if t.PlatformID != "" {
			recent[t.PlatformID] = true
		}
	}
	add(p.lastTrack)
	add(p.current)
	for _, t := range p.played.Items() {
		add(t)
	}
	return recent
}

// resolve looks a partial track up on a search node.
func (p *Player) resolve(ctx context.Context, partial *track.Track) (*track.Track, error) {
	p.mu.Lock()
	p.locked = true
	nodeID := p.nodeID
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.locked = false
		p.mu.Unlock()
	}()

	searcher, err := p.deps.Selector.SelectSearch(nodeID)
	if err != nil {
		return nil, err
	}
	query := partial.ResolveQuery()
	if p.cfg.SearchPrefix != "" {
		query = p.cfg.SearchPrefix + ":" + query
	}
	result, err := searcher.LoadTracks(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}
	chosen := pickResolved(result.Tracks, partial.Duration)
	if chosen == nil {
		return nil, errors.Wrapf(ErrResolveFailed, "query %q", query)
	}

	resolved := chosen.Clone()
	resolved.UniqueID = partial.UniqueID
	resolved.RequesterID = partial.RequesterID
	resolved.Loops = partial.Loops
	resolved.Autoplay = partial.Autoplay
	resolved.Playlist = partial.Playlist
	resolved.Album = partial.Album
	if resolved.ArtworkURL == "" {
		resolved.ArtworkURL = partial.ArtworkURL
	}
	return resolved.Stamp(), nil
}

// pickResolved chooses a search result for a partial track of the given duration.
func pickResolved(results []*track.Track, duration time.Duration) *track.Track {
	if len(results) == 0 {
		return nil
	}
	if duration <= 0 {
		return results[0]
	}
	var firstNonStream *track.Track
	for _, t := range results {
		if t.IsStream {
			continue
		}
		if firstNonStream == nil {
			firstNonStream = t
		}
		diff := t.Duration - duration
		if diff < 0 {
			diff = -diff
		}
		if diff <= resolveTolerance {
			return t
		}
	}
	if firstNonStream != nil {
		return firstNonStream
	}
	return results[0]
}
