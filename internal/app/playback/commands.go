package playback

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/queue"
	"github.com/osa030/lavabox/internal/domain/track"
)

// Enqueue adds tracks at a 1-based position (0 appends) and starts playback when idle.
func (p *Player) Enqueue(ctx context.Context, position int, tracks ...*track.Track) error {
	return p.exec(ctx, func() error {
		for _, t := range tracks {
			t.Stamp()
		}
		p.mu.Lock()
		if err := p.queue.Enqueue(position, tracks...); err != nil {
			p.mu.Unlock()
			return err
		}
		p.dirty = true
		idle := p.current == nil
		p.mu.Unlock()

		if idle {
			p.processNext(ctx, 0)
		}
		return nil
	})
}

// PlayNow puts tracks at the front of the queue and skips to the first of them.
func (p *Player) PlayNow(ctx context.Context, tracks ...*track.Track) error {
	return p.exec(ctx, func() error {
		for _, t := range tracks {
			t.Stamp()
		}
		p.mu.Lock()
		p.queue.PushFront(tracks...)
		p.mu.Unlock()
		p.skip(ctx)
		return nil
	})
}

// Skip ends the current track early. Its remaining loops and loop=current are dropped.
func (p *Player) Skip(ctx context.Context) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		idle := p.current == nil
		p.mu.Unlock()
		if idle {
			return ErrNothingPlaying
		}
		p.skip(ctx)
		return nil
	})
}

func (p *Player) skip(ctx context.Context) {
	p.mu.Lock()
	if cur := p.current; cur != nil {
		cur.Loops = 0
		if p.loop == LoopCurrent {
			p.loop = LoopOff
		}
		p.current = nil
		p.lastTrack = cur
		p.requeueLocked(cur)
	}
	p.dirty = true
	// Auto pause holds the queue; the node must not keep the skipped track.
	halt := p.autoPause && p.streaming
	if halt {
		p.streaming = false
		p.paused = false
		p.detached = false
	}
	nodeID := p.nodeID
	p.mu.Unlock()

	if halt {
		if c, err := p.client(nodeID); err == nil {
			if err := c.Stop(ctx, p.guildID); err != nil {
				zlog.Warn().Msgf("playback: stop failed: guild=%s node=%s error=%v", p.guildID, nodeID, err)
			}
		}
	}
	p.processNext(ctx, 0)
}

// SkipTo jumps to the first queued track matching query. The current track goes to the back.
// With playOnly the match is pulled to the front; otherwise the queue rotates to it.
func (p *Player) SkipTo(ctx context.Context, query string, exact, playOnly bool) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		if p.queue.Len() == 0 {
			p.mu.Unlock()
			return ErrQueueEmpty
		}
		if len(p.queue.FindMatching(query, 1, exact)) == 0 {
			p.mu.Unlock()
			return errors.Wrapf(queue.ErrNoMatch, "query %q", query)
		}

		if cur := p.current; cur != nil {
			cur.Loops = 0
			p.current = nil
			p.lastTrack = cur
			p.queue.PushBack(cur)
		}
		var err error
		if playOnly {
			_, err = p.queue.MoveMatching(query, 1, 1, exact)
		} else if _, err = p.queue.RotateToMatching(query, exact); errors.Is(err, queue.ErrAlreadyNext) {
			err = nil
		}
		if p.loop == LoopCurrent {
			p.loop = LoopOff
		}
		p.dirty = true
		p.mu.Unlock()
		if err != nil {
			return err
		}

		p.processNext(ctx, 0)
		return nil
	})
}

// Back returns to the previous track. With 24/7 on, the previous track is the back of the queue.
func (p *Player) Back(ctx context.Context) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		cur := p.current
		if p.queue.Len() == 0 && (p.keepConnected || p.played.Len() == 0) {
			p.mu.Unlock()
			if cur == nil {
				return ErrNoHistory
			}
			return p.seek(ctx, 0)
		}

		var target *track.Track
		if p.keepConnected {
			target = p.queue.PopBack()
		} else if target = p.played.PopBack(); target == nil {
			target = p.queue.PopBack()
		}
		if target == nil {
			p.mu.Unlock()
			return ErrNoHistory
		}
		if cur != nil {
			if !cur.Autoplay {
				p.queue.PushFront(cur)
			}
			p.current = nil
		}
		p.queue.PushFront(target)
		p.dirty = true
		p.mu.Unlock()

		p.processNext(ctx, 0)
		return nil
	})
}

// Pause pauses the current track.
func (p *Player) Pause(ctx context.Context) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		if p.current == nil {
			p.mu.Unlock()
			return ErrNothingPlaying
		}
		if p.paused {
			p.mu.Unlock()
			return ErrAlreadyPaused
		}
		p.position = p.positionLocked()
		p.positionAt = time.Now()
		p.paused = true
		p.dirty = true
		nodeID := p.nodeID
		skipNode := p.autoPause || p.detached
		p.mu.Unlock()

		if skipNode {
			return nil
		}
		c, err := p.client(nodeID)
		if err != nil {
			return err
		}
		return c.Pause(ctx, p.guildID, true)
	})
}

// Resume resumes a paused track. It also ends an empty-channel pause.
func (p *Player) Resume(ctx context.Context) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		if p.current == nil {
			p.mu.Unlock()
			return ErrNothingPlaying
		}
		if !p.paused && !p.autoPause {
			p.mu.Unlock()
			return ErrNotPaused
		}
		p.paused = false
		p.autoPause = false
		p.dirty = true
		p.mu.Unlock()

		p.resumeNode(ctx)
		return nil
	})
}

// Seek moves the current track to pos.
func (p *Player) Seek(ctx context.Context, pos time.Duration) error {
	return p.exec(ctx, func() error {
		return p.seek(ctx, pos)
	})
}

func (p *Player) seek(ctx context.Context, pos time.Duration) error {
	p.mu.Lock()
	cur := p.current
	if cur == nil {
		p.mu.Unlock()
		return ErrNothingPlaying
	}
	if cur.IsStream {
		p.mu.Unlock()
		return ErrSeekStream
	}
	if pos < 0 || (cur.Duration > 0 && pos > cur.Duration) {
		p.mu.Unlock()
		return errors.Wrapf(ErrInvalidSeek, "position %v", pos)
	}
	p.position = pos
	p.positionAt = time.Now()
	p.dirty = true
	nodeID := p.nodeID
	detached := p.detached
	p.mu.Unlock()

	if detached {
		return nil
	}
	c, err := p.client(nodeID)
	if err != nil {
		return err
	}
	return c.Seek(ctx, p.guildID, pos)
}

// SetVolume sets the volume (0..1000).
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 || volume > maxVolume {
		return errors.Wrapf(ErrInvalidVolume, "volume %d", volume)
	}
	return p.exec(ctx, func() error {
		p.mu.Lock()
		p.volume = volume
		p.dirty = true
		nodeID := p.nodeID
		p.mu.Unlock()

		c, err := p.client(nodeID)
		if err != nil {
			return err
		}
		return c.SetVolume(ctx, p.guildID, volume)
	})
}

// Volume returns the current volume.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetLoop sets the loop mode.
func (p *Player) SetLoop(ctx context.Context, mode LoopMode) error {
	if mode < LoopOff || mode > LoopQueue {
		return ErrInvalidLoopMode
	}
	return p.exec(ctx, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.loop = mode
		p.dirty = true
		return nil
	})
}

// Loop returns the loop mode.
func (p *Player) Loop() LoopMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

// SetLoopCount makes the current track repeat n more times.
func (p *Player) SetLoopCount(ctx context.Context, n int) error {
	if n < 0 {
		return ErrInvalidLoops
	}
	return p.exec(ctx, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.current == nil {
			return ErrNothingPlaying
		}
		p.current.Loops = n
		p.dirty = true
		return nil
	})
}

// SetAutoplay toggles autoplay. Enabling it on an idle player starts playback.
func (p *Player) SetAutoplay(ctx context.Context, enabled bool) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		p.autoplay = enabled
		if !enabled {
			p.autoBuf.Clear()
		}
		p.dirty = true
		idle := p.current == nil
		p.mu.Unlock()

		if enabled && idle {
			p.processNext(ctx, 0)
		}
		return nil
	})
}

// Autoplay reports whether autoplay is on.
func (p *Player) Autoplay() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoplay
}

// SetKeepConnected toggles 24/7 mode. While on, the idle and empty-channel timers never run.
func (p *Player) SetKeepConnected(ctx context.Context, enabled bool) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.keepConnected = enabled
		p.dirty = true
		if enabled {
			p.disarmIdleLocked()
			p.members.stop()
			return nil
		}
		if p.current == nil {
			p.armIdleLocked()
		}
		return nil
	})
}

// KeepConnected reports whether 24/7 mode is on.
func (p *Player) KeepConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keepConnected
}

// SetRestrict toggles restrict mode.
func (p *Player) SetRestrict(ctx context.Context, enabled bool) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.restrict = enabled
		p.dirty = true
		return nil
	})
}

// AddDJ grants a member session DJ rights.
func (p *Player) AddDJ(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dj[userID] = true
}

// IsDJ reports whether a member is the creator or a session DJ.
func (p *Player) IsDJ(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return userID == p.creatorID || p.dj[userID]
}

// Shuffle randomizes the queue.
func (p *Player) Shuffle(ctx context.Context) error {
	return p.mutateQueue(ctx, func(q *queue.Queue) error { return q.Shuffle() })
}

// Reverse reverses the queue.
func (p *Player) Reverse(ctx context.Context) error {
	return p.mutateQueue(ctx, func(q *queue.Queue) error { return q.Reverse() })
}

// Remove deletes up to count queued tracks matching query (count < 1 removes every match).
func (p *Player) Remove(ctx context.Context, query string, count int, exact bool) ([]track.Track, error) {
	var removed []*track.Track
	err := p.mutateQueue(ctx, func(q *queue.Queue) error {
		idx := q.FindMatching(query, count, exact)
		if len(idx) == 0 {
			return errors.Wrapf(queue.ErrNoMatch, "query %q", query)
		}
		for n := len(idx) - 1; n >= 0; n-- {
			t, _ := q.RemoveAt(idx[n])
			removed = append([]*track.Track{t}, removed...)
		}
		return nil
	})
	return copyTracks(removed), err
}

// RemoveAt deletes the queued track at a 1-based position.
func (p *Player) RemoveAt(ctx context.Context, position int) (track.Track, error) {
	var removed *track.Track
	err := p.mutateQueue(ctx, func(q *queue.Queue) error {
		t, err := q.RemoveAt(position - 1)
		removed = t
		return err
	})
	if err != nil {
		return track.Track{}, err
	}
	return *removed, nil
}

// Move relocates up to count tracks matching query to a 1-based position.
func (p *Player) Move(ctx context.Context, query string, count, target int, exact bool) ([]track.Track, error) {
	var moved []*track.Track
	err := p.mutateQueue(ctx, func(q *queue.Queue) error {
		var err error
		moved, err = q.MoveMatching(query, count, target, exact)
		return err
	})
	return copyTracks(moved), err
}

// Rotate makes the first track matching query the next one; the tracks before it go to the back.
func (p *Player) Rotate(ctx context.Context, query string, exact bool) (track.Track, error) {
	var next *track.Track
	err := p.mutateQueue(ctx, func(q *queue.Queue) error {
		var err error
		next, err = q.RotateToMatching(query, exact)
		return err
	})
	if err != nil {
		return track.Track{}, err
	}
	return *next, nil
}

// ClearOptions select which queued tracks Clear removes. The zero value clears everything.
type ClearOptions struct {
	Title          string
	Author         string
	RequesterID    string
	Playlist       string
	MinDuration    time.Duration
	MaxDuration    time.Duration
	PresentMembers map[string]bool // When set, only tracks from members not present are removed
	Duplicates     bool
	From           int // 1-based inclusive range, 0 for open
	To             int
}

func (o ClearOptions) predicate() queue.Predicate {
	var preds []queue.Predicate
	if o.Title != "" {
		preds = append(preds, queue.ByTitle(o.Title))
	}
	if o.Author != "" {
		preds = append(preds, queue.ByAuthor(o.Author))
	}
	if o.RequesterID != "" {
		preds = append(preds, queue.ByRequester(o.RequesterID))
	}
	if o.Playlist != "" {
		preds = append(preds, queue.ByPlaylist(o.Playlist))
	}
	if o.MinDuration > 0 {
		preds = append(preds, queue.MinDuration(o.MinDuration))
	}
	if o.MaxDuration > 0 {
		preds = append(preds, queue.MaxDuration(o.MaxDuration))
	}
	if o.PresentMembers != nil {
		preds = append(preds, queue.AbsentRequesters(o.PresentMembers))
	}
	if o.Duplicates {
		preds = append(preds, queue.Duplicates())
	}
	return queue.All(preds...)
}

// Clear removes queued tracks selected by opts and returns how many were removed.
func (p *Player) Clear(ctx context.Context, opts ClearOptions) (int, error) {
	var n int
	err := p.mutateQueue(ctx, func(q *queue.Queue) error {
		if q.Len() == 0 {
			return ErrQueueEmpty
		}
		n = q.RemoveMatchingRange(opts.From, opts.To, opts.predicate())
		if n == 0 {
			return queue.ErrNoMatch
		}
		return nil
	})
	return n, err
}

// Readd moves the played history back into the queue.
func (p *Player) Readd(ctx context.Context) (int, error) {
	var n int
	err := p.exec(ctx, func() error {
		p.mu.Lock()
		history := p.played.Drain()
		if len(history) == 0 {
			p.mu.Unlock()
			return ErrNoHistory
		}
		for _, t := range history {
			c := t.Clone()
			c.Loops = 0
			p.queue.PushBack(c)
		}
		n = len(history)
		p.dirty = true
		idle := p.current == nil
		p.mu.Unlock()

		if idle {
			p.processNext(ctx, 0)
		}
		return nil
	})
	return n, err
}

// ClearFailed empties the failed track list.
func (p *Player) ClearFailed(ctx context.Context) (int, error) {
	var n int
	err := p.exec(ctx, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		n = p.failed.Len()
		if n == 0 {
			return ErrNothingFailed
		}
		p.failed.Clear()
		p.dirty = true
		return nil
	})
	return n, err
}

// SetFilters replaces the node audio filters.
func (p *Player) SetFilters(ctx context.Context, f node.Filters) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		p.filters = f
		p.filterNames = f.Names()
		p.dirty = true
		nodeID := p.nodeID
		p.mu.Unlock()

		c, err := p.client(nodeID)
		if err != nil {
			return err
		}
		return c.SetFilters(ctx, p.guildID, f)
	})
}

// Filters returns the active audio filters.
func (p *Player) Filters() node.Filters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filters
}

func (p *Player) mutateQueue(ctx context.Context, fn func(q *queue.Queue) error) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := fn(p.queue); err != nil {
			return err
		}
		p.dirty = true
		return nil
	})
}
