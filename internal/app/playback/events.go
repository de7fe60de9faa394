package playback

import (
	"context"
	"fmt"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// handleEvent applies one node event. A panic is treated as a transient playback failure.
func (p *Player) handleEvent(ev node.Event) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: recovered panic handling %s: guild=%s panic=%v", ev.Type, p.guildID, r)
			p.onTrackException(ctx, "", &node.Exception{
				Message: "internal error",
				Cause:   fmt.Sprint(r),
				Kind:    node.KindTransient,
			})
		}
	}()

	p.mu.Lock()
	closing := p.closing
	bound := ev.NodeID == "" || ev.NodeID == p.nodeID
	p.mu.Unlock()
	if closing || !bound {
		return
	}

	switch ev.Type {
	case node.EventTrackStart:
		p.onTrackStart(ev.TrackID)
	case node.EventTrackEnd:
		p.onTrackEnd(ctx, ev.TrackID, ev.Reason)
	case node.EventTrackException:
		ex := ev.Exception
		if ex == nil {
			ex = &node.Exception{Message: "unknown playback error"}
		}
		p.onTrackException(ctx, ev.TrackID, ex)
	case node.EventTrackStuck:
		p.onTrackException(ctx, ev.TrackID, &node.Exception{
			Message: fmt.Sprintf("track stuck for %v", ev.Threshold),
			Kind:    node.KindTransient,
		})
	case node.EventWebsocketClosed:
		p.onWebsocketClosed(ctx, ev.Code, ev.ByRemote)
	case node.EventPlayerUpdate:
		p.onPlayerUpdate(ev.Position)
	case node.EventNodeReady:
		p.onNodeReady(ctx, ev.Resumed)
	}
}

func (p *Player) onTrackStart(trackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || (trackID != "" && p.current.ID != trackID) {
		return
	}
	p.streaming = true
	p.positionAt = time.Now()
	p.dirty = true
}

func (p *Player) onPlayerUpdate(position time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.detached {
		return
	}
	p.position = position
	p.positionAt = time.Now()
}

// onTrackEnd applies the requeue policy to the finished track and moves on.
func (p *Player) onTrackEnd(ctx context.Context, trackID string, reason node.EndReason) {
	p.mu.Lock()
	if p.locked || p.closing {
		p.mu.Unlock()
		return
	}
	switch reason {
	case node.EndFinished:
	case node.EndStopped:
		if p.queue.Len() == 0 {
			p.streaming = false
			p.mu.Unlock()
			return
		}
	default:
		p.mu.Unlock()
		return
	}
	cur := p.current
	if cur == nil || (trackID != "" && cur.ID != trackID) {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.streaming = false
	p.lastTrack = cur
	p.requeueLocked(cur)
	p.mu.Unlock()

	p.processNext(ctx, 0)
}

// requeueLocked places a track that stopped playing according to the loop settings.
// Must be called with lock held.
func (p *Player) requeueLocked(t *track.Track) {
	switch {
	case p.loop == LoopCurrent:
		p.queue.PushFront(t)
	case t.Loops > 0:
		t.Loops--
		p.queue.PushFront(t)
	case p.loop == LoopQueue || p.keepConnected:
		p.queue.PushBack(t)
	case !t.Autoplay:
		p.played.Push(t)
	}
}

// onTrackException routes a playback failure by its classification, then cools down.
func (p *Player) onTrackException(ctx context.Context, trackID string, ex *node.Exception) {
	p.mu.Lock()
	if p.locked || p.closing {
		p.mu.Unlock()
		return
	}
	failed := p.current
	if failed != nil && trackID != "" && failed.ID != trackID {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.streaming = false
	p.detached = false
	p.dirty = true
	nodeID := p.nodeID
	p.mu.Unlock()

	title := ""
	if failed != nil {
		title = failed.Title
	}
	zlog.Warn().Msgf("playback: track exception: guild=%s node=%s kind=%s track=%q error=%v",
		p.guildID, nodeID, ex.Kind, title, ex)

	switch ex.Kind {
	case node.KindBlocked, node.KindNodeUnreachable:
		p.deps.Selector.MarkUnavailable(nodeID)
		alt, err := p.deps.Selector.Select(nodeID)
		if err != nil {
			p.destroy(ctx, p.cfg.Messages.NoNodeAvailable)
			return
		}
		p.requeueFront(failed)
		if err := p.changeNode(ctx, alt.ID()); err != nil {
			zlog.Warn().Msgf("playback: failover failed: guild=%s node=%s error=%v", p.guildID, alt.ID(), err)
			p.destroy(ctx, p.cfg.Messages.NoNodeAvailable)
			return
		}
	case node.KindTransient:
		p.requeueFront(failed)
	default:
		if failed != nil {
			p.mu.Lock()
			switch {
			case failed.Loops == 0:
				p.failed.Push(failed)
			case p.keepConnected && !p.autoplay && p.queue.Len() > unknownRequeueSize:
				p.queue.PushBack(failed)
			}
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	if !p.closing {
		p.cooldownLocked()
	}
	p.mu.Unlock()
}

func (p *Player) requeueFront(t *track.Track) {
	if t == nil {
		return
	}
	p.mu.Lock()
	p.queue.PushFront(t)
	p.mu.Unlock()
}

// onWebsocketClosed reacts to the node losing its voice connection.
func (p *Player) onWebsocketClosed(ctx context.Context, code int, byRemote bool) {
	switch code {
	case 1000:
	case 4000, 1006, 1001, 4016, 4005, 4006:
		zlog.Info().Msgf("playback: voice connection closed, rejoining: guild=%s code=%d remote=%v", p.guildID, code, byRemote)
		p.mu.Lock()
		p.reconnect.start(p.cfg.VoiceReconnectDelay, func(gen uint64) {
			p.post(func() { p.rejoin(gen) })
		})
		p.mu.Unlock()
	case 4014:
		p.destroy(ctx, p.cfg.Messages.VoiceDisconnected)
	default:
		zlog.Warn().Msgf("playback: voice connection closed: guild=%s code=%d remote=%v", p.guildID, code, byRemote)
	}
}

func (p *Player) rejoin(gen uint64) {
	p.mu.Lock()
	if !p.reconnect.claim(gen) {
		p.mu.Unlock()
		return
	}
	closing := p.closing
	channelID := p.voiceChannelID
	p.mu.Unlock()

	if closing || p.deps.Voice == nil {
		return
	}
	if err := p.deps.Voice.Join(context.Background(), p.guildID, channelID); err != nil {
		zlog.Warn().Msgf("playback: rejoin failed: guild=%s channel=%s error=%v", p.guildID, channelID, err)
	}
}

// OnVoiceStateChange is called when the human population of the voice channel changes.
func (p *Player) OnVoiceStateChange(ctx context.Context, humansPresent bool) error {
	return p.exec(ctx, func() error {
		p.onVoiceStateChange(ctx, humansPresent)
		return nil
	})
}

func (p *Player) onVoiceStateChange(ctx context.Context, humansPresent bool) {
	p.mu.Lock()
	p.members.stop()
	p.listeners = humansPresent
	if p.closing {
		p.mu.Unlock()
		return
	}

	switch {
	case humansPresent && p.autoPause:
		p.autoPause = false
		p.dirty = true
		cur := p.current
		manual := p.paused
		p.mu.Unlock()
		if cur == nil {
			p.processNext(ctx, 0)
			return
		}
		if !manual {
			p.resumeNode(ctx)
		}
		zlog.Info().Msgf("playback: listeners returned, resuming: guild=%s", p.guildID)

	case !humansPresent && !p.autoPause && p.keepConnected:
		p.autoPause = true
		p.dirty = true
		cur := p.current
		manual := p.paused
		p.position = p.positionLocked()
		p.positionAt = time.Now()
		nodeID := p.nodeID
		p.mu.Unlock()
		if cur != nil && !manual {
			if c, err := p.client(nodeID); err == nil {
				if err := c.Pause(ctx, p.guildID, true); err != nil {
					zlog.Warn().Msgf("playback: auto pause failed: guild=%s error=%v", p.guildID, err)
				}
			}
		}
		zlog.Info().Msgf("playback: voice channel empty, auto paused: guild=%s", p.guildID)

	case !humansPresent && !p.keepConnected:
		p.armMembersLocked()
		p.mu.Unlock()

	default:
		p.mu.Unlock()
	}
}

// SetVoiceState forwards the bot's voice session to the bound node.
func (p *Player) SetVoiceState(ctx context.Context, v node.VoiceState) error {
	return p.exec(ctx, func() error {
		p.mu.Lock()
		if v.SessionID == "" {
			v.SessionID = p.voice.SessionID
		}
		if v.Token == "" {
			v.Token = p.voice.Token
			v.Endpoint = p.voice.Endpoint
		}
		if v.ChannelID == "" {
			v.ChannelID = p.voice.ChannelID
		} else {
			p.voiceChannelID = v.ChannelID
		}
		p.voice = v
		nodeID := p.nodeID
		p.mu.Unlock()

		if !v.Ready() {
			return nil
		}
		c, err := p.client(nodeID)
		if err != nil {
			return err
		}
		return c.UpdateVoice(ctx, p.guildID, v)
	})
}

// OnNodeReady restores the player on its node after the node (re)connected.
func (p *Player) OnNodeReady(ctx context.Context, resumed bool) error {
	return p.exec(ctx, func() error {
		p.onNodeReady(ctx, resumed)
		return nil
	})
}

func (p *Player) onNodeReady(ctx context.Context, resumed bool) {
	if resumed {
		return
	}
	p.mu.Lock()
	nodeID := p.nodeID
	p.mu.Unlock()

	c, err := p.client(nodeID)
	if err != nil {
		return
	}
	p.syncNode(ctx, c)

	p.mu.Lock()
	p.locked = false
	p.cooldown.stop()
	cur := p.current
	paused := p.paused || p.autoPause
	pos := p.positionLocked()
	if cur != nil {
		p.detached = paused
	}
	p.mu.Unlock()

	if cur == nil {
		p.processNext(ctx, 0)
		return
	}
	if !paused {
		p.replay(ctx, c, cur, pos)
	}
}

// ChangeNode moves the player to another node, keeping the current track and the queue.
func (p *Player) ChangeNode(ctx context.Context, nodeID string) error {
	return p.exec(ctx, func() error {
		return p.changeNode(ctx, nodeID)
	})
}

func (p *Player) changeNode(ctx context.Context, nodeID string) error {
	c, err := p.client(nodeID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.nodeID
	if old == nodeID {
		p.mu.Unlock()
		return nil
	}
	p.nodeID = nodeID
	cur := p.current
	paused := p.paused || p.autoPause
	pos := p.positionLocked()
	if cur != nil {
		p.detached = paused
	}
	p.dirty = true
	p.mu.Unlock()

	p.deps.Selector.Release(old)
	p.deps.Selector.Assign(nodeID)
	if oldClient, err := p.client(old); err == nil {
		if err := oldClient.Destroy(ctx, p.guildID); err != nil {
			zlog.Debug().Msgf("playback: destroy on previous node failed: guild=%s node=%s error=%v", p.guildID, old, err)
		}
	}

	p.syncNode(ctx, c)
	if cur != nil && !paused {
		p.replay(ctx, c, cur, pos)
	}
	zlog.Info().Msgf("playback: node changed: guild=%s from=%s to=%s", p.guildID, old, nodeID)
	return nil
}

// syncNode re-sends voice, volume and filters to c.
func (p *Player) syncNode(ctx context.Context, c node.Client) {
	p.mu.Lock()
	voice := p.voice
	volume := p.volume
	filters := p.filters
	p.mu.Unlock()

	if voice.Ready() {
		if err := c.UpdateVoice(ctx, p.guildID, voice); err != nil {
			zlog.Warn().Msgf("playback: voice update failed: guild=%s node=%s error=%v", p.guildID, c.ID(), err)
		}
	}
	if err := c.SetVolume(ctx, p.guildID, volume); err != nil {
		zlog.Warn().Msgf("playback: volume update failed: guild=%s node=%s error=%v", p.guildID, c.ID(), err)
	}
	if !filters.IsZero() {
		if err := c.SetFilters(ctx, p.guildID, filters); err != nil {
			zlog.Warn().Msgf("playback: filter update failed: guild=%s node=%s error=%v", p.guildID, c.ID(), err)
		}
	}
}

// replay starts t again at pos on c.
func (p *Player) replay(ctx context.Context, c node.Client, t *track.Track, pos time.Duration) {
	if t.IsStream {
		pos = 0
	}
	p.mu.Lock()
	p.position = pos
	p.positionAt = time.Now()
	p.streaming = true
	p.detached = false
	p.mu.Unlock()

	if err := c.Play(ctx, p.guildID, t, pos); err != nil {
		zlog.Warn().Msgf("playback: replay failed: guild=%s node=%s error=%v", p.guildID, c.ID(), err)
		p.onTrackException(ctx, t.ID, &node.Exception{
			Message: "failed to restore track",
			Cause:   err.Error(),
			Kind:    node.KindNodeUnreachable,
		})
	}
}

// resumeNode unpauses the current track, reloading it if the node lost it.
func (p *Player) resumeNode(ctx context.Context) {
	p.mu.Lock()
	cur := p.current
	detached := p.detached
	pos := p.position
	nodeID := p.nodeID
	p.positionAt = time.Now()
	p.mu.Unlock()

	c, err := p.client(nodeID)
	if err != nil || cur == nil {
		return
	}
	if detached {
		p.replay(ctx, c, cur, pos)
		return
	}
	if err := c.Pause(ctx, p.guildID, false); err != nil {
		zlog.Warn().Msgf("playback: resume failed: guild=%s error=%v", p.guildID, err)
	}
}
