package playback

import (
	"context"
	"time"
)

// timer is a one-shot timer owned by a player. Every start or stop begins a new generation, so
// a callback that already fired and is still waiting in the inbox can tell it was superseded.
// All methods must be called with the player lock held.
type timer struct {
	cancel func()
	gen    uint64
}

// start arms the timer, replacing any previous arming. fire runs on the timer goroutine with the
// generation it was armed under.
func (t *timer) start(duration time.Duration, fire func(gen uint64)) {
	t.stop()
	gen := t.gen
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go func() {
		tm := time.NewTimer(duration)
		defer tm.Stop()

		select {
		case <-ctx.Done():
		case <-tm.C:
			fire(gen)
		}
	}()
}

// stop cancels a pending arming and invalidates a fired one.
func (t *timer) stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
}

func (t *timer) armed() bool {
	return t.cancel != nil
}

// claim reports whether gen is the live arming and, if so, disarms it.
func (t *timer) claim(gen uint64) bool {
	if t.cancel == nil || t.gen != gen {
		return false
	}
	t.cancel = nil
	t.gen++
	return true
}

// armIdleLocked starts the idle timer unless 24/7 is on or it is already armed.
// Must be called with lock held.
func (p *Player) armIdleLocked() bool {
	if p.keepConnected || p.idle.armed() {
		return false
	}
	p.idleDeadline = time.Now().Add(p.cfg.IdleTimeout)
	p.idle.start(p.cfg.IdleTimeout, func(gen uint64) {
		p.post(func() { p.onIdleTimeout(gen) })
	})
	return true
}

// disarmIdleLocked cancels the idle timer.
// Must be called with lock held.
func (p *Player) disarmIdleLocked() {
	p.idle.stop()
	p.idleDeadline = time.Time{}
}

func (p *Player) onIdleTimeout(gen uint64) {
	p.mu.Lock()
	if !p.idle.claim(gen) {
		p.mu.Unlock()
		return
	}
	p.idleDeadline = time.Time{}
	stale := p.closing || p.current != nil || p.keepConnected
	p.mu.Unlock()

	if stale || !p.owned() {
		return
	}
	p.destroy(context.Background(), p.cfg.Messages.IdleTimeout)
}

// armMembersLocked starts the empty-channel timer, replacing any previous one.
// Must be called with lock held.
func (p *Player) armMembersLocked() {
	p.members.start(p.cfg.MembersTimeout, func(gen uint64) {
		p.post(func() { p.onMembersTimeout(gen) })
	})
}

func (p *Player) onMembersTimeout(gen uint64) {
	p.mu.Lock()
	if !p.members.claim(gen) {
		p.mu.Unlock()
		return
	}
	stale := p.closing || p.keepConnected || p.listeners
	p.mu.Unlock()

	if stale || !p.owned() {
		return
	}
	p.destroy(context.Background(), p.cfg.Messages.MembersTimeout)
}

// cooldownLocked keeps the player locked after a playback failure, then resumes.
// Must be called with lock held.
func (p *Player) cooldownLocked() {
	p.locked = true
	p.cooldown.start(p.cfg.ExceptionCooldown, func(gen uint64) {
		p.post(func() { p.onCooldownDone(gen) })
	})
}

func (p *Player) onCooldownDone(gen uint64) {
	p.mu.Lock()
	if !p.cooldown.claim(gen) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if !p.owned() {
		p.destroy(context.Background(), "")
		return
	}
	p.mu.Lock()
	p.locked = false
	closing := p.closing
	p.mu.Unlock()

	if !closing {
		p.processNext(context.Background(), 0)
	}
}
