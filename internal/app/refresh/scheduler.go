// Package refresh keeps a player's control panel message in sync with its state.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/lavabox/internal/domain/display"
)

// Source provides the state to render.
type Source interface {
	Snapshot() display.Snapshot
	// TakeDirty reports whether state changed since the last call and clears the flag.
	TakeDirty() bool
}

// Config holds scheduler configuration.
type Config struct {
	Tick           time.Duration // Wake interval of the background loop
	Debounce       time.Duration // Pause after a dirty render to coalesce bursts
	AutoRefresh    time.Duration // Unconditional re-render interval, 0 disables
	EditsPerSecond float64       // Edit rate limit
	Burst          int
	Static         bool // Pinned controller message: kept on Finish instead of deleted
}

// Scheduler renders the control panel on demand, on dirty state and periodically.
type Scheduler struct {
	cfg       Config
	src       Source
	channel   display.Channel
	channelID string
	limiter   *rate.Limiter
	onFatal   func(error)

	mu          sync.Mutex
	renderer    display.Renderer
	autoRefresh time.Duration

	sendMu sync.Mutex
	ref    *display.MessageRef
	last   []byte

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a scheduler. onFatal is called, on its own goroutine, when the channel reports
// a permission error.
func New(cfg Config, src Source, renderer display.Renderer, channel display.Channel, channelID string, onFatal func(error)) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Second
	}
	if cfg.EditsPerSecond <= 0 {
		cfg.EditsPerSecond = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Scheduler{
		cfg:         cfg,
		src:         src,
		channel:     channel,
		channelID:   channelID,
		limiter:     rate.NewLimiter(rate.Limit(cfg.EditsPerSecond), cfg.Burst),
		onFatal:     onFatal,
		renderer:    renderer,
		autoRefresh: cfg.AutoRefresh,
		done:        make(chan struct{}),
	}
}

// Attach binds an existing message (static controller) so the next render edits it.
func (s *Scheduler) Attach(ref display.MessageRef) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.ref = &ref
	s.last = nil
}

// Message returns the current controller message, if any.
func (s *Scheduler) Message() (display.MessageRef, bool) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.ref == nil {
		return display.MessageRef{}, false
	}
	return *s.ref, true
}

// SetRenderer switches skins.
func (s *Scheduler) SetRenderer(r display.Renderer, autoRefresh time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderer = r
	s.autoRefresh = autoRefresh
}

// Start launches the background loop.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.run(ctx)
	})
}

// Stop cancels the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.startOnce.Do(func() { close(s.done) })
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}

// Refresh renders now. Identical payloads are not re-sent.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.Lock()
	renderer := s.renderer
	s.mu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	p := renderer.Render(s.src.Snapshot())
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to encode payload")
	}
	if s.ref != nil && bytes.Equal(data, s.last) {
		return nil
	}

	if err := s.deliverLocked(ctx, p); err != nil {
		if errors.Is(err, display.ErrForbidden) && s.onFatal != nil {
			go s.onFatal(err)
		}
		return err
	}
	s.last = data
	return nil
}

// Finish stops the loop and settles the message: static controllers get a final render,
// ephemeral ones are deleted.
func (s *Scheduler) Finish(ctx context.Context) {
	s.Stop()

	s.mu.Lock()
	renderer := s.renderer
	s.mu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.ref == nil {
		return
	}
	ref := *s.ref
	s.ref = nil
	if s.cfg.Static {
		if err := s.channel.Edit(ctx, ref, renderer.Render(s.src.Snapshot())); err != nil {
			zlog.Debug().Msgf("refresh: final edit failed: message=%s error=%v", ref.MessageID, err)
		}
		return
	}
	if err := s.channel.Delete(ctx, ref); err != nil {
		zlog.Debug().Msgf("refresh: delete failed: message=%s error=%v", ref.MessageID, err)
	}
}

func (s *Scheduler) deliverLocked(ctx context.Context, p display.Payload) error {
	if s.ref != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limiter")
		}
		err := s.channel.Edit(ctx, *s.ref, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, display.ErrMessageGone) {
			return errors.Wrap(err, "failed to edit controller message")
		}
		zlog.Debug().Msgf("refresh: controller message gone, sending a new one: channel=%s", s.channelID)
		s.ref = nil
	}

	ref, err := s.channel.Send(ctx, s.channelID, p)
	if err != nil {
		return errors.Wrap(err, "failed to send controller message")
	}
	s.ref = &ref
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	lastAuto := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		auto := s.autoRefresh
		s.mu.Unlock()

		if auto > 0 && time.Since(lastAuto) >= auto {
			lastAuto = time.Now()
			s.refreshLogged(ctx)
			continue
		}

		if s.src.TakeDirty() {
			s.refreshLogged(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.Debounce):
			}
		}
	}
}

func (s *Scheduler) refreshLogged(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		zlog.Warn().Msgf("refresh: render failed: channel=%s error=%v", s.channelID, err)
	}
}
