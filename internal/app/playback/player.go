package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/autoplay"
	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/refresh"
	"github.com/osa030/lavabox/internal/domain/display"
	"github.com/osa030/lavabox/internal/domain/queue"
	"github.com/osa030/lavabox/internal/domain/track"
	"github.com/osa030/lavabox/internal/infra/config"
)

// Errors
var (
	ErrClosed          = errors.New("player is closed")
	ErrNothingPlaying  = errors.New("nothing is playing")
	ErrQueueEmpty      = errors.New("queue is empty")
	ErrNoHistory       = errors.New("no previous track")
	ErrAlreadyPaused   = errors.New("already paused")
	ErrNotPaused       = errors.New("not paused")
	ErrSeekStream      = errors.New("cannot seek a live stream")
	ErrInvalidSeek     = errors.New("seek position is outside the track")
	ErrInvalidVolume   = errors.New("volume must be between 0 and 1000")
	ErrInvalidLoopMode = errors.New("invalid loop mode")
	ErrInvalidLoops    = errors.New("loop count must not be negative")
	ErrNothingFailed   = errors.New("no failed tracks")
	ErrResolveFailed   = errors.New("no playable source found")
	ErrInternal        = errors.New("internal player error")
)

const (
	maxVolume          = 1000
	resolveTolerance   = 10 * time.Second
	unknownRequeueSize = 15
	inboxSize          = 64
)

// Voice joins and leaves voice channels on the chat platform.
type Voice interface {
	Join(ctx context.Context, guildID, channelID string) error
	Leave(ctx context.Context, guildID string) error
}

// Owner is the registry slot holding a player.
type Owner interface {
	Owns(p *Player) bool
	Release(p *Player)
}

// Messages are the user-facing notices a player posts on its own.
type Messages struct {
	IdleTimeout       string
	MembersTimeout    string
	NoNodeAvailable   string
	VoiceDisconnected string
	ResolveFailed     string // Formatted with the track title
}

// Config holds player configuration.
type Config struct {
	IdleTimeout         time.Duration
	MembersTimeout      time.Duration
	ExceptionCooldown   time.Duration
	VoiceReconnectDelay time.Duration
	MinAutoplayDuration time.Duration
	HistorySize         int
	AutoplayBufferSize  int
	FailedBufferSize    int
	SearchPrefix        string
	Refresh             refresh.Config
	Messages            Messages
}

// ConfigFrom builds a player Config from application settings.
func ConfigFrom(cfg *config.Config) Config {
	pc := cfg.Player
	return Config{
		IdleTimeout:         pc.IdleTimeout(),
		MembersTimeout:      pc.MembersTimeout(),
		ExceptionCooldown:   pc.ExceptionCooldown(),
		VoiceReconnectDelay: pc.VoiceReconnectDelay(),
		MinAutoplayDuration: pc.MinAutoplayDuration(),
		HistorySize:         pc.HistorySize,
		AutoplayBufferSize:  pc.AutoplayBufferSize,
		FailedBufferSize:    pc.FailedBufferSize,
		SearchPrefix:        pc.SearchPrefix,
		Refresh: refresh.Config{
			Tick:           cfg.Refresh.Tick(),
			Debounce:       cfg.Refresh.Debounce(),
			EditsPerSecond: cfg.Refresh.EditsPerSecond,
			Burst:          cfg.Refresh.Burst,
		},
		Messages: Messages{
			IdleTimeout:       cfg.Messages.IdleTimeout,
			MembersTimeout:    cfg.Messages.MembersTimeout,
			NoNodeAvailable:   cfg.Messages.NoNodeAvailable,
			VoiceDisconnected: cfg.Messages.VoiceDisconnected,
			ResolveFailed:     cfg.Messages.ResolveFailed,
		},
	}
}

// Deps are the collaborators shared by every player.
type Deps struct {
	Selector *node.Selector
	Autoplay autoplay.Provider // Optional
	Channel  display.Channel   // Optional; notices and the control panel are skipped without it
	Voice    Voice             // Optional
	Owner    Owner             // Optional
}

// Options describe a new player.
type Options struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	CreatorID      string
	NodeID         string
	Volume         int
	Autoplay       bool
	KeepConnected  bool
	Restrict       bool

	// Control panel. A nil Renderer disables it.
	Renderer      display.Renderer
	AutoRefresh   time.Duration
	Static        bool
	StaticMessage *display.MessageRef
	Favourites    []display.Favourite
}

// Player is the per-guild playback state machine.
// State transitions run one at a time on the player's goroutine; mu guards the fields
// read from other goroutines and is never held across node or chat calls.
type Player struct {
	guildID string
	cfg     Config
	deps    Deps

	inbox     chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	refresher *refresh.Scheduler

	mu             sync.Mutex
	voiceChannelID string
	textChannelID  string
	creatorID      string
	nodeID         string
	static         bool
	favourites     []display.Favourite

	current   *track.Track
	lastTrack *track.Track
	queue     *queue.Queue
	played    *queue.Ring
	autoBuf   *queue.Ring
	failed    *queue.Ring

	loop          LoopMode
	autoplay      bool
	keepConnected bool
	restrict      bool
	volume        int
	dj            map[string]bool
	filters       node.Filters
	filterNames   []string
	voice         node.VoiceState

	paused     bool
	autoPause  bool
	streaming  bool // The node holds a track for this guild
	detached   bool // Current track is not loaded on the bound node
	position   time.Duration
	positionAt time.Time

	locked        bool
	closing       bool
	closingReason string
	dirty         bool
	commandLog    string
	idleDeadline  time.Time

	listeners bool // Someone besides bots is in the voice channel

	idle      timer
	members   timer
	cooldown  timer
	reconnect timer
}

// New creates a player. Call Start to begin processing.
func New(opts Options, cfg Config, deps Deps) *Player {
	ctx, cancel := context.WithCancel(context.Background())
	volume := opts.Volume
	if volume <= 0 {
		volume = 100
	}
	p := &Player{
		guildID:        opts.GuildID,
		cfg:            cfg,
		deps:           deps,
		inbox:          make(chan func(), inboxSize),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		voiceChannelID: opts.VoiceChannelID,
		textChannelID:  opts.TextChannelID,
		creatorID:      opts.CreatorID,
		nodeID:         opts.NodeID,
		static:         opts.Static,
		favourites:     append([]display.Favourite(nil), opts.Favourites...),
		queue:          queue.New(),
		played:         queue.NewRing(orDefault(cfg.HistorySize, 20)),
		autoBuf:        queue.NewRing(orDefault(cfg.AutoplayBufferSize, 30)),
		failed:         queue.NewRing(orDefault(cfg.FailedBufferSize, 30)),
		autoplay:       opts.Autoplay,
		keepConnected:  opts.KeepConnected,
		restrict:       opts.Restrict,
		volume:         volume,
		dj:             make(map[string]bool),
		listeners:      true,
	}

	if opts.Renderer != nil && deps.Channel != nil {
		rc := cfg.Refresh
		rc.AutoRefresh = opts.AutoRefresh
		rc.Static = opts.Static
		p.refresher = refresh.New(rc, p, opts.Renderer, deps.Channel, opts.TextChannelID, p.onDisplayFatal)
		if opts.StaticMessage != nil {
			p.refresher.Attach(*opts.StaticMessage)
		}
	}
	return p
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Start launches the player goroutine and the control panel refresher.
func (p *Player) Start() {
	p.startOnce.Do(func() {
		go p.run()
		if p.refresher != nil {
			p.refresher.Start()
		}
	})
}

func (p *Player) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.inbox:
			task()
		}
	}
}

// Done is closed once the player goroutine has exited.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// post queues fn on the player goroutine.
func (p *Player) post(fn func()) bool {
	select {
	case p.inbox <- fn:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// exec runs fn on the player goroutine and waits for its result.
func (p *Player) exec(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				zlog.Error().Msgf("playback: recovered panic in command: guild=%s panic=%v", p.guildID, r)
				errCh <- errors.Wrapf(ErrInternal, "%v", r)
			}
		}()
		errCh <- fn()
	}

	select {
	case p.inbox <- task:
	case <-p.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errCh:
		return err
	case <-p.done:
		select {
		case err := <-errCh:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver queues a node event for this guild. It returns false once the player is closed.
func (p *Player) Deliver(ev node.Event) bool {
	return p.post(func() { p.handleEvent(ev) })
}

// HandleEvent processes a node event and waits for it to complete.
func (p *Player) HandleEvent(ctx context.Context, ev node.Event) error {
	return p.exec(ctx, func() error {
		p.handleEvent(ev)
		return nil
	})
}

// owned reports whether the registry still holds this player.
func (p *Player) owned() bool {
	if p.deps.Owner == nil {
		return true
	}
	return p.deps.Owner.Owns(p)
}

func (p *Player) client(id string) (node.Client, error) {
	c, ok := p.deps.Selector.Get(id)
	if !ok {
		return nil, errors.Wrapf(node.ErrUnknownNode, "node %q", id)
	}
	return c, nil
}

// GuildID returns the guild this player serves.
func (p *Player) GuildID() string { return p.guildID }

// NodeID returns the bound node.
func (p *Player) NodeID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodeID
}

// CreatorID returns the member who started the player.
func (p *Player) CreatorID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creatorID
}

// VoiceChannelID returns the voice channel the player is bound to.
func (p *Player) VoiceChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceChannelID
}

// TextChannelID returns the channel used for notices and the control panel.
func (p *Player) TextChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textChannelID
}

// Restricted reports whether restrict mode is on.
func (p *Player) Restricted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restrict
}

// Closing reports whether the player has been destroyed.
func (p *Player) Closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

// Locked reports whether the player is inside a guarded section.
func (p *Player) Locked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

// State returns the playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.current == nil:
		return StateIdle
	case p.paused || p.autoPause:
		return StatePaused
	default:
		return StatePlaying
	}
}

// Current returns a copy of the current track.
func (p *Player) Current() *track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	c := *p.current
	return &c
}

// Queue returns copies of the queued tracks.
func (p *Player) Queue() []track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyTracks(p.queue.Tracks())
}

// History returns copies of the played tracks, oldest first.
func (p *Player) History() []track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyTracks(p.played.Items())
}

// Failed returns copies of the tracks that failed with unclassified errors.
func (p *Player) Failed() []track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyTracks(p.failed.Items())
}

// QueuedTracks returns copies of the current track followed by the queue.
func (p *Player) QueuedTracks() []*track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*track.Track, 0, p.queue.Len()+1)
	if p.current != nil {
		c := *p.current
		out = append(out, &c)
	}
	for _, t := range p.queue.Tracks() {
		c := *t
		out = append(out, &c)
	}
	return out
}

// QueueLen returns the number of queued tracks.
func (p *Player) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Position returns the estimated playback position of the current track.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() time.Duration {
	if p.current == nil {
		return 0
	}
	pos := p.position
	if !p.paused && !p.autoPause && !p.detached && !p.positionAt.IsZero() {
		pos += time.Since(p.positionAt)
	}
	if p.current.Duration > 0 && pos > p.current.Duration {
		pos = p.current.Duration
	}
	return pos
}

// Snapshot returns a read-only copy of the player state.
func (p *Player) Snapshot() display.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := display.Snapshot{
		GuildID:        p.guildID,
		TextChannelID:  p.textChannelID,
		VoiceChannelID: p.voiceChannelID,
		NodeID:         p.nodeID,
		Position:       p.positionLocked(),
		Queue:          copyTracks(p.queue.Tracks()),
		QueueDuration:  p.queue.Duration(),
		PlayedCount:    p.played.Len(),
		FailedCount:    p.failed.Len(),
		Loop:           p.loop.String(),
		Autoplay:       p.autoplay,
		KeepConnected:  p.keepConnected,
		Restrict:       p.restrict,
		Paused:         p.paused,
		AutoPaused:     p.autoPause,
		Volume:         p.volume,
		Filters:        append([]string(nil), p.filterNames...),
		Idle:           p.current == nil,
		IdleDeadline:   p.idleDeadline,
		CommandLog:     p.commandLog,
		Static:         p.static,
		Favourites:     append([]display.Favourite(nil), p.favourites...),
		Closing:        p.closing,
		ClosingReason:  p.closingReason,
	}
	if p.current != nil {
		c := *p.current
		s.Current = &c
	}
	return s
}

// TakeDirty reports whether visible state changed since the last call and clears the flag.
func (p *Player) TakeDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.dirty
	p.dirty = false
	return d
}

// Log records the last action shown on the control panel.
func (p *Player) Log(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commandLog = line
	p.dirty = true
}

// Refresh re-renders the control panel now.
func (p *Player) Refresh(ctx context.Context) error {
	if p.refresher == nil || p.Closing() {
		return nil
	}
	return p.refresher.Refresh(ctx)
}

// SetSkin switches the control panel renderer.
func (p *Player) SetSkin(r display.Renderer, autoRefresh time.Duration) {
	if p.refresher == nil {
		return
	}
	p.refresher.SetRenderer(r, autoRefresh)
	p.markDirty()
}

// ControlMessage returns the control panel message, if one was sent.
func (p *Player) ControlMessage() (display.MessageRef, bool) {
	if p.refresher == nil {
		return display.MessageRef{}, false
	}
	return p.refresher.Message()
}

func (p *Player) markDirty() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
}

func (p *Player) onDisplayFatal(err error) {
	zlog.Warn().Msgf("playback: control panel unavailable, destroying player: guild=%s error=%v", p.guildID, err)
	p.destroy(context.Background(), "")
}

// Destroy stops playback and releases every resource held by the player.
// A non-empty reason is posted as a single notice. Calling Destroy again has no effect.
func (p *Player) Destroy(ctx context.Context, reason string) {
	p.destroy(ctx, reason)
}

func (p *Player) destroy(ctx context.Context, reason string) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true
	p.closingReason = reason
	p.locked = false
	p.idle.stop()
	p.members.stop()
	p.cooldown.stop()
	p.reconnect.stop()
	nodeID := p.nodeID
	p.dirty = true
	p.mu.Unlock()

	p.cancel()
	if p.refresher != nil {
		p.refresher.Finish(ctx)
	}
	if reason != "" {
		p.notify(ctx, reason)
	}

	if c, err := p.client(nodeID); err == nil {
		if err := c.Destroy(ctx, p.guildID); err != nil {
			zlog.Debug().Msgf("playback: node destroy failed: guild=%s node=%s error=%v", p.guildID, nodeID, err)
		}
	}
	p.deps.Selector.Release(nodeID)
	if p.deps.Voice != nil {
		if err := p.deps.Voice.Leave(ctx, p.guildID); err != nil {
			zlog.Debug().Msgf("playback: leave voice failed: guild=%s error=%v", p.guildID, err)
		}
	}
	if p.deps.Owner != nil {
		p.deps.Owner.Release(p)
	}

	if reason != "" {
		zlog.Info().Msgf("playback: player destroyed: guild=%s reason=%q", p.guildID, reason)
	} else {
		zlog.Info().Msgf("playback: player destroyed: guild=%s", p.guildID)
	}
}

// notify posts a one-off notice to the text channel.
func (p *Player) notify(ctx context.Context, text string) {
	if p.deps.Channel == nil || text == "" {
		return
	}
	p.mu.Lock()
	channelID := p.textChannelID
	p.mu.Unlock()

	payload := display.Payload{Embed: &display.Embed{Description: text}}
	if _, err := p.deps.Channel.Send(ctx, channelID, payload); err != nil {
		zlog.Warn().Msgf("playback: failed to send notice: guild=%s error=%v", p.guildID, err)
	}
}

func copyTracks(in []*track.Track) []track.Track {
	out := make([]track.Track, len(in))
	for i, t := range in {
		out[i] = *t
	}
	return out
}
