// Package music turns the bot's command vocabulary into player operations.
// It checks the caller's voice channel and permissions, resolves queries and applies the
// admission filters before anything reaches a player.
package music

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/filter"
	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/playback"
	"github.com/osa030/lavabox/internal/app/registry"
	"github.com/osa030/lavabox/internal/app/skin"
	"github.com/osa030/lavabox/internal/domain/display"
	"github.com/osa030/lavabox/internal/domain/track"
	"github.com/osa030/lavabox/internal/infra/config"
	"github.com/osa030/lavabox/internal/infra/store"
)

// Resolver turns a query into tracks. ok is false when the query is not for this resolver.
type Resolver interface {
	Resolve(ctx context.Context, query string) (res *node.LoadResult, ok bool, err error)
}

// Caller is the member issuing a command.
type Caller struct {
	GuildID        string
	UserID         string
	TextChannelID  string
	VoiceChannelID string   // The caller's current voice channel, empty when not connected
	RoleIDs        []string // Guild roles held by the caller
	Manager        bool     // Holds the manage server permission
	// PresentMembers are the non-bot members in the bot's voice channel, when known.
	PresentMembers map[string]bool
}

// Config holds service configuration.
type Config struct {
	SearchPrefix      string
	DefaultVolume     int
	DefaultSkin       string
	DefaultStaticSkin string
	StoppedMessage    string
}

// ConfigFrom builds a service Config from application settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		SearchPrefix:      cfg.Player.SearchPrefix,
		DefaultVolume:     cfg.Player.DefaultVolume,
		DefaultSkin:       cfg.Player.DefaultSkin,
		DefaultStaticSkin: cfg.Player.DefaultStaticSkin,
		StoppedMessage:    cfg.Messages.Stopped,
	}
}

// Deps are the collaborators used by the service.
type Deps struct {
	Registry  *registry.Registry
	Selector  *node.Selector
	Store     store.Store
	Filters   *filter.Chain // Optional
	Voice     playback.Voice
	Resolvers []Resolver // Consulted in order before falling back to node lookups
}

// Service executes music commands.
type Service struct {
	cfg       Config
	registry  *registry.Registry
	selector  *node.Selector
	store     store.Store
	filters   *filter.Chain
	voice     playback.Voice
	resolvers []Resolver
}

// New creates a service.
func New(cfg Config, deps Deps) *Service {
	if cfg.SearchPrefix == "" {
		cfg.SearchPrefix = "ytsearch"
	}
	chain := deps.Filters
	if chain == nil {
		chain = filter.NewChain()
	}
	return &Service{
		cfg:       cfg,
		registry:  deps.Registry,
		selector:  deps.Selector,
		store:     deps.Store,
		filters:   chain,
		voice:     deps.Voice,
		resolvers: deps.Resolvers,
	}
}

// Player returns the guild's player.
func (s *Service) Player(guildID string) (*playback.Player, error) {
	p, ok := s.registry.Get(guildID)
	if !ok || p.Closing() {
		return nil, ErrNoPlayer
	}
	return p, nil
}

// Connect joins the caller's voice channel, creating the guild player if needed.
func (s *Service) Connect(ctx context.Context, c Caller) (*playback.Player, bool, error) {
	if c.VoiceChannelID == "" {
		return nil, false, ErrNotInVoice
	}
	if p, err := s.Player(c.GuildID); err == nil {
		if p.VoiceChannelID() != c.VoiceChannelID {
			return nil, false, ErrDifferentChannel
		}
		return p, false, nil
	}

	settings, err := store.LoadGuildSettings(ctx, s.store, c.GuildID)
	if err != nil {
		return nil, false, errors.Wrap(err, "load guild settings")
	}

	p, created, err := s.registry.GetOrCreate(ctx, c.GuildID, s.playerOptions(c, settings))
	if err != nil {
		return nil, false, err
	}
	if !created {
		return p, false, nil
	}

	if s.voice != nil {
		if err := s.voice.Join(ctx, c.GuildID, c.VoiceChannelID); err != nil {
			p.Destroy(ctx, "")
			return nil, false, errors.Wrap(err, "join voice channel")
		}
	}
	zlog.Info().Msgf("music: player connected: guild=%s channel=%s user=%s", c.GuildID, c.VoiceChannelID, c.UserID)
	return p, true, nil
}

func (s *Service) playerOptions(c Caller, settings store.GuildSettings) playback.Options {
	opts := playback.Options{
		VoiceChannelID: c.VoiceChannelID,
		TextChannelID:  c.TextChannelID,
		CreatorID:      c.UserID,
		Volume:         settings.DefaultPlayerVolume,
		Autoplay:       settings.Autoplay,
		KeepConnected:  settings.KeepConnected,
		Restrict:       settings.EnableRestrictMode,
	}
	if opts.Volume <= 0 {
		opts.Volume = s.cfg.DefaultVolume
	}

	if pc := settings.PlayerController; pc.Enabled() {
		sk := skin.GetOrDefault(firstNonEmpty(settings.StaticSkin, s.cfg.DefaultStaticSkin))
		opts.Renderer = sk.Renderer
		opts.AutoRefresh = sk.AutoRefresh
		opts.Static = true
		opts.TextChannelID = pc.Channel
		opts.StaticMessage = &display.MessageRef{ChannelID: pc.Channel, MessageID: pc.MessageID}
		opts.Favourites = favourites(pc.FavLinks)
		return opts
	}

	sk := skin.GetOrDefault(firstNonEmpty(settings.Skin, s.cfg.DefaultSkin))
	opts.Renderer = sk.Renderer
	opts.AutoRefresh = sk.AutoRefresh
	return opts
}

// favourites lists saved links in key order, labelled by description when one is set.
func favourites(links map[string]store.FavLink) []display.Favourite {
	keys := slices.Sorted(maps.Keys(links))
	out := make([]display.Favourite, 0, len(keys))
	for _, k := range keys {
		label := links[k].Description
		if label == "" {
			label = k
		}
		out = append(out, display.Favourite{Key: k, Label: label})
	}
	return out
}

// PlayRequest is a play command.
type PlayRequest struct {
	Query    string
	Position int  // 1-based queue position, 0 appends
	Now      bool // Skip to the first requested track
}

// PlayResult reports what a play command queued.
type PlayResult struct {
	Tracks   []track.Track
	Rejected map[string]int // Rejection code to count
	Playlist *track.Ref
	Created  bool
}

// Play resolves the query and queues the result, starting playback when idle.
func (s *Service) Play(ctx context.Context, c Caller, req PlayRequest) (*PlayResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	p, created, err := s.Connect(ctx, c)
	if err != nil {
		return nil, err
	}
	if req.Now {
		if err := s.authorize(ctx, p, c); err != nil {
			return nil, err
		}
	}

	res, err := s.Resolve(ctx, p.NodeID(), query)
	if err != nil {
		if created {
			p.Destroy(ctx, "")
		}
		return nil, err
	}

	tracks := res.Tracks
	if res.Type == node.LoadSearch {
		tracks = tracks[:1]
	}
	for _, t := range tracks {
		t.RequesterID = c.UserID
		if res.Playlist != nil && t.Playlist == nil && t.Album == nil {
			ref := *res.Playlist
			t.Playlist = &ref
		}
	}

	accepted, rejected := s.filters.Admit(ctx, filter.Request{GuildID: c.GuildID, RequesterID: c.UserID}, tracks, p)
	out := &PlayResult{Playlist: res.Playlist, Created: created}
	if len(rejected) > 0 {
		out.Rejected = make(map[string]int)
		for _, r := range rejected {
			out.Rejected[r.Code]++
		}
	}
	if len(accepted) == 0 {
		if created {
			p.Destroy(ctx, "")
		}
		return out, &RejectedError{Code: rejected[0].Code}
	}

	if req.Now {
		err = p.PlayNow(ctx, accepted...)
	} else {
		err = p.Enqueue(ctx, req.Position, accepted...)
	}
	if err != nil {
		return out, err
	}

	out.Tracks = make([]track.Track, len(accepted))
	for i, t := range accepted {
		out.Tracks[i] = *t
	}
	s.log(p, c, "added %d track(s)", len(accepted))
	zlog.Info().Msgf("music: tracks queued: guild=%s user=%s accepted=%d rejected=%d", c.GuildID, c.UserID, len(accepted), len(rejected))
	return out, nil
}

// Resolve looks query up. Registered resolvers go first; links go to a node as-is and text is
// searched with the configured prefix.
func (s *Service) Resolve(ctx context.Context, preferNode, query string) (*node.LoadResult, error) {
	for _, r := range s.resolvers {
		res, ok, err := r.Resolve(ctx, query)
		if !ok {
			continue
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "resolve %q", query), ErrNotFound)
		}
		return res, nil
	}

	identifier := query
	if !isURL(query) {
		identifier = s.cfg.SearchPrefix + ":" + query
	}

	c, err := s.selector.SelectSearch(preferNode)
	if err != nil {
		return nil, err
	}
	res, err := c.LoadTracks(ctx, identifier)
	if err != nil {
		return nil, errors.Wrapf(err, "load %q", identifier)
	}
	if res != nil && res.Type == node.LoadError {
		msg := "load failed"
		if res.Exception != nil {
			msg = res.Exception.Error()
		}
		return nil, errors.Wrapf(ErrNotFound, "%q: %s", query, msg)
	}
	if res.Empty() {
		return nil, errors.Wrapf(ErrNotFound, "%q", query)
	}
	return res, nil
}

// log records the last action on the control panel.
func (s *Service) log(p *playback.Player, c Caller, format string, args ...any) {
	p.Log("<@" + c.UserID + "> " + fmt.Sprintf(format, args...))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
