package autoplay

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// PlaylistProviderConfig configures PlaylistProvider.
type PlaylistProviderConfig struct {
	PlaylistURL string `yaml:"playlist_url" mapstructure:"playlist_url" validate:"required,url"`
	Count       int    `yaml:"count" mapstructure:"count" default:"5" validate:"gte=1,lte=50"`
	RefreshSecs int    `yaml:"refresh_secs" mapstructure:"refresh_secs" default:"3600" validate:"gte=60"`
}

// PlaylistProvider ignores the seed's neighbourhood and draws random tracks from a fixed
// playlist. The playlist is loaded through the node and cached until it goes stale.
type PlaylistProvider struct {
	config *PlaylistProviderConfig

	mu       sync.Mutex
	cache    []*track.Track
	loadedAt time.Time
	now      func() time.Time
}

// NewPlaylistProvider creates a PlaylistProvider from raw settings.
func NewPlaylistProvider(settings map[string]any) (*PlaylistProvider, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config PlaylistProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &PlaylistProvider{config: &config, now: time.Now}, nil
}

// Name returns the provider name.
func (p *PlaylistProvider) Name() string {
	return "playlist"
}

// Related implements Provider.
func (p *PlaylistProvider) Related(ctx context.Context, searcher node.Searcher, seed *track.Track) ([]*track.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cache) == 0 || p.now().Sub(p.loadedAt) >= time.Duration(p.config.RefreshSecs)*time.Second {
		if err := p.load(ctx, searcher); err != nil {
			if len(p.cache) == 0 {
				return nil, err
			}
			zlog.Warn().Msgf("autoplay: playlist reload failed, serving stale copy: url=%s error=%v", p.config.PlaylistURL, err)
		}
	}

	available := make([]*track.Track, 0, len(p.cache))
	for _, t := range p.cache {
		if seed != nil && sameSource(t, seed) {
			continue
		}
		available = append(available, t)
	}
	rand.Shuffle(len(available), func(i, j int) { available[i], available[j] = available[j], available[i] })
	if len(available) > p.config.Count {
		available = available[:p.config.Count]
	}
	return available, nil
}

// load must be called with mu held.
func (p *PlaylistProvider) load(ctx context.Context, searcher node.Searcher) error {
	res, err := searcher.LoadTracks(ctx, p.config.PlaylistURL)
	if err != nil {
		return errors.Wrap(err, "failed to load playlist")
	}
	if res.Empty() {
		return errors.Newf("playlist %s has no tracks", p.config.PlaylistURL)
	}

	tracks := make([]*track.Track, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		if t.IsStream {
			continue
		}
		tracks = append(tracks, t)
	}
	p.cache = tracks
	p.loadedAt = p.now()
	zlog.Debug().Msgf("autoplay: playlist cached: url=%s tracks=%d", p.config.PlaylistURL, len(tracks))
	return nil
}

func sameSource(a, b *track.Track) bool {
	if a.PlatformID != "" && a.PlatformID == b.PlatformID {
		return true
	}
	return a.URI != "" && a.URI == b.URI
}
