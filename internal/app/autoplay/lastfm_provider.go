package autoplay

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
	"github.com/osa030/lavabox/internal/infra/lastfm"
)

// LastFmClient defines the Last.fm operations used by LastFmProvider.
type LastFmClient interface {
	GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.SimilarTrack, error)
	GetArtistTopTracks(ctx context.Context, artistName string, limit int) ([]lastfm.SimilarTrack, error)
}

// LastFmProviderConfig configures LastFmProvider.
type LastFmProviderConfig struct {
	APIKey       string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	Limit        int    `yaml:"limit" mapstructure:"limit" default:"10" validate:"gte=1,lte=50"`
	SearchPrefix string `yaml:"search_prefix" mapstructure:"search_prefix" default:"ytsearch" validate:"required"`
}

// LastFmProvider asks Last.fm for tracks similar to the seed and resolves each one through a
// node search.
type LastFmProvider struct {
	lastfm LastFmClient
	config *LastFmProviderConfig
}

// NewLastFmProvider creates a LastFmProvider from raw settings.
func NewLastFmProvider(settings map[string]any) (*LastFmProvider, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config LastFmProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	client, err := lastfm.New(lastfm.Config{APIKey: config.APIKey})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}
	return newLastFmProvider(client, &config), nil
}

func newLastFmProvider(client LastFmClient, config *LastFmProviderConfig) *LastFmProvider {
	return &LastFmProvider{lastfm: client, config: config}
}

// Name returns the provider name.
func (p *LastFmProvider) Name() string {
	return "lastfm"
}

// Related implements Provider.
func (p *LastFmProvider) Related(ctx context.Context, searcher node.Searcher, seed *track.Track) ([]*track.Track, error) {
	if seed == nil || seed.Author == "" {
		return nil, errors.New("seed track needs an author")
	}

	var similar []lastfm.SimilarTrack
	var err error
	if seed.Title != "" {
		similar, err = p.lastfm.GetSimilarTracks(ctx, seed.Title, seed.Author, p.config.Limit)
		if err != nil {
			zlog.Debug().Msgf("autoplay: lastfm similar lookup failed: seed=%s error=%v", seed.Title, err)
		}
	}
	if len(similar) == 0 {
		similar, err = p.lastfm.GetArtistTopTracks(ctx, seed.Author, p.config.Limit)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get artist top tracks")
		}
	}

	out := make([]*track.Track, 0, len(similar))
	for _, s := range similar {
		if s.Name == seed.Title && s.Artist == seed.Author {
			continue
		}
		res, err := searcher.LoadTracks(ctx, fmt.Sprintf("%s:%s - %s", p.config.SearchPrefix, s.Artist, s.Name))
		if err != nil || res.Empty() {
			continue
		}
		out = append(out, res.Tracks[0])
	}
	return out, nil
}
