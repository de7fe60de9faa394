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
)

// MixProviderConfig configures MixProvider.
type MixProviderConfig struct {
	Attempts     int    `yaml:"attempts" mapstructure:"attempts" default:"3" validate:"gte=1,lte=10"`
	SearchPrefix string `yaml:"search_prefix" mapstructure:"search_prefix" default:"ytmsearch" validate:"required"`
}

// MixProvider finds related tracks through the node itself: the youtube radio mix of the seed
// when it has a platform id, otherwise a search on the seed author.
type MixProvider struct {
	config *MixProviderConfig
}

// NewMixProvider creates a MixProvider from raw settings. Nil settings use defaults.
func NewMixProvider(settings map[string]any) (*MixProvider, error) {
	var config MixProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &MixProvider{config: &config}, nil
}

// Name returns the provider name.
func (p *MixProvider) Name() string {
	return "mix"
}

// Related implements Provider.
func (p *MixProvider) Related(ctx context.Context, searcher node.Searcher, seed *track.Track) ([]*track.Track, error) {
	if seed == nil {
		return nil, errors.New("seed track is required")
	}

	query, dropFirst := p.query(seed)
	if query == "" {
		return nil, errors.New("seed track has neither platform id nor author")
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.Attempts; attempt++ {
		res, err := searcher.LoadTracks(ctx, query)
		if err != nil {
			lastErr = err
			zlog.Debug().Msgf("autoplay: mix lookup failed: attempt=%d query=%s error=%v", attempt, query, err)
			continue
		}
		if res.Empty() {
			lastErr = errors.Newf("no results for %s", query)
			continue
		}

		tracks := res.Tracks
		if dropFirst && len(tracks) > 0 {
			tracks = tracks[1:]
		}
		out := make([]*track.Track, 0, len(tracks))
		for _, t := range tracks {
			if seed.PlatformID != "" && t.PlatformID == seed.PlatformID {
				continue
			}
			out = append(out, t)
		}
		return out, nil
	}
	return nil, errors.Wrap(lastErr, "mix lookup failed")
}

func (p *MixProvider) query(seed *track.Track) (string, bool) {
	if seed.PlatformID != "" {
		return fmt.Sprintf("https://www.youtube.com/watch?v=%s&list=RD%s", seed.PlatformID, seed.PlatformID), false
	}
	if seed.Author != "" {
		return fmt.Sprintf("%s:%s", p.config.SearchPrefix, seed.Author), true
	}
	return "", false
}
