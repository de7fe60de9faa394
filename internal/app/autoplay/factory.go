package autoplay

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/infra/config"
)

// NewChainFromConfig creates a provider chain from configuration.
// Without configured providers the chain holds a default mix provider.
func NewChainFromConfig(cfg config.AutoplayConfig) (*Chain, error) {
	if len(cfg.Providers) == 0 {
		mix, err := NewMixProvider(nil)
		if err != nil {
			return nil, err
		}
		return NewChain(mix), nil
	}

	var providers []Provider
	for i, pcfg := range cfg.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("autoplay: creating provider: index=%d type=%s", i+1, pcfg.Type)
		switch pcfg.Type {
		case "mix":
			provider, err = NewMixProvider(pcfg.Settings)
		case "lastfm":
			provider, err = NewLastFmProvider(pcfg.Settings)
		case "playlist":
			provider, err = NewPlaylistProvider(pcfg.Settings)
		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}
		providers = append(providers, provider)
		zlog.Info().Msgf("autoplay: registered provider: index=%d type=%s", i+1, pcfg.Type)
	}
	return NewChain(providers...), nil
}
