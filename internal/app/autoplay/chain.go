package autoplay

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// ErrNoCandidates is returned when every provider came back empty.
var ErrNoCandidates = errors.New("all providers failed to return candidates")

// Chain tries providers in order and returns the first non-empty result.
type Chain struct {
	providers []Provider
}

// NewChain creates a provider chain.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Related implements Provider.
func (c *Chain) Related(ctx context.Context, searcher node.Searcher, seed *track.Track) ([]*track.Track, error) {
	for i, p := range c.providers {
		zlog.Debug().Msgf("autoplay: trying provider: index=%d total=%d provider=%s", i+1, len(c.providers), p.Name())

		candidates, err := p.Related(ctx, searcher, seed)
		if err != nil {
			zlog.Warn().Msgf("autoplay: provider failed, trying next: provider=%s error=%v", p.Name(), err)
			continue
		}
		if len(candidates) == 0 {
			zlog.Debug().Msgf("autoplay: provider returned no candidates: provider=%s", p.Name())
			continue
		}

		zlog.Info().Msgf("autoplay: provider returned candidates: provider=%s count=%d", p.Name(), len(candidates))
		return candidates, nil
	}
	return nil, ErrNoCandidates
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return "provider_chain"
}
