package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/domain/track"
	"github.com/osa030/lavabox/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig builds a chain from the enabled filters in cfg.
// Filters run in name order.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	chain := NewChain()
	for _, name := range RegisteredNames() {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(cfg.GetFilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		chain.Add(f)
		zlog.Info().Msgf("filter: enabled %s", name)
	}
	for name, fc := range cfg.Filters {
		if _, ok := registry[name]; !ok && fc.Enabled {
			return nil, errors.Newf("unknown filter: %s", name)
		}
	}
	return chain, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
func (c *Chain) Execute(ctx context.Context, req Request, t *track.Track, q QueueView) Result {
	for _, f := range c.filters {
		if !f.AppliesTo(req) {
			continue
		}

		result := f.Check(ctx, req, t, q)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Admit splits tracks into accepted and rejected. Accepted tracks are visible to later
// checks in the same batch so a playlist cannot overrun limits or duplicate itself.
func (c *Chain) Admit(ctx context.Context, req Request, tracks []*track.Track, q QueueView) (accepted []*track.Track, rejected []Result) {
	view := &batchView{base: q}
	for _, t := range tracks {
		result := c.Execute(ctx, req, t, view)
		if !result.Accepted {
			rejected = append(rejected, result)
			continue
		}
		accepted = append(accepted, t)
		view.pending = append(view.pending, t)
	}
	return accepted, rejected
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}

type batchView struct {
	base    QueueView
	pending []*track.Track
}

func (v *batchView) QueuedTracks() []*track.Track {
	var tracks []*track.Track
	if v.base != nil {
		tracks = v.base.QueuedTracks()
	}
	return append(tracks, v.pending...)
}

func (v *batchView) QueueLen() int {
	n := len(v.pending)
	if v.base != nil {
		n += v.base.QueueLen()
	}
	return n
}
