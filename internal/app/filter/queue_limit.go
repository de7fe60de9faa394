package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/lavabox/internal/domain/track"
)

// QueueLimitConfig represents the configuration for QueueLimitFilter.
type QueueLimitConfig struct {
	MaxTracks int `yaml:"max_tracks" mapstructure:"max_tracks" default:"500" validate:"gte=1"`
}

// QueueLimitFilter rejects tracks once the queue is full.
type QueueLimitFilter struct {
	config *QueueLimitConfig
}

func (f *QueueLimitFilter) Name() string { return "queue_limit_filter" }

func (f *QueueLimitFilter) Description() string {
	return "Rejects tracks when the queue already holds max_tracks entries"
}

func (f *QueueLimitFilter) ReturnCodes() []string { return []string{"queue_full"} }

func (f *QueueLimitFilter) ValidateConfig(settings map[string]any) error {
	var config QueueLimitConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	f.config = &config
	return nil
}

func (f *QueueLimitFilter) AppliesTo(req Request) bool {
	return !req.Autoplay
}

func (f *QueueLimitFilter) Check(ctx context.Context, req Request, t *track.Track, q QueueView) Result {
	if f.config == nil || q == nil {
		return Accept()
	}
	if q.QueueLen() >= f.config.MaxTracks {
		return Reject("queue_full")
	}
	return Accept()
}

func init() {
	Register("queue_limit_filter", func() Filter {
		return &QueueLimitFilter{}
	})
}
