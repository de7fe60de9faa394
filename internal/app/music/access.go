package music

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/lavabox/internal/app/playback"
	"github.com/osa030/lavabox/internal/infra/store"
)

// control returns the guild player after checking that the caller shares its voice channel.
func (s *Service) control(c Caller) (*playback.Player, error) {
	p, err := s.Player(c.GuildID)
	if err != nil {
		return nil, err
	}
	if c.VoiceChannelID == "" {
		return nil, ErrNotInVoice
	}
	if p.VoiceChannelID() != c.VoiceChannelID {
		return nil, ErrDifferentChannel
	}
	return p, nil
}

// privileged is control plus authorize.
func (s *Service) privileged(ctx context.Context, c Caller) (*playback.Player, error) {
	p, err := s.control(c)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, c); err != nil {
		return nil, err
	}
	return p, nil
}

// authorize decides whether the caller may change playback.
//
// The creator, session DJs and managers always pass. Under 24/7 nobody else does. Holders of
// a guild DJ role pass next, then restrict mode refuses everyone left. Otherwise the caller is
// allowed, and is promoted to session DJ when no DJ is listening.
func (s *Service) authorize(ctx context.Context, p *playback.Player, c Caller) error {
	if p.IsDJ(c.UserID) || c.Manager {
		return nil
	}
	if p.KeepConnected() {
		return ErrManagerOnly
	}

	settings, err := store.LoadGuildSettings(ctx, s.store, c.GuildID)
	if err != nil {
		return errors.Wrap(err, "load guild settings")
	}
	for _, role := range c.RoleIDs {
		if settings.IsDJRole(role) {
			return nil
		}
	}
	if p.Restricted() {
		return ErrRestricted
	}

	if c.PresentMembers != nil && !anyDJ(p, c.PresentMembers) {
		p.AddDJ(c.UserID)
	}
	return nil
}

func anyDJ(p *playback.Player, members map[string]bool) bool {
	for id, present := range members {
		if present && p.IsDJ(id) {
			return true
		}
	}
	return false
}
