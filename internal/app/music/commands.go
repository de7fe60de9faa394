package music

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/playback"
	"github.com/osa030/lavabox/internal/app/skin"
	"github.com/osa030/lavabox/internal/domain/display"
	"github.com/osa030/lavabox/internal/domain/track"
	"github.com/osa030/lavabox/internal/infra/store"
)

// Skip ends the current track. The requester of the current track may always skip it.
func (s *Service) Skip(ctx context.Context, c Caller) error {
	p, err := s.control(c)
	if err != nil {
		return err
	}
	cur := p.Current()
	if cur == nil {
		return playback.ErrNothingPlaying
	}
	if cur.RequesterID != c.UserID {
		if err := s.authorize(ctx, p, c); err != nil {
			return err
		}
	}
	if err := p.Skip(ctx); err != nil {
		return err
	}
	s.log(p, c, "skipped %s", cur.Title)
	return nil
}

// SkipTo jumps to the first queued track matching query.
func (s *Service) SkipTo(ctx context.Context, c Caller, query string, playOnly bool) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if err := p.SkipTo(ctx, query, false, playOnly); err != nil {
		return err
	}
	s.log(p, c, "skipped to %s", query)
	return nil
}

// Back plays the previous track.
func (s *Service) Back(ctx context.Context, c Caller) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if err := p.Back(ctx); err != nil {
		return err
	}
	s.log(p, c, "went back")
	return nil
}

// Pause pauses playback.
func (s *Service) Pause(ctx context.Context, c Caller) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if err := p.Pause(ctx); err != nil {
		return err
	}
	s.log(p, c, "paused")
	return nil
}

// Resume resumes playback.
func (s *Service) Resume(ctx context.Context, c Caller) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if err := p.Resume(ctx); err != nil {
		return err
	}
	s.log(p, c, "resumed")
	return nil
}

// Seek moves within the current track. at is "mm:ss", "hh:mm:ss" or seconds.
func (s *Service) Seek(ctx context.Context, c Caller, at string) (time.Duration, error) {
	pos, err := ParseTimestamp(at)
	if err != nil {
		return 0, err
	}
	p, err := s.privileged(ctx, c)
	if err != nil {
		return 0, err
	}
	if err := p.Seek(ctx, pos); err != nil {
		return 0, err
	}
	s.log(p, c, "seeked to %s", track.FormatDuration(pos))
	return pos, nil
}

// Volume sets the player volume.
func (s *Service) Volume(ctx context.Context, c Caller, volume int) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if err := p.SetVolume(ctx, volume); err != nil {
		return err
	}
	s.log(p, c, "set volume to %d%%", volume)
	return nil
}

// Loop sets the loop mode, or a repeat count for the current track when arg is a number.
func (s *Service) Loop(ctx context.Context, c Caller, arg string) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil {
		if err := p.SetLoopCount(ctx, n); err != nil {
			return err
		}
		s.log(p, c, "set the current track to repeat %d time(s)", n)
		return nil
	}
	mode, err := playback.ParseLoopMode(arg)
	if err != nil {
		return err
	}
	if err := p.SetLoop(ctx, mode); err != nil {
		return err
	}
	s.log(p, c, "set loop to %s", mode)
	return nil
}

// Shuffle shuffles the queue.
func (s *Service) Shuffle(ctx context.Context, c Caller) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if err := p.Shuffle(ctx); err != nil {
		return err
	}
	s.log(p, c, "shuffled the queue")
	return nil
}

// Reverse reverses the queue.
func (s *Service) Reverse(ctx context.Context, c Caller) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if err := p.Reverse(ctx); err != nil {
		return err
	}
	s.log(p, c, "reversed the queue")
	return nil
}

// Remove deletes the queued track at a 1-based position, or the first track matching the query.
func (s *Service) Remove(ctx context.Context, c Caller, query string) ([]track.Track, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return nil, err
	}
	var removed []track.Track
	if pos, ok := position(query); ok {
		t, err := p.RemoveAt(ctx, pos)
		if err != nil {
			return nil, err
		}
		removed = []track.Track{t}
	} else {
		removed, err = p.Remove(ctx, query, 1, false)
		if err != nil {
			return nil, err
		}
	}
	s.log(p, c, "removed %s", removed[0].Title)
	return removed, nil
}

// Move relocates the first track matching query to a 1-based position.
func (s *Service) Move(ctx context.Context, c Caller, query string, to int) (track.Track, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return track.Track{}, err
	}
	moved, err := p.Move(ctx, query, 1, to, false)
	if err != nil {
		return track.Track{}, err
	}
	s.log(p, c, "moved %s to position %d", moved[0].Title, to)
	return moved[0], nil
}

// Rotate makes the first track matching query the next one to play.
func (s *Service) Rotate(ctx context.Context, c Caller, query string) (track.Track, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return track.Track{}, err
	}
	next, err := p.Rotate(ctx, query, false)
	if err != nil {
		return track.Track{}, err
	}
	s.log(p, c, "rotated the queue to %s", next.Title)
	return next, nil
}

// Clear removes queued tracks selected by opts.
func (s *Service) Clear(ctx context.Context, c Caller, opts playback.ClearOptions) (int, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return 0, err
	}
	n, err := p.Clear(ctx, opts)
	if err != nil {
		return 0, err
	}
	s.log(p, c, "cleared %d track(s)", n)
	return n, nil
}

// Readd queues the played history again.
func (s *Service) Readd(ctx context.Context, c Caller) (int, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return 0, err
	}
	n, err := p.Readd(ctx)
	if err != nil {
		return 0, err
	}
	s.log(p, c, "re-added %d played track(s)", n)
	return n, nil
}

// ClearFailed forgets the tracks that failed to play.
func (s *Service) ClearFailed(ctx context.Context, c Caller) (int, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return 0, err
	}
	return p.ClearFailed(ctx)
}

// Queue returns a snapshot of the guild player.
func (s *Service) Queue(c Caller) (display.Snapshot, error) {
	p, err := s.Player(c.GuildID)
	if err != nil {
		return display.Snapshot{}, err
	}
	return p.Snapshot(), nil
}

// KeepConnected toggles 24/7 mode and stores the choice for the guild. Managers only.
func (s *Service) KeepConnected(ctx context.Context, c Caller) (bool, error) {
	if !c.Manager {
		return false, ErrNotManager
	}
	p, err := s.control(c)
	if err != nil {
		return false, err
	}
	enabled := !p.KeepConnected()
	if err := p.SetKeepConnected(ctx, enabled); err != nil {
		return false, err
	}
	if err := s.store.Update(ctx, c.GuildID, store.KindGuild, map[string]any{"keep_connected": enabled}); err != nil {
		zlog.Warn().Msgf("music: failed to store 24/7 setting: guild=%s error=%v", c.GuildID, err)
	}
	s.log(p, c, "turned 24/7 mode %s", onOff(enabled))
	return enabled, nil
}

// Autoplay toggles autoplay.
func (s *Service) Autoplay(ctx context.Context, c Caller) (bool, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return false, err
	}
	enabled := !p.Autoplay()
	if err := p.SetAutoplay(ctx, enabled); err != nil {
		return false, err
	}
	s.log(p, c, "turned autoplay %s", onOff(enabled))
	return enabled, nil
}

// Restrict toggles restrict mode for the session.
func (s *Service) Restrict(ctx context.Context, c Caller) (bool, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return false, err
	}
	enabled := !p.Restricted()
	if err := p.SetRestrict(ctx, enabled); err != nil {
		return false, err
	}
	s.log(p, c, "turned restrict mode %s", onOff(enabled))
	return enabled, nil
}

// AddDJ grants another member session DJ rights.
func (s *Service) AddDJ(ctx context.Context, c Caller, userID string) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	p.AddDJ(userID)
	s.log(p, c, "added <@%s> as DJ", userID)
	return nil
}

// Stop destroys the guild player.
func (s *Service) Stop(ctx context.Context, c Caller) error {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	zlog.Info().Msgf("music: player stopped: guild=%s user=%s", c.GuildID, c.UserID)
	p.Destroy(ctx, s.cfg.StoppedMessage)
	return nil
}

// ChangeNode moves the player to the given node, or to the best other node when id is empty.
func (s *Service) ChangeNode(ctx context.Context, c Caller, id string) (string, error) {
	p, err := s.privileged(ctx, c)
	if err != nil {
		return "", err
	}
	if id == "" {
		n, err := s.selector.Select(p.NodeID())
		if err != nil {
			return "", err
		}
		id = n.ID()
	} else if _, ok := s.selector.Get(id); !ok {
		return "", errors.Wrapf(node.ErrUnknownNode, "%q", id)
	}
	if err := p.ChangeNode(ctx, id); err != nil {
		return "", err
	}
	s.log(p, c, "moved the player to node %s", id)
	return id, nil
}

// Nodes lists the audio nodes.
func (s *Service) Nodes() []node.Status {
	return s.selector.Nodes()
}

// Filters applies a named filter preset.
func (s *Service) Filters(ctx context.Context, c Caller, preset string) error {
	f, ok := node.Preset(strings.ToLower(strings.TrimSpace(preset)))
	if !ok {
		return errors.Wrapf(ErrUnknownPreset, "%q", preset)
	}
	p, err := s.privileged(ctx, c)
	if err != nil {
		return err
	}
	if err := p.SetFilters(ctx, f); err != nil {
		return err
	}
	s.log(p, c, "applied the %s filter", preset)
	return nil
}

// Skin changes the guild's control panel layout. Managers only.
func (s *Service) Skin(ctx context.Context, c Caller, name string) error {
	if !c.Manager {
		return ErrNotManager
	}
	sk, ok := skin.Get(name)
	if !ok {
		return errors.Wrapf(ErrUnknownSkin, "%q", name)
	}
	if err := s.store.Update(ctx, c.GuildID, store.KindGuild, map[string]any{"skin": sk.Name}); err != nil {
		return errors.Wrap(err, "store skin")
	}
	if p, err := s.Player(c.GuildID); err == nil && !p.Snapshot().Static {
		p.SetSkin(sk.Renderer, sk.AutoRefresh)
		s.log(p, c, "changed the skin to %s", sk.Name)
	}
	return nil
}

// Button handles a control panel button press and returns the resulting action name.
func (s *Service) Button(ctx context.Context, c Caller, id string) (string, error) {
	switch id {
	case display.ButtonBack:
		return "back", s.Back(ctx, c)
	case display.ButtonPause:
		p, err := s.control(c)
		if err != nil {
			return "", err
		}
		if p.State() == playback.StatePaused {
			return "resume", s.Resume(ctx, c)
		}
		return "pause", s.Pause(ctx, c)
	case display.ButtonSkip:
		return "skip", s.Skip(ctx, c)
	case display.ButtonStop:
		return "stop", s.Stop(ctx, c)
	case display.ButtonShuffle:
		return "shuffle", s.Shuffle(ctx, c)
	case display.ButtonLoop:
		p, err := s.privileged(ctx, c)
		if err != nil {
			return "", err
		}
		next := p.Loop().Next()
		if err := p.SetLoop(ctx, next); err != nil {
			return "", err
		}
		s.log(p, c, "set loop to %s", next)
		return "loop", nil
	case display.ButtonAutoplay:
		_, err := s.Autoplay(ctx, c)
		return "autoplay", err
	default:
		if key, ok := display.FavouriteKey(id); ok {
			return "favourite", s.PlayFavourite(ctx, c, key)
		}
		return "", errors.Wrapf(ErrUnknownButton, "%q", id)
	}
}

// PlayFavourite queues the guild's saved link stored under key.
func (s *Service) PlayFavourite(ctx context.Context, c Caller, key string) error {
	settings, err := store.LoadGuildSettings(ctx, s.store, c.GuildID)
	if err != nil {
		return errors.Wrap(err, "load guild settings")
	}
	link, ok := settings.PlayerController.FavLinks[key]
	if !ok || link.URL == "" {
		return errors.Wrapf(ErrUnknownButton, "favourite %q", key)
	}
	_, err = s.Play(ctx, c, PlayRequest{Query: link.URL})
	return err
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
