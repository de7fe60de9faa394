package discord

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/app/music"
	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/registry"
	"github.com/osa030/lavabox/internal/infra/config"
)

const commandTimeout = 30 * time.Second

// Bot routes Discord gateway events to the music service.
type Bot struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	svc      *music.Service
	registry *registry.Registry
	commands map[string]command
	messages func(code string) string
	fallback string
}

// NewSession creates a gateway session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	s.StateEnabled = true
	s.State.TrackVoice = true
	return s, nil
}

// New creates a bot on the session and registers its gateway handlers.
func New(s *discordgo.Session, cfg *config.Config, svc *music.Service, reg *registry.Registry) *Bot {
	b := &Bot{
		session:  s,
		cfg:      cfg.Discord,
		svc:      svc,
		registry: reg,
		commands: commands(),
		messages: cfg.GetMessage,
		fallback: cfg.Messages.DefaultError,
	}
	s.AddHandler(b.onReady)
	s.AddHandler(b.onInteractionCreate)
	s.AddHandler(b.onVoiceStateUpdate)
	s.AddHandler(b.onVoiceServerUpdate)
	return b
}

// Open connects to the gateway and returns the bot user ID.
func (b *Bot) Open() (string, error) {
	if err := b.session.Open(); err != nil {
		return "", errors.Wrap(err, "open discord session")
	}
	return b.session.State.User.ID, nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) selfID() string {
	if b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	defs := make([]*discordgo.ApplicationCommand, 0, len(b.commands))
	for _, c := range b.commands {
		defs = append(defs, c.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, b.cfg.GuildID, defs); err != nil {
		zlog.Error().Msgf("discord: register commands failed: %v", err)
		return
	}
	zlog.Info().Msgf("discord: bot ready: user=%s guilds=%d commands=%d", r.User.Username, len(r.Guilds), len(defs))
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil {
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleButton(s, i)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	cmd, ok := b.commands[data.Name]
	if !ok {
		return
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		zlog.Warn().Msgf("discord: defer response failed: command=%s err=%v", data.Name, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	c := b.caller(i)
	text, err := cmd.run(ctx, b.svc, c, optionsOf(data.Options))
	if err != nil {
		text = b.errorText(err)
		if !music.IsUserError(err) {
			zlog.Error().Msgf("discord: command failed: command=%s guild=%s user=%s err=%+v", data.Name, c.GuildID, c.UserID, err)
		}
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &text}); err != nil {
		zlog.Warn().Msgf("discord: reply failed: command=%s err=%v", data.Name, err)
	}
}

func (b *Bot) handleButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	c := b.caller(i)
	id := i.MessageComponentData().CustomID

	action, err := b.svc.Button(ctx, c, id)
	if err == nil {
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		}); err != nil {
			zlog.Warn().Msgf("discord: acknowledge button failed: action=%s err=%v", action, err)
		}
		return
	}

	if !music.IsUserError(err) {
		zlog.Error().Msgf("discord: button failed: button=%s guild=%s user=%s err=%+v", id, c.GuildID, c.UserID, err)
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: b.errorText(err), Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		zlog.Warn().Msgf("discord: reply failed: button=%s err=%v", id, err)
	}
}

// caller describes the member behind an interaction.
func (b *Bot) caller(i *discordgo.InteractionCreate) music.Caller {
	c := music.Caller{
		GuildID:       i.GuildID,
		UserID:        i.Member.User.ID,
		TextChannelID: i.ChannelID,
		RoleIDs:       i.Member.Roles,
		Manager:       i.Member.Permissions&discordgo.PermissionManageServer != 0,
	}
	c.VoiceChannelID = voiceChannel(b.session.State, c.GuildID, c.UserID)
	if p, ok := b.registry.Get(c.GuildID); ok {
		c.PresentMembers = listeners(b.session.State, c.GuildID, p.VoiceChannelID(), b.selfID())
	}
	return c
}

// errorText is the reply shown for a failed command.
func (b *Bot) errorText(err error) string {
	var rejected *music.RejectedError
	if errors.As(err, &rejected) {
		if msg := b.messages(rejected.Code); msg != "" {
			return msg
		}
	}
	if music.IsUserError(err) {
		return errors.UnwrapAll(err).Error()
	}
	return b.fallback
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	p, ok := b.registry.Get(vs.GuildID)
	if !ok || p.Closing() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	self := b.selfID()
	if vs.UserID == self && vs.ChannelID != "" {
		err := p.SetVoiceState(ctx, node.VoiceState{SessionID: vs.SessionID, ChannelID: vs.ChannelID})
		if err != nil {
			zlog.Warn().Msgf("discord: forward voice state failed: guild=%s err=%v", vs.GuildID, err)
		}
	}

	present, ok := presence(s.State, vs, p.VoiceChannelID(), self)
	if !ok {
		return
	}
	if err := p.OnVoiceStateChange(ctx, present); err != nil {
		zlog.Warn().Msgf("discord: voice presence update failed: guild=%s err=%v", vs.GuildID, err)
	}
}

// presence reports whether a voice state update touches the player's channel and, if so,
// whether listeners remain in it. An update for the bot itself moves the player to its new
// channel.
func presence(state *discordgo.State, vs *discordgo.VoiceStateUpdate, channel, selfID string) (bool, bool) {
	if vs.UserID == selfID {
		if vs.ChannelID == "" {
			return false, false
		}
		channel = vs.ChannelID
	} else {
		before := ""
		if vs.BeforeUpdate != nil {
			before = vs.BeforeUpdate.ChannelID
		}
		if channel == "" || (vs.ChannelID != channel && before != channel) {
			return false, false
		}
	}
	return len(listeners(state, vs.GuildID, channel, selfID)) > 0, true
}

func (b *Bot) onVoiceServerUpdate(s *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	p, ok := b.registry.Get(e.GuildID)
	if !ok || p.Closing() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := p.SetVoiceState(ctx, node.VoiceState{Token: e.Token, Endpoint: e.Endpoint}); err != nil {
		zlog.Warn().Msgf("discord: forward voice server failed: guild=%s err=%v", e.GuildID, err)
	}
}
