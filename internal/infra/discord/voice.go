package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
)

// Voice joins and leaves voice channels through the gateway. Audio is carried by the node, so
// only the voice state handshake happens here.
type Voice struct {
	session *discordgo.Session
}

// NewVoice creates a Voice on the session.
func NewVoice(s *discordgo.Session) *Voice {
	return &Voice{session: s}
}

func (v *Voice) Join(ctx context.Context, guildID, channelID string) error {
	if err := v.session.ChannelVoiceJoinManual(guildID, channelID, false, true); err != nil {
		return errors.Wrapf(err, "join voice channel %s", channelID)
	}
	return nil
}

func (v *Voice) Leave(ctx context.Context, guildID string) error {
	if err := v.session.ChannelVoiceJoinManual(guildID, "", false, false); err != nil {
		return errors.Wrap(err, "leave voice channel")
	}
	return nil
}

// voiceChannel returns the user's current voice channel in the guild.
func voiceChannel(state *discordgo.State, guildID, userID string) string {
	if state == nil {
		return ""
	}
	vs, err := state.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// listeners returns the non-bot members connected to channelID, excluding selfID.
func listeners(state *discordgo.State, guildID, channelID, selfID string) map[string]bool {
	out := make(map[string]bool)
	if state == nil || channelID == "" {
		return out
	}
	g, err := state.Guild(guildID)
	if err != nil {
		return out
	}
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == selfID {
			continue
		}
		if isBot(g, vs) {
			continue
		}
		out[vs.UserID] = true
	}
	return out
}

// isBot reports whether the voice state belongs to a bot account.
func isBot(g *discordgo.Guild, vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	for _, m := range g.Members {
		if m.User != nil && m.User.ID == vs.UserID {
			return m.User.Bot
		}
	}
	return false
}
