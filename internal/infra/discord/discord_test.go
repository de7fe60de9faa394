package discord

import (
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/lavabox/internal/app/music"
	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/display"
)

func TestComponents(t *testing.T) {
	var buttons []display.Button
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		buttons = append(buttons, display.Button{ID: id, Label: id})
	}
	buttons[0].Emoji = "⏮"
	buttons[1].Style = int(discordgo.PrimaryButton)
	buttons[2].Disabled = true

	rows := components(buttons)
	require.Len(t, rows, 2)
	first := rows[0].(discordgo.ActionsRow)
	second := rows[1].(discordgo.ActionsRow)
	assert.Len(t, first.Components, 5)
	assert.Len(t, second.Components, 2)

	b0 := first.Components[0].(discordgo.Button)
	assert.Equal(t, "a", b0.CustomID)
	assert.Equal(t, discordgo.SecondaryButton, b0.Style)
	require.NotNil(t, b0.Emoji)
	assert.Equal(t, "⏮", b0.Emoji.Name)
	assert.Equal(t, discordgo.PrimaryButton, first.Components[1].(discordgo.Button).Style)
	assert.True(t, first.Components[2].(discordgo.Button).Disabled)

	assert.Empty(t, components(nil))
}

func TestEmbeds(t *testing.T) {
	assert.Empty(t, embeds(nil))

	out := embeds(&display.Embed{
		Title:     "Now playing",
		Thumbnail: "https://img/1.jpg",
		Footer:    "node a",
		Fields:    []display.Field{{Name: "Author", Value: "Rick", Inline: true}},
	})
	require.Len(t, out, 1)
	e := out[0]
	assert.Equal(t, "Now playing", e.Title)
	assert.Equal(t, "https://img/1.jpg", e.Thumbnail.URL)
	assert.Nil(t, e.Image)
	assert.Equal(t, "node a", e.Footer.Text)
	require.Len(t, e.Fields, 1)
	assert.True(t, e.Fields[0].Inline)
}

func TestMapError(t *testing.T) {
	restErr := func(status, code int) error {
		e := &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
		if code != 0 {
			e.Message = &discordgo.APIErrorMessage{Code: code}
		}
		return e
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "missing permission", err: restErr(http.StatusForbidden, codeMissingPermission), want: display.ErrForbidden},
		{name: "missing access", err: restErr(http.StatusForbidden, codeMissingAccess), want: display.ErrForbidden},
		{name: "unknown message", err: restErr(http.StatusNotFound, codeUnknownMessage), want: display.ErrMessageGone},
		{name: "unknown channel", err: restErr(http.StatusNotFound, codeUnknownChannel), want: display.ErrMessageGone},
		{name: "bare forbidden", err: restErr(http.StatusForbidden, 0), want: display.ErrForbidden},
		{name: "bare not found", err: restErr(http.StatusNotFound, 0), want: display.ErrMessageGone},
		{name: "wrapped", err: errors.Wrap(restErr(http.StatusNotFound, codeUnknownMessage), "edit"), want: display.ErrMessageGone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}

	assert.NoError(t, mapError(nil))
	rateLimited := restErr(http.StatusTooManyRequests, 0)
	assert.NotErrorIs(t, mapError(rateLimited), display.ErrForbidden)
	assert.NotErrorIs(t, mapError(rateLimited), display.ErrMessageGone)
}

func newState(t *testing.T) *discordgo.State {
	t.Helper()
	state := discordgo.NewState()
	require.NoError(t, state.GuildAdd(&discordgo.Guild{
		ID: "g1",
		Members: []*discordgo.Member{
			{User: &discordgo.User{ID: "music-bot", Bot: true}},
		},
		VoiceStates: []*discordgo.VoiceState{
			{GuildID: "g1", UserID: "self", ChannelID: "vc"},
			{GuildID: "g1", UserID: "u1", ChannelID: "vc"},
			{GuildID: "g1", UserID: "u2", ChannelID: "other"},
			{GuildID: "g1", UserID: "music-bot", ChannelID: "vc"},
			{GuildID: "g1", UserID: "helper", ChannelID: "vc", Member: &discordgo.Member{User: &discordgo.User{ID: "helper", Bot: true}}},
		},
	}))
	return state
}

func TestListeners(t *testing.T) {
	state := newState(t)

	assert.Equal(t, map[string]bool{"u1": true}, listeners(state, "g1", "vc", "self"))
	assert.Equal(t, map[string]bool{"u2": true}, listeners(state, "g1", "other", "self"))
	assert.Empty(t, listeners(state, "g1", "", "self"))
	assert.Empty(t, listeners(state, "unknown", "vc", "self"))
	assert.Empty(t, listeners(nil, "g1", "vc", "self"))
}

func TestVoiceChannel(t *testing.T) {
	state := newState(t)

	assert.Equal(t, "vc", voiceChannel(state, "g1", "u1"))
	assert.Equal(t, "other", voiceChannel(state, "g1", "u2"))
	assert.Empty(t, voiceChannel(state, "g1", "nobody"))
	assert.Empty(t, voiceChannel(nil, "g1", "u1"))
}

func TestPresence(t *testing.T) {
	state := newState(t)
	update := func(user, channel, before string) *discordgo.VoiceStateUpdate {
		vs := &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g1", UserID: user, ChannelID: channel}}
		if before != "" {
			vs.BeforeUpdate = &discordgo.VoiceState{GuildID: "g1", UserID: user, ChannelID: before}
		}
		return vs
	}

	tests := []struct {
		name        string
		vs          *discordgo.VoiceStateUpdate
		channel     string
		wantPresent bool
		wantOK      bool
	}{
		{name: "bot moved to empty channel", vs: update("self", "empty", "vc"), channel: "vc", wantOK: true},
		{name: "bot moved to occupied channel", vs: update("self", "other", "vc"), channel: "vc", wantPresent: true, wantOK: true},
		{name: "bot disconnected", vs: update("self", "", "vc"), channel: "vc"},
		{name: "listener joined player channel", vs: update("u1", "vc", ""), channel: "vc", wantPresent: true, wantOK: true},
		{name: "listener left player channel", vs: update("u2", "other", "vc"), channel: "vc", wantPresent: true, wantOK: true},
		{name: "unrelated channel", vs: update("u2", "other", "elsewhere"), channel: "vc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			present, ok := presence(state, tt.vs, tt.channel, "self")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPresent, present)
		})
	}
}

func TestCommandDefinitions(t *testing.T) {
	cmds := commands()
	for _, name := range []string{"play", "skip", "skipto", "back", "pause", "resume", "seek", "volume", "loop",
		"shuffle", "reverse", "remove", "move", "rotate", "clear", "readd", "clearfailed", "queue", "247",
		"autoplay", "restrict", "adddj", "connect", "stop", "changenode", "nodes", "filter", "skin"} {
		assert.Contains(t, cmds, name)
	}

	for name, cmd := range cmds {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, name, cmd.def.Name)
			assert.NotNil(t, cmd.run)
			assert.NotEmpty(t, cmd.def.Description)
			assert.LessOrEqual(t, len(cmd.def.Description), 100)
			// Discord rejects required options after optional ones.
			optional := false
			for _, opt := range cmd.def.Options {
				if !opt.Required {
					optional = true
					continue
				}
				assert.False(t, optional, "required option %s follows an optional one", opt.Name)
			}
		})
	}

	filter := cmds["filter"].def.Options[0]
	assert.Len(t, filter.Choices, len(node.PresetNames()))
}

func TestOptions(t *testing.T) {
	o := optionsOf([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "query", Type: discordgo.ApplicationCommandOptionString, Value: "never gonna"},
		{Name: "position", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
		{Name: "now", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
		{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u9"},
	})

	assert.Equal(t, "never gonna", o.str("query"))
	assert.Equal(t, 3, o.int("position"))
	assert.True(t, o.bool("now"))
	assert.Equal(t, "u9", o.user("user"))
	assert.Empty(t, o.str("missing"))
	assert.Zero(t, o.int("missing"))
	assert.False(t, o.bool("missing"))
}

func TestErrorText(t *testing.T) {
	b := &Bot{
		messages: func(code string) string {
			if code == "queue_full" {
				return "The queue is full."
			}
			return ""
		},
		fallback: "Something went wrong.",
	}

	assert.Equal(t, "The queue is full.", b.errorText(&music.RejectedError{Code: "queue_full"}))
	assert.Equal(t, "track rejected: other", b.errorText(&music.RejectedError{Code: "other"}))
	assert.Equal(t, music.ErrNotInVoice.Error(), b.errorText(errors.Wrap(music.ErrNotInVoice, "play")))
	assert.Equal(t, "Something went wrong.", b.errorText(errors.New("connection reset")))
}

func TestFormatNodes(t *testing.T) {
	out := formatNodes([]node.Status{
		{ID: "a", Healthy: true, Available: true, Search: true, Players: 2},
		{ID: "b", Restarting: true},
		{ID: "c"},
	})
	assert.Equal(t, "`a` online, 2 player(s), search\n`b` reconnecting, 0 player(s)\n`c` offline, 0 player(s)", out)
	assert.Equal(t, "No music servers are configured.", formatNodes(nil))
}
