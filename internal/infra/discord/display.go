// Package discord adapts the music service to Discord: slash commands, control panel messages
// and voice connections.
package discord

import (
	"context"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/osa030/lavabox/internal/domain/display"
)

// Discord JSON error codes.
const (
	codeUnknownChannel    = 10003
	codeUnknownMessage    = 10008
	codeMissingAccess     = 50001
	codeMissingPermission = 50013
)

const buttonsPerRow = 5

// Display sends control panels as channel messages.
type Display struct {
	session *discordgo.Session
}

// NewDisplay creates a Display on the session.
func NewDisplay(s *discordgo.Session) *Display {
	return &Display{session: s}
}

func (d *Display) Send(ctx context.Context, channelID string, p display.Payload) (display.MessageRef, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    p.Content,
		Embeds:     embeds(p.Embed),
		Components: components(p.Buttons),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return display.MessageRef{}, mapError(err)
	}
	return display.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (d *Display) Edit(ctx context.Context, ref display.MessageRef, p display.Payload) error {
	content := p.Content
	es := embeds(p.Embed)
	cs := components(p.Buttons)
	_, err := d.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         ref.MessageID,
		Channel:    ref.ChannelID,
		Content:    &content,
		Embeds:     &es,
		Components: &cs,
	}, discordgo.WithContext(ctx))
	return mapError(err)
}

func (d *Display) Delete(ctx context.Context, ref display.MessageRef) error {
	return mapError(d.session.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx)))
}

// mapError turns Discord permission and missing-message failures into display errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case codeMissingPermission, codeMissingAccess:
			return errors.Mark(err, display.ErrForbidden)
		case codeUnknownMessage, codeUnknownChannel:
			return errors.Mark(err, display.ErrMessageGone)
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return errors.Mark(err, display.ErrForbidden)
		case http.StatusNotFound:
			return errors.Mark(err, display.ErrMessageGone)
		}
	}
	return err
}

func embeds(e *display.Embed) []*discordgo.MessageEmbed {
	if e == nil {
		return []*discordgo.MessageEmbed{}
	}
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		URL:         e.URL,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.Thumbnail != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Image != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.Image}
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return []*discordgo.MessageEmbed{out}
}

func components(buttons []display.Button) []discordgo.MessageComponent {
	rows := []discordgo.MessageComponent{}
	for start := 0; start < len(buttons); start += buttonsPerRow {
		end := min(start+buttonsPerRow, len(buttons))
		row := discordgo.ActionsRow{}
		for _, b := range buttons[start:end] {
			btn := discordgo.Button{
				CustomID: b.ID,
				Label:    b.Label,
				Style:    discordgo.ButtonStyle(b.Style),
				Disabled: b.Disabled,
			}
			if btn.Style == 0 {
				btn.Style = discordgo.SecondaryButton
			}
			if b.Emoji != "" {
				btn.Emoji = &discordgo.ComponentEmoji{Name: b.Emoji}
			}
			row.Components = append(row.Components, btn)
		}
		rows = append(rows, row)
	}
	return rows
}
