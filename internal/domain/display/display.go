// Package display provides the control panel model shared by skins, the refresh scheduler
// and the chat adapter.
package display

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/lavabox/internal/domain/track"
)

// Errors returned by Channel implementations.
var (
	ErrForbidden   = errors.New("missing permission for display channel")
	ErrMessageGone = errors.New("display message no longer exists")
)

// Snapshot is a read-only copy of player state handed to renderers.
type Snapshot struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	NodeID         string
	Current        *track.Track
	Position       time.Duration
	Queue          []track.Track
	QueueDuration  time.Duration
	PlayedCount    int
	FailedCount    int
	Loop           string
	Autoplay       bool
	KeepConnected  bool
	Restrict       bool
	Paused         bool
	AutoPaused     bool
	Volume         int
	Filters        []string
	Idle           bool
	IdleDeadline   time.Time
	CommandLog     string
	Static         bool
	Favourites     []Favourite
	Closing        bool
	ClosingReason  string
}

// Favourite is a saved link offered on a static control panel.
type Favourite struct {
	Key   string
	Label string
}

// Payload is a rendered control panel.
type Payload struct {
	Content string   `json:"content,omitempty"`
	Embed   *Embed   `json:"embed,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Embed is a rich message block.
type Embed struct {
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Description string  `json:"description,omitempty"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	Image       string  `json:"image,omitempty"`
	Color       int     `json:"color,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      string  `json:"footer,omitempty"`
}

// Field is an embed field.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Button is a control panel button. ID is the custom id routed back to the bot.
type Button struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	Style    int    `json:"style,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Control panel button IDs.
const (
	ButtonBack     = "musicplayer_back"
	ButtonPause    = "musicplayer_playpause"
	ButtonSkip     = "musicplayer_skip"
	ButtonStop     = "musicplayer_stop"
	ButtonShuffle  = "musicplayer_shuffle"
	ButtonLoop     = "musicplayer_loop"
	ButtonAutoplay = "musicplayer_autoplay"

	buttonFavouritePrefix = "musicplayer_fav:"
)

// FavouriteButtonID returns the button ID that plays the favourite stored under key.
func FavouriteButtonID(key string) string {
	return buttonFavouritePrefix + key
}

// FavouriteKey extracts the favourite key from a button ID.
func FavouriteKey(id string) (string, bool) {
	key, ok := strings.CutPrefix(id, buttonFavouritePrefix)
	return key, ok && key != ""
}

// Renderer turns a snapshot into a payload. Implementations must be pure.
type Renderer interface {
	Render(s Snapshot) Payload
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(s Snapshot) Payload

// Render implements Renderer.
func (f RendererFunc) Render(s Snapshot) Payload { return f(s) }

// MessageRef identifies a sent message.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Channel delivers payloads to the chat platform.
type Channel interface {
	Send(ctx context.Context, channelID string, p Payload) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, p Payload) error
	Delete(ctx context.Context, ref MessageRef) error
}
