package skin

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/lavabox/internal/domain/display"
	"github.com/osa030/lavabox/internal/domain/track"
)

func playing() display.Snapshot {
	return display.Snapshot{
		GuildID: "g1",
		Current: &track.Track{
			ID: "enc", Title: "Song", Author: "Band", URI: "https://example.com/s",
			Duration: 3 * time.Minute, RequesterID: "u1",
		},
		Position: time.Minute,
		Queue: []track.Track{
			{Title: "Next", Duration: time.Minute},
			{Title: "Auto", Duration: 2 * time.Minute, Autoplay: true},
		},
		QueueDuration: 3 * time.Minute,
		Loop:          "queue",
		Volume:        100,
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"default", "embed_link", "mini", "progress"}, Names())

	s, ok := Get("progress")
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, s.AutoRefresh)

	_, ok = Get("missing")
	assert.False(t, ok)
	assert.Equal(t, DefaultName, GetOrDefault("missing").Name)
}

func TestRenderersArePure(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			s := GetOrDefault(name)
			a, err := json.Marshal(s.Render(playing()))
			require.NoError(t, err)
			b, err := json.Marshal(s.Render(playing()))
			require.NoError(t, err)
			assert.Equal(t, a, b)
		})
	}
}

func TestRenderDefault(t *testing.T) {
	p := GetOrDefault(DefaultName).Render(playing())

	require.NotNil(t, p.Embed)
	assert.Equal(t, "Song", p.Embed.Title)
	assert.Contains(t, p.Embed.Footer, "Loop queue")
	require.Len(t, p.Embed.Fields, 4)
	assert.Contains(t, p.Embed.Fields[3].Value, "1. Next `01:00`")
	assert.Contains(t, p.Embed.Fields[3].Value, "2. Auto (autoplay)")
	assert.Len(t, p.Buttons, 7)
}

func TestRenderIdleAndClosing(t *testing.T) {
	tests := []struct {
		name    string
		snap    display.Snapshot
		want    string
		buttons bool
	}{
		{
			name:    "idle",
			snap:    display.Snapshot{Idle: true},
			want:    "Queue finished. Add a track with /play.",
			buttons: true,
		},
		{
			name:    "auto paused",
			snap:    display.Snapshot{AutoPaused: true},
			want:    "Paused until someone joins the voice channel.",
			buttons: true,
		},
		{
			name: "closing with reason",
			snap: display.Snapshot{Closing: true, ClosingReason: "bye"},
			want: "bye",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := GetOrDefault(DefaultName).Render(tt.snap)
			require.NotNil(t, p.Embed)
			assert.Equal(t, tt.want, p.Embed.Description)
			assert.Equal(t, tt.buttons, len(p.Buttons) > 0)
		})
	}
}

func TestFavouriteButtons(t *testing.T) {
	favs := []display.Favourite{
		{Key: "chill", Label: "Chill mix"},
		{Key: "long", Label: strings.Repeat("x", 100)},
	}

	tests := []struct {
		name   string
		static bool
		want   int
	}{
		{name: "static panel", static: true, want: 9},
		{name: "regular panel", static: false, want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := playing()
			s.Static = tt.static
			s.Favourites = favs
			p := GetOrDefault(DefaultName).Render(s)
			require.Len(t, p.Buttons, tt.want)
			if !tt.static {
				return
			}
			assert.Equal(t, display.FavouriteButtonID("chill"), p.Buttons[7].ID)
			assert.Equal(t, "Chill mix", p.Buttons[7].Label)
			assert.Len(t, []rune(p.Buttons[8].Label), 80)

			key, ok := display.FavouriteKey(p.Buttons[7].ID)
			assert.True(t, ok)
			assert.Equal(t, "chill", key)
		})
	}

	_, ok := display.FavouriteKey(display.ButtonSkip)
	assert.False(t, ok)
}

func TestRenderEmbedLink(t *testing.T) {
	p := GetOrDefault("embed_link").Render(playing())
	assert.Nil(t, p.Embed)
	assert.Equal(t, "Now playing: https://example.com/s", p.Content)
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "▬▬🔘▬▬", progressBar(time.Minute, 2*time.Minute, 4))
	assert.Equal(t, "▬▬▬▬🔘", progressBar(3*time.Minute, 2*time.Minute, 4))
}
