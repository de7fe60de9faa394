package skin

import (
	"fmt"
	"strings"
	"time"

	"github.com/osa030/lavabox/internal/domain/display"
	"github.com/osa030/lavabox/internal/domain/track"
)

const (
	colorPlaying = 0x2ecc71
	colorPaused  = 0xf1c40f
	colorIdle    = 0x95a5a6
	colorClosed  = 0xe74c3c

	queuePreview  = 5
	maxFavourites = 10
)

func init() {
	register(DefaultName, 0, renderDefault)
	register("mini", 0, renderMini)
	register("embed_link", 0, renderEmbedLink)
	register("progress", 20*time.Second, renderProgress)
}

func renderDefault(s display.Snapshot) display.Payload {
	if s.Closing || s.Current == nil {
		return idlePayload(s)
	}

	cur := s.Current
	e := &display.Embed{
		Title:     cur.Title,
		URL:       cur.URI,
		Thumbnail: cur.ArtworkURL,
		Color:     stateColor(s),
		Fields: []display.Field{
			{Name: "Author", Value: orDash(cur.Author), Inline: true},
			{Name: "Duration", Value: durationText(cur), Inline: true},
			{Name: "Requested by", Value: requester(cur), Inline: true},
		},
		Footer: footer(s),
	}
	if cur.Playlist != nil {
		e.Fields = append(e.Fields, display.Field{Name: "Playlist", Value: link(cur.Playlist), Inline: true})
	}
	if len(s.Queue) > 0 {
		e.Fields = append(e.Fields, display.Field{
			Name:  fmt.Sprintf("Up next (%d, %s)", len(s.Queue), track.FormatDuration(s.QueueDuration)),
			Value: queueLines(s.Queue, queuePreview),
		})
	}
	if s.CommandLog != "" {
		e.Description = s.CommandLog
	}
	return display.Payload{Embed: e, Buttons: buttons(s)}
}

func renderMini(s display.Snapshot) display.Payload {
	if s.Closing || s.Current == nil {
		p := idlePayload(s)
		p.Embed.Fields = nil
		return p
	}
	cur := s.Current
	desc := fmt.Sprintf("[%s](%s) `%s`", cur.Title, cur.URI, durationText(cur))
	if s.CommandLog != "" {
		desc += "\n" + s.CommandLog
	}
	return display.Payload{
		Embed: &display.Embed{
			Description: desc,
			Color:       stateColor(s),
			Footer:      footer(s),
		},
		Buttons: buttons(s),
	}
}

// renderEmbedLink posts the track link as plain content so the chat client builds its own preview.
func renderEmbedLink(s display.Snapshot) display.Payload {
	if s.Closing || s.Current == nil {
		return display.Payload{Content: idleText(s), Buttons: buttons(s)}
	}
	content := fmt.Sprintf("Now playing: %s", s.Current.URI)
	if s.CommandLog != "" {
		content += "\n" + s.CommandLog
	}
	return display.Payload{Content: content, Buttons: buttons(s)}
}

func renderProgress(s display.Snapshot) display.Payload {
	p := renderDefault(s)
	if s.Current == nil || s.Closing || s.Current.IsStream || s.Current.Duration <= 0 {
		return p
	}
	bar := progressBar(s.Position, s.Current.Duration, 16)
	p.Embed.Description = strings.TrimSpace(fmt.Sprintf("`%s` %s `%s`\n%s",
		track.FormatDuration(s.Position), bar, track.FormatDuration(s.Current.Duration), s.CommandLog))
	return p
}

func idlePayload(s display.Snapshot) display.Payload {
	e := &display.Embed{
		Title:       "Nothing playing",
		Description: idleText(s),
		Color:       colorIdle,
		Footer:      footer(s),
	}
	if s.Closing {
		e.Color = colorClosed
		e.Title = "Player stopped"
	}
	if len(s.Queue) > 0 {
		e.Fields = []display.Field{{Name: fmt.Sprintf("Queue (%d)", len(s.Queue)), Value: queueLines(s.Queue, queuePreview)}}
	}
	p := display.Payload{Embed: e}
	if !s.Closing {
		p.Buttons = buttons(s)
	}
	return p
}

func idleText(s display.Snapshot) string {
	switch {
	case s.Closing && s.ClosingReason != "":
		return s.ClosingReason
	case s.Closing:
		return "The player was stopped."
	case s.AutoPaused:
		return "Paused until someone joins the voice channel."
	case s.Idle && !s.IdleDeadline.IsZero():
		return fmt.Sprintf("Queue finished. Leaving <t:%d:R> unless a track is added.", s.IdleDeadline.Unix())
	default:
		return "Queue finished. Add a track with /play."
	}
}

func stateColor(s display.Snapshot) int {
	if s.Paused || s.AutoPaused {
		return colorPaused
	}
	return colorPlaying
}

func footer(s display.Snapshot) string {
	parts := []string{fmt.Sprintf("Volume %d%%", s.Volume)}
	if s.Loop != "" && s.Loop != "off" {
		parts = append(parts, "Loop "+s.Loop)
	}
	if s.Autoplay {
		parts = append(parts, "Autoplay")
	}
	if s.KeepConnected {
		parts = append(parts, "24/7")
	}
	if s.Restrict {
		parts = append(parts, "Restricted")
	}
	if len(s.Filters) > 0 {
		parts = append(parts, "Filters: "+strings.Join(s.Filters, ", "))
	}
	if s.NodeID != "" {
		parts = append(parts, "Node "+s.NodeID)
	}
	return strings.Join(parts, " | ")
}

func buttons(s display.Snapshot) []display.Button {
	pause := display.Button{ID: display.ButtonPause, Emoji: "⏸️", Style: 2}
	if s.Paused || s.AutoPaused {
		pause.Emoji = "▶️"
	}
	idle := s.Current == nil
	loop := display.Button{ID: display.ButtonLoop, Emoji: "🔁", Style: 2}
	if s.Loop == "current" {
		loop.Emoji = "🔂"
		loop.Style = 3
	} else if s.Loop == "queue" {
		loop.Style = 3
	}
	autoplay := display.Button{ID: display.ButtonAutoplay, Emoji: "♾️", Style: 2}
	if s.Autoplay {
		autoplay.Style = 3
	}
	pause.Disabled = idle
	out := []display.Button{
		{ID: display.ButtonBack, Emoji: "⏮️", Style: 2},
		pause,
		{ID: display.ButtonSkip, Emoji: "⏭️", Style: 2, Disabled: idle},
		{ID: display.ButtonStop, Emoji: "⏹️", Style: 4},
		{ID: display.ButtonShuffle, Emoji: "🔀", Style: 2, Disabled: len(s.Queue) < 3},
		loop,
		autoplay,
	}
	if !s.Static {
		return out
	}
	for i, f := range s.Favourites {
		if i == maxFavourites {
			break
		}
		out = append(out, display.Button{ID: display.FavouriteButtonID(f.Key), Label: truncate(f.Label, 80), Emoji: "⭐", Style: 1})
	}
	return out
}

func queueLines(q []track.Track, limit int) string {
	var b strings.Builder
	for i, t := range q {
		if i == limit {
			fmt.Fprintf(&b, "... and %d more", len(q)-limit)
			break
		}
		title := t.Title
		if t.Autoplay {
			title += " (autoplay)"
		}
		fmt.Fprintf(&b, "%d. %s `%s`\n", i+1, title, durationText(&t))
	}
	return strings.TrimRight(b.String(), "\n")
}

func durationText(t *track.Track) string {
	if t.IsStream {
		return "LIVE"
	}
	return track.FormatDuration(t.Duration)
}

func requester(t *track.Track) string {
	if t.Autoplay {
		return "autoplay"
	}
	if t.RequesterID == "" {
		return "-"
	}
	return "<@" + t.RequesterID + ">"
}

func link(r *track.Ref) string {
	if r.URL == "" {
		return r.Name
	}
	return fmt.Sprintf("[%s](%s)", r.Name, r.URL)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func progressBar(pos, total time.Duration, width int) string {
	if pos > total {
		pos = total
	}
	filled := int(float64(width) * float64(pos) / float64(total))
	return strings.Repeat("▬", filled) + "🔘" + strings.Repeat("▬", width-filled)
}
