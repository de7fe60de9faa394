package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/osa030/lavabox/internal/app/music"
	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/app/playback"
	"github.com/osa030/lavabox/internal/app/skin"
	"github.com/osa030/lavabox/internal/domain/track"
)

// handler runs one slash command and returns the reply text.
type handler func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error)

type command struct {
	def *discordgo.ApplicationCommand
	run handler
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionsOf(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	o := make(options, len(opts))
	for _, opt := range opts {
		o[opt.Name] = opt
	}
	return o
}

func (o options) str(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o options) int(name string) int {
	if opt, ok := o[name]; ok {
		return int(opt.IntValue())
	}
	return 0
}

func (o options) bool(name string) bool {
	if opt, ok := o[name]; ok {
		return opt.BoolValue()
	}
	return false
}

func (o options) user(name string) string {
	if opt, ok := o[name]; ok {
		if id, ok := opt.Value.(string); ok {
			return id
		}
	}
	return ""
}

func stringOpt(name, desc string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: name, Description: desc, Required: required}
}

func intOpt(name, desc string, required bool, lo, hi float64) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionInteger, Name: name, Description: desc, Required: required,
		MinValue: &lo, MaxValue: hi,
	}
}

func choices(names []string) []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(names))
	for _, n := range names {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: n, Value: n})
	}
	return out
}

func simple(name, desc string, run handler) command {
	return command{def: &discordgo.ApplicationCommand{Name: name, Description: desc}, run: run}
}

// commands returns the slash command table, keyed by name.
func commands() map[string]command {
	filterOpt := stringOpt("preset", "Filter preset", true)
	filterOpt.Choices = choices(node.PresetNames())
	skinOpt := stringOpt("name", "Skin name", true)
	skinOpt.Choices = choices(skin.Names())

	list := []command{
		{
			def: &discordgo.ApplicationCommand{Name: "play", Description: "Play a song or playlist", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("query", "Link or search text", true),
				intOpt("position", "Queue position", false, 1, 10000),
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "now", Description: "Play immediately"},
			}},
			run: runPlay,
		},
		simple("skip", "Skip the current song", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			return "Skipped.", svc.Skip(ctx, c)
		}),
		{
			def: &discordgo.ApplicationCommand{Name: "skipto", Description: "Jump to a queued song", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("query", "Song title", true),
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "play_only", Description: "Drop the songs in between"},
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				return "Jumped to " + o.str("query") + ".", svc.SkipTo(ctx, c, o.str("query"), o.bool("play_only"))
			},
		},
		simple("back", "Play the previous song", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			return "Went back.", svc.Back(ctx, c)
		}),
		simple("pause", "Pause playback", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			return "Paused.", svc.Pause(ctx, c)
		}),
		simple("resume", "Resume playback", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			return "Resumed.", svc.Resume(ctx, c)
		}),
		{
			def: &discordgo.ApplicationCommand{Name: "seek", Description: "Seek in the current song", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("time", "Position as ss, mm:ss or hh:mm:ss", true),
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				pos, err := svc.Seek(ctx, c, o.str("time"))
				return "Seeked to " + track.FormatDuration(pos) + ".", err
			},
		},
		{
			def: &discordgo.ApplicationCommand{Name: "volume", Description: "Change the volume", Options: []*discordgo.ApplicationCommandOption{
				intOpt("level", "Volume from 5 to 150", true, 5, 150),
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				return fmt.Sprintf("Volume set to %d%%.", o.int("level")), svc.Volume(ctx, c, o.int("level"))
			},
		},
		{
			def: &discordgo.ApplicationCommand{Name: "loop", Description: "Set the loop mode or repeat the song", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("mode", "off, current, queue or a repeat count", true),
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				return "Loop set to " + o.str("mode") + ".", svc.Loop(ctx, c, o.str("mode"))
			},
		},
		simple("shuffle", "Shuffle the queue", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			return "Shuffled the queue.", svc.Shuffle(ctx, c)
		}),
		simple("reverse", "Reverse the queue", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			return "Reversed the queue.", svc.Reverse(ctx, c)
		}),
		{
			def: &discordgo.ApplicationCommand{Name: "remove", Description: "Remove a queued song", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("song", "Position or title", true),
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				removed, err := svc.Remove(ctx, c, o.str("song"))
				if err != nil {
					return "", err
				}
				return "Removed " + removed[0].Title + ".", nil
			},
		},
		{
			def: &discordgo.ApplicationCommand{Name: "move", Description: "Move a queued song", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("song", "Title", true),
				intOpt("position", "New position", true, 1, 10000),
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				moved, err := svc.Move(ctx, c, o.str("song"), o.int("position"))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Moved %s to position %d.", moved.Title, o.int("position")), nil
			},
		},
		{
			def: &discordgo.ApplicationCommand{Name: "rotate", Description: "Make a queued song the next one", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("song", "Title", true),
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				next, err := svc.Rotate(ctx, c, o.str("song"))
				if err != nil {
					return "", err
				}
				return next.Title + " is up next.", nil
			},
		},
		{
			def: &discordgo.ApplicationCommand{Name: "clear", Description: "Clear the queue", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("title", "Only songs whose title contains this", false),
				stringOpt("author", "Only songs whose author contains this", false),
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Only songs requested by this member"},
				stringOpt("playlist", "Only songs from this playlist", false),
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "absent", Description: "Only songs from members who left"},
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "duplicates", Description: "Only repeated songs"},
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				opts := playback.ClearOptions{
					Title:       o.str("title"),
					Author:      o.str("author"),
					RequesterID: o.user("user"),
					Playlist:    o.str("playlist"),
					Duplicates:  o.bool("duplicates"),
				}
				if o.bool("absent") {
					opts.PresentMembers = c.PresentMembers
				}
				n, err := svc.Clear(ctx, c, opts)
				return fmt.Sprintf("Cleared %d song(s).", n), err
			},
		},
		simple("readd", "Queue the played songs again", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			n, err := svc.Readd(ctx, c)
			return fmt.Sprintf("Re-added %d song(s).", n), err
		}),
		simple("clearfailed", "Forget songs that failed to play", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			n, err := svc.ClearFailed(ctx, c)
			return fmt.Sprintf("Cleared %d failed song(s).", n), err
		}),
		simple("queue", "Show the queue", runQueue),
		simple("247", "Toggle 24/7 mode", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			on, err := svc.KeepConnected(ctx, c)
			return "24/7 mode " + onOff(on) + ".", err
		}),
		simple("autoplay", "Toggle autoplay", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			on, err := svc.Autoplay(ctx, c)
			return "Autoplay " + onOff(on) + ".", err
		}),
		simple("restrict", "Toggle restrict mode", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			on, err := svc.Restrict(ctx, c)
			return "Restrict mode " + onOff(on) + ".", err
		}),
		{
			def: &discordgo.ApplicationCommand{Name: "adddj", Description: "Make a member DJ of this session", Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member", Required: true},
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				return "<@" + o.user("user") + "> is now a DJ.", svc.AddDJ(ctx, c, o.user("user"))
			},
		},
		simple("connect", "Join your voice channel without playing", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			p, created, err := svc.Connect(ctx, c)
			if err != nil {
				return "", err
			}
			if !created {
				return "Already connected.", nil
			}
			// Arms the idle timer on the empty queue.
			return "Connected.", p.ProcessNext(ctx, 0)
		}),
		simple("stop", "Stop the player", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			return "Stopped.", svc.Stop(ctx, c)
		}),
		{
			def: &discordgo.ApplicationCommand{Name: "changenode", Description: "Move the player to another music server", Options: []*discordgo.ApplicationCommandOption{
				stringOpt("node", "Server id, empty for the best one", false),
			}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				id, err := svc.ChangeNode(ctx, c, o.str("node"))
				return "Moved to " + id + ".", err
			},
		},
		simple("nodes", "List the music servers", func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
			return formatNodes(svc.Nodes()), nil
		}),
		{
			def: &discordgo.ApplicationCommand{Name: "filter", Description: "Apply an audio filter", Options: []*discordgo.ApplicationCommandOption{filterOpt}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				return "Applied " + o.str("preset") + ".", svc.Filters(ctx, c, o.str("preset"))
			},
		},
		{
			def: &discordgo.ApplicationCommand{Name: "skin", Description: "Change the control panel skin", Options: []*discordgo.ApplicationCommandOption{skinOpt}},
			run: func(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
				return "Skin set to " + o.str("name") + ".", svc.Skin(ctx, c, o.str("name"))
			},
		},
	}

	out := make(map[string]command, len(list))
	for _, cmd := range list {
		cmd.def.DMPermission = new(bool)
		out[cmd.def.Name] = cmd
	}
	return out
}

func runPlay(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
	res, err := svc.Play(ctx, c, music.PlayRequest{
		Query:    o.str("query"),
		Position: o.int("position"),
		Now:      o.bool("now"),
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	switch {
	case res.Playlist != nil:
		fmt.Fprintf(&b, "Added %d song(s) from **%s**.", len(res.Tracks), res.Playlist.Name)
	case len(res.Tracks) == 1:
		fmt.Fprintf(&b, "Added **%s** (%s).", res.Tracks[0].Title, track.FormatDuration(res.Tracks[0].Duration))
	default:
		fmt.Fprintf(&b, "Added %d song(s).", len(res.Tracks))
	}
	if n := rejectedCount(res.Rejected); n > 0 {
		fmt.Fprintf(&b, " %d song(s) were not added.", n)
	}
	return b.String(), nil
}

func rejectedCount(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

const queuePreview = 15

func runQueue(ctx context.Context, svc *music.Service, c music.Caller, o options) (string, error) {
	s, err := svc.Queue(c)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if s.Current != nil {
		fmt.Fprintf(&b, "Now playing: **%s** [%s/%s]\n", s.Current.Title,
			track.FormatDuration(s.Position), track.FormatDuration(s.Current.Duration))
	}
	if len(s.Queue) == 0 {
		b.WriteString("The queue is empty.")
		return b.String(), nil
	}
	for i, t := range s.Queue {
		if i == queuePreview {
			fmt.Fprintf(&b, "...and %d more", len(s.Queue)-queuePreview)
			break
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, t.Title, track.FormatDuration(t.Duration))
	}
	fmt.Fprintf(&b, "\n%d song(s), %s", len(s.Queue), track.FormatDuration(s.QueueDuration))
	return b.String(), nil
}

func formatNodes(nodes []node.Status) string {
	if len(nodes) == 0 {
		return "No music servers are configured."
	}
	var b strings.Builder
	for _, n := range nodes {
		status := "offline"
		switch {
		case n.Restarting:
			status = "reconnecting"
		case n.Healthy && n.Available:
			status = "online"
		}
		fmt.Fprintf(&b, "`%s` %s, %d player(s)", n.ID, status, n.Players)
		if n.Search {
			b.WriteString(", search")
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
