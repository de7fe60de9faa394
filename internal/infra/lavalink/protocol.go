package lavalink

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// Websocket ops sent by the server.
const (
	opReady        = "ready"
	opPlayerUpdate = "playerUpdate"
	opStats        = "stats"
	opEvent        = "event"
)

// Event types carried by the event op.
const (
	eventTrackStart     = "TrackStartEvent"
	eventTrackEnd       = "TrackEndEvent"
	eventTrackException = "TrackExceptionEvent"
	eventTrackStuck     = "TrackStuckEvent"
	eventSocketClosed   = "WebSocketClosedEvent"
)

type message struct {
	Op        string `json:"op"`
	GuildID   string `json:"guildId"`
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`

	// playerUpdate
	State *struct {
		Time      int64 `json:"time"`
		Position  int64 `json:"position"`
		Connected bool  `json:"connected"`
		Ping      int   `json:"ping"`
	} `json:"state"`

	// stats
	Players        int `json:"players"`
	PlayingPlayers int `json:"playingPlayers"`

	// event
	Type        string     `json:"type"`
	Track       *wireTrack `json:"track"`
	Reason      any        `json:"reason"` // string for TrackEnd, text for WebSocketClosed
	Exception   *wireError `json:"exception"`
	ThresholdMs int64      `json:"thresholdMs"`
	Code        int        `json:"code"`
	ByRemote    bool       `json:"byRemote"`
}

type wireTrack struct {
	Encoded string `json:"encoded"`
	Info    struct {
		Identifier string `json:"identifier"`
		IsSeekable bool   `json:"isSeekable"`
		Author     string `json:"author"`
		Length     int64  `json:"length"`
		IsStream   bool   `json:"isStream"`
		Position   int64  `json:"position"`
		Title      string `json:"title"`
		URI        string `json:"uri"`
		ArtworkURL string `json:"artworkUrl"`
		ISRC       string `json:"isrc"`
		SourceName string `json:"sourceName"`
	} `json:"info"`
}

func (w *wireTrack) toTrack() *track.Track {
	t := &track.Track{
		ID:         w.Encoded,
		Title:      w.Info.Title,
		Author:     w.Info.Author,
		URI:        w.Info.URI,
		ArtworkURL: w.Info.ArtworkURL,
		SourceName: w.Info.SourceName,
		PlatformID: w.Info.Identifier,
		IsStream:   w.Info.IsStream,
	}
	if !w.Info.IsStream {
		t.Duration = time.Duration(w.Info.Length) * time.Millisecond
	}
	return t
}

type wireError struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

func (w *wireError) toException() *node.Exception {
	if w == nil {
		return nil
	}
	ex := &node.Exception{Message: w.Message, Cause: w.Cause, Severity: w.Severity}
	ex.Kind = Classify(ex)
	return ex
}

type loadResponse struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type playlistData struct {
	Info struct {
		Name          string `json:"name"`
		SelectedTrack int    `json:"selectedTrack"`
	} `json:"info"`
	Tracks []*wireTrack `json:"tracks"`
}

// decodeLoad converts a loadtracks response. identifier becomes the playlist URL when it is a link.
func decodeLoad(body []byte, identifier string) (*node.LoadResult, error) {
	var resp loadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode load response")
	}

	res := &node.LoadResult{Type: node.LoadType(resp.LoadType)}
	switch res.Type {
	case node.LoadTrack:
		var w wireTrack
		if err := json.Unmarshal(resp.Data, &w); err != nil {
			return nil, errors.Wrap(err, "decode track")
		}
		res.Tracks = []*track.Track{w.toTrack()}
	case node.LoadSearch:
		var ws []*wireTrack
		if err := json.Unmarshal(resp.Data, &ws); err != nil {
			return nil, errors.Wrap(err, "decode search")
		}
		res.Tracks = convert(ws)
	case node.LoadPlaylist:
		var pl playlistData
		if err := json.Unmarshal(resp.Data, &pl); err != nil {
			return nil, errors.Wrap(err, "decode playlist")
		}
		res.Tracks = convert(pl.Tracks)
		res.Playlist = &track.Ref{Name: pl.Info.Name}
		if strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://") {
			res.Playlist.URL = identifier
		}
	case node.LoadEmpty:
	case node.LoadError:
		var w wireError
		if err := json.Unmarshal(resp.Data, &w); err != nil {
			return nil, errors.Wrap(err, "decode load error")
		}
		res.Exception = w.toException()
	default:
		return nil, errors.Newf("unknown load type %q", resp.LoadType)
	}
	return res, nil
}

func convert(ws []*wireTrack) []*track.Track {
	out := make([]*track.Track, 0, len(ws))
	for _, w := range ws {
		if w != nil {
			out = append(out, w.toTrack())
		}
	}
	return out
}

var (
	blockedMarkers   = []string{"sign in to confirm", "ip", "blocked", "not available in your country"}
	transientMarkers = []string{"timed out", "403", "interrupted"}
)

// Classify sorts a node exception by its cause and message.
func Classify(ex *node.Exception) node.ExceptionKind {
	if ex == nil {
		return node.KindUnknown
	}
	text := strings.ToLower(ex.Cause + " " + ex.Message)
	for _, m := range blockedMarkers {
		if containsWord(text, m) {
			return node.KindBlocked
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(text, m) {
			return node.KindTransient
		}
	}
	return node.KindUnknown
}

// containsWord matches m in text, requiring word boundaries for the short "ip" marker so
// words like "script" do not count.
func containsWord(text, m string) bool {
	if len(m) > 2 {
		return strings.Contains(text, m)
	}
	for i := 0; ; {
		j := strings.Index(text[i:], m)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(m)
		if (start == 0 || !isLetter(text[start-1])) && (end == len(text) || !isLetter(text[end])) {
			return true
		}
		i = end
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

// endReason maps the wire reason of a TrackEndEvent.
func endReason(v any) node.EndReason {
	s, _ := v.(string)
	switch node.EndReason(s) {
	case node.EndFinished, node.EndLoadFailed, node.EndStopped, node.EndReplaced, node.EndCleanup:
		return node.EndReason(s)
	}
	// Lavalink v3 used upper case reasons
	switch strings.ToUpper(s) {
	case "FINISHED":
		return node.EndFinished
	case "LOAD_FAILED":
		return node.EndLoadFailed
	case "STOPPED":
		return node.EndStopped
	case "REPLACED":
		return node.EndReplaced
	default:
		return node.EndCleanup
	}
}

// toEvent converts an event op. ok is false for unknown event types.
func (m *message) toEvent(nodeID string) (node.Event, bool) {
	ev := node.Event{NodeID: nodeID, GuildID: m.GuildID}
	if m.Track != nil {
		ev.TrackID = m.Track.Encoded
	}
	switch m.Type {
	case eventTrackStart:
		ev.Type = node.EventTrackStart
	case eventTrackEnd:
		ev.Type = node.EventTrackEnd
		ev.Reason = endReason(m.Reason)
	case eventTrackException:
		ev.Type = node.EventTrackException
		ev.Exception = m.Exception.toException()
		if ev.Exception == nil {
			ev.Exception = &node.Exception{Message: "unknown exception"}
		}
	case eventTrackStuck:
		ev.Type = node.EventTrackStuck
		ev.Threshold = time.Duration(m.ThresholdMs) * time.Millisecond
	case eventSocketClosed:
		ev.Type = node.EventWebsocketClosed
		ev.Code = m.Code
		ev.ByRemote = m.ByRemote
	default:
		return node.Event{}, false
	}
	return ev, true
}
