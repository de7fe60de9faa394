// Package node defines the audio node capability used by players and selects nodes for them.
package node

import (
	"context"
	"time"

	"github.com/osa030/lavabox/internal/domain/track"
)

// Client is one audio node transport. A single Client is shared by every player routed to it.
type Client interface {
	// ID returns the configured node identifier.
	ID() string
	// Search reports whether the node is flagged as search capable.
	Search() bool
	// Healthy reports whether the node is connected and reporting stats.
	Healthy() bool

	LoadTracks(ctx context.Context, identifier string) (*LoadResult, error)
	Play(ctx context.Context, guildID string, t *track.Track, start time.Duration) error
	Stop(ctx context.Context, guildID string) error
	Pause(ctx context.Context, guildID string, paused bool) error
	Seek(ctx context.Context, guildID string, position time.Duration) error
	SetVolume(ctx context.Context, guildID string, volume int) error
	SetFilters(ctx context.Context, guildID string, filters Filters) error
	UpdateVoice(ctx context.Context, guildID string, voice VoiceState) error
	Destroy(ctx context.Context, guildID string) error
}

// Searcher is the subset of Client needed to look tracks up.
type Searcher interface {
	LoadTracks(ctx context.Context, identifier string) (*LoadResult, error)
}

// VoiceState is the voice connection data a node needs to join a channel.
type VoiceState struct {
	SessionID string
	Token     string
	Endpoint  string
	ChannelID string
}

// Ready reports whether the voice state is complete enough to forward.
func (v VoiceState) Ready() bool {
	return v.SessionID != "" && v.Token != "" && v.Endpoint != ""
}

// LoadType is the kind of result returned by LoadTracks.
type LoadType string

const (
	LoadTrack    LoadType = "track"
	LoadPlaylist LoadType = "playlist"
	LoadSearch   LoadType = "search"
	LoadEmpty    LoadType = "empty"
	LoadError    LoadType = "error"
)

// LoadResult is the outcome of a track lookup.
type LoadResult struct {
	Type      LoadType
	Tracks    []*track.Track
	Playlist  *track.Ref
	Exception *Exception
}

// Empty reports whether the result holds no tracks.
func (r *LoadResult) Empty() bool {
	return r == nil || len(r.Tracks) == 0
}

// ExceptionKind classifies playback failures reported by a node.
type ExceptionKind int

const (
	KindUnknown ExceptionKind = iota
	KindTransient
	KindBlocked
	KindNodeUnreachable
)

func (k ExceptionKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBlocked:
		return "blocked"
	case KindNodeUnreachable:
		return "node_unreachable"
	default:
		return "unknown"
	}
}

// Exception describes a failed track or lookup.
type Exception struct {
	Message  string
	Cause    string
	Severity string
	Kind     ExceptionKind
}

func (e *Exception) Error() string {
	if e.Cause != "" && e.Cause != e.Message {
		return e.Message + ": " + e.Cause
	}
	return e.Message
}

// EventType represents the type of node event.
type EventType int

const (
	EventTrackStart EventType = iota
	EventTrackEnd
	EventTrackException
	EventTrackStuck
	EventWebsocketClosed
	EventPlayerUpdate
	EventNodeReady
	EventNodeClosed
)

func (t EventType) String() string {
	switch t {
	case EventTrackStart:
		return "track_start"
	case EventTrackEnd:
		return "track_end"
	case EventTrackException:
		return "track_exception"
	case EventTrackStuck:
		return "track_stuck"
	case EventWebsocketClosed:
		return "websocket_closed"
	case EventPlayerUpdate:
		return "player_update"
	case EventNodeReady:
		return "node_ready"
	case EventNodeClosed:
		return "node_closed"
	default:
		return "unknown"
	}
}

// EndReason is why a track stopped.
type EndReason string

const (
	EndFinished   EndReason = "finished"
	EndLoadFailed EndReason = "loadFailed"
	EndStopped    EndReason = "stopped"
	EndReplaced   EndReason = "replaced"
	EndCleanup    EndReason = "cleanup"
)

// Event is emitted by node transports. Node-level events leave GuildID empty.
type Event struct {
	Type      EventType
	NodeID    string
	GuildID   string
	TrackID   string
	Reason    EndReason
	Exception *Exception
	Code      int
	ByRemote  bool
	Position  time.Duration
	Threshold time.Duration
	Resumed   bool
}
