// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ref links a track to the playlist or album it was loaded from.
type Ref struct {
	Name string
	URL  string
}

// Track represents a playable audio item.
// A track without ID is partial and must be resolved against a node before playback.
type Track struct {
	ID          string        // Node-assigned encoded handle (empty for partial tracks)
	UniqueID    string        // Per-instance identifier
	Title       string        // Track title
	Author      string        // Author / artist
	URI         string        // Source URL
	ArtworkURL  string        // Thumbnail URL
	SourceName  string        // youtube, soundcloud, spotify...
	PlatformID  string        // Source identifier (e.g. youtube video id)
	SearchQuery string        // Explicit query used to resolve a partial track
	Duration    time.Duration // Zero for unknown
	IsStream    bool          // Live stream flag
	RequesterID string        // Member who requested the track
	Loops       int           // Remaining forced repeats
	Autoplay    bool          // Machine selected
	Playlist    *Ref
	Album       *Ref
}

// IsPartial reports whether the track still needs resolution.
func (t *Track) IsPartial() bool {
	return t.ID == ""
}

// Stamp assigns a unique instance ID if the track does not have one yet.
func (t *Track) Stamp() *Track {
	if t.UniqueID == "" {
		t.UniqueID = uuid.NewString()
	}
	return t
}

// Clone returns a deep copy with a fresh unique ID.
func (t *Track) Clone() *Track {
	c := *t
	if t.Playlist != nil {
		p := *t.Playlist
		c.Playlist = &p
	}
	if t.Album != nil {
		a := *t.Album
		c.Album = &a
	}
	c.UniqueID = uuid.NewString()
	return &c
}

// DedupKey returns the case-insensitive "author - title" key used for duplicate detection.
func (t *Track) DedupKey() string {
	return strings.ToLower(t.Author + " - " + t.Title)
}

// ResolveQuery returns the search text used to resolve a partial track.
func (t *Track) ResolveQuery() string {
	if t.SearchQuery != "" {
		return t.SearchQuery
	}
	if t.Author == "" {
		return t.Title
	}
	return t.Author + " - " + t.Title
}

// FormatDuration renders d as m:ss or h:mm:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
