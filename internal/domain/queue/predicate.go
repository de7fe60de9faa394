package queue

import (
	"strings"
	"time"

	"github.com/osa030/lavabox/internal/domain/track"
)

// Predicate selects tracks for removal.
type Predicate func(t *track.Track) bool

// ByTitle matches tracks whose title contains s, case-insensitively.
func ByTitle(s string) Predicate {
	s = strings.ToLower(s)
	return func(t *track.Track) bool {
		return strings.Contains(strings.ToLower(t.Title), s)
	}
}

// ByAuthor matches tracks whose author contains s, case-insensitively.
func ByAuthor(s string) Predicate {
	s = strings.ToLower(s)
	return func(t *track.Track) bool {
		return strings.Contains(strings.ToLower(t.Author), s)
	}
}

// ByRequester matches tracks requested by the given member.
func ByRequester(id string) Predicate {
	return func(t *track.Track) bool {
		return t.RequesterID == id
	}
}

// ByPlaylist matches tracks loaded from a playlist whose name contains s, case-insensitively.
func ByPlaylist(s string) Predicate {
	s = strings.ToLower(s)
	return func(t *track.Track) bool {
		return t.Playlist != nil && strings.Contains(strings.ToLower(t.Playlist.Name), s)
	}
}

// MinDuration matches tracks at least d long.
func MinDuration(d time.Duration) Predicate {
	return func(t *track.Track) bool {
		return t.Duration >= d
	}
}

// MaxDuration matches tracks at most d long.
func MaxDuration(d time.Duration) Predicate {
	return func(t *track.Track) bool {
		return t.Duration <= d
	}
}

// AbsentRequesters matches tracks whose requester is not in present.
func AbsentRequesters(present map[string]bool) Predicate {
	return func(t *track.Track) bool {
		return !present[t.RequesterID]
	}
}

// Duplicates matches every track whose author/title key was already seen.
// The returned predicate is stateful; use a fresh one per pass.
func Duplicates() Predicate {
	seen := make(map[string]bool)
	return func(t *track.Track) bool {
		key := t.DedupKey()
		if seen[key] {
			return true
		}
		seen[key] = true
		return false
	}
}

// All matches when every predicate matches. No predicates match everything.
func All(preds ...Predicate) Predicate {
	return func(t *track.Track) bool {
		for _, p := range preds {
			if !p(t) {
				return false
			}
		}
		return true
	}
}
