package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/lavabox/internal/domain/track"
)

// DuplicateTrackFilter checks for duplicate tracks in the queue.
// Detects:
// - Exact track ID matches
// - Remasters and alternate versions (normalized title + same author)
// Excludes:
// - Covers (same title, different author)
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already queued or playing, including remasters; covers are allowed"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// AppliesTo returns true for user requests.
func (f *DuplicateTrackFilter) AppliesTo(req Request) bool {
	return !req.Autoplay
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, req Request, requested *track.Track, q QueueView) Result {
	if q == nil {
		return Accept()
	}
	for _, queued := range q.QueuedTracks() {
		if requested.ID != "" && queued.ID == requested.ID {
			return Reject("duplicate_track")
		}
		if isSameSong(queued, requested) {
			return Reject("duplicate_track")
		}
	}
	return Accept()
}

// isSameSong reports whether two tracks are versions of one song by the same author.
func isSameSong(a, b *track.Track) bool {
	if normalizeTitle(a.Title) != normalizeTitle(b.Title) {
		return false
	}
	if a.Author == "" || b.Author == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a.Author), strings.TrimSpace(b.Author))
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(official\s+(music\s+)?(video|audio)\)`), // "(Official Video)"
		regexp.MustCompile(`\s*\[official\s+(music\s+)?(video|audio)\]`),
		regexp.MustCompile(`\s*\(.*?version\)`), // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),    // "(Radio Edit)"
		regexp.MustCompile(`\s*\(lyrics?\)`),
		regexp.MustCompile(`\s+-\s*live$`), // "- Live"
		regexp.MustCompile(`\s*\(live\)`),
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),
		regexp.MustCompile(`\s*-?\s*single\s+version`),
	}
	spaces = regexp.MustCompile(`\s+`)
)

// normalizeTitle removes remaster and version decorations.
func normalizeTitle(name string) string {
	normalized := strings.ToLower(name)
	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	normalized = spaces.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
