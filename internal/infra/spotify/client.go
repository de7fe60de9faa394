// Package spotify turns Spotify track, album and playlist links into partial tracks.
package spotify

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/lavabox/internal/app/node"
	"github.com/osa030/lavabox/internal/domain/track"
)

// ErrNoTracks is returned when a link resolves to nothing playable.
var ErrNoTracks = errors.New("spotify link has no playable tracks")

const (
	sourceName = "spotify"
	pageLimit  = 100
)

// LinkKind is the kind of object a Spotify link points to.
type LinkKind string

const (
	LinkTrack    LinkKind = "track"
	LinkAlbum    LinkKind = "album"
	LinkPlaylist LinkKind = "playlist"
)

var linkPattern = regexp.MustCompile(`^(?:https?://open\.spotify\.com/(?:intl-[a-zA-Z-]+/)?(track|album|playlist)/([A-Za-z0-9]+)|spotify:(track|album|playlist):([A-Za-z0-9]+))`)

// ParseLink extracts the kind and ID of a Spotify URL or URI.
func ParseLink(input string) (LinkKind, string, bool) {
	m := linkPattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return "", "", false
	}
	if m[1] != "" {
		return LinkKind(m[1]), m[2], true
	}
	return LinkKind(m[3]), m[4], true
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
	MaxTracks    int // Upper bound for album and playlist expansion
}

// Client resolves Spotify links with app-only credentials.
type Client struct {
	client     *spotify.Client
	market     string
	maxTracks  int
	maxRetries int
	retryDelay time.Duration
}

// New creates a client using the client-credentials flow.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	if _, err := cc.Token(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to obtain spotify token")
	}

	return NewWithHTTPClient(cc.Client(ctx), cfg), nil
}

// NewWithHTTPClient creates a client over an already authorized HTTP client.
// Extra options such as spotify.WithBaseURL are passed to the API client.
func NewWithHTTPClient(httpClient *http.Client, cfg Config, opts ...spotify.ClientOption) *Client {
	market := cfg.Market
	if market == "" {
		market = "US"
	}
	maxTracks := cfg.MaxTracks
	if maxTracks <= 0 {
		maxTracks = 500
	}
	return &Client{
		client:     spotify.New(httpClient, opts...),
		market:     market,
		maxTracks:  maxTracks,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Resolve loads a Spotify link. The second result is false when query is not a Spotify link.
func (c *Client) Resolve(ctx context.Context, query string) (*node.LoadResult, bool, error) {
	kind, id, ok := ParseLink(query)
	if !ok {
		return nil, false, nil
	}

	var (
		res *node.LoadResult
		err error
	)
	switch kind {
	case LinkTrack:
		res, err = c.loadTrack(ctx, id)
	case LinkAlbum:
		res, err = c.loadAlbum(ctx, id)
	case LinkPlaylist:
		res, err = c.loadPlaylist(ctx, id)
	}
	if err != nil {
		return nil, true, err
	}
	if res.Empty() {
		return nil, true, errors.Wrapf(ErrNoTracks, "%s %s", kind, id)
	}
	zlog.Debug().Msgf("spotify: resolved link: kind=%s id=%s tracks=%d", kind, id, len(res.Tracks))
	return res, true, nil
}

func (c *Client) loadTrack(ctx context.Context, id string) (*node.LoadResult, error) {
	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}
	return &node.LoadResult{Type: node.LoadTrack, Tracks: []*track.Track{convertFull(result)}}, nil
}

func (c *Client) loadAlbum(ctx context.Context, id string) (*node.LoadResult, error) {
	var album *spotify.FullAlbum
	err := c.retry(ctx, func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get album")
	}

	ref := &track.Ref{Name: album.Name, URL: album.ExternalURLs["spotify"]}
	artwork := imageURL(album.Images)

	var tracks []*track.Track
	offset := 0
	for len(tracks) < c.maxTracks {
		var page *spotify.SimpleTrackPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetAlbumTracks(ctx, spotify.ID(id),
				spotify.Limit(50),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get album tracks")
		}
		for i := range page.Tracks {
			t := convertSimple(&page.Tracks[i], artwork)
			t.Album = ref
			tracks = append(tracks, t)
		}
		if len(page.Tracks) < 50 {
			break
		}
		offset += 50
	}

	return &node.LoadResult{Type: node.LoadPlaylist, Tracks: capTracks(tracks, c.maxTracks), Playlist: ref}, nil
}

func (c *Client) loadPlaylist(ctx context.Context, id string) (*node.LoadResult, error) {
	var playlist *spotify.FullPlaylist
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(id), spotify.Fields("name,external_urls"), spotify.Market(c.market))
		if err != nil {
			return err
		}
		playlist = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	ref := &track.Ref{Name: playlist.Name, URL: playlist.ExternalURLs["spotify"]}

	var tracks []*track.Track
	offset := 0
	for len(tracks) < c.maxTracks {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(pageLimit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Episodes and local files have no track ID
			if item.Track.Track == nil || item.Track.Track.ID == "" {
				continue
			}
			t := convertFull(item.Track.Track)
			t.Playlist = ref
			tracks = append(tracks, t)
		}
		if len(page.Items) < pageLimit {
			break
		}
		offset += pageLimit
	}

	return &node.LoadResult{Type: node.LoadPlaylist, Tracks: capTracks(tracks, c.maxTracks), Playlist: ref}, nil
}

// convertFull converts a Spotify FullTrack to a partial track.
func convertFull(t *spotify.FullTrack) *track.Track {
	out := convertSimple(&t.SimpleTrack, imageURL(t.Album.Images))
	if t.Album.Name != "" {
		out.Album = &track.Ref{Name: t.Album.Name, URL: t.Album.ExternalURLs["spotify"]}
	}
	return out
}

// convertSimple converts a Spotify SimpleTrack to a partial track. It has no node ID yet.
func convertSimple(t *spotify.SimpleTrack, artwork string) *track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}
	author := strings.Join(artists, ", ")
	uri := t.ExternalURLs["spotify"]
	if uri == "" && t.ID != "" {
		uri = "https://open.spotify.com/track/" + string(t.ID)
	}

	query := t.Name
	if len(artists) > 0 {
		query = artists[0] + " - " + t.Name
	}

	return &track.Track{
		Title:       t.Name,
		Author:      author,
		URI:         uri,
		ArtworkURL:  artwork,
		SourceName:  sourceName,
		PlatformID:  string(t.ID),
		SearchQuery: query,
		Duration:    time.Duration(t.Duration) * time.Millisecond,
	}
}

func imageURL(images []spotify.Image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

func capTracks(tracks []*track.Track, n int) []*track.Track {
	if len(tracks) > n {
		return tracks[:n]
	}
	return tracks
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}
