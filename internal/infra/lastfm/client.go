// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// Client is a Last.fm API client with a small in-memory cache.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cacheTTL   time.Duration

	cacheMu sync.RWMutex
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	tracks  []SimilarTrack
	expires time.Time
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey   string
	CacheTTL time.Duration
}

// SimilarTrack is a track name/artist pair returned by Last.fm.
type SimilarTrack struct {
	Name   string
	Artist string
}

type trackList struct {
	Track []struct {
		Name   string `json:"name"`
		Artist struct {
			Name string `json:"name"`
		} `json:"artist"`
	} `json:"track"`
}

func (l trackList) toTracks() []SimilarTrack {
	out := make([]SimilarTrack, 0, len(l.Track))
	for _, t := range l.Track {
		out = append(out, SimilarTrack{Name: t.Name, Artist: t.Artist.Name})
	}
	return out
}

type similarResponse struct {
	SimilarTracks trackList `json:"similartracks"`
}

type artistTopResponse struct {
	TopTracks trackList `json:"toptracks"`
}

// apiError represents an error response from Last.fm API.
type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cacheTTL:   ttl,
		cache:      make(map[string]cacheEntry),
	}, nil
}

// GetSimilarTracks retrieves tracks similar to the given one.
// Reference: https://www.last.fm/api/show/track.getSimilar
func (c *Client) GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]SimilarTrack, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}
	limit = clampLimit(limit)

	key := "similar:" + strings.ToLower(artistName+"|"+trackName) + ":" + strconv.Itoa(limit)
	if tracks, ok := c.cached(key); ok {
		return tracks, nil
	}

	params := url.Values{}
	params.Set("method", "track.getSimilar")
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var resp similarResponse
	if err := c.call(ctx, params, &resp); err != nil {
		return nil, err
	}
	tracks := resp.SimilarTracks.toTracks()
	c.store(key, tracks)
	return tracks, nil
}

// GetArtistTopTracks retrieves the most played tracks of an artist.
// Reference: https://www.last.fm/api/show/artist.getTopTracks
func (c *Client) GetArtistTopTracks(ctx context.Context, artistName string, limit int) ([]SimilarTrack, error) {
	if artistName == "" {
		return nil, errors.New("artist name is required")
	}
	limit = clampLimit(limit)

	key := "artisttop:" + strings.ToLower(artistName) + ":" + strconv.Itoa(limit)
	if tracks, ok := c.cached(key); ok {
		return tracks, nil
	}

	params := url.Values{}
	params.Set("method", "artist.getTopTracks")
	params.Set("artist", artistName)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var resp artistTopResponse
	if err := c.call(ctx, params, &resp); err != nil {
		return nil, err
	}
	tracks := resp.TopTracks.toTracks()
	c.store(key, tracks)
	return tracks, nil
}

func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != 0 {
		return errors.Errorf("last.fm API error %d: %s", apiErr.Error, apiErr.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("last.fm API status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func (c *Client) cached(key string) ([]SimilarTrack, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	e, ok := c.cache[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	zlog.Debug().Msgf("lastfm: cache hit: key=%s", key)
	return e.tracks, true
}

func (c *Client) store(key string, tracks []SimilarTrack) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = cacheEntry{tracks: tracks, expires: time.Now().Add(c.cacheTTL)}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
