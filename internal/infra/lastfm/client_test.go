package lastfm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestGetSimilarTracks(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "track.getSimilar", r.URL.Query().Get("method"))
		assert.Equal(t, "test_artist", r.URL.Query().Get("artist"))
		assert.Equal(t, "test_track", r.URL.Query().Get("track"))
		assert.Equal(t, "test_key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		response := `{
			"similartracks": {
				"track": [
					{"name": "Similar 1", "artist": {"name": "Artist 1"}},
					{"name": "Similar 2", "artist": {"name": "Artist 2"}}
				]
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test_key"})
	require.NoError(t, err)
	client.baseURL = server.URL + "/"

	ctx := context.Background()
	tracks, err := client.GetSimilarTracks(ctx, "test_track", "test_artist", 5)
	require.NoError(t, err)
	assert.Equal(t, []SimilarTrack{{Name: "Similar 1", Artist: "Artist 1"}, {Name: "Similar 2", Artist: "Artist 2"}}, tracks)

	cached, err := client.GetSimilarTracks(ctx, "test_track", "test_artist", 5)
	require.NoError(t, err)
	assert.Equal(t, tracks, cached)
	assert.Equal(t, int32(1), hits.Load(), "second call must be served from cache")
}

func TestGetArtistTopTracks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "artist.getTopTracks", r.URL.Query().Get("method"))
		assert.Equal(t, "Band", r.URL.Query().Get("artist"))
		fmt.Fprint(w, `{"toptracks": {"track": [{"name": "Hit", "artist": {"name": "Band"}}]}}`)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	client.baseURL = server.URL + "/"

	tracks, err := client.GetArtistTopTracks(context.Background(), "Band", 0)
	require.NoError(t, err)
	assert.Equal(t, []SimilarTrack{{Name: "Hit", Artist: "Band"}}, tracks)
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": 6, "message": "Track not found"}`)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	client.baseURL = server.URL + "/"

	_, err = client.GetSimilarTracks(context.Background(), "a", "b", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Track not found")
}

func TestGetSimilarTracks_Validation(t *testing.T) {
	client, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	_, err = client.GetSimilarTracks(context.Background(), "", "artist", 5)
	assert.Error(t, err)
}
